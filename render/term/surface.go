// Package term draws chart options as text for a terminal UI.
package term

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/yitech/stockview/render"
)

// ── styles ────────────────────────────────────────────────────────────────────

var (
	wickStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	axisStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#aaaaaa"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
)

const (
	yAxisWidth = 11 // "  12345.67 │"
	minChartH  = 3
	zoomStep   = 10.0
)

var _ render.Surface = (*Surface)(nil)

// Surface is a render.Surface backed by a character grid. The container size
// set with SetSize only takes effect on the next Resize.
type Surface struct {
	width, height int
	pending       bool
	nextW, nextH  int

	opt      *render.Option
	loading  bool
	disposed bool

	zoom      render.Zoom
	listeners map[int]func(render.Zoom)
	nextID    int
}

func New(width, height int) *Surface {
	return &Surface{
		width:     width,
		height:    height,
		zoom:      render.FullRange,
		listeners: make(map[int]func(render.Zoom)),
	}
}

// ── render.Surface ────────────────────────────────────────────────────────────

func (s *Surface) SetOption(opt render.Option) {
	if s.disposed {
		return
	}
	s.opt = &opt
	s.zoom = opt.Zoom.Clamp()
}

func (s *Surface) Clear() { s.opt = nil }

func (s *Surface) ShowLoading() { s.loading = true }

func (s *Surface) HideLoading() { s.loading = false }

func (s *Surface) Resize() {
	if s.pending {
		s.width, s.height = s.nextW, s.nextH
		s.pending = false
	}
}

func (s *Surface) OnZoom(fn func(render.Zoom)) func() {
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() { delete(s.listeners, id) }
}

func (s *Surface) Dispose() {
	s.disposed = true
	s.opt = nil
	s.listeners = make(map[int]func(render.Zoom))
}

// ── container & user input ────────────────────────────────────────────────────

// SetSize records the container size.
func (s *Surface) SetSize(width, height int) {
	s.nextW, s.nextH = width, height
	s.pending = true
}

func (s *Surface) Size() (width, height int) { return s.width, s.height }

func (s *Surface) Disposed() bool { return s.disposed }

func (s *Surface) Zoom() render.Zoom { return s.zoom }

// ZoomIn narrows the window towards the latest bars.
func (s *Surface) ZoomIn() {
	z := s.zoom
	if z.End-z.Start <= zoomStep {
		return
	}
	z.Start += zoomStep
	s.setZoom(z)
}

// ZoomOut widens the window back towards the full range.
func (s *Surface) ZoomOut() {
	z := s.zoom
	z.Start -= zoomStep
	if z.Start < 0 {
		z.End = math.Min(100, z.End-z.Start)
		z.Start = 0
	}
	s.setZoom(z)
}

// Pan shifts the window by delta percent, keeping its width.
func (s *Surface) Pan(delta float64) {
	z := s.zoom
	w := z.End - z.Start
	z.Start = math.Max(0, math.Min(100-w, z.Start+delta))
	z.End = z.Start + w
	s.setZoom(z)
}

func (s *Surface) ResetZoom() { s.setZoom(render.FullRange) }

func (s *Surface) setZoom(z render.Zoom) {
	z = z.Clamp()
	if s.disposed || z == s.zoom {
		return
	}
	s.zoom = z
	for _, fn := range s.listeners {
		fn(z)
	}
}

// ── drawing ───────────────────────────────────────────────────────────────────

// View renders the current state. It is empty when nothing is drawn.
func (s *Surface) View() string {
	switch {
	case s.disposed:
		return ""
	case s.loading:
		return mutedStyle.Render("loading…")
	case s.opt == nil || len(s.opt.Candles) == 0:
		return ""
	}

	opt := *s.opt
	from, to := s.zoom.Window(len(opt.Candles))

	chartW := s.width - yAxisWidth
	maxCols := chartW / 2 // each candle occupies 2 chars
	if maxCols < 1 {
		maxCols = 1
	}
	if to-from > maxCols {
		from = to - maxCols
	}

	// Reserve: 1 header + chart rows + 1 x-axis line + 1 time-label line + 1 zoom line
	rows := s.height - 4
	volH := 0
	if opt.HasVolume() {
		volH = rows / 4
		rows -= volH + 1
	}
	if rows < minChartH {
		rows = minChartH
	}

	var b strings.Builder
	b.WriteString(renderHeader(opt, to-1))
	b.WriteByte('\n')
	b.WriteString(renderPrice(opt, from, to, rows))
	if volH > 0 {
		b.WriteString(renderVolume(opt, from, to, volH))
	}
	b.WriteString(renderAxis(opt, from, to))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("zoom %.0f%%–%.0f%%", s.zoom.Start, s.zoom.End)))
	return b.String()
}

func renderHeader(opt render.Option, i int) string {
	c := opt.Candles[i]
	return headerStyle.Render(fmt.Sprintf("%s  %s  %s  O:%.2f  H:%.2f  L:%.2f  C:%.2f",
		opt.Title, opt.Subtitle, opt.Categories[i], c.Open, c.High, c.Low, c.Close))
}

func renderPrice(opt render.Option, from, to, chartH int) string {
	bars := opt.Candles[from:to]
	sc := newScale(bars, chartH)

	grid := newGrid(chartH, len(bars)*2)
	rise := lipgloss.NewStyle().Foreground(lipgloss.Color(opt.RiseColor))
	fall := lipgloss.NewStyle().Foreground(lipgloss.Color(opt.FallColor))
	for i, c := range bars {
		style := fall
		if c.Rising {
			style = rise
		}
		renderCandle(grid, sc.span(c), style, i*2)
	}

	var b strings.Builder
	for row := 0; row < chartH; row++ {
		b.WriteString(axisStyle.Render(fmt.Sprintf("%9.2f │", sc.price(row))))
		b.WriteString(strings.Join(grid[row], ""))
		b.WriteByte('\n')
	}
	return b.String()
}

func renderVolume(opt render.Option, from, to, volH int) string {
	vols := opt.Volumes[from:to]
	var vmax int64
	for _, v := range vols {
		vmax = max(vmax, v.Value)
	}

	grid := newGrid(volH, len(vols)*2)
	for i, v := range vols {
		h := 0
		if vmax > 0 {
			h = int(math.Round(float64(v.Value) / float64(vmax) * float64(volH)))
		}
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(v.Color))
		for row := volH - h; row < volH; row++ {
			grid[row][i*2] = style.Render("█")
		}
	}

	var b strings.Builder
	b.WriteString(axisStyle.Render(strings.Repeat("╌", yAxisWidth+len(vols)*2)))
	b.WriteByte('\n')
	for row := 0; row < volH; row++ {
		label := strings.Repeat(" ", yAxisWidth-2) + " │"
		if row == 0 {
			label = fmt.Sprintf("%9s │", compact(vmax))
		}
		b.WriteString(axisStyle.Render(label))
		b.WriteString(strings.Join(grid[row], ""))
		b.WriteByte('\n')
	}
	return b.String()
}

func renderAxis(opt render.Option, from, to int) string {
	cols := (to - from) * 2

	var b strings.Builder
	b.WriteString(axisStyle.Render(strings.Repeat("─", yAxisWidth)))
	b.WriteString(axisStyle.Render(strings.Repeat("─", cols)))
	b.WriteByte('\n')

	// Labels are placed left to right wherever they fit without overlap.
	line := []rune(strings.Repeat(" ", cols))
	next := 0
	for i := from; i < to; i++ {
		x := (i - from) * 2
		label := []rune(opt.Categories[i])
		if x < next || x+len(label) > cols {
			continue
		}
		copy(line[x:], label)
		next = x + len(label) + 2
	}
	b.WriteString(strings.Repeat(" ", yAxisWidth))
	b.WriteString(axisStyle.Render(string(line)))
	b.WriteByte('\n')
	return b.String()
}

func newGrid(rows, cols int) [][]string {
	grid := make([][]string, rows)
	for r := range grid {
		grid[r] = make([]string, cols)
		for c := range grid[r] {
			grid[r][c] = " "
		}
	}
	return grid
}

// renderCandle paints one candle into the grid at column x (2 wide).
func renderCandle(grid [][]string, sp span, style lipgloss.Style, x int) {
	for row := range grid {
		left, right := " ", " "
		switch {
		case row >= sp.bodyTop && row <= sp.bodyBot:
			left = style.Render("█")
			right = style.Render("█")
		case row >= sp.wickTop && row <= sp.wickBot:
			left = wickStyle.Render("│")
		}

		if x < len(grid[row]) {
			grid[row][x] = left
		}
		if x+1 < len(grid[row]) {
			grid[row][x+1] = right
		}
	}
}

// scale maps prices of the visible bars onto chart rows; row 0 is the high.
type scale struct {
	hi, lo float64
	rows   int
}

// span is the rows a bar covers.
type span struct {
	bodyTop, bodyBot int
	wickTop, wickBot int
}

// newScale fits bars into rows. A flat range is widened by one so every bar
// still lands inside the chart.
func newScale(bars []render.Bar, rows int) scale {
	sc := scale{rows: max(rows, 1)}
	if len(bars) == 0 {
		sc.hi = 1
		return sc
	}
	sc.hi, sc.lo = bars[0].High, bars[0].Low
	for _, c := range bars[1:] {
		sc.hi = math.Max(sc.hi, c.High)
		sc.lo = math.Min(sc.lo, c.Low)
	}
	if sc.hi == sc.lo {
		sc.hi = sc.lo + 1
	}
	return sc
}

func (sc scale) row(price float64) int {
	r := int(math.Round((sc.hi - price) / (sc.hi - sc.lo) * float64(sc.rows-1)))
	return min(max(r, 0), sc.rows-1)
}

func (sc scale) price(row int) float64 {
	if sc.rows <= 1 {
		return sc.hi
	}
	return sc.hi - float64(row)/float64(sc.rows-1)*(sc.hi-sc.lo)
}

func (sc scale) span(c render.Bar) span {
	return span{
		bodyTop: sc.row(math.Max(c.Open, c.Close)),
		bodyBot: sc.row(math.Min(c.Open, c.Close)),
		wickTop: sc.row(c.High),
		wickBot: sc.row(c.Low),
	}
}

func compact(v int64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(v)/1e6)
	case v >= 10_000:
		return fmt.Sprintf("%.1fk", float64(v)/1e3)
	default:
		return fmt.Sprint(v)
	}
}
