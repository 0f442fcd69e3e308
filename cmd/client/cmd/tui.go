package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/yitech/stockview/adapter"
	"github.com/yitech/stockview/internal/logger"
	"github.com/yitech/stockview/model/candle"
	"github.com/yitech/stockview/render"
	"github.com/yitech/stockview/render/term"
	"github.com/yitech/stockview/session"
)

// ── styles ────────────────────────────────────────────────────────────────────

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#aaaaaa"))
	fieldStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#dddddd"))
	focusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffffff")).Underline(true)
	tabStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#777777")).Padding(0, 1)
	activeTab     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")).Padding(0, 1)
	dateTagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ea1ff"))
	tradeTagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffa940"))
	endTagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#52c41a"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e05c5c"))

	badgeStyles = map[adapter.Status]lipgloss.Style{
		adapter.Connected:    lipgloss.NewStyle().Foreground(lipgloss.Color("#52c41a")),
		adapter.Connecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("#faad14")),
		adapter.Disconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		adapter.Error:        lipgloss.NewStyle().Foreground(lipgloss.Color("#e05c5c")),
	}
)

const (
	defaultSymbol = "002363"
	// header, tab bar and footer
	chromeLines = 3
	maxField    = 10
	panStep     = 5.0
)

// ── messages ──────────────────────────────────────────────────────────────────

type queryMsg struct{ symbol, endDate string }

// ── model ─────────────────────────────────────────────────────────────────────

type focus int

const (
	focusCode focus = iota
	focusEnd
	focusChart
)

// field is a one-line text input accepting digits and '-'.
type field struct{ value []rune }

func (f *field) String() string { return string(f.value) }

func (f *field) set(s string) { f.value = []rune(s) }

func (f *field) key(msg tea.KeyMsg) {
	switch msg.Type {
	case tea.KeyBackspace:
		if n := len(f.value); n > 0 {
			f.value = f.value[:n-1]
		}
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			if (r >= '0' && r <= '9' || r == '-') && len(f.value) < maxField {
				f.value = append(f.value, r)
			}
		}
	}
}

type model struct {
	ctrl *session.Controller
	log  *zap.Logger

	code, end field
	focus     focus
	tab       render.View
	surfaces  map[render.View]*term.Surface

	width, height int
	sized         bool
	queried       bool
	start         *queryMsg

	status    adapter.Status
	updatedAt time.Time
	tradeDate string
	endDate   string
	empty     map[render.View]bool
	notice    string
}

func newModel(d *deps, loop session.Loop) *model {
	m := &model{
		log:      logger.OrNop(d.log),
		tab:      render.Daily,
		surfaces: make(map[render.View]*term.Surface),
		empty:    make(map[render.View]bool),
	}
	m.code.set(defaultSymbol)

	sc := d.streamClient(loop)
	m.ctrl = session.New(d.fetcher, sc, loop, d.sessionConfig(), session.Hooks{
		OnStatus:       m.onStatus,
		OnSeries:       m.onSeries,
		OnEmpty:        func(v render.View, e bool) { m.empty[v] = e },
		OnFetchFailure: m.onFetchFailure,
	})
	return m
}

// startWith queries symbol as soon as the program starts.
func (m *model) startWith(symbol, endDate string) {
	m.code.set(symbol)
	m.end.set(endDate)
	m.start = &queryMsg{symbol: symbol, endDate: endDate}
}

// ── Init / Update / View ──────────────────────────────────────────────────────

func (m *model) Init() tea.Cmd {
	if m.start == nil {
		return nil
	}
	q := *m.start
	return func() tea.Msg { return q }
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case taskMsg:
		msg()
		return m, nil

	case queryMsg:
		m.query(msg.symbol, msg.endDate)
		return m, nil

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, m.quit()
		}
		if m.focus == focusChart {
			return m, m.chartKey(msg)
		}
		m.inputKey(msg)
	}
	return m, nil
}

func (m *model) View() string {
	if !m.sized {
		return "starting…"
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')
	b.WriteString(m.renderTabs())
	b.WriteByte('\n')
	b.WriteString(m.renderChart())
	b.WriteByte('\n')
	b.WriteString(m.renderFooter())
	return b.String()
}

// ── input ─────────────────────────────────────────────────────────────────────

func (m *model) inputKey(msg tea.KeyMsg) {
	switch msg.Type {
	case tea.KeyEnter:
		m.submit()
	case tea.KeyTab:
		m.focus = (m.focus + 1) % 3
	case tea.KeyEsc:
		m.focus = focusChart
	default:
		if m.focus == focusCode {
			m.code.key(msg)
		} else {
			m.end.key(msg)
		}
	}
}

func (m *model) submit() {
	code := strings.TrimSpace(m.code.String())
	if code == "" {
		m.notice = "enter a stock code"
		return
	}
	end := strings.TrimSpace(m.end.String())
	if err := checkEndDate(end); err != nil {
		m.notice = err.Error()
		return
	}
	m.query(code, end)
}

func (m *model) chartKey(msg tea.KeyMsg) tea.Cmd {
	s := m.surfaces[m.tab]
	switch msg.String() {
	case "q":
		return m.quit()
	case "tab", "/":
		m.focus = focusCode
	case "d":
		m.tab = render.Daily
	case "m":
		m.tab = render.Intraday
	case "r":
		if sub, ok := m.ctrl.Active(); ok {
			m.query(sub.Symbol, sub.EndDate)
		}
	case "+", "=":
		if s != nil {
			s.ZoomIn()
		}
	case "-":
		if s != nil {
			s.ZoomOut()
		}
	case "left", "h":
		if s != nil {
			s.Pan(-panStep)
		}
	case "right", "l":
		if s != nil {
			s.Pan(panStep)
		}
	case "0":
		if s != nil {
			s.ResetZoom()
		}
	}
	return nil
}

func (m *model) quit() tea.Cmd {
	m.ctrl.Close()
	return tea.Quit
}

// ── session ───────────────────────────────────────────────────────────────────

func (m *model) query(symbol, endDate string) {
	m.notice = ""
	m.queried = true
	m.focus = focusChart
	m.updatedAt = time.Time{}
	m.tradeDate, m.endDate = "", ""
	clear(m.empty)
	sub := m.ctrl.Query(symbol, endDate)
	m.log.Debug("query submitted", zap.String("symbol", sub.Symbol), zap.String("subscription", sub.ID))
}

func (m *model) resize(width, height int) {
	m.width, m.height = width, height
	w, h := m.chartSize()
	for _, s := range m.surfaces {
		s.SetSize(w, h)
	}
	if !m.sized {
		m.sized = true
		m.ctrl.ContainerReady(render.Daily, m.newSurface(render.Daily))
		m.ctrl.ContainerReady(render.Intraday, m.newSurface(render.Intraday))
	}
	m.ctrl.Resize()
}

func (m *model) chartSize() (int, int) {
	return m.width, max(m.height-chromeLines, 1)
}

func (m *model) newSurface(view render.View) session.SurfaceFactory {
	return func() render.Surface {
		s := term.New(m.chartSize())
		m.surfaces[view] = s
		return s
	}
}

func (m *model) onStatus(symbol string, st adapter.Status, err error) {
	m.status = st
	if st == adapter.Error && err != nil {
		m.notice = fmt.Sprintf("%s push: %v", symbol, err)
	}
}

func (m *model) onSeries(view render.View, s *candle.Series) {
	if s == nil {
		return
	}
	switch view {
	case render.Intraday:
		if s.TradeDate != "" {
			m.tradeDate = s.TradeDate
		}
		if !s.UpdatedAt.IsZero() {
			m.updatedAt = s.UpdatedAt
		}
	case render.Daily:
		m.endDate = s.EndDate
	}
}

func (m *model) onFetchFailure(view render.View, err error) {
	m.notice = fmt.Sprintf("%s query failed: %v", tabName(view), err)
}

// ── rendering ─────────────────────────────────────────────────────────────────

func (m *model) renderHeader() string {
	parts := []string{
		titleStyle.Render("stockview"),
		"code " + m.renderField(&m.code, focusCode),
		"end " + m.renderField(&m.end, focusEnd),
	}
	if sub, ok := m.ctrl.Active(); ok && sub.EndDate != "" {
		parts = append(parts, dateTagStyle.Render("query date "+sub.EndDate))
	}
	return strings.Join(parts, "  ")
}

func (m *model) renderField(f *field, at focus) string {
	v := fmt.Sprintf("%-*s", maxField, f.String())
	if m.focus == at {
		return focusStyle.Render(v)
	}
	return fieldStyle.Render(v)
}

func (m *model) renderTabs() string {
	if !m.queried {
		return ""
	}
	daily := m.tabLabel(render.Daily)
	if m.endDate != "" {
		daily += " " + endTagStyle.Render("to "+m.endDate)
	}
	intraday := m.tabLabel(render.Intraday)
	if m.tradeDate != "" {
		intraday += " " + tradeTagStyle.Render(m.tradeDate)
	}
	if !m.ctrl.Live() && !m.empty[render.Intraday] && !m.ctrl.Loading(render.Intraday) {
		intraday += hintStyle.Render(" snapshot")
	}
	tabs := []string{tabStyle.Render(daily), tabStyle.Render(intraday)}
	if m.tab == render.Daily {
		tabs[0] = activeTab.Render(daily)
	} else {
		tabs[1] = activeTab.Render(intraday)
	}

	line := strings.Join(tabs, "│") + "  " + badge(m.status)
	if !m.updatedAt.IsZero() {
		line += hintStyle.Render("  updated " + m.updatedAt.Format("15:04:05"))
	}
	return line
}

func (m *model) renderChart() string {
	_, h := m.chartSize()
	var body string
	switch s := m.surfaces[m.tab]; {
	case !m.queried:
		body = hintStyle.Render("query a stock")
	case s == nil:
		body = ""
	case m.empty[m.tab] && !m.ctrl.Loading(m.tab):
		body = hintStyle.Render("no data")
	default:
		body = s.View()
	}
	return lipgloss.NewStyle().Height(h).MaxHeight(h).Render(body)
}

func (m *model) renderFooter() string {
	if m.notice != "" {
		return noticeStyle.Render(m.notice)
	}
	if m.focus != focusChart {
		return hintStyle.Render("enter query · tab next field · esc chart · ctrl+c quit")
	}
	return hintStyle.Render("d/m tab · +/- zoom · ←/→ pan · 0 reset · r re-query · / search · q quit")
}

// tabLabel is the tab name with the bar count of its series.
func (m *model) tabLabel(v render.View) string {
	if n := m.ctrl.Series(v).Len(); n > 0 {
		return fmt.Sprintf("%s (%d)", tabName(v), n)
	}
	return tabName(v)
}

func badge(st adapter.Status) string {
	text := st.String()
	if st == adapter.Connected {
		text = "● live"
	}
	return badgeStyles[st].Render(text)
}

func tabName(v render.View) string {
	if v == render.Intraday {
		return "min5"
	}
	return "daily"
}
