package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yitech/stockview/model/candle"
)

const (
	RiseColor = "#ef232a"
	FallColor = "#14b143"
)

// View selects the chart layout.
type View int

const (
	// Intraday is the 5-minute view: a single price pane.
	Intraday View = iota
	// Daily adds a linked volume pane under the price pane.
	Daily
)

func (v View) String() string {
	if v == Daily {
		return "daily"
	}
	return "intraday"
}

// Zoom is the visible window in percent of the full range, shared by every
// pane of a chart.
type Zoom struct {
	Start float64
	End   float64
}

// FullRange shows every bar.
var FullRange = Zoom{Start: 0, End: 100}

// Clamp orders the bounds and keeps them inside [0, 100].
func (z Zoom) Clamp() Zoom {
	if z.Start > z.End {
		z.Start, z.End = z.End, z.Start
	}
	z.Start = math.Max(0, math.Min(100, z.Start))
	z.End = math.Max(0, math.Min(100, z.End))
	return z
}

// Window maps the zoom onto bar indexes [from, to) of an n-bar series. At
// least one bar stays visible when n > 0.
func (z Zoom) Window(n int) (from, to int) {
	if n == 0 {
		return 0, 0
	}
	z = z.Clamp()
	from = int(math.Floor(z.Start / 100 * float64(n)))
	to = int(math.Ceil(z.End / 100 * float64(n)))
	if from >= n {
		from = n - 1
	}
	if to <= from {
		to = from + 1
	}
	return from, to
}

// Bar is one candlestick item.
type Bar struct {
	Open, Close, Low, High float64
	Rising                 bool
}

// Values is the candlestick tuple in open/close/low/high order.
func (b Bar) Values() [4]float64 { return [4]float64{b.Open, b.Close, b.Low, b.High} }

// VolumeBar is one bar of the volume pane, colored like its candle.
type VolumeBar struct {
	Value int64
	Color string
}

// Option is the complete chart description handed to a Surface. A Surface
// replaces whatever it showed before with it.
type Option struct {
	View     View
	Title    string
	Subtitle string

	// Categories are the x-axis labels, one per bar.
	Categories []string
	Candles    []Bar
	// Volumes is empty unless View is Daily.
	Volumes  []VolumeBar
	Tooltips []string

	// PriceMin and PriceMax bound the price axis over all bars.
	PriceMin, PriceMax float64
	VolumeMax          int64

	RiseColor, FallColor string
	Zoom                 Zoom
}

// HasVolume reports whether the option carries a volume pane.
func (o Option) HasVolume() bool { return o.View == Daily }

// Build turns a series into a chart option. The zoom window is carried over
// unchanged so a redraw keeps what the user picked.
func Build(s *candle.Series, view View, zoom Zoom) Option {
	opt := Option{
		View:      view,
		Title:     title(s),
		Subtitle:  subtitle(s, view),
		RiseColor: RiseColor,
		FallColor: FallColor,
		Zoom:      zoom.Clamp(),
	}
	if s.IsEmpty() {
		return opt
	}

	n := s.Len()
	opt.Categories = make([]string, 0, n)
	opt.Candles = make([]Bar, 0, n)
	opt.Tooltips = make([]string, 0, n)
	if view == Daily {
		opt.Volumes = make([]VolumeBar, 0, n)
	}

	opt.PriceMin, opt.PriceMax = math.MaxFloat64, -math.MaxFloat64
	for _, c := range s.Candles {
		opt.Categories = append(opt.Categories, category(c, view))
		opt.Candles = append(opt.Candles, Bar{Open: c.Open, Close: c.Close, Low: c.Low, High: c.High, Rising: c.Rising()})
		opt.Tooltips = append(opt.Tooltips, tooltip(c, view))
		opt.PriceMin = math.Min(opt.PriceMin, c.Low)
		opt.PriceMax = math.Max(opt.PriceMax, c.High)

		if view == Daily {
			color := FallColor
			if c.Rising() {
				color = RiseColor
			}
			opt.Volumes = append(opt.Volumes, VolumeBar{Value: c.Volume, Color: color})
			opt.VolumeMax = max(opt.VolumeMax, c.Volume)
		}
	}
	return opt
}

func title(s *candle.Series) string {
	if s == nil {
		return ""
	}
	switch {
	case s.Name != "" && s.Code != "":
		return fmt.Sprintf("%s (%s)", s.Name, s.Code)
	case s.Code != "":
		return s.Code
	default:
		return s.Name
	}
}

func subtitle(s *candle.Series, view View) string {
	if s == nil {
		return ""
	}
	if view == Daily {
		if s.EndDate != "" {
			return "daily to " + s.EndDate
		}
		return "daily"
	}
	if s.TradeDate != "" {
		return "5 min " + s.TradeDate
	}
	return "5 min"
}

// category labels intraday bars with the time of day only.
func category(c candle.Candle, view View) string {
	if view == Intraday {
		return c.Time.Format("15:04")
	}
	return c.Time.Format(candle.DateLayout)
}

func tooltip(c candle.Candle, view View) string {
	var b strings.Builder
	if view == Intraday {
		b.WriteString(c.Time.Format(candle.DateTimeLayout))
	} else {
		b.WriteString(c.Time.Format(candle.DateLayout))
	}
	fmt.Fprintf(&b, "\nopen %s\nclose %s\nlow %s\nhigh %s",
		fixed(c.Open), fixed(c.Close), fixed(c.Low), fixed(c.High))
	if view == Daily {
		fmt.Fprintf(&b, "\nvolume %d", c.Volume)
	}
	return b.String()
}

// fixed formats a price with two decimals.
func fixed(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
