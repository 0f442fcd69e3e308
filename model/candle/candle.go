package candle

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedSeries reports a payload whose bars break the OHLC ordering
	// or whose timestamps are not strictly increasing.
	ErrMalformedSeries = errors.New("malformed series")

	// ErrOutOfOrder reports an Append or ReplaceLatest whose timestamp does not
	// line up with the series' latest bar.
	ErrOutOfOrder = errors.New("candle out of order")
)

// Interval is the bar width of a series.
type Interval string

const (
	Daily   Interval = "1d"
	Minute5 Interval = "5m"
)

// Candle is one OHLCV bar. Time is the bar's open time in the market's zone;
// daily bars sit at midnight.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Rising reports whether the bar closed at or above its open.
func (c Candle) Rising() bool { return c.Close >= c.Open }

// check enforces low ≤ min(open, close) ≤ max(open, close) ≤ high.
func (c Candle) check() error {
	if c.Time.IsZero() {
		return errors.New("missing timestamp")
	}
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if c.Low > lo {
		return fmt.Errorf("low %v above body %v", c.Low, lo)
	}
	if hi > c.High {
		return fmt.Errorf("body %v above high %v", hi, c.High)
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative volume %d", c.Volume)
	}
	return nil
}

// Series is an ordered run of candles for one instrument plus its metadata.
// Timestamps are strictly increasing and unique.
type Series struct {
	Code     string
	Name     string
	Interval Interval

	// TradeDate is the session date of an intraday series.
	TradeDate string
	// EndDate is the resolved end date of a daily query.
	EndDate string

	UpdatedAt time.Time
	Candles   []Candle
}

// New builds a series from already-decoded bars, rejecting the whole batch if
// any bar breaks the OHLC ordering or the time ordering.
func New(meta Series, candles []Candle) (*Series, error) {
	for i, c := range candles {
		if err := c.check(); err != nil {
			return nil, fmt.Errorf("candle: bar[%d] %v: %w", i, err, ErrMalformedSeries)
		}
		if i > 0 && !c.Time.After(candles[i-1].Time) {
			return nil, fmt.Errorf("candle: bar[%d] at %s not after %s: %w",
				i, c.Time.Format(time.DateTime), candles[i-1].Time.Format(time.DateTime), ErrMalformedSeries)
		}
	}
	s := meta
	s.Candles = append([]Candle(nil), candles...)
	return &s, nil
}

func (s *Series) IsEmpty() bool { return s == nil || len(s.Candles) == 0 }

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candles)
}

// Latest returns the most recent bar.
func (s *Series) Latest() (Candle, bool) {
	if s.IsEmpty() {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Append adds c after the latest bar. c must be strictly newer.
func (s *Series) Append(c Candle) error {
	if err := c.check(); err != nil {
		return fmt.Errorf("candle: append: %v: %w", err, ErrMalformedSeries)
	}
	if last, ok := s.Latest(); ok && !c.Time.After(last.Time) {
		return fmt.Errorf("candle: append %s after %s: %w",
			c.Time.Format(time.DateTime), last.Time.Format(time.DateTime), ErrOutOfOrder)
	}
	s.Candles = append(s.Candles, c)
	return nil
}

// ReplaceLatest swaps the still-forming latest bar for a revision carrying the
// same timestamp.
func (s *Series) ReplaceLatest(c Candle) error {
	if err := c.check(); err != nil {
		return fmt.Errorf("candle: replace: %v: %w", err, ErrMalformedSeries)
	}
	last, ok := s.Latest()
	if !ok || !c.Time.Equal(last.Time) {
		return fmt.Errorf("candle: replace %s: %w", c.Time.Format(time.DateTime), ErrOutOfOrder)
	}
	s.Candles[len(s.Candles)-1] = c
	return nil
}

// Clone returns a deep copy that shares no memory with s.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Candles = append([]Candle(nil), s.Candles...)
	return &cp
}

// Trim keeps the most recent n bars. n ≤ 0 keeps everything.
func (s *Series) Trim(n int) {
	if n <= 0 || len(s.Candles) <= n {
		return
	}
	s.Candles = append([]Candle(nil), s.Candles[len(s.Candles)-n:]...)
}
