package candle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultZone is the exchange clock the wire timestamps are written in.
var DefaultZone = time.FixedZone("CST", 8*60*60)

const (
	DateLayout     = time.DateOnly
	DateTimeLayout = time.DateTime
)

var timeLayouts = []string{
	time.DateTime,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// Number is a numeric wire field that may arrive as a JSON number or a
// numeric string.
type Number struct {
	decimal.Decimal
	Set bool
}

func NewNumber(v float64) Number {
	return Number{Decimal: decimal.NewFromFloat(v), Set: true}
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = Number{}
			return nil
		}
		b = []byte(s)
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("number %q: %w", b, err)
	}
	*n = Number{Decimal: d, Set: true}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return []byte(n.Decimal.String()), nil
}

// RawCandle is one bar as it appears on the wire: `date` for daily bars,
// `datetime` for intraday bars.
type RawCandle struct {
	Date     string `json:"date,omitempty"`
	Datetime string `json:"datetime,omitempty"`
	Open     Number `json:"open"`
	High     Number `json:"high"`
	Low      Number `json:"low"`
	Close    Number `json:"close"`
	Volume   Number `json:"volume"`
}

// RawSeries is the series body shared by the REST responses and the push
// messages. Bars travel under `data`; `candles` is accepted too.
type RawSeries struct {
	StockCode  string      `json:"stock_code"`
	StockName  string      `json:"stock_name,omitempty"`
	TradeDate  string      `json:"trade_date,omitempty"`
	EndDate    string      `json:"end_date,omitempty"`
	UpdateTime string      `json:"update_time,omitempty"`
	Data       []RawCandle `json:"data"`
	Candles    []RawCandle `json:"candles,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func (r RawSeries) bars() []RawCandle {
	if len(r.Data) == 0 && len(r.Candles) > 0 {
		return r.Candles
	}
	return r.Data
}

// Parse normalizes a decoded payload into a Series. The whole payload is
// rejected with ErrMalformedSeries if any bar is unusable.
func Parse(raw RawSeries, interval Interval, loc *time.Location) (*Series, error) {
	if raw.Error != "" {
		return nil, fmt.Errorf("candle: payload carries error %q: %w", raw.Error, ErrMalformedSeries)
	}
	if loc == nil {
		loc = DefaultZone
	}

	bars := raw.bars()
	candles := make([]Candle, 0, len(bars))
	for i, rc := range bars {
		c, err := rc.toCandle(loc)
		if err != nil {
			return nil, fmt.Errorf("candle: bar[%d]: %v: %w", i, err, ErrMalformedSeries)
		}
		candles = append(candles, c)
	}

	meta := Series{
		Code:      raw.StockCode,
		Name:      raw.StockName,
		Interval:  interval,
		TradeDate: raw.TradeDate,
		EndDate:   raw.EndDate,
	}
	if raw.UpdateTime != "" {
		if t, err := parseTime(raw.UpdateTime, loc); err == nil {
			meta.UpdatedAt = t
		}
	}
	return New(meta, candles)
}

func (rc RawCandle) toCandle(loc *time.Location) (Candle, error) {
	stamp := rc.Datetime
	if stamp == "" {
		stamp = rc.Date
	}
	if stamp == "" {
		return Candle{}, errors.New("missing date/datetime")
	}
	t, err := parseTime(stamp, loc)
	if err != nil {
		return Candle{}, err
	}

	for name, n := range map[string]Number{"open": rc.Open, "high": rc.High, "low": rc.Low, "close": rc.Close} {
		if !n.Set {
			return Candle{}, fmt.Errorf("missing %s", name)
		}
	}
	vol := int64(0)
	if rc.Volume.Set {
		if !rc.Volume.Equal(rc.Volume.Truncate(0)) {
			return Candle{}, fmt.Errorf("fractional volume %s", rc.Volume.String())
		}
		vol = rc.Volume.IntPart()
	}

	return Candle{
		Time:   t,
		Open:   rc.Open.InexactFloat64(),
		High:   rc.High.InexactFloat64(),
		Low:    rc.Low.InexactFloat64(),
		Close:  rc.Close.InexactFloat64(),
		Volume: vol,
	}, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Raw renders the series back into its wire form.
func (s *Series) Raw() RawSeries {
	raw := RawSeries{
		StockCode: s.Code,
		StockName: s.Name,
		TradeDate: s.TradeDate,
		EndDate:   s.EndDate,
		Data:      make([]RawCandle, 0, len(s.Candles)),
	}
	if !s.UpdatedAt.IsZero() {
		raw.UpdateTime = s.UpdatedAt.Format(DateTimeLayout)
	}
	for _, c := range s.Candles {
		rc := RawCandle{
			Open:   NewNumber(c.Open),
			High:   NewNumber(c.High),
			Low:    NewNumber(c.Low),
			Close:  NewNumber(c.Close),
			Volume: Number{Decimal: decimal.NewFromInt(c.Volume), Set: true},
		}
		if s.Interval == Daily {
			rc.Date = c.Time.Format(DateLayout)
		} else {
			rc.Datetime = c.Time.Format(DateTimeLayout)
		}
		raw.Data = append(raw.Data, rc)
	}
	return raw
}
