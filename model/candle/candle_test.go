package candle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", "2024-03-01 "+hhmm, DefaultZone)
	if err != nil {
		panic(err)
	}
	return t
}

func bar(hhmm string, o, h, l, c float64) Candle {
	return Candle{Time: at(hhmm), Open: o, High: h, Low: l, Close: c, Volume: 100}
}

func TestNewRejectsBrokenOHLC(t *testing.T) {
	_, err := New(Series{Code: "002363"}, []Candle{
		bar("09:35", 10, 10.5, 9.8, 10.2),
		bar("09:40", 10, 10.1, 10.05, 10.2), // low above open
	})
	assert.ErrorIs(t, err, ErrMalformedSeries)
}

func TestNewRejectsNonIncreasingTimestamps(t *testing.T) {
	_, err := New(Series{}, []Candle{
		bar("09:40", 10, 11, 9, 10),
		bar("09:40", 10, 11, 9, 10),
	})
	assert.ErrorIs(t, err, ErrMalformedSeries)

	_, err = New(Series{}, []Candle{
		bar("09:40", 10, 11, 9, 10),
		bar("09:35", 10, 11, 9, 10),
	})
	assert.ErrorIs(t, err, ErrMalformedSeries)
}

func TestNewCopiesInput(t *testing.T) {
	in := []Candle{bar("09:35", 10, 11, 9, 10)}
	s, err := New(Series{}, in)
	require.NoError(t, err)
	in[0].Close = 99
	assert.Equal(t, 10.0, s.Candles[0].Close)
}

func TestAppendAndReplaceLatest(t *testing.T) {
	s, err := New(Series{}, []Candle{bar("09:30", 10, 10, 10, 10), bar("09:35", 10, 10.1, 9.9, 10.0)})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceLatest(bar("09:35", 10, 10.3, 9.9, 10.2)))
	last, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 10.2, last.Close)

	require.NoError(t, s.Append(bar("09:40", 10.2, 10.4, 10.1, 10.3)))
	assert.Equal(t, 3, s.Len())

	assert.ErrorIs(t, s.Append(bar("09:40", 10, 11, 9, 10)), ErrOutOfOrder)
	assert.ErrorIs(t, s.Append(bar("09:35", 10, 11, 9, 10)), ErrOutOfOrder)
	assert.ErrorIs(t, s.ReplaceLatest(bar("09:45", 10, 11, 9, 10)), ErrOutOfOrder)
	assert.ErrorIs(t, s.Append(bar("09:50", 10, 9, 11, 10)), ErrMalformedSeries)
}

func TestReplaceLatestOnEmpty(t *testing.T) {
	s := &Series{}
	assert.True(t, s.IsEmpty())
	assert.ErrorIs(t, s.ReplaceLatest(bar("09:35", 10, 11, 9, 10)), ErrOutOfOrder)
	_, ok := s.Latest()
	assert.False(t, ok)
}

func TestCloneIsIndependent(t *testing.T) {
	s, err := New(Series{Code: "A"}, []Candle{bar("09:35", 10, 11, 9, 10)})
	require.NoError(t, err)
	cp := s.Clone()
	cp.Candles[0].Close = 10.5
	require.NoError(t, cp.Append(bar("09:40", 10, 11, 9, 10)))
	assert.Equal(t, 10.0, s.Candles[0].Close)
	assert.Equal(t, 1, s.Len())

	var nilSeries *Series
	assert.Nil(t, nilSeries.Clone())
}

func TestTrimKeepsMostRecent(t *testing.T) {
	s, err := New(Series{}, []Candle{
		bar("09:30", 1, 1, 1, 1), bar("09:35", 2, 2, 2, 2), bar("09:40", 3, 3, 3, 3),
	})
	require.NoError(t, err)
	s.Trim(2)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, at("09:35"), s.Candles[0].Time)
	s.Trim(0)
	assert.Equal(t, 2, s.Len())
}

func TestParseNormalizesMixedNumbers(t *testing.T) {
	payload := `{
		"stock_code": "002363", "stock_name": "Stock 002363", "trade_date": "2024-03-01",
		"update_time": "2024-03-01 14:36:02",
		"data": [
			{"datetime": "2024-03-01 14:25:00", "open": "10.01", "high": 10.3, "low": "9.9", "close": 10.2, "volume": "1200"},
			{"datetime": "2024-03-01T14:30:00", "open": 10.2, "high": "10.4", "low": 10.1, "close": "10.35", "volume": 800.0},
			{"datetime": "2024-03-01 14:35", "open": 10.35, "high": 10.5, "low": 10.3, "close": 10.4, "volume": 0}
		]
	}`
	var raw RawSeries
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))

	s, err := Parse(raw, Minute5, nil)
	require.NoError(t, err)
	assert.Equal(t, "002363", s.Code)
	assert.Equal(t, "2024-03-01", s.TradeDate)
	assert.Equal(t, Minute5, s.Interval)
	require.Equal(t, 3, s.Len())
	assert.Equal(t, 10.01, s.Candles[0].Open)
	assert.Equal(t, int64(1200), s.Candles[0].Volume)
	assert.Equal(t, int64(800), s.Candles[1].Volume)
	assert.Equal(t, at("14:35"), s.Candles[2].Time)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 36, 2, 0, DefaultZone), s.UpdatedAt)
}

func TestParseAcceptsCandlesKeyAndDates(t *testing.T) {
	raw := RawSeries{
		StockCode: "000001",
		EndDate:   "2024-03-01",
		Candles: []RawCandle{
			{Date: "2024-02-29", Open: NewNumber(1), High: NewNumber(2), Low: NewNumber(0.5), Close: NewNumber(1.5), Volume: NewNumber(10)},
			{Date: "2024-03-01", Open: NewNumber(1.5), High: NewNumber(2), Low: NewNumber(1), Close: NewNumber(1.2), Volume: NewNumber(20)},
		},
	}
	s, err := Parse(raw, Daily, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), s.Candles[1].Time)
	assert.False(t, s.Candles[1].Rising())
}

func TestParseRejectsWholePayload(t *testing.T) {
	cases := map[string]RawSeries{
		"error body": {Error: "no data"},
		"missing stamp": {Data: []RawCandle{{Open: NewNumber(1), High: NewNumber(1), Low: NewNumber(1), Close: NewNumber(1)}}},
		"missing close": {Data: []RawCandle{{Date: "2024-03-01", Open: NewNumber(1), High: NewNumber(1), Low: NewNumber(1)}}},
		"bad stamp":     {Data: []RawCandle{{Date: "yesterday", Open: NewNumber(1), High: NewNumber(1), Low: NewNumber(1), Close: NewNumber(1)}}},
		"fractional volume": {Data: []RawCandle{{Date: "2024-03-01", Open: NewNumber(1), High: NewNumber(1), Low: NewNumber(1), Close: NewNumber(1), Volume: NewNumber(1.5)}}},
		"inverted bar": {Data: []RawCandle{
			{Date: "2024-02-29", Open: NewNumber(1), High: NewNumber(2), Low: NewNumber(0.5), Close: NewNumber(1.5)},
			{Date: "2024-03-01", Open: NewNumber(1), High: NewNumber(0.9), Low: NewNumber(0.5), Close: NewNumber(1.5)},
		}},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw, Daily, nil)
			assert.ErrorIs(t, err, ErrMalformedSeries)
		})
	}
}

func TestNumberRejectsGarbage(t *testing.T) {
	var n Number
	assert.Error(t, json.Unmarshal([]byte(`"ten"`), &n))
	require.NoError(t, json.Unmarshal([]byte(`null`), &n))
	assert.False(t, n.Set)
	require.NoError(t, json.Unmarshal([]byte(`" 3.25 "`), &n))
	assert.Equal(t, 3.25, n.InexactFloat64())
}

func TestRawRoundTripsThroughParse(t *testing.T) {
	s, err := New(Series{Code: "002363", Name: "Stock 002363", Interval: Minute5, TradeDate: "2024-03-01"},
		[]Candle{bar("09:35", 10, 10.5, 9.5, 10.25), bar("09:40", 10.25, 10.75, 10, 10.5)})
	require.NoError(t, err)

	b, err := json.Marshal(s.Raw())
	require.NoError(t, err)
	var raw RawSeries
	require.NoError(t, json.Unmarshal(b, &raw))

	back, err := Parse(raw, Minute5, nil)
	require.NoError(t, err)
	assert.Equal(t, s.Candles, back.Candles)
	assert.Equal(t, s.TradeDate, back.TradeDate)
}
