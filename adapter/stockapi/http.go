package stockapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/yitech/stockview/adapter"
	"github.com/yitech/stockview/model/candle"
)

const (
	dailyPath    = "/stock/%s/daily"
	intradayPath = "/stock/%s/min5"

	// maxBody caps how much of a response we are willing to decode.
	maxBody = 8 << 20
)

// FetchDaily queries the daily bars ending at endDate.
func (c *Client) FetchDaily(ctx context.Context, code, endDate string) (*candle.Series, error) {
	raw, err := c.query(ctx, fmt.Sprintf(dailyPath, url.PathEscape(code)), endDate)
	if err != nil {
		return nil, err
	}
	return c.parse(raw, candle.Daily)
}

// FetchIntraday queries the 5-minute bars of the last trading day on or
// before endDate.
func (c *Client) FetchIntraday(ctx context.Context, code, endDate string) (*candle.Series, error) {
	raw, err := c.query(ctx, fmt.Sprintf(intradayPath, url.PathEscape(code)), endDate)
	if err != nil {
		return nil, err
	}
	return c.parse(raw, candle.Minute5)
}

func (c *Client) parse(raw candle.RawSeries, interval candle.Interval) (*candle.Series, error) {
	s, err := candle.Parse(raw, interval, c.loc)
	if err != nil {
		return nil, fmt.Errorf("stockapi: %w", err)
	}
	return s, nil
}

// query performs one bounded GET and decodes the series body. Every failure
// is wrapped in adapter.ErrFetchFailure.
func (c *Client) query(ctx context.Context, path, endDate string) (candle.RawSeries, error) {
	var raw candle.RawSeries

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return raw, fmt.Errorf("stockapi: parse url: %v: %w", err, adapter.ErrFetchFailure)
	}
	if endDate != "" {
		q := u.Query()
		q.Set("end_date", endDate)
		u.RawQuery = q.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return raw, fmt.Errorf("stockapi: build request: %v: %w", err, adapter.ErrFetchFailure)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return raw, fmt.Errorf("stockapi: http get: %v: %w", err, adapter.ErrFetchFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return raw, fmt.Errorf("stockapi: unexpected status %s: %w", resp.Status, adapter.ErrFetchFailure)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&raw); err != nil {
		return raw, fmt.Errorf("stockapi: decode response: %v: %w", err, adapter.ErrFetchFailure)
	}
	if raw.Error != "" {
		return raw, fmt.Errorf("stockapi: %s: %w", raw.Error, adapter.ErrFetchFailure)
	}
	return raw, nil
}
