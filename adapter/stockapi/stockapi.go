package stockapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yitech/stockview/adapter"
	"github.com/yitech/stockview/model/candle"
)

// DefaultTimeout bounds every one-shot query.
const DefaultTimeout = 10 * time.Second

var (
	_ adapter.Fetcher   = (*Client)(nil)
	_ adapter.Transport = (*Client)(nil)
)

// Client talks to the stock backend: REST queries under baseURL
// (e.g. http://localhost:8000/api) and push connections under wsURL
// (e.g. ws://localhost:8000/ws).
type Client struct {
	baseURL string
	wsURL   string
	timeout time.Duration
	loc     *time.Location

	http   *http.Client
	dialer *websocket.Dialer
}

// New creates a Client. A zero timeout selects DefaultTimeout and a nil loc
// selects candle.DefaultZone.
func New(baseURL, wsURL string, timeout time.Duration, loc *time.Location) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if loc == nil {
		loc = candle.DefaultZone
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		wsURL:   strings.TrimRight(wsURL, "/"),
		timeout: timeout,
		loc:     loc,
		http:    &http.Client{Timeout: timeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}
}
