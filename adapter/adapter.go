package adapter

import (
	"context"
	"errors"

	"github.com/yitech/stockview/model/candle"
)

var (
	// ErrFetchFailure wraps every failed one-shot query: transport errors,
	// timeouts, non-success statuses and `{ "error": ... }` bodies.
	ErrFetchFailure = errors.New("fetch failure")

	// ErrStreamClosed reports that the push transport closed cleanly.
	ErrStreamClosed = errors.New("stream closed")

	// ErrStreamError reports that the push transport failed.
	ErrStreamError = errors.New("stream error")
)

// Status is the state of a push connection.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Error
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Fetcher performs the one-shot request/response queries. An empty endDate
// means "latest".
type Fetcher interface {
	FetchDaily(ctx context.Context, code, endDate string) (*candle.Series, error)
	FetchIntraday(ctx context.Context, code, endDate string) (*candle.Series, error)
}

// Transport opens push connections, one per stock code.
type Transport interface {
	Dial(ctx context.Context, code string) (Conn, error)
}

// Conn is one live push connection. Read blocks for the next frame and
// returns an error wrapping ErrStreamClosed or ErrStreamError when the
// connection ends. Close may be called more than once.
type Conn interface {
	Read() ([]byte, error)
	Close() error
}

// Token cancels a registration.
type Token interface {
	Unsubscribe()
}

// TokenFunc adapts a plain function to Token.
type TokenFunc func()

func (f TokenFunc) Unsubscribe() { f() }
