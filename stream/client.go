// Package stream supervises the push connection of the active subscription.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yitech/stockview/adapter"
	"github.com/yitech/stockview/internal/eventloop"
	"github.com/yitech/stockview/internal/logger"
	"github.com/yitech/stockview/model/message"
)

// Event is published for every status transition and every accepted
// message. Exactly one of Message and Status is meaningful: Message is nil
// for status events.
type Event struct {
	Symbol  string
	Status  adapter.Status
	Err     error
	Message *message.Message
}

// Handler observes stream events.
type Handler func(Event)

// ReconnectPolicy controls whether a dropped connection is redialled.
// The zero value never reconnects.
type ReconnectPolicy struct {
	Enabled        bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Options struct {
	Reconnect ReconnectPolicy
	// Location is the zone of wire timestamps; nil selects candle.DefaultZone.
	Location *time.Location
	Logger   *zap.Logger
}

// Client holds at most one push connection at a time. Events are handed to
// the poster in the order they happen, so with an event loop poster every
// handler runs on the loop.
type Client struct {
	transport adapter.Transport
	poster    eventloop.Poster
	opts      Options
	log       *zap.Logger

	mu       sync.Mutex
	cur      *link
	status   adapter.Status
	handlers []entry
	nextID   uint64
}

type entry struct {
	id uint64
	h  Handler
}

// link is one Open call's connection and its supervising goroutine.
type link struct {
	symbol string
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	conn adapter.Conn
	shut bool
}

func New(transport adapter.Transport, poster eventloop.Poster, opts Options) *Client {
	if poster == nil {
		poster = eventloop.Inline{}
	}
	p := &opts.Reconnect
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return &Client{
		transport: transport,
		poster:    poster,
		opts:      opts,
		log:       logger.OrNop(opts.Logger).Named("stream"),
		status:    adapter.Disconnected,
	}
}

// Subscribe registers h. Handlers run in registration order.
func (c *Client) Subscribe(h Handler) adapter.Token {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers = append(c.handlers, entry{id: id, h: h})
	c.mu.Unlock()

	return adapter.TokenFunc(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.handlers {
			if e.id == id {
				c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
				return
			}
		}
	})
}

// Status is the status of the last published transition.
func (c *Client) Status() adapter.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Symbol is the symbol of the open connection, or "" when closed.
func (c *Client) Symbol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.symbol
}

// Open connects to symbol. It is a no-op while a connection for the same
// symbol is still live; a different symbol closes the old one first.
func (c *Client) Open(symbol string) {
	c.mu.Lock()
	if l := c.cur; l != nil && l.symbol == symbol && !l.finished() {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	l := &link{symbol: symbol, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.cur = l
	c.mu.Unlock()

	go c.run(ctx, l)
}

// Close releases the current connection. Safe to call repeatedly. When a
// connection was live, observers see a final Disconnected.
func (c *Client) Close() {
	c.mu.Lock()
	l := c.cur
	c.cur = nil
	if l == nil {
		c.mu.Unlock()
		return
	}
	publish := c.status != adapter.Disconnected
	c.status = adapter.Disconnected
	hs := c.snapshotHandlers()
	c.mu.Unlock()

	l.close()

	if publish {
		ev := Event{Symbol: l.symbol, Status: adapter.Disconnected}
		for _, h := range hs {
			h(ev)
		}
	}
}

// ── internal ─────────────────────────────────────────────────────────────────

func (c *Client) run(ctx context.Context, l *link) {
	defer close(l.done)

	log := c.log.With(zap.String("symbol", l.symbol))
	policy := c.opts.Reconnect
	backoff := policy.InitialBackoff

	for {
		c.emit(l, Event{Status: adapter.Connecting})

		conn, err := c.transport.Dial(ctx, l.symbol)
		if err == nil {
			if !l.attach(conn) {
				return
			}
			c.emit(l, Event{Status: adapter.Connected})
			backoff = policy.InitialBackoff
			err = c.read(l, conn, log)
		}
		if ctx.Err() != nil {
			return
		}

		st := adapter.Error
		if errors.Is(err, adapter.ErrStreamClosed) {
			st = adapter.Disconnected
		}
		c.emit(l, Event{Status: st, Err: err})

		if !policy.Enabled {
			return
		}
		log.Warn("stream dropped, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < policy.MaxBackoff {
			backoff = min(backoff*2, policy.MaxBackoff)
		}
	}
}

// read pumps frames until the connection ends. Frames that do not decode,
// or decode to an untagged message, are dropped.
func (c *Client) read(l *link, conn adapter.Conn, log *zap.Logger) error {
	defer conn.Close()
	for {
		frame, err := conn.Read()
		if err != nil {
			if !errors.Is(err, adapter.ErrStreamClosed) && !errors.Is(err, adapter.ErrStreamError) {
				err = fmt.Errorf("stream: read: %v: %w", err, adapter.ErrStreamError)
			}
			return err
		}

		msg, err := message.Decode(frame, c.opts.Location)
		if err != nil {
			log.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		if msg.Kind == message.Unknown {
			log.Debug("dropping untagged message", zap.Int("bytes", len(frame)))
			continue
		}
		c.emit(l, Event{Message: &msg})
	}
}

func (c *Client) emit(l *link, ev Event) {
	ev.Symbol = l.symbol
	c.poster.Post(func() { c.deliver(l, ev) })
}

// deliver drops events from a connection that has since been replaced.
func (c *Client) deliver(l *link, ev Event) {
	c.mu.Lock()
	if c.cur != l {
		c.mu.Unlock()
		return
	}
	if ev.Message == nil {
		c.status = ev.Status
	}
	hs := c.snapshotHandlers()
	c.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// snapshotHandlers copies the handlers (called under lock).
func (c *Client) snapshotHandlers() []Handler {
	hs := make([]Handler, 0, len(c.handlers))
	for _, e := range c.handlers {
		hs = append(hs, e.h)
	}
	return hs
}

// attach records conn so close can release it. It reports false, after
// closing conn, when the link was shut down during the dial.
func (l *link) attach(conn adapter.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shut {
		conn.Close()
		return false
	}
	l.conn = conn
	return true
}

func (l *link) close() {
	l.once.Do(func() {
		l.cancel()
		l.mu.Lock()
		l.shut = true
		conn := l.conn
		l.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}

func (l *link) finished() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
