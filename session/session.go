// Package session ties one user query to its fetches, its push stream, its
// reconciler and its chart adapters.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yitech/stockview/adapter"
	"github.com/yitech/stockview/internal/eventloop"
	"github.com/yitech/stockview/internal/id"
	"github.com/yitech/stockview/internal/logger"
	"github.com/yitech/stockview/model/candle"
	"github.com/yitech/stockview/reconciler"
	"github.com/yitech/stockview/render"
	"github.com/yitech/stockview/stream"
)

// ErrStaleResponse marks a result that belongs to a superseded subscription.
// Such results are dropped without being shown.
var ErrStaleResponse = errors.New("session: stale response")

// Loop is the event loop every callback of a Controller runs on.
type Loop interface {
	eventloop.Poster
	eventloop.Scheduler
}

// Hooks lets the UI observe a Controller. Every hook runs on the loop and any
// of them may be nil.
type Hooks struct {
	OnStatus  func(symbol string, status adapter.Status, err error)
	OnLoading func(view render.View, loading bool)
	OnSeries  func(view render.View, s *candle.Series)
	OnEmpty   func(view render.View, empty bool)
	// OnFetchFailure reports a failed one-shot query. The push path carries on.
	OnFetchFailure func(view render.View, err error)
}

type Config struct {
	MaxCandles  int
	ResizeDelay time.Duration
	// IDs mints subscription ids. Nil uses the wall clock.
	IDs    *id.Generator
	Logger *zap.Logger
}

// Subscription identifies the active query.
type Subscription struct {
	ID      string
	Symbol  string
	EndDate string
}

// SurfaceFactory creates a fresh drawing surface for a view's container.
type SurfaceFactory func() render.Surface

var views = []render.View{render.Daily, render.Intraday}

// Controller runs at most one subscription at a time. All methods must be
// called on the loop.
type Controller struct {
	fetcher adapter.Fetcher
	stream  *stream.Client
	loop    Loop
	cfg     Config
	hooks   Hooks
	log     *zap.Logger

	streamTok  adapter.Token
	containers map[render.View]SurfaceFactory

	active *active
	status adapter.Status
}

// active is the live state of one subscription.
type active struct {
	Subscription
	cancel   context.CancelFunc
	rec      *reconciler.Reconciler
	recTok   adapter.Token
	adapters map[render.View]*render.Adapter
	series   map[render.View]*candle.Series
	loading  map[render.View]bool
}

// New wires a controller to its collaborators. The stream client must post
// its events to loop.
func New(fetcher adapter.Fetcher, sc *stream.Client, loop Loop, cfg Config, hooks Hooks) *Controller {
	if cfg.ResizeDelay <= 0 {
		cfg.ResizeDelay = render.DefaultResizeDelay
	}
	if cfg.IDs == nil {
		cfg.IDs = id.NewGenerator(nil)
	}
	c := &Controller{
		fetcher:    fetcher,
		stream:     sc,
		loop:       loop,
		cfg:        cfg,
		hooks:      hooks,
		log:        logger.OrNop(cfg.Logger).Named("session"),
		containers: make(map[render.View]SurfaceFactory),
		status:     adapter.Disconnected,
	}
	c.streamTok = sc.Subscribe(c.onStream)
	return c
}

// ContainerReady registers the container for view. The current subscription,
// and every later one, draws into a surface made by newSurface.
func (c *Controller) ContainerReady(view render.View, newSurface SurfaceFactory) {
	c.containers[view] = newSurface
	if c.active == nil {
		return
	}
	if a := c.active.adapters[view]; a.State() == render.Uninitialized {
		if err := a.Attach(newSurface()); err != nil {
			c.log.Warn("attach surface", zap.Stringer("view", view), zap.Error(err))
		}
	}
}

// Resize re-applies the container size of every attached surface.
func (c *Controller) Resize() {
	if c.active == nil {
		return
	}
	for _, v := range views {
		c.active.adapters[v].Resize()
	}
}

// Query replaces the active subscription with (symbol, endDate). An empty
// endDate means latest. The previous stream, fetches and adapters are torn
// down before anything new starts.
func (c *Controller) Query(symbol, endDate string) Subscription {
	c.teardown()

	ctx, cancel := context.WithCancel(context.Background())
	a := &active{
		Subscription: Subscription{ID: c.cfg.IDs.Next(), Symbol: symbol, EndDate: endDate},
		cancel:       cancel,
		rec:          reconciler.New(symbol, c.cfg.MaxCandles, c.cfg.Logger),
		adapters:     make(map[render.View]*render.Adapter, len(views)),
		series:       make(map[render.View]*candle.Series, len(views)),
		loading:      make(map[render.View]bool, len(views)),
	}
	c.active = a
	log := c.log.With(zap.String("symbol", symbol), zap.String("subscription", a.ID))
	log.Info("query", zap.String("end_date", endDate))

	for _, v := range views {
		a.adapters[v] = c.newAdapter(v)
	}
	a.recTok = a.rec.OnChange(func(s *candle.Series) { c.show(a, render.Intraday, s) })

	for _, v := range views {
		c.setLoading(a, v, true)
		if f, ok := c.containers[v]; ok {
			if err := a.adapters[v].Attach(f()); err != nil {
				log.Warn("attach surface", zap.Stringer("view", v), zap.Error(err))
			}
		}
	}

	go c.fetch(ctx, a.Subscription, render.Daily, c.fetcher.FetchDaily)
	go c.fetch(ctx, a.Subscription, render.Intraday, c.fetcher.FetchIntraday)
	c.stream.Open(symbol)

	return a.Subscription
}

// Close ends the active subscription and detaches from the stream client.
func (c *Controller) Close() {
	c.teardown()
	if c.streamTok != nil {
		c.streamTok.Unsubscribe()
		c.streamTok = nil
	}
}

// Active returns the current subscription.
func (c *Controller) Active() (Subscription, bool) {
	if c.active == nil {
		return Subscription{}, false
	}
	return c.active.Subscription, true
}

// Series returns the last series handed to the view's adapter.
func (c *Controller) Series(view render.View) *candle.Series {
	if c.active == nil {
		return nil
	}
	return c.active.series[view].Clone()
}

// Loading reports whether the view is still waiting for its one-shot query.
func (c *Controller) Loading(view render.View) bool {
	return c.active != nil && c.active.loading[view]
}

// Live reports whether the push tier has delivered an initial for the active
// subscription. Until then the intraday view shows the one-shot snapshot.
func (c *Controller) Live() bool {
	return c.active != nil && c.active.rec.Live()
}

// Status is the last push status seen for the active subscription.
func (c *Controller) Status() adapter.Status { return c.status }

// ── internal ─────────────────────────────────────────────────────────────────

func (c *Controller) newAdapter(view render.View) *render.Adapter {
	return render.NewAdapter(view, render.Config{
		ResizeDelay: c.cfg.ResizeDelay,
		Defer:       c.loop.PostAfter,
		OnEmpty: func(empty bool) {
			if c.hooks.OnEmpty != nil {
				c.hooks.OnEmpty(view, empty)
			}
		},
		Logger: c.cfg.Logger,
	})
}

func (c *Controller) teardown() {
	a := c.active
	if a == nil {
		return
	}
	a.cancel()
	conn := c.stream.Symbol()
	// Observers still see the final Disconnected of the old symbol.
	c.stream.Close()
	c.active = nil
	a.recTok.Unsubscribe()
	for _, v := range views {
		a.adapters[v].Dispose()
	}
	c.log.Debug("subscription torn down",
		zap.String("symbol", a.Symbol),
		zap.String("subscription", a.ID),
		zap.String("stream", conn))
}

type fetchFunc func(ctx context.Context, code, endDate string) (*candle.Series, error)

// fetch runs off the loop and posts its result back.
func (c *Controller) fetch(ctx context.Context, sub Subscription, view render.View, fn fetchFunc) {
	s, err := fn(ctx, sub.Symbol, sub.EndDate)
	c.loop.Post(func() { c.onFetched(sub, view, s, err) })
}

func (c *Controller) onFetched(sub Subscription, view render.View, s *candle.Series, err error) {
	log := c.log.With(zap.String("symbol", sub.Symbol), zap.String("subscription", sub.ID), zap.Stringer("view", view))

	a := c.active
	if a == nil || a.ID != sub.ID {
		fields := []zap.Field{zap.Error(ErrStaleResponse)}
		if minted, err := id.Stamp(sub.ID); err == nil {
			fields = append(fields, zap.Duration("age", time.Since(minted)))
		}
		log.Debug("dropping result", fields...)
		return
	}
	c.setLoading(a, view, false)

	if err != nil {
		if !errors.Is(err, adapter.ErrFetchFailure) {
			err = fmt.Errorf("session: %v: %w", err, adapter.ErrFetchFailure)
		}
		log.Warn("snapshot query failed", zap.Error(err))
		if c.hooks.OnFetchFailure != nil {
			c.hooks.OnFetchFailure(view, err)
		}
		return
	}

	if view == render.Intraday {
		// An ignored snapshot must still leave the view's initial blank state.
		if !a.rec.ApplySnapshot(s) && a.series[view] == nil {
			c.show(a, view, a.rec.Current())
		}
		return
	}
	c.show(a, view, s)
}

func (c *Controller) show(a *active, view render.View, s *candle.Series) {
	a.series[view] = s
	a.adapters[view].Update(s)
	if c.hooks.OnSeries != nil {
		c.hooks.OnSeries(view, s.Clone())
	}
}

func (c *Controller) setLoading(a *active, view render.View, loading bool) {
	a.loading[view] = loading
	a.adapters[view].SetLoading(loading)
	if c.hooks.OnLoading != nil {
		c.hooks.OnLoading(view, loading)
	}
}

func (c *Controller) onStream(ev stream.Event) {
	a := c.active
	if a == nil || ev.Symbol != a.Symbol {
		return
	}
	if ev.Message != nil {
		a.rec.ApplyMessage(*ev.Message)
		return
	}
	c.status = ev.Status
	if ev.Err != nil && ev.Status == adapter.Error {
		c.log.Warn("stream error", zap.String("symbol", ev.Symbol), zap.Error(ev.Err))
	}
	if c.hooks.OnStatus != nil {
		c.hooks.OnStatus(ev.Symbol, ev.Status, ev.Err)
	}
}
