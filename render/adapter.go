// Package render keeps a chart surface in step with a candle series.
package render

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/yitech/stockview/internal/logger"
	"github.com/yitech/stockview/model/candle"
)

// DefaultResizeDelay is how long after a redraw the forced resize runs.
const DefaultResizeDelay = 100 * time.Millisecond

var (
	ErrDisposed        = errors.New("render: adapter disposed")
	ErrAlreadyAttached = errors.New("render: surface already attached")
)

// State is the adapter lifecycle.
type State int

const (
	Uninitialized State = iota
	Ready
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// DeferFunc runs fn after d on the caller's event loop and returns a cancel
// func.
type DeferFunc func(d time.Duration, fn func()) (cancel func())

type Config struct {
	ResizeDelay time.Duration
	// Defer schedules the post-redraw resize. Nil resizes synchronously.
	Defer DeferFunc
	// OnEmpty is told whether the last redraw found no candles.
	OnEmpty func(empty bool)
	Logger  *zap.Logger
}

// Adapter drives one Surface. Updates before a surface is attached are
// buffered, keeping only the latest series. It is not safe for concurrent use.
type Adapter struct {
	view View
	cfg  Config
	log  *zap.Logger

	state   State
	surface Surface
	unzoom  func()

	series       *candle.Series
	loading      bool
	loadingShown bool
	zoom         Zoom

	cancelResize func()
}

func NewAdapter(view View, cfg Config) *Adapter {
	if cfg.ResizeDelay < 0 {
		cfg.ResizeDelay = 0
	}
	return &Adapter{
		view: view,
		cfg:  cfg,
		log:  logger.OrNop(cfg.Logger).Named("render").With(zap.Stringer("view", view)),
		zoom: FullRange,
	}
}

func (a *Adapter) State() State { return a.state }

func (a *Adapter) View() View { return a.view }

// Zoom is the window last picked on the surface.
func (a *Adapter) Zoom() Zoom { return a.zoom }

// Attach binds the drawing surface and applies the buffered state.
func (a *Adapter) Attach(s Surface) error {
	switch a.state {
	case Disposed:
		return ErrDisposed
	case Ready:
		return ErrAlreadyAttached
	}
	a.surface = s
	a.state = Ready
	a.unzoom = s.OnZoom(func(z Zoom) { a.zoom = z.Clamp() })
	a.redraw()
	return nil
}

// Update hands the adapter a new series. s must not be mutated afterwards.
func (a *Adapter) Update(s *candle.Series) {
	if a.state == Disposed {
		return
	}
	a.series = s
	if a.state == Ready {
		a.redraw()
	}
}

// SetLoading toggles the busy indicator. While loading, series redraws are
// held back.
func (a *Adapter) SetLoading(loading bool) {
	if a.state == Disposed || a.loading == loading {
		return
	}
	a.loading = loading
	if a.state == Ready {
		a.redraw()
	}
}

// Resize re-applies the container size, e.g. after the window changed.
func (a *Adapter) Resize() {
	if a.state == Ready {
		a.surface.Resize()
	}
}

// Dispose releases the surface and its listeners. Only the first call does
// anything.
func (a *Adapter) Dispose() {
	if a.state == Disposed {
		return
	}
	prev := a.state
	a.state = Disposed
	if a.cancelResize != nil {
		a.cancelResize()
		a.cancelResize = nil
	}
	if a.unzoom != nil {
		a.unzoom()
		a.unzoom = nil
	}
	if prev == Ready {
		a.surface.Dispose()
	}
	a.surface = nil
	a.series = nil
}

// ── internal ─────────────────────────────────────────────────────────────────

func (a *Adapter) redraw() {
	if a.loading {
		if !a.loadingShown {
			a.surface.ShowLoading()
			a.loadingShown = true
		}
		return
	}
	if a.loadingShown {
		a.surface.HideLoading()
		a.loadingShown = false
	}

	if a.series.IsEmpty() {
		a.surface.Clear()
		a.signalEmpty(true)
		return
	}

	a.surface.SetOption(Build(a.series, a.view, a.zoom))
	a.signalEmpty(false)
	a.scheduleResize()
}

// scheduleResize forces a resize after every redraw; sizing taken at draw
// time is not reliable on every surface.
func (a *Adapter) scheduleResize() {
	if a.cancelResize != nil {
		a.cancelResize()
		a.cancelResize = nil
	}
	if a.cfg.Defer == nil {
		a.surface.Resize()
		return
	}
	a.cancelResize = a.cfg.Defer(a.cfg.ResizeDelay, func() {
		a.cancelResize = nil
		if a.state == Ready {
			a.surface.Resize()
		}
	})
}

func (a *Adapter) signalEmpty(empty bool) {
	if empty {
		a.log.Debug("series empty, surface cleared")
	}
	if a.cfg.OnEmpty != nil {
		a.cfg.OnEmpty(empty)
	}
}
