package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitech/stockview/model/candle"
)

// recordingSurface logs every call by name.
type recordingSurface struct {
	calls   []string
	options []Option
	zoomFns map[int]func(Zoom)
	nextID  int
}

func newRecordingSurface() *recordingSurface {
	return &recordingSurface{zoomFns: map[int]func(Zoom){}}
}

func (s *recordingSurface) SetOption(opt Option) {
	s.calls = append(s.calls, "set")
	s.options = append(s.options, opt)
}
func (s *recordingSurface) Clear()       { s.calls = append(s.calls, "clear") }
func (s *recordingSurface) ShowLoading() { s.calls = append(s.calls, "loading") }
func (s *recordingSurface) HideLoading() { s.calls = append(s.calls, "loaded") }
func (s *recordingSurface) Resize()      { s.calls = append(s.calls, "resize") }
func (s *recordingSurface) Dispose()     { s.calls = append(s.calls, "dispose") }

func (s *recordingSurface) OnZoom(fn func(Zoom)) func() {
	id := s.nextID
	s.nextID++
	s.zoomFns[id] = fn
	return func() { delete(s.zoomFns, id) }
}

func (s *recordingSurface) zoom(z Zoom) {
	for _, fn := range s.zoomFns {
		fn(z)
	}
}

func (s *recordingSurface) reset() { s.calls = nil }

// manualDefer queues deferred calls until run.
type manualDefer struct {
	delays []time.Duration
	fns    []func()
}

func (m *manualDefer) schedule(d time.Duration, fn func()) func() {
	i := len(m.fns)
	m.delays = append(m.delays, d)
	m.fns = append(m.fns, fn)
	return func() {
		if i < len(m.fns) {
			m.fns[i] = nil
		}
	}
}

func (m *manualDefer) run() {
	fns := m.fns
	m.fns = nil
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

func sample(t *testing.T, n int) *candle.Series {
	t.Helper()
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, candle.DefaultZone)
	bars := make([]candle.Candle, 0, n)
	for i := 0; i < n; i++ {
		o := 10 + float64(i)*0.1
		c := o + 0.05
		if i%2 == 1 {
			c = o - 0.05
		}
		bars = append(bars, candle.Candle{Time: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: o, Close: c, Low: o - 0.2, High: o + 0.2, Volume: int64(100 + i)})
	}
	s, err := candle.New(candle.Series{Code: "002363", Name: "Stock 002363", TradeDate: "2024-03-01"}, bars)
	require.NoError(t, err)
	return s
}

func TestUpdatesBeforeAttachAreBuffered(t *testing.T) {
	a := NewAdapter(Intraday, Config{})
	a.Update(sample(t, 1))
	a.Update(sample(t, 3))
	assert.Equal(t, Uninitialized, a.State())

	s := newRecordingSurface()
	require.NoError(t, a.Attach(s))
	assert.Equal(t, Ready, a.State())
	assert.Equal(t, []string{"set", "resize"}, s.calls)
	assert.Len(t, s.options[0].Candles, 3)
}

func TestRedrawIsFollowedByDeferredResize(t *testing.T) {
	d := &manualDefer{}
	a := NewAdapter(Intraday, Config{ResizeDelay: DefaultResizeDelay, Defer: d.schedule})
	s := newRecordingSurface()
	require.NoError(t, a.Attach(s))
	s.reset()

	a.Update(sample(t, 2))
	a.Update(sample(t, 3))
	assert.Equal(t, []string{"set", "set"}, s.calls)
	assert.Equal(t, []time.Duration{DefaultResizeDelay, DefaultResizeDelay}, d.delays)

	d.run()
	// the first pending resize was superseded
	assert.Equal(t, []string{"set", "set", "resize"}, s.calls)
}

func TestEmptySeriesClearsWithoutDrawing(t *testing.T) {
	var empties []bool
	a := NewAdapter(Intraday, Config{OnEmpty: func(e bool) { empties = append(empties, e) }})
	s := newRecordingSurface()
	require.NoError(t, a.Attach(s))

	a.Update(sample(t, 0))
	a.Update(nil)
	assert.Equal(t, []string{"clear", "clear", "clear"}, s.calls)
	assert.Empty(t, s.options)

	a.Update(sample(t, 1))
	assert.Equal(t, []bool{true, true, true, false}, empties)
}

func TestLoadingSuppressesRedraws(t *testing.T) {
	a := NewAdapter(Intraday, Config{})
	s := newRecordingSurface()
	require.NoError(t, a.Attach(s))
	s.reset()

	a.SetLoading(true)
	a.Update(sample(t, 2))
	a.Update(sample(t, 0))
	a.SetLoading(true)
	assert.Equal(t, []string{"loading"}, s.calls)

	a.SetLoading(false)
	assert.Equal(t, []string{"loading", "loaded", "clear"}, s.calls)
}

func TestLoadingShowsBusyEvenWithData(t *testing.T) {
	a := NewAdapter(Daily, Config{})
	a.Update(sample(t, 3))
	a.SetLoading(true)
	s := newRecordingSurface()
	require.NoError(t, a.Attach(s))
	assert.Equal(t, []string{"loading"}, s.calls)
}

func TestUserZoomSurvivesRedraw(t *testing.T) {
	a := NewAdapter(Intraday, Config{})
	s := newRecordingSurface()
	a.Update(sample(t, 4))
	require.NoError(t, a.Attach(s))
	assert.Equal(t, FullRange, s.options[0].Zoom)

	s.zoom(Zoom{Start: 50, End: 100})
	a.Update(sample(t, 5))
	assert.Equal(t, Zoom{Start: 50, End: 100}, s.options[1].Zoom)
	assert.Equal(t, Zoom{Start: 50, End: 100}, a.Zoom())
}

func TestDisposeTwiceIsSafe(t *testing.T) {
	d := &manualDefer{}
	a := NewAdapter(Intraday, Config{Defer: d.schedule})
	s := newRecordingSurface()
	a.Update(sample(t, 2))
	require.NoError(t, a.Attach(s))
	s.reset()

	a.Dispose()
	a.Dispose()
	assert.Equal(t, Disposed, a.State())
	assert.Equal(t, []string{"dispose"}, s.calls)
	assert.Empty(t, s.zoomFns)

	// pending resize and later updates do nothing
	d.run()
	a.Update(sample(t, 3))
	a.SetLoading(true)
	a.Resize()
	assert.Equal(t, []string{"dispose"}, s.calls)
	assert.ErrorIs(t, a.Attach(newRecordingSurface()), ErrDisposed)
}

func TestDisposeBeforeAttach(t *testing.T) {
	a := NewAdapter(Intraday, Config{})
	a.Dispose()
	assert.Equal(t, Disposed, a.State())
}

func TestAttachTwice(t *testing.T) {
	a := NewAdapter(Intraday, Config{})
	require.NoError(t, a.Attach(newRecordingSurface()))
	assert.ErrorIs(t, a.Attach(newRecordingSurface()), ErrAlreadyAttached)
}

func TestResizeForwards(t *testing.T) {
	a := NewAdapter(Intraday, Config{})
	a.Resize() // no surface yet
	s := newRecordingSurface()
	require.NoError(t, a.Attach(s))
	s.reset()
	a.Resize()
	assert.Equal(t, []string{"resize"}, s.calls)
}
