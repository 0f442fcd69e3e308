package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yitech/stockview/adapter"
	"github.com/yitech/stockview/model/message"
)

const (
	initialFrame = `{"type":"initial","data":{"stock_code":"002363","stock_name":"Stock 002363","trade_date":"2024-03-01","data":[
		{"datetime":"2024-03-01 14:25:00","open":10,"high":10.5,"low":9.9,"close":10.2,"volume":100},
		{"datetime":"2024-03-01 14:30:00","open":"10.2","high":"10.4","low":"10.1","close":"10.3","volume":"80"}]}}`
	updateFrame = `{"type":"update","data":{"stock_code":"002363","data":[
		{"datetime":"2024-03-01 14:35:00","open":10.3,"high":10.6,"low":10.2,"close":10.5,"volume":20}]}}`
)

// fakeConn replays frames, then blocks until closed or ends with end.
type fakeConn struct {
	frames chan []byte
	end    error

	once   sync.Once
	closed chan struct{}
	closes int
	mu     sync.Mutex
}

func newFakeConn(end error, frames ...string) *fakeConn {
	c := &fakeConn{frames: make(chan []byte, len(frames)), end: end, closed: make(chan struct{})}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}
	if c.end != nil {
		return nil, c.end
	}
	<-c.closed
	return nil, adapter.ErrStreamClosed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeTransport struct {
	mu    sync.Mutex
	conns map[string][]*fakeConn
	dials []string
	err   error
}

func (t *fakeTransport) Dial(_ context.Context, code string) (adapter.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials = append(t.dials, code)
	if t.err != nil {
		return nil, t.err
	}
	q := t.conns[code]
	if len(q) == 0 {
		return newFakeConn(nil), nil
	}
	c := q[0]
	if len(q) > 1 {
		t.conns[code] = q[1:]
	}
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dials)
}

// recorder collects events from any goroutine.
type recorder struct {
	ch chan Event
}

func newRecorder(c *Client) *recorder {
	r := &recorder{ch: make(chan Event, 64)}
	c.Subscribe(func(ev Event) { r.ch <- ev })
	return r
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func (r *recorder) status(t *testing.T, want adapter.Status) Event {
	t.Helper()
	ev := r.next(t)
	require.Nil(t, ev.Message, "expected status %s", want)
	require.Equal(t, want, ev.Status)
	return ev
}

func TestOpenPublishesStatusThenMessagesInOrder(t *testing.T) {
	conn := newFakeConn(adapter.ErrStreamClosed, initialFrame, `{"hello":1}`, `not json`, updateFrame)
	tr := &fakeTransport{conns: map[string][]*fakeConn{"002363": {conn}}}
	c := New(tr, nil, Options{Logger: zap.NewNop()})
	rec := newRecorder(c)

	c.Open("002363")

	rec.status(t, adapter.Connecting)
	rec.status(t, adapter.Connected)

	ev := rec.next(t)
	require.NotNil(t, ev.Message)
	assert.Equal(t, message.Initial, ev.Message.Kind)
	assert.Equal(t, 2, ev.Message.Series.Len())
	assert.Equal(t, "002363", ev.Symbol)

	ev = rec.next(t)
	require.NotNil(t, ev.Message)
	assert.Equal(t, message.Update, ev.Message.Kind)

	ev = rec.status(t, adapter.Disconnected)
	assert.ErrorIs(t, ev.Err, adapter.ErrStreamClosed)
	assert.Equal(t, adapter.Disconnected, c.Status())
	assert.Equal(t, 1, tr.dialCount())
}

func TestTransportErrorSetsErrorWithoutReconnect(t *testing.T) {
	conn := newFakeConn(errors.Join(errors.New("reset"), adapter.ErrStreamError))
	tr := &fakeTransport{conns: map[string][]*fakeConn{"002363": {conn}}}
	c := New(tr, nil, Options{})
	rec := newRecorder(c)

	c.Open("002363")
	rec.status(t, adapter.Connecting)
	rec.status(t, adapter.Connected)
	ev := rec.status(t, adapter.Error)
	assert.ErrorIs(t, ev.Err, adapter.ErrStreamError)

	select {
	case ev := <-rec.ch:
		t.Fatalf("unexpected event after error: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, tr.dialCount())
}

func TestDialFailureIsError(t *testing.T) {
	tr := &fakeTransport{err: errors.Join(errors.New("refused"), adapter.ErrStreamError)}
	c := New(tr, nil, Options{})
	rec := newRecorder(c)

	c.Open("002363")
	rec.status(t, adapter.Connecting)
	rec.status(t, adapter.Error)
}

func TestOpenSameSymbolIsNoop(t *testing.T) {
	tr := &fakeTransport{}
	c := New(tr, nil, Options{})
	rec := newRecorder(c)

	c.Open("002363")
	rec.status(t, adapter.Connecting)
	rec.status(t, adapter.Connected)

	c.Open("002363")
	c.Open("002363")
	assert.Equal(t, 1, tr.dialCount())
	assert.Equal(t, "002363", c.Symbol())
	c.Close()
}

func TestOpenOtherSymbolClosesOldFirst(t *testing.T) {
	a := newFakeConn(nil)
	tr := &fakeTransport{conns: map[string][]*fakeConn{"000001": {a}}}
	c := New(tr, nil, Options{})
	rec := newRecorder(c)

	c.Open("000001")
	rec.status(t, adapter.Connecting)
	rec.status(t, adapter.Connected)

	c.Open("002363")
	ev := rec.status(t, adapter.Disconnected)
	assert.Equal(t, "000001", ev.Symbol)
	assert.GreaterOrEqual(t, a.closeCount(), 1)

	ev = rec.status(t, adapter.Connecting)
	assert.Equal(t, "002363", ev.Symbol)
	rec.status(t, adapter.Connected)
	c.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := newFakeConn(nil)
	tr := &fakeTransport{conns: map[string][]*fakeConn{"002363": {conn}}}
	c := New(tr, nil, Options{})
	rec := newRecorder(c)

	c.Open("002363")
	rec.status(t, adapter.Connecting)
	rec.status(t, adapter.Connected)

	c.Close()
	c.Close()
	rec.status(t, adapter.Disconnected)

	// The reader goroutine also closes conn once it unblocks.
	assert.Eventually(t, func() bool { return conn.closeCount() >= 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection not released")
	}
	select {
	case ev := <-rec.ch:
		t.Fatalf("event from closed connection: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, "", c.Symbol())
}

func TestReconnectWithBackoff(t *testing.T) {
	first := newFakeConn(adapter.ErrStreamClosed, initialFrame)
	second := newFakeConn(nil, updateFrame)
	tr := &fakeTransport{conns: map[string][]*fakeConn{"002363": {first, second}}}
	c := New(tr, nil, Options{Reconnect: ReconnectPolicy{
		Enabled:        true,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}})
	rec := newRecorder(c)

	c.Open("002363")
	rec.status(t, adapter.Connecting)
	rec.status(t, adapter.Connected)
	assert.Equal(t, message.Initial, rec.next(t).Message.Kind)
	rec.status(t, adapter.Disconnected)
	rec.status(t, adapter.Connecting)
	rec.status(t, adapter.Connected)
	assert.Equal(t, message.Update, rec.next(t).Message.Kind)
	assert.Equal(t, 2, tr.dialCount())
	c.Close()
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	tr := &fakeTransport{}
	c := New(tr, nil, Options{})
	rec := newRecorder(c)
	var other int
	tok := c.Subscribe(func(Event) { other++ })
	tok.Unsubscribe()

	c.Open("002363")
	rec.status(t, adapter.Connecting)
	rec.status(t, adapter.Connected)
	c.Close()
	rec.status(t, adapter.Disconnected)
	assert.Zero(t, other)
}
