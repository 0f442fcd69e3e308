// Package reconciler merges the one-shot snapshot and the push stream into one
// authoritative series.
package reconciler

import (
	"go.uber.org/zap"

	"github.com/yitech/stockview/adapter"
	"github.com/yitech/stockview/internal/logger"
	"github.com/yitech/stockview/model/candle"
	"github.com/yitech/stockview/model/message"
)

// MaxRequestLimit is the target history size after a resize.
// The series grows freely until it hits 2×MaxRequestLimit, then trims back.
const MaxRequestLimit = 365

// ChangeHandler receives a private copy of the series after every change.
type ChangeHandler func(*candle.Series)

// Reconciler owns the series of one subscription.
//
// Precedence: a push `initial` replaces everything and retires the snapshot
// fallback for good. A push `update` is merged bar by bar: a bar at the
// latest timestamp replaces it, a newer bar is appended, an older bar is
// stale and dropped. Until the first `initial` arrives, updates land on the
// fallback series; a snapshot that shows up after them becomes the base and
// the early bars are re-merged on top.
//
// A Reconciler is not safe for concurrent use; drive it from one goroutine.
type Reconciler struct {
	code     string
	maxLimit int
	log      *zap.Logger

	live     *candle.Series // set once an initial has arrived
	fallback *candle.Series
	early    []candle.Candle // update bars seen before any initial
	lastMeta candle.Series   // metadata carried by early updates

	handlers []entry
	nextID   uint64
}

type entry struct {
	id uint64
	h  ChangeHandler
}

// New creates a Reconciler for the stock code. Payloads tagged with another
// code are dropped. maxLimit ≤ 0 selects MaxRequestLimit.
func New(code string, maxLimit int, log *zap.Logger) *Reconciler {
	if maxLimit <= 0 {
		maxLimit = MaxRequestLimit
	}
	return &Reconciler{
		code:     code,
		maxLimit: maxLimit,
		log:      logger.OrNop(log).Named("reconciler").With(zap.String("symbol", code)),
	}
}

// OnChange registers h. Handlers fire in registration order.
func (r *Reconciler) OnChange(h ChangeHandler) adapter.Token {
	id := r.nextID
	r.nextID++
	r.handlers = append(r.handlers, entry{id: id, h: h})
	return adapter.TokenFunc(func() {
		for i, e := range r.handlers {
			if e.id == id {
				r.handlers = append(r.handlers[:i:i], r.handlers[i+1:]...)
				return
			}
		}
	})
}

// Current returns a copy of the authoritative series, or nil before anything
// has arrived.
func (r *Reconciler) Current() *candle.Series {
	return r.current().Clone()
}

// Live reports whether a push initial has been applied.
func (r *Reconciler) Live() bool { return r.live != nil }

// ApplyMessage routes a decoded push message. Unknown messages are ignored.
func (r *Reconciler) ApplyMessage(m message.Message) bool {
	switch m.Kind {
	case message.Initial:
		return r.ApplyInitial(m.Series)
	case message.Update:
		return r.ApplyUpdate(m.Series)
	default:
		return false
	}
}

// ApplySnapshot installs the one-shot series as the fallback. It is ignored
// once the push tier has delivered an initial.
func (r *Reconciler) ApplySnapshot(s *candle.Series) bool {
	if s == nil || !r.accept(s, "snapshot") {
		return false
	}
	if r.live != nil {
		r.log.Debug("snapshot arrived after initial, discarding")
		return false
	}

	base := s.Clone()
	for _, c := range r.early {
		r.mergeBar(base, c)
	}
	r.overlayMeta(base, r.lastMeta)
	r.resize(base)

	if sameSeries(base, r.fallback) {
		return false
	}
	r.fallback = base
	r.publish()
	return true
}

// ApplyInitial replaces the whole series. Repeating an identical initial is a
// no-op.
func (r *Reconciler) ApplyInitial(s *candle.Series) bool {
	if s == nil || !r.accept(s, "initial") {
		return false
	}
	next := s.Clone()
	r.resize(next)

	hadFallback := r.fallback != nil
	r.fallback = nil
	r.early = nil
	r.lastMeta = candle.Series{}

	if !hadFallback && sameSeries(next, r.live) {
		return false
	}
	r.live = next
	r.publish()
	return true
}

// ApplyUpdate merges the bars of s into the series.
func (r *Reconciler) ApplyUpdate(s *candle.Series) bool {
	if s == nil || !r.accept(s, "update") {
		return false
	}

	target := r.live
	early := target == nil
	if early {
		if r.fallback == nil {
			r.fallback = &candle.Series{Code: s.Code, Interval: s.Interval}
		}
		target = r.fallback
	}
	// Metadata of a payload that does not reach the latest bar is as stale
	// as its bars.
	fresh := reaches(s, target)

	if early {
		for _, c := range s.Candles {
			r.early = mergeInto(r.early, c)
		}
		if fresh {
			r.overlayMeta(&r.lastMeta, *s)
		}
	}

	changed := false
	for _, c := range s.Candles {
		if r.mergeBar(target, c) {
			changed = true
		}
	}
	if fresh && r.overlayMeta(target, *s) {
		changed = true
	}
	if !changed {
		return false
	}
	r.resize(target)
	r.publish()
	return true
}

// ── internal ─────────────────────────────────────────────────────────────────

func (r *Reconciler) current() *candle.Series {
	if r.live != nil {
		return r.live
	}
	return r.fallback
}

func (r *Reconciler) accept(s *candle.Series, kind string) bool {
	if r.code != "" && s.Code != "" && s.Code != r.code {
		r.log.Warn("dropping payload for another symbol",
			zap.String("kind", kind), zap.String("payload_symbol", s.Code))
		return false
	}
	return true
}

// mergeBar applies one bar: same timestamp replaces, newer appends, older is
// stale.
func (r *Reconciler) mergeBar(s *candle.Series, c candle.Candle) bool {
	last, ok := s.Latest()
	var err error
	switch {
	case ok && c.Time.Equal(last.Time):
		if sameCandle(c, last) {
			return false
		}
		err = s.ReplaceLatest(c)
	case !ok || c.Time.After(last.Time):
		err = s.Append(c)
	default:
		r.log.Debug("dropping stale bar", zap.Time("bar", c.Time), zap.Time("latest", last.Time))
		return false
	}
	if err != nil {
		r.log.Warn("dropping bar", zap.Error(err))
		return false
	}
	return true
}

// mergeInto applies the same rule to a plain slice.
func mergeInto(bars []candle.Candle, c candle.Candle) []candle.Candle {
	n := len(bars)
	switch {
	case n > 0 && c.Time.Equal(bars[n-1].Time):
		bars[n-1] = c
	case n == 0 || c.Time.After(bars[n-1].Time):
		bars = append(bars, c)
	}
	return bars
}

// reaches reports whether the latest bar of s is at or after the latest bar
// of target. A payload without bars reaches nothing.
func reaches(s, target *candle.Series) bool {
	c, ok := s.Latest()
	if !ok {
		return false
	}
	last, ok := target.Latest()
	return !ok || !c.Time.Before(last.Time)
}

// overlayMeta copies the non-empty metadata of src onto dst.
func (r *Reconciler) overlayMeta(dst *candle.Series, src candle.Series) bool {
	changed := false
	set := func(d *string, v string) {
		if v != "" && *d != v {
			*d = v
			changed = true
		}
	}
	set(&dst.Code, src.Code)
	set(&dst.Name, src.Name)
	set(&dst.TradeDate, src.TradeDate)
	set(&dst.EndDate, src.EndDate)
	if src.Interval != "" && dst.Interval != src.Interval {
		dst.Interval = src.Interval
		changed = true
	}
	if !src.UpdatedAt.IsZero() && !dst.UpdatedAt.Equal(src.UpdatedAt) {
		dst.UpdatedAt = src.UpdatedAt
		changed = true
	}
	return changed
}

// resize trims s back to maxLimit once it exceeds 2×maxLimit.
func (r *Reconciler) resize(s *candle.Series) {
	if s.Len() > r.maxLimit*2 {
		s.Trim(r.maxLimit)
	}
}

func (r *Reconciler) publish() {
	cur := r.current()
	hs := make([]ChangeHandler, 0, len(r.handlers))
	for _, e := range r.handlers {
		hs = append(hs, e.h)
	}
	for _, h := range hs {
		h(cur.Clone())
	}
}

func sameSeries(a, b *candle.Series) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Code != b.Code || a.Name != b.Name || a.Interval != b.Interval ||
		a.TradeDate != b.TradeDate || a.EndDate != b.EndDate ||
		!a.UpdatedAt.Equal(b.UpdatedAt) || len(a.Candles) != len(b.Candles) {
		return false
	}
	for i := range a.Candles {
		if !sameCandle(a.Candles[i], b.Candles[i]) {
			return false
		}
	}
	return true
}

func sameCandle(x, y candle.Candle) bool {
	return x.Time.Equal(y.Time) && x.Open == y.Open && x.High == y.High &&
		x.Low == y.Low && x.Close == y.Close && x.Volume == y.Volume
}
