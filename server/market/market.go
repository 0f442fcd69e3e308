// Package market runs a synthetic exchange session for a fixed set of
// symbols. Bars are persisted to the store, and subscribers are told whenever a
// symbol's forming bar moves.
package market

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yitech/stockview/internal/logger"
	"github.com/yitech/stockview/model/candle"
	"github.com/yitech/stockview/server/store"
)

var (
	ErrUnknownSymbol = errors.New("market: unknown symbol")
	ErrNoData        = errors.New("market: no data")
	ErrInvalidDate   = errors.New("market: invalid date")
)

const (
	// DailyLimit caps a daily query; DailyLookbackDays bounds how far back it looks.
	DailyLimit        = 50
	DailyLookbackDays = 100

	DefaultTicksPerBar = 6

	intradayPeriod = "5"
	historyDays    = 120
	openingBars    = 6

	dailySwing    = 0.03
	intradaySwing = 0.004
)

type Config struct {
	Symbols  []string
	Location *time.Location
	// TicksPerBar is how many ticks a 5-minute bar stays open.
	TicksPerBar int
	Seed        uint64
	Now         func() time.Time
	Logger      *zap.Logger
}

// quote is one symbol's session. The last bar is the forming one.
type quote struct {
	day    time.Time
	bars   []candle.Candle
	ticks  int
	closed bool
}

type Market struct {
	store *store.Store
	cfg   Config
	log   *zap.Logger
	known map[string]bool

	mu      sync.Mutex
	rng     *rand.Rand
	quotes  map[string]*quote
	subs    map[string]map[uint64]chan struct{}
	nextSub uint64

	cron *cron.Cron
}

func New(st *store.Store, cfg Config) *Market {
	if cfg.Location == nil {
		cfg.Location = candle.DefaultZone
	}
	if cfg.TicksPerBar <= 0 {
		cfg.TicksPerBar = DefaultTicksPerBar
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(cfg.Now().UnixNano())
	}
	known := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		known[s] = true
	}
	return &Market{
		store:  st,
		cfg:    cfg,
		log:    logger.OrNop(cfg.Logger).Named("market"),
		known:  known,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1|1)),
		quotes: make(map[string]*quote),
		subs:   make(map[string]map[uint64]chan struct{}),
	}
}

// Seed prepares today's session for every symbol. A session already in the
// store is resumed; otherwise daily history and the opening bars are generated.
func (m *Market) Seed() error {
	day, ok := LastTradingDay(m.cfg.Now(), m.cfg.Location)
	if !ok {
		return fmt.Errorf("market: seed: %w: no trading day", ErrNoData)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, code := range m.cfg.Symbols {
		if err := m.seedSymbol(code, day); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", code, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("market: seed: %w", err)
	}
	m.log.Info("session seeded",
		zap.String("trade_date", day.Format(candle.DateLayout)),
		zap.Strings("symbols", m.cfg.Symbols))
	return nil
}

// Start ticks the market on the given cron schedule.
func (m *Market) Start(schedule string) error {
	m.cron = cron.New(cron.WithLocation(m.cfg.Location))
	if _, err := m.cron.AddFunc(schedule, func() {
		if err := m.Tick(); err != nil {
			m.log.Error("tick", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("market: register tick %q: %w", schedule, err)
	}
	m.cron.Start()
	m.log.Info("market started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (m *Market) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.log.Info("market stopped")
}

// Tick advances every open session by one step: the forming bar is revised,
// or once it has been open for TicksPerBar ticks the next bar opens. After
// the last bar of the day the session is closed and ticks are no-ops until
// the next trading day, whose first tick seeds a fresh session.
func (m *Market) Tick() error {
	day, dayOK := LastTradingDay(m.cfg.Now(), m.cfg.Location)

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, code := range m.cfg.Symbols {
		q := m.quotes[code]
		if q != nil && dayOK && !q.day.Equal(day) {
			if err := m.seedSymbol(code, day); err != nil {
				errs = append(errs, fmt.Errorf("%s: roll over: %w", code, err))
				continue
			}
			m.log.Info("session rolled over",
				zap.String("symbol", code),
				zap.String("trade_date", day.Format(candle.DateLayout)))
			m.notify(code)
			continue
		}
		if q == nil || q.closed || !m.step(q) {
			continue
		}
		if err := m.persist(code, q, q.bars[len(q.bars)-1:]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", code, err))
			continue
		}
		m.notify(code)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("market: tick: %w", err)
	}
	return nil
}

// Subscribe returns a channel that receives a value whenever code moves.
// Notifications coalesce; a slow reader sees at most one pending.
func (m *Market) Subscribe(code string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[code] == nil {
		m.subs[code] = make(map[uint64]chan struct{})
	}
	m.subs[code][id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[code], id)
			m.mu.Unlock()
		})
	}
}

func (m *Market) Known(code string) bool { return m.known[code] }

func (m *Market) Name(code string) string { return "Stock " + code }

func (m *Market) Location() *time.Location { return m.cfg.Location }

// Daily returns the latest DailyLimit daily bars within DailyLookbackDays
// before endDate. An empty endDate means today.
func (m *Market) Daily(code, endDate string) (*candle.Series, error) {
	if !m.Known(code) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, code)
	}
	end, err := m.endDay(endDate)
	if err != nil {
		return nil, err
	}
	bars, err := m.store.Daily(code, end.AddDate(0, 0, -DailyLookbackDays), end)
	if err != nil {
		return nil, fmt.Errorf("market: daily: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no daily bars for %s", ErrNoData, code)
	}
	if len(bars) > DailyLimit {
		bars = bars[len(bars)-DailyLimit:]
	}
	return candle.New(candle.Series{
		Code:     code,
		Name:     m.Name(code),
		Interval: candle.Daily,
		EndDate:  end.Format(candle.DateLayout),
	}, bars)
}

// Intraday returns the 5-minute bars of the last trading day on or before
// endDate. An empty endDate means today.
func (m *Market) Intraday(code, endDate string) (*candle.Series, error) {
	if !m.Known(code) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, code)
	}
	end, err := m.endDay(endDate)
	if err != nil {
		return nil, err
	}
	day, ok := LastTradingDay(end, m.cfg.Location)
	if !ok {
		return nil, fmt.Errorf("%w: no trading day before %s", ErrNoData, end.Format(candle.DateLayout))
	}
	first, last := sessionBounds(day)
	bars, err := m.store.Minute(code, intradayPeriod, first, last)
	if err != nil {
		return nil, fmt.Errorf("market: intraday: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no 5-minute bars for %s on %s", ErrNoData, code, day.Format(candle.DateLayout))
	}
	return candle.New(candle.Series{
		Code:      code,
		Name:      m.Name(code),
		Interval:  candle.Minute5,
		TradeDate: day.Format(candle.DateLayout),
	}, bars)
}

// Realtime is the latest session stamped with the current time.
func (m *Market) Realtime(code string) (*candle.Series, error) {
	s, err := m.Intraday(code, "")
	if err != nil {
		return nil, err
	}
	s.UpdatedAt = m.cfg.Now().In(m.cfg.Location).Truncate(time.Second)
	return s, nil
}

// ── internal ─────────────────────────────────────────────────────────────────

func (m *Market) endDay(endDate string) (time.Time, error) {
	if endDate == "" {
		now := m.cfg.Now().In(m.cfg.Location)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.cfg.Location), nil
	}
	d, err := time.ParseInLocation(candle.DateLayout, endDate, m.cfg.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, endDate)
	}
	return d, nil
}

func (m *Market) seedSymbol(code string, day time.Time) error {
	first, last := sessionBounds(day)
	bars, err := m.store.Minute(code, intradayPeriod, first, last)
	if err != nil {
		return err
	}
	if len(bars) > 0 {
		m.quotes[code] = &quote{day: day, bars: bars}
		m.log.Debug("session resumed", zap.String("symbol", code), zap.Int("bars", len(bars)))
		return nil
	}

	from := day.AddDate(0, 0, -historyDays)
	prev, err := m.store.Daily(code, from, day.AddDate(0, 0, -1))
	if err != nil {
		return err
	}
	price := basePrice(code)
	if n := len(prev); n > 0 {
		price = prev[n-1].Close
		from = prev[n-1].Time.AddDate(0, 0, 1)
	}
	var history []candle.Candle
	for _, d := range tradingDays(from, day) {
		b := m.newBar(d, price, dailySwing, 200_000+m.rng.Int64N(800_000))
		price = b.Close
		history = append(history, b)
	}
	if err := m.store.UpsertDaily(code, history); err != nil {
		return err
	}

	q := &quote{day: day}
	t := first
	for i := range openingBars {
		if i > 0 {
			t, _ = nextSlot(t)
		}
		b := m.newBar(t, price, intradaySwing, 1_000+m.rng.Int64N(9_000))
		price = b.Close
		q.bars = append(q.bars, b)
	}
	m.quotes[code] = q
	return m.persist(code, q, q.bars)
}

// step moves q forward and reports whether anything changed.
func (m *Market) step(q *quote) bool {
	last := q.bars[len(q.bars)-1]
	q.ticks++
	if q.ticks >= m.cfg.TicksPerBar {
		next, ok := nextSlot(last.Time)
		if !ok {
			q.closed = true
			return false
		}
		q.ticks = 0
		q.bars = append(q.bars, m.newBar(next, last.Close, intradaySwing, 1_000+m.rng.Int64N(9_000)))
		return true
	}

	c := m.walk(last.Close, intradaySwing)
	last.High = max(last.High, c)
	last.Low = min(last.Low, c)
	last.Close = c
	last.Volume += 100 * (1 + m.rng.Int64N(50))
	q.bars[len(q.bars)-1] = last
	return true
}

// persist writes changed minute bars and refolds the day's daily bar.
func (m *Market) persist(code string, q *quote, changed []candle.Candle) error {
	if err := m.store.UpsertMinute(code, intradayPeriod, changed); err != nil {
		return err
	}
	return m.store.UpsertDaily(code, []candle.Candle{fold(q.day, q.bars)})
}

func (m *Market) notify(code string) {
	for _, ch := range m.subs[code] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Market) newBar(t time.Time, open, swing float64, volume int64) candle.Candle {
	c := m.walk(open, swing)
	return candle.Candle{
		Time:   t,
		Open:   open,
		Close:  c,
		High:   round2(max(open, c) * (1 + m.rng.Float64()*swing/2)),
		Low:    round2(max(min(open, c)*(1-m.rng.Float64()*swing/2), 0.01)),
		Volume: volume,
	}
}

func (m *Market) walk(p, swing float64) float64 {
	return round2(max(p*(1+swing*(2*m.rng.Float64()-1)), 0.01))
}

// fold aggregates a day's minute bars into its daily bar.
func fold(day time.Time, bars []candle.Candle) candle.Candle {
	d := candle.Candle{Time: day, Open: bars[0].Open, High: bars[0].High, Low: bars[0].Low}
	for _, b := range bars {
		d.High = max(d.High, b.High)
		d.Low = min(d.Low, b.Low)
		d.Close = b.Close
		d.Volume += b.Volume
	}
	return d
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// basePrice derives a stable opening price in [5, 100) from the code.
func basePrice(code string) float64 {
	h := fnv.New32a()
	h.Write([]byte(code))
	return round2(5 + float64(h.Sum32()%9500)/100)
}
