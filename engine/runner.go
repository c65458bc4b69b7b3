// Package engine runs one trading strategy against one spot instrument:
// poll closes, evaluate the signal, size and place market orders, trail
// a stop under the open position, and persist every change.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/spottrader/broker"
	"github.com/rustyeddy/spottrader/journal"
	"github.com/rustyeddy/spottrader/market"
	"github.com/rustyeddy/spottrader/pkg/id"
	"github.com/rustyeddy/spottrader/position"
	"github.com/rustyeddy/spottrader/risk"
	"github.com/rustyeddy/spottrader/strategies"
)

const (
	DefaultEventBuffer = 256
	callTimeout        = 30 * time.Second
)

// Runner owns the polling loop. Configure it once, then Start and Stop
// as often as needed. All methods are safe for concurrent use.
type Runner struct {
	log     *slog.Logger
	metrics *Metrics
	dial    broker.Dialer
	now     func() time.Time
	events  chan Event

	mu         sync.Mutex
	settings   Settings
	configured bool
	running    bool
	stopping   bool
	cancel     context.CancelFunc
	done       chan struct{}
	session    string

	// fixed by Configure
	ex    broker.Exchange
	info  market.SymbolInfo
	rules market.InstrumentRules
	strat strategies.SignalSource
	trail risk.TrailingStop
	poll  time.Duration
	limit int

	posMu      sync.Mutex
	pos        position.Position
	lastPrice  float64
	lastSignal strategies.Signal

	dirty   atomic.Bool
	exitReq atomic.Bool
	dropped atomic.Uint64
	wake    chan struct{}
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithDialer replaces broker.Dial, mostly for tests.
func WithDialer(d broker.Dialer) Option {
	return func(r *Runner) { r.dial = d }
}

// WithMetrics exports runner state through m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithEventBuffer sets the observation channel capacity.
func WithEventBuffer(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.events = make(chan Event, n)
		}
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		log:    slog.Default(),
		dial:   broker.Dial,
		now:    time.Now,
		events: make(chan Event, DefaultEventBuffer),
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Configure validates s, connects to the exchange, loads the instrument
// rules and the persisted position. Any failure wraps ErrConfiguration.
func (r *Runner) Configure(s Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("%w: cannot configure a running engine", ErrConfiguration)
	}
	if err := s.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	strat, err := strategies.ByName(s.Strategy, s.FastPeriod, s.SlowPeriod)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	stop, err := risk.NewTrailingStop(s.TrailingStop)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	poll, err := s.pollInterval()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	limit := s.history(strat.Warmup())
	if limit > MaxHistory {
		return fmt.Errorf("%w: %s needs %d closes, more than the %d the exchange returns",
			ErrConfiguration, strat.Name(), limit, MaxHistory)
	}

	ex, err := r.dial(s.Credentials)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %w", ErrConfiguration, s.Credentials.Exchange, err)
	}
	configured := false
	defer func() {
		if !configured && ex != r.ex {
			_ = closeExchange(ex)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	info, err := ex.SymbolInfo(ctx, s.Symbol)
	if err != nil {
		return fmt.Errorf("%w: symbol info for %s: %w", ErrConfiguration, s.Symbol, err)
	}
	rules, err := market.ParseRules(info)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	pos := s.Store.Load()

	if r.ex != nil && r.ex != ex {
		if err := closeExchange(r.ex); err != nil {
			r.log.Warn("closing previous exchange", "err", err)
		}
	}
	r.settings = s
	r.ex = ex
	r.info = info
	r.rules = rules
	r.strat = strat
	r.trail = stop
	r.poll = poll
	r.limit = limit
	r.configured = true
	configured = true
	r.dirty.Store(false)
	r.exitReq.Store(false)

	r.posMu.Lock()
	r.pos = pos
	r.posMu.Unlock()

	r.log.Info("engine configured",
		"symbol", s.Symbol,
		"strategy", strat.Name(),
		"interval", s.Interval,
		"poll", poll,
		"rules", rules.String(),
		"position", pos.String(),
	)

	if s.Reconcile {
		r.reconcile(ctx, pos)
	}
	return nil
}

// Start launches the loop. Calling Start while running is a no-op;
// calling it after Stop but before the loop has exited returns
// ErrStopping.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		if r.stopping {
			return ErrStopping
		}
		return nil
	}
	if !r.configured {
		return fmt.Errorf("%w: engine not configured", ErrConfiguration)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})
	r.session = id.New()

	go r.loop(ctx, r.done)
	return nil
}

// Stop asks the loop to finish and returns immediately. A cycle in
// progress completes; the loop then emits EventStopped.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.stopping = true
	}
}

// Close releases the exchange, wiping any credentials it holds. The
// runner must be stopped; Configure connects again.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("cannot close a running engine")
	}
	ex := r.ex
	r.ex = nil
	r.configured = false
	return closeExchange(ex)
}

func closeExchange(ex broker.Exchange) error {
	if c, ok := ex.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Wait blocks until the current loop has exited or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Events is the observation channel. It is never closed; a finished loop
// is marked by EventStopped. When the buffer is full the oldest event is
// dropped.
func (r *Runner) Events() <-chan Event {
	return r.events
}

// Position returns a snapshot of the current position.
func (r *Runner) Position() position.Position {
	r.posMu.Lock()
	defer r.posMu.Unlock()
	return r.pos
}

// RequestExit asks the loop to liquidate the open position at the start
// of the next cycle.
func (r *Runner) RequestExit() {
	r.exitReq.Store(true)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Status is a point-in-time view for hosts. StopDistance is the fraction
// of the last price left before the stop fires.
type Status struct {
	Running       bool              `json:"running"`
	Session       string            `json:"session,omitempty"`
	Symbol        string            `json:"symbol,omitempty"`
	Strategy      string            `json:"strategy,omitempty"`
	Position      position.Position `json:"position"`
	StopPrice     float64           `json:"stop_price,omitempty"`
	StopDistance  float64           `json:"stop_distance,omitempty"`
	UnrealizedPnL float64           `json:"unrealized_pnl,omitempty"`
	LastPrice     float64           `json:"last_price,omitempty"`
	LastSignal    string            `json:"last_signal,omitempty"`
	Unsaved       bool              `json:"unsaved"`
	Dropped       uint64            `json:"dropped_events"`
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	st := Status{
		Running: r.running,
		Session: r.session,
		Symbol:  r.settings.Symbol,
	}
	if r.strat != nil {
		st.Strategy = r.strat.Name()
	}
	trail, rules := r.trail, r.rules
	r.mu.Unlock()

	r.posMu.Lock()
	st.Position = r.pos
	st.LastPrice = r.lastPrice
	if r.lastPrice > 0 {
		st.LastSignal = r.lastSignal.String()
	}
	r.posMu.Unlock()

	if !st.Position.IsFlat() {
		st.StopPrice = rules.RoundPrice(trail.StopPrice(st.Position.HighWaterPrice))
		if st.LastPrice > 0 {
			st.StopDistance = trail.Distance(st.LastPrice, st.Position.HighWaterPrice)
			st.UnrealizedPnL = st.Position.UnrealizedPnL(st.LastPrice)
		}
	}
	st.Unsaved = r.dirty.Load()
	st.Dropped = r.dropped.Load()
	return st
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	symbol := r.settings.Symbol

	defer func() {
		r.mu.Lock()
		r.running = false
		r.stopping = false
		r.cancel = nil
		r.mu.Unlock()

		r.emit(Event{Kind: EventStopped, Message: StoppedMessage, Symbol: symbol})
		close(done)
	}()

	r.emit(Event{
		Kind:    EventStarted,
		Symbol:  symbol,
		Message: fmt.Sprintf("started %s on %s %s", r.strat.Name(), symbol, r.settings.Interval),
	})

	for {
		if ctx.Err() != nil {
			return
		}

		// exchange calls must not be abandoned mid-order by Stop
		r.cycle(context.WithoutCancel(ctx))
		r.metrics.cycle(r.Status())

		timer := time.NewTimer(r.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// cycle runs one poll: retry a pending save, refresh balances and closes,
// then act on the signal and the trailing stop.
func (r *Runner) cycle(ctx context.Context) {
	s := r.settings

	if r.dirty.Load() {
		r.persist(r.Position())
	}

	quoteFree, err := r.call(ctx, func(ctx context.Context) (float64, error) {
		return r.ex.Balance(ctx, r.info.QuoteAsset)
	})
	if err != nil {
		r.fail("refresh balance", err)
		return
	}
	baseFree, err := r.call(ctx, func(ctx context.Context) (float64, error) {
		return r.ex.Balance(ctx, r.info.BaseAsset)
	})
	if err != nil {
		r.fail("refresh balance", err)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	closes, err := r.ex.RecentCloses(cctx, s.Symbol, s.Interval, r.limit)
	cancel()
	if err != nil {
		r.fail("fetch closes", err)
		return
	}
	if len(closes) == 0 {
		r.fail("fetch closes", errors.New("exchange returned no closes"))
		return
	}
	price := closes[len(closes)-1]

	sig := r.strat.Evaluate(closes)

	r.posMu.Lock()
	r.lastPrice = price
	r.lastSignal = sig
	pos := r.pos
	r.posMu.Unlock()

	msg := fmt.Sprintf("%s %s signal=%s position=%s", s.Symbol, r.rules.FormatPrice(price), sig, pos)
	if !pos.IsFlat() {
		high := math.Max(pos.HighWaterPrice, price)
		msg += fmt.Sprintf(" upnl=%.2f stop=%.2f%%",
			pos.UnrealizedPnL(price), 100*r.trail.Distance(price, high))
	}
	r.emit(Event{
		Kind:    EventTick,
		Symbol:  s.Symbol,
		Signal:  sig.String(),
		Price:   price,
		Message: msg,
	})
	if sig != strategies.Hold {
		r.emit(Event{Kind: EventSignal, Symbol: s.Symbol, Signal: sig.String(), Price: price,
			Message: fmt.Sprintf("%s signal at %s", sig, r.rules.FormatPrice(price))})
	}

	if r.exitReq.Swap(false) {
		// an exit request never opens a position in the same cycle
		if pos.IsFlat() {
			r.emit(Event{Kind: EventWarning, Symbol: s.Symbol, Message: "exit requested but no open position"})
		} else {
			r.sell(ctx, price, baseFree, "manual exit")
		}
		return
	}

	if pos.IsFlat() {
		if sig == strategies.Buy {
			r.buy(ctx, price, quoteFree)
		}
		return
	}

	r.posMu.Lock()
	raised := r.pos.Observe(price)
	pos = r.pos
	r.posMu.Unlock()
	if raised {
		r.persist(pos)
	}

	switch {
	case r.trail.Triggered(price, pos.HighWaterPrice):
		r.sell(ctx, price, baseFree, fmt.Sprintf("trailing stop %s (high %s)",
			r.rules.FormatPrice(r.trail.StopPrice(pos.HighWaterPrice)), r.rules.FormatPrice(pos.HighWaterPrice)))
	case s.ExitOnCross && sig == strategies.Sell:
		r.sell(ctx, price, baseFree, "sell signal")
	}
}

func (r *Runner) buy(ctx context.Context, price, quoteFree float64) {
	s := r.settings

	plan := risk.Calculate(risk.Inputs{
		Capital:      s.Capital,
		FreeQuote:    quoteFree,
		RiskFraction: s.RiskFraction,
		Price:        price,
	})
	sz := r.rules.Quantize(plan.RawQuantity, price)
	if !sz.Accepted {
		r.reject(journal.Buy, price, sz)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	fill, err := r.ex.MarketBuy(cctx, s.Symbol, sz.Quantity)
	cancel()
	if err != nil {
		r.fail("market buy", err)
		return
	}

	r.posMu.Lock()
	err = r.pos.Open(fill.ExecutedQty, fill.QuoteQty)
	pos := r.pos
	r.posMu.Unlock()
	if err != nil {
		r.fail("open position", err)
		return
	}
	r.persist(pos)

	r.record(journal.NewBuy(r.now(), s.Symbol, pos.EntryPrice, fill.ExecutedQty, fill.QuoteQty))
	r.emit(Event{
		Kind:     EventBuy,
		Symbol:   s.Symbol,
		Price:    pos.EntryPrice,
		Quantity: fill.ExecutedQty,
		Message: fmt.Sprintf("bought %s %s at %s for %.8g",
			r.rules.FormatQuantity(fill.ExecutedQty), s.Symbol, r.rules.FormatPrice(pos.EntryPrice), fill.QuoteQty),
	})
}

func (r *Runner) sell(ctx context.Context, price, baseFree float64, reason string) {
	s := r.settings
	pos := r.Position()

	qty := pos.HeldQuantity
	if baseFree > 0 {
		// fees charged in the base asset leave less than was bought
		qty = math.Min(qty, baseFree)
	}
	sz := r.rules.Quantize(qty, price)
	if !sz.Accepted {
		r.reject(journal.Sell, price, sz)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	fill, err := r.ex.MarketSell(cctx, s.Symbol, sz.Quantity)
	cancel()
	if err != nil {
		r.fail("market sell", err)
		return
	}

	r.posMu.Lock()
	pnl, err := r.pos.Close(fill.ExecutedQty, fill.QuoteQty)
	closed := r.pos
	r.posMu.Unlock()
	if err != nil {
		r.fail("close position", err)
		return
	}
	r.persist(closed)

	avg := fill.AvgPrice()
	r.record(journal.NewSell(r.now(), s.Symbol, avg, fill.ExecutedQty, fill.QuoteQty, pnl))
	r.emit(Event{
		Kind:     EventSell,
		Symbol:   s.Symbol,
		Price:    avg,
		Quantity: fill.ExecutedQty,
		PnL:      pnl,
		Message: fmt.Sprintf("sold %s %s at %s on %s, pnl %.8g",
			r.rules.FormatQuantity(fill.ExecutedQty), s.Symbol, r.rules.FormatPrice(avg), reason, pnl),
	})
}

func (r *Runner) persist(p position.Position) {
	if err := r.settings.Store.Save(p); err != nil {
		r.dirty.Store(true)
		r.fail("save position", fmt.Errorf("%w: %w", ErrPersistence, err))
		return
	}
	r.dirty.Store(false)
}

func (r *Runner) record(t journal.TradeRecord) {
	if err := r.settings.Ledger.Append(t); err != nil {
		r.fail("record trade", fmt.Errorf("%w: %w", ErrLedgerWrite, err))
	}
}

func (r *Runner) reject(side journal.Side, price float64, sz market.Sizing) {
	err := fmt.Errorf("%w: %s", ErrOrderRejected, sz.Reason)
	r.emit(Event{
		Kind:     EventRejected,
		Symbol:   r.settings.Symbol,
		Price:    price,
		Quantity: sz.Quantity,
		Message:  fmt.Sprintf("%s skipped", side),
		Err:      err,
	})
}

func (r *Runner) fail(what string, err error) {
	r.emit(Event{Kind: EventError, Symbol: r.settings.Symbol, Message: what, Err: err})
}

func (r *Runner) call(ctx context.Context, fn func(context.Context) (float64, error)) (float64, error) {
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return fn(cctx)
}

// reconcile compares the stored position with the account and warns on a
// mismatch. It never changes state.
func (r *Runner) reconcile(ctx context.Context, pos position.Position) {
	s := r.settings

	held, err := r.ex.Balance(ctx, r.info.BaseAsset)
	if err != nil {
		r.emit(Event{Kind: EventWarning, Symbol: s.Symbol, Message: "reconcile skipped: balance unavailable", Err: err})
		return
	}

	if !pos.IsFlat() {
		step, _ := r.rules.StepSize.Float64()
		tolerance := math.Max(step, pos.HeldQuantity*0.01)
		if held < pos.HeldQuantity-tolerance {
			r.emit(Event{
				Kind:     EventWarning,
				Symbol:   s.Symbol,
				Quantity: held,
				Message: fmt.Sprintf("stored position holds %s %s but the account has %s",
					r.rules.FormatQuantity(pos.HeldQuantity), r.info.BaseAsset, r.rules.FormatQuantity(held)),
			})
		}
		return
	}

	closes, err := r.ex.RecentCloses(ctx, s.Symbol, s.Interval, 1)
	if err != nil || len(closes) == 0 {
		return
	}
	price := closes[len(closes)-1]
	if sz := r.rules.Quantize(held, price); sz.Accepted {
		r.emit(Event{
			Kind:     EventWarning,
			Symbol:   s.Symbol,
			Price:    price,
			Quantity: held,
			Message: fmt.Sprintf("stored position is flat but the account holds %s %s (~%.2f %s)",
				r.rules.FormatQuantity(held), r.info.BaseAsset, sz.Notional, r.info.QuoteAsset),
		})
	}
}

// emit delivers ev without ever blocking the loop; a full channel loses
// its oldest event. Only one goroutine emits at a time.
func (r *Runner) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}
	if ev.Err != nil {
		ev.Error = ev.Err.Error()
	}
	r.metrics.event(ev.Kind)

	attrs := []any{"kind", ev.Kind, "symbol", ev.Symbol}
	if ev.Price != 0 {
		attrs = append(attrs, "price", ev.Price)
	}
	if ev.Quantity != 0 {
		attrs = append(attrs, "qty", ev.Quantity)
	}
	switch ev.Kind {
	case EventError:
		r.log.Error(ev.Message, append(attrs, "err", ev.Err)...)
	case EventWarning, EventRejected:
		r.log.Warn(ev.Message, append(attrs, "err", ev.Err)...)
	default:
		r.log.Debug(ev.Message, attrs...)
	}

	for {
		select {
		case r.events <- ev:
			return
		default:
		}
		select {
		case <-r.events:
			r.dropped.Add(1)
			r.metrics.drop()
		default:
		}
	}
}
