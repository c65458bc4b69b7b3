package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/spottrader/broker"
	"github.com/rustyeddy/spottrader/broker/binance"
	"github.com/rustyeddy/spottrader/journal"
	"github.com/rustyeddy/spottrader/market"
	"github.com/rustyeddy/spottrader/position"
)

// With SMA(2/3): buy at 100, raise the high to 110, then fall to 107.79,
// just under the 2% trailing stop at 107.8.
var (
	buyAt100   = []float64{90, 90, 90, 85, 100}
	highAt110  = []float64{90, 90, 85, 100, 110}
	dropTo1079 = []float64{90, 85, 100, 110, 107.79}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings(store position.Store, ledger journal.Ledger) Settings {
	return Settings{
		Credentials:  broker.Credentials{Exchange: "fake"},
		Symbol:       "BTCUSDT",
		Interval:     "1m",
		Strategy:     "sma-cross",
		FastPeriod:   2,
		SlowPeriod:   3,
		RiskFraction: 1,
		TrailingStop: 0.02,
		PollInterval: time.Hour,
		Store:        store,
		Ledger:       ledger,
	}
}

type harness struct {
	r      *Runner
	ex     *fakeExchange
	store  *memStore
	ledger *memLedger
}

func newHarness(t *testing.T, ex *fakeExchange, mutate ...func(*Settings)) *harness {
	t.Helper()

	h := &harness{
		ex:     ex,
		store:  &memStore{},
		ledger: &memLedger{},
	}
	h.r = NewRunner(WithLogger(quietLogger()), WithDialer(ex.dialer()))

	s := testSettings(h.store, h.ledger)
	for _, m := range mutate {
		m(&s)
	}
	require.NoError(t, h.r.Configure(s))
	return h
}

func (h *harness) cycle() {
	h.r.cycle(context.Background())
}

// drain returns every event currently buffered.
func drain(r *Runner) []Event {
	var out []Event
	for {
		select {
		case ev := <-r.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofKind(evs []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range evs {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor reads events until one of kind arrives.
func waitFor(t *testing.T, r *Runner, kind EventKind, timeout time.Duration) []Event {
	t.Helper()

	var seen []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-r.Events():
			seen = append(seen, ev)
			if ev.Kind == kind {
				return seen
			}
		case <-deadline:
			t.Fatalf("no %s event within %v (saw %d events)", kind, timeout, len(seen))
			return nil
		}
	}
}

func TestTrailingStopRoundTrip(t *testing.T) {
	h := newHarness(t, newFakeExchange(1000, buyAt100, highAt110, dropTo1079))

	h.cycle()
	pos := h.r.Position()
	assert.Equal(t, position.Position{HeldQuantity: 10, EntryPrice: 100, HighWaterPrice: 100}, pos)
	assert.Equal(t, pos, h.store.Load())

	h.cycle()
	pos = h.r.Position()
	assert.Equal(t, 110.0, pos.HighWaterPrice)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Equal(t, 110.0, h.store.Load().HighWaterPrice)

	h.cycle()
	assert.True(t, h.r.Position().IsFlat())
	assert.True(t, h.store.Load().IsFlat())

	buys, sells := h.ex.orders()
	assert.Equal(t, []float64{10}, buys)
	assert.Equal(t, []float64{10}, sells)

	recs := h.ledger.all()
	require.Len(t, recs, 2)
	assert.Equal(t, journal.Buy, recs[0].Side)
	assert.InDelta(t, 1000, recs[0].Cost, 1e-9)
	assert.Equal(t, journal.Sell, recs[1].Side)
	assert.InDelta(t, 7.79*10, recs[1].PnL, 1e-6)
	assert.InDelta(t, 1077.9, recs[1].Revenue, 1e-6)

	evs := drain(h.r)
	sold := ofKind(evs, EventSell)
	require.Len(t, sold, 1)
	assert.InDelta(t, 77.9, sold[0].PnL, 1e-6)
	assert.Contains(t, sold[0].Message, "trailing stop 107.80")
	assert.Len(t, ofKind(evs, EventBuy), 1)
	assert.Len(t, ofKind(evs, EventError), 0)
}

func TestStopNotTriggeredAtOrAboveStop(t *testing.T) {
	h := newHarness(t, newFakeExchange(1000, buyAt100, highAt110, []float64{90, 85, 100, 110, 107.81}))

	h.cycle()
	h.cycle()
	h.cycle()

	assert.False(t, h.r.Position().IsFlat())
	_, sells := h.ex.orders()
	assert.Empty(t, sells)
}

func TestBuyEntryIsAverageFillPrice(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100)
	ex.slip = 0.001
	h := newHarness(t, ex, func(s *Settings) {
		s.Capital = 250
		s.RiskFraction = 0.5
	})

	h.cycle()

	pos := h.r.Position()
	// min(250, 1000) * 0.5 = 125 quote -> 1.25 at 100, filled at 100.1
	assert.InDelta(t, 1.25, pos.HeldQuantity, 1e-12)
	assert.InDelta(t, 125.125/1.25, pos.EntryPrice, 1e-9)
	assert.NotEqual(t, buyAt100[len(buyAt100)-1], pos.EntryPrice)
	assert.Equal(t, pos.EntryPrice, pos.HighWaterPrice)

	recs := h.ledger.all()
	require.Len(t, recs, 1)
	assert.InDelta(t, 125.125, recs[0].Cost, 1e-9)
	assert.Equal(t, pos.EntryPrice, recs[0].Price)
}

func TestShortHistoryHolds(t *testing.T) {
	h := newHarness(t, newFakeExchange(1000, []float64{1, 100, 200}))

	h.cycle()

	assert.True(t, h.r.Position().IsFlat())
	buys, _ := h.ex.orders()
	assert.Empty(t, buys)
}

func TestOrderRejectedBelowMinNotional(t *testing.T) {
	// 5.05 quote at 100 is 0.0505 raw, 0.050 after the step, notional 5 < 10
	h := newHarness(t, newFakeExchange(5.05, buyAt100))

	h.cycle()

	assert.True(t, h.r.Position().IsFlat())
	buys, _ := h.ex.orders()
	assert.Empty(t, buys)

	rejected := ofKind(drain(h.r), EventRejected)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0].Err, ErrOrderRejected)
	assert.InDelta(t, 0.05, rejected[0].Quantity, 1e-12)
	assert.Zero(t, h.store.saves)
}

func TestTransientErrorLeavesStateUntouched(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100)
	h := newHarness(t, ex)

	ex.closesErr = fmt.Errorf("%w: i/o timeout", broker.ErrTransient)
	h.cycle()

	assert.True(t, h.r.Position().IsFlat())
	errs := ofKind(drain(h.r), EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, broker.ErrTransient)
	assert.Zero(t, h.store.saves)

	// the next cycle proceeds normally
	ex.closesErr = nil
	h.cycle()
	assert.False(t, h.r.Position().IsFlat())
}

func TestFailedOrderLeavesStateUntouched(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100)
	ex.buyErr = errors.New("exchange said no")
	h := newHarness(t, ex)

	h.cycle()

	assert.True(t, h.r.Position().IsFlat())
	assert.Zero(t, h.store.saves)
	assert.Empty(t, h.ledger.all())
}

func TestFailedSellLeavesStateUntouched(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100, highAt110, dropTo1079)
	h := newHarness(t, ex)

	h.cycle()
	h.cycle()
	before := h.r.Position()
	require.Equal(t, 110.0, before.HighWaterPrice)
	saves := h.store.saves
	drain(h.r)

	ex.mu.Lock()
	ex.sellErr = fmt.Errorf("%w: 503", broker.ErrTransient)
	ex.mu.Unlock()

	// the stop fires but the sell is not confirmed
	h.cycle()

	assert.Equal(t, before, h.r.Position())
	assert.Equal(t, before, h.store.Load())
	assert.Equal(t, saves, h.store.saves)
	assert.Len(t, h.ledger.all(), 1)
	errs := ofKind(drain(h.r), EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "market sell", errs[0].Message)
	assert.ErrorIs(t, errs[0].Err, broker.ErrTransient)

	ex.mu.Lock()
	ex.sellErr = nil
	ex.mu.Unlock()
	h.cycle()

	assert.True(t, h.r.Position().IsFlat())
	assert.True(t, h.store.Load().IsFlat())
	_, sells := ex.orders()
	assert.Equal(t, []float64{10}, sells)
	assert.Len(t, h.ledger.all(), 2)
}

func TestStatusWhileOpen(t *testing.T) {
	h := newHarness(t, newFakeExchange(1000, buyAt100, highAt110))

	st := h.r.Status()
	assert.Zero(t, st.UnrealizedPnL)
	assert.Zero(t, st.StopDistance)

	h.cycle()
	h.cycle()
	drain(h.r)

	st = h.r.Status()
	assert.Equal(t, 110.0, st.LastPrice)
	assert.InDelta(t, 107.8, st.StopPrice, 1e-9)
	assert.InDelta(t, 100, st.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 0.02, st.StopDistance, 1e-9)

	h.cycle()
	ticks := ofKind(drain(h.r), EventTick)
	require.Len(t, ticks, 1)
	assert.Contains(t, ticks[0].Message, "upnl=100.00 stop=2.00%")
}

func TestBalanceErrorWhileOpen(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100, highAt110)
	h := newHarness(t, ex)

	h.cycle()
	before := h.r.Position()

	ex.balErr = fmt.Errorf("%w: 503", broker.ErrTransient)
	h.cycle()

	assert.Equal(t, before, h.r.Position())
}

func TestPersistenceFailureIsRetried(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100, highAt110)
	h := newHarness(t, ex)
	h.store.fails = 1

	h.cycle()

	// memory is authoritative
	assert.False(t, h.r.Position().IsFlat())
	assert.True(t, h.store.Load().IsFlat())
	assert.True(t, h.r.Status().Unsaved)

	errs := ofKind(drain(h.r), EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, ErrPersistence)

	h.cycle()
	assert.False(t, h.r.Status().Unsaved)
	assert.Equal(t, h.r.Position(), h.store.Load())
}

func TestLedgerFailureDoesNotHaltTrading(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100, highAt110, dropTo1079)
	h := newHarness(t, ex)
	h.ledger.err = errors.New("read-only filesystem")

	h.cycle()
	h.cycle()
	h.cycle()

	buys, sells := ex.orders()
	assert.Len(t, buys, 1)
	assert.Len(t, sells, 1)
	assert.True(t, h.r.Position().IsFlat())

	errs := ofKind(drain(h.r), EventError)
	require.Len(t, errs, 2)
	for _, ev := range errs {
		assert.ErrorIs(t, ev.Err, ErrLedgerWrite)
	}
}

func TestSellLimitedToFreeBase(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100, highAt110, dropTo1079)
	h := newHarness(t, ex)

	h.cycle()
	ex.mu.Lock()
	ex.balances["BTC"] = 9.99 // fee taken in base
	ex.mu.Unlock()
	h.cycle()
	h.cycle()

	_, sells := ex.orders()
	require.Len(t, sells, 1)
	assert.InDelta(t, 9.99, sells[0], 1e-12)
	assert.True(t, h.r.Position().IsFlat())
}

// previous fast 100 >= slow 96.67, current fast 85 < slow 90
var crossDown = []float64{90, 90, 100, 100, 70}

func TestExitOnCross(t *testing.T) {
	tests := []struct {
		name     string
		exit     bool
		wantFlat bool
	}{
		{"enabled", true, true},
		{"disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newFakeExchange(1000, buyAt100, crossDown), func(s *Settings) {
				s.ExitOnCross = tt.exit
				s.TrailingStop = 0.5
			})

			h.cycle()
			require.False(t, h.r.Position().IsFlat())
			h.cycle()

			assert.Equal(t, tt.wantFlat, h.r.Position().IsFlat())
		})
	}
}

func TestRequestExit(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100, highAt110)
	h := newHarness(t, ex)

	h.cycle()
	require.False(t, h.r.Position().IsFlat())
	drain(h.r)

	h.r.RequestExit()
	h.cycle()

	assert.True(t, h.r.Position().IsFlat())
	sold := ofKind(drain(h.r), EventSell)
	require.Len(t, sold, 1)
	assert.Contains(t, sold[0].Message, "manual exit")
	assert.InDelta(t, 100, sold[0].PnL, 1e-9)

	// nothing left to exit
	h.r.RequestExit()
	h.cycle()
	warns := ofKind(drain(h.r), EventWarning)
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Message, "no open position")
}

func TestRequestExitWhileFlatSkipsEntry(t *testing.T) {
	h := newHarness(t, newFakeExchange(1000, buyAt100))

	h.r.RequestExit()
	h.cycle()

	assert.True(t, h.r.Position().IsFlat())
	buys, _ := h.ex.orders()
	assert.Empty(t, buys)
	require.Len(t, ofKind(drain(h.r), EventWarning), 1)

	// the buy signal is acted on once the request is consumed
	h.cycle()
	assert.False(t, h.r.Position().IsFlat())
}

func TestConfigureErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeExchange, *Settings)
		want   error
	}{
		{
			name: "missing notional filter",
			mutate: func(ex *fakeExchange, _ *Settings) {
				ex.info.Filters = ex.info.Filters[:2]
			},
			want: market.ErrMissingFilter,
		},
		{
			name:   "symbol info fails",
			mutate: func(ex *fakeExchange, _ *Settings) { ex.infoErr = broker.ErrTransient },
			want:   broker.ErrTransient,
		},
		{
			name:   "fast not below slow",
			mutate: func(_ *fakeExchange, s *Settings) { s.FastPeriod, s.SlowPeriod = 5, 3 },
		},
		{
			name:   "unknown strategy",
			mutate: func(_ *fakeExchange, s *Settings) { s.Strategy = "martingale" },
		},
		{
			name:   "trailing stop out of range",
			mutate: func(_ *fakeExchange, s *Settings) { s.TrailingStop = 0 },
		},
		{
			name:   "risk fraction out of range",
			mutate: func(_ *fakeExchange, s *Settings) { s.RiskFraction = 1.5 },
		},
		{
			name:   "bad interval",
			mutate: func(_ *fakeExchange, s *Settings) { s.Interval = "7m" },
		},
		{
			name:   "no store",
			mutate: func(_ *fakeExchange, s *Settings) { s.Store = nil },
		},
		{
			name:   "history beyond exchange limit",
			mutate: func(_ *fakeExchange, s *Settings) { s.FastPeriod, s.SlowPeriod = 10, 1500 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newFakeExchange(1000)
			s := testSettings(&memStore{}, &memLedger{})
			tt.mutate(ex, &s)

			r := NewRunner(WithLogger(quietLogger()), WithDialer(ex.dialer()))
			err := r.Configure(s)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}

			assert.ErrorIs(t, r.Start(), ErrConfiguration)
			assert.False(t, r.IsRunning())
		})
	}
}

func TestConfigureMissingCredentials(t *testing.T) {
	r := NewRunner(WithLogger(quietLogger()))
	s := testSettings(&memStore{}, &memLedger{})
	s.Credentials = broker.Credentials{Exchange: "binance"}

	err := r.Configure(s)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, binance.ErrMissingCredentials)
}

func TestConfigureLoadsStoredPosition(t *testing.T) {
	ex := newFakeExchange(1000, highAt110)
	store := &memStore{pos: position.Position{HeldQuantity: 1, EntryPrice: 100, HighWaterPrice: 105}}
	ex.balances["BTC"] = 1

	r := NewRunner(WithLogger(quietLogger()), WithDialer(ex.dialer()))
	require.NoError(t, r.Configure(testSettings(store, &memLedger{})))
	assert.Equal(t, store.pos, r.Position())

	r.cycle(context.Background())
	assert.Equal(t, 110.0, r.Position().HighWaterPrice)
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name     string
		stored   position.Position
		base     float64
		wantWarn string
	}{
		{"record claims more than account", position.Position{HeldQuantity: 1, EntryPrice: 100, HighWaterPrice: 100}, 0, "account has"},
		{"flat but holding", position.Position{}, 5, "flat but the account holds"},
		{"consistent open", position.Position{HeldQuantity: 1, EntryPrice: 100, HighWaterPrice: 100}, 0.999, ""},
		{"flat with dust", position.Position{}, 0.05, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newFakeExchange(1000, buyAt100)
			ex.balances["BTC"] = tt.base
			store := &memStore{pos: tt.stored}

			r := NewRunner(WithLogger(quietLogger()), WithDialer(ex.dialer()))
			s := testSettings(store, &memLedger{})
			s.Reconcile = true
			require.NoError(t, r.Configure(s))

			warns := ofKind(drain(r), EventWarning)
			if tt.wantWarn == "" {
				assert.Empty(t, warns)
			} else {
				require.Len(t, warns, 1)
				assert.Contains(t, warns[0].Message, tt.wantWarn)
			}

			// never mutates
			assert.Equal(t, tt.stored, r.Position())
			assert.Zero(t, store.saves)
		})
	}
}

func TestStartIsIdempotentAndStopIsPrompt(t *testing.T) {
	h := newHarness(t, newFakeExchange(1000, buyAt100))

	require.NoError(t, h.r.Start())
	require.NoError(t, h.r.Start())
	assert.True(t, h.r.IsRunning())

	evs := waitFor(t, h.r, EventTick, 2*time.Second)

	begin := time.Now()
	h.r.Stop()
	assert.Less(t, time.Since(begin), 100*time.Millisecond, "Stop must not block")

	// poll interval is an hour; the wait must be interrupted
	evs = append(evs, waitFor(t, h.r, EventStopped, 2*time.Second)...)
	assert.Len(t, ofKind(evs, EventStarted), 1)

	stopped := ofKind(evs, EventStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, StoppedMessage, stopped[0].Message)

	require.NoError(t, h.r.Wait(context.Background()))
	assert.False(t, h.r.IsRunning())

	// Stop when stopped is harmless; a second run works
	h.r.Stop()
	require.NoError(t, h.r.Start())
	waitFor(t, h.r, EventStarted, 2*time.Second)
	h.r.Stop()
	waitFor(t, h.r, EventStopped, 2*time.Second)
}

func TestStopFinishesInFlightOrder(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100)
	ex.entered = make(chan struct{})
	ex.gate = make(chan struct{})
	h := newHarness(t, ex)

	require.NoError(t, h.r.Start())
	<-ex.entered

	h.r.Stop()
	close(ex.gate)

	waitFor(t, h.r, EventStopped, 2*time.Second)
	assert.False(t, h.r.Position().IsFlat())
	assert.Equal(t, h.r.Position(), h.store.Load())
	assert.Len(t, h.ledger.all(), 1)
}

func TestStartWhileStopping(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100)
	ex.entered = make(chan struct{})
	ex.gate = make(chan struct{})
	h := newHarness(t, ex)

	require.NoError(t, h.r.Start())
	<-ex.entered

	h.r.Stop()
	assert.ErrorIs(t, h.r.Start(), ErrStopping)

	close(ex.gate)
	waitFor(t, h.r, EventStopped, 2*time.Second)
	require.NoError(t, h.r.Wait(context.Background()))
	assert.False(t, h.r.IsRunning())

	// once the loop has exited a new run starts normally
	require.NoError(t, h.r.Start())
	assert.True(t, h.r.IsRunning())
	waitFor(t, h.r, EventTick, 2*time.Second)
	assert.True(t, h.r.IsRunning())

	h.r.Stop()
	waitFor(t, h.r, EventStopped, 2*time.Second)
	assert.False(t, h.r.Position().IsFlat())
}

func TestRequestExitWakesLoop(t *testing.T) {
	ex := newFakeExchange(1000, buyAt100, highAt110)
	h := newHarness(t, ex)

	require.NoError(t, h.r.Start())
	waitFor(t, h.r, EventBuy, 2*time.Second)

	h.r.RequestExit()
	evs := waitFor(t, h.r, EventSell, 2*time.Second)
	assert.True(t, strings.Contains(evs[len(evs)-1].Message, "manual exit"))

	h.r.Stop()
	waitFor(t, h.r, EventStopped, 2*time.Second)
	assert.True(t, h.r.Position().IsFlat())
}

func TestConfigureWhileRunning(t *testing.T) {
	h := newHarness(t, newFakeExchange(1000, buyAt100))

	require.NoError(t, h.r.Start())
	err := h.r.Configure(testSettings(h.store, h.ledger))
	assert.ErrorIs(t, err, ErrConfiguration)

	h.r.Stop()
	waitFor(t, h.r, EventStopped, 2*time.Second)
}

func TestClose(t *testing.T) {
	h := newHarness(t, newFakeExchange(1000, buyAt100))

	require.NoError(t, h.r.Start())
	assert.Error(t, h.r.Close())
	h.r.Stop()
	waitFor(t, h.r, EventStopped, 2*time.Second)
	require.NoError(t, h.r.Wait(context.Background()))

	require.NoError(t, h.r.Close())
	assert.Equal(t, 1, h.ex.closed)
	assert.ErrorIs(t, h.r.Start(), ErrConfiguration)

	// closing twice does not touch the exchange again
	require.NoError(t, h.r.Close())
	assert.Equal(t, 1, h.ex.closed)
}

func TestConfigureClosesReplacedExchange(t *testing.T) {
	first := newFakeExchange(1000, buyAt100)
	second := newFakeExchange(1000, buyAt100)
	broken := newFakeExchange(1000, buyAt100)
	broken.infoErr = errors.New("maintenance")

	queue := []*fakeExchange{first, second, broken}
	r := NewRunner(WithLogger(quietLogger()), WithDialer(func(broker.Credentials) (broker.Exchange, error) {
		ex := queue[0]
		queue = queue[1:]
		return ex, nil
	}))

	require.NoError(t, r.Configure(testSettings(&memStore{}, &memLedger{})))
	require.NoError(t, r.Configure(testSettings(&memStore{}, &memLedger{})))
	assert.Equal(t, 1, first.closed)
	assert.Zero(t, second.closed)

	// a failed Configure closes what it dialed and keeps the current one
	require.Error(t, r.Configure(testSettings(&memStore{}, &memLedger{})))
	assert.Equal(t, 1, broken.closed)
	assert.Zero(t, second.closed)
}

func TestEventsDropOldest(t *testing.T) {
	r := NewRunner(WithLogger(quietLogger()), WithEventBuffer(2))

	for i := 0; i < 5; i++ {
		r.emit(Event{Kind: EventTick, Message: fmt.Sprint(i)})
	}

	evs := drain(r)
	require.Len(t, evs, 2)
	assert.Equal(t, "3", evs[0].Message)
	assert.Equal(t, "4", evs[1].Message)
	assert.Equal(t, uint64(3), r.Status().Dropped)
}

func TestStoppedMarkerSurvivesFullBuffer(t *testing.T) {
	h := &harness{ex: newFakeExchange(1000, buyAt100), store: &memStore{}, ledger: &memLedger{}}
	h.r = NewRunner(WithLogger(quietLogger()), WithDialer(h.ex.dialer()), WithEventBuffer(1))
	require.NoError(t, h.r.Configure(testSettings(h.store, h.ledger)))

	require.NoError(t, h.r.Start())
	h.r.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.r.Wait(ctx))

	evs := drain(h.r)
	require.Len(t, evs, 1)
	assert.Equal(t, EventStopped, evs[0].Kind)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, newFakeExchange(1000, buyAt100, highAt110))

	st := h.r.Status()
	assert.False(t, st.Running)
	assert.Equal(t, "SMA(2/3)", st.Strategy)
	assert.True(t, st.Position.IsFlat())
	assert.Zero(t, st.StopPrice)

	h.cycle()
	h.cycle()

	st = h.r.Status()
	assert.Equal(t, 110.0, st.LastPrice)
	assert.Equal(t, "HOLD", st.LastSignal)
	assert.InDelta(t, 107.8, st.StopPrice, 1e-9)
}

func TestEventString(t *testing.T) {
	ev := Event{
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Kind:    EventError,
		Message: "fetch closes",
		Error:   "timeout",
	}
	assert.Equal(t, "2024-01-02 03:04:05 [error] fetch closes: timeout", ev.String())
}
