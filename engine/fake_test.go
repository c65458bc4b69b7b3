package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rustyeddy/spottrader/broker"
	"github.com/rustyeddy/spottrader/journal"
	"github.com/rustyeddy/spottrader/market"
	"github.com/rustyeddy/spottrader/position"
)

// fakeExchange replays one close series per RecentCloses call; the last
// series repeats. Orders fill at the latest close returned, moved against
// the trader by slip.
type fakeExchange struct {
	mu sync.Mutex

	info     market.SymbolInfo
	infoErr  error
	balances map[string]float64

	series    [][]float64
	next      int
	closesErr error
	balErr    error
	buyErr    error
	sellErr   error
	price     float64
	slip      float64

	// when set, MarketBuy signals entered and waits on gate
	entered chan struct{}
	gate    chan struct{}

	buys, sells []float64
	closeCalls  int
	closed      int
}

func newFakeExchange(quote float64, series ...[]float64) *fakeExchange {
	return &fakeExchange{
		info: market.SymbolInfo{
			Symbol:     "BTCUSDT",
			BaseAsset:  "BTC",
			QuoteAsset: "USDT",
			Filters: []market.Filter{
				{Type: market.FilterLotSize, Params: map[string]string{"stepSize": "0.001"}},
				{Type: market.FilterPrice, Params: map[string]string{"tickSize": "0.01"}},
				{Type: market.FilterNotional, Params: map[string]string{"minNotional": "10"}},
			},
		},
		balances: map[string]float64{"USDT": quote},
		series:   series,
	}
}

func (f *fakeExchange) dialer() broker.Dialer {
	return func(broker.Credentials) (broker.Exchange, error) { return f, nil }
}

func (f *fakeExchange) Balance(_ context.Context, asset string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balErr != nil {
		return 0, f.balErr
	}
	return f.balances[asset], nil
}

func (f *fakeExchange) RecentCloses(_ context.Context, _, _ string, limit int) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closesErr != nil {
		return nil, f.closesErr
	}
	if len(f.series) == 0 {
		return nil, nil
	}
	i := f.next
	if i >= len(f.series) {
		i = len(f.series) - 1
	} else {
		f.next++
	}
	s := f.series[i]
	if limit < len(s) {
		s = s[len(s)-limit:]
	}
	f.price = s[len(s)-1]
	return s, nil
}

func (f *fakeExchange) SymbolInfo(context.Context, string) (market.SymbolInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeExchange) MarketBuy(_ context.Context, symbol string, qty float64) (broker.Fill, error) {
	if f.gate != nil {
		close(f.entered)
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyErr != nil {
		return broker.Fill{}, f.buyErr
	}
	cost := qty * f.price * (1 + f.slip)
	f.balances["USDT"] -= cost
	f.balances["BTC"] += qty
	f.buys = append(f.buys, qty)
	return broker.Fill{Symbol: symbol, Side: "BUY", ExecutedQty: qty, QuoteQty: cost}, nil
}

func (f *fakeExchange) MarketSell(_ context.Context, symbol string, qty float64) (broker.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sellErr != nil {
		return broker.Fill{}, f.sellErr
	}
	revenue := qty * f.price * (1 - f.slip)
	f.balances["USDT"] += revenue
	f.balances["BTC"] -= qty
	f.sells = append(f.sells, qty)
	return broker.Fill{Symbol: symbol, Side: "SELL", ExecutedQty: qty, QuoteQty: revenue}, nil
}

func (f *fakeExchange) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeExchange) orders() (buys, sells []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.buys...), append([]float64(nil), f.sells...)
}

// memStore is a Store whose Save can be made to fail.
type memStore struct {
	mu    sync.Mutex
	pos   position.Position
	fails int
	saves int
}

func (m *memStore) Load() position.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

func (m *memStore) Save(p position.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails > 0 {
		m.fails--
		return errors.New("disk full")
	}
	m.saves++
	m.pos = p
	return nil
}

func (m *memStore) Close() error { return nil }

type memLedger struct {
	mu      sync.Mutex
	records []journal.TradeRecord
	err     error
}

func (m *memLedger) Append(t journal.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, t)
	return nil
}

func (m *memLedger) Close() error { return nil }

func (m *memLedger) all() []journal.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]journal.TradeRecord(nil), m.records...)
}
