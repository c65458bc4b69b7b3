// Package paper simulates a spot account against live market data so a
// strategy can run end to end without placing real orders.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/spottrader/broker"
	"github.com/rustyeddy/spottrader/broker/binance"
	"github.com/rustyeddy/spottrader/market"
	"github.com/rustyeddy/spottrader/pkg/id"
)

func init() {
	broker.Register("paper", func(c broker.Credentials) (broker.Exchange, error) {
		md := binance.NewPublic(binance.BaseURL(c.Testnet, c.BaseURL))
		ex := New(md)
		asset := c.PaperAsset
		if asset == "" {
			asset = "USDT"
		}
		if c.PaperBalance > 0 {
			ex.Deposit(asset, c.PaperBalance)
		}
		return ex, nil
	})
}

// MarketData is the read-only half of an exchange.
type MarketData interface {
	RecentCloses(ctx context.Context, symbol, interval string, limit int) ([]float64, error)
	SymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error)
}

// Exchange fills market orders immediately at the latest known close.
type Exchange struct {
	mu       sync.Mutex
	md       MarketData
	balances map[string]float64
	last     map[string]float64
	symbols  map[string]market.SymbolInfo
	fills    []broker.Fill

	// FeeRate is charged in quote currency on every fill.
	FeeRate float64
}

func New(md MarketData) *Exchange {
	return &Exchange{
		md:       md,
		balances: make(map[string]float64),
		last:     make(map[string]float64),
		symbols:  make(map[string]market.SymbolInfo),
	}
}

// Deposit credits amount of asset to the virtual account.
func (e *Exchange) Deposit(asset string, amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[strings.ToUpper(asset)] += amount
}

// SetPrice overrides the fill price for symbol until the next fetch.
func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last[symbol] = price
}

func (e *Exchange) Balance(ctx context.Context, asset string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[strings.ToUpper(asset)], nil
}

func (e *Exchange) RecentCloses(ctx context.Context, symbol, interval string, limit int) ([]float64, error) {
	closes, err := e.md.RecentCloses(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	if len(closes) > 0 {
		e.SetPrice(symbol, closes[len(closes)-1])
	}
	return closes, nil
}

func (e *Exchange) SymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error) {
	e.mu.Lock()
	info, ok := e.symbols[symbol]
	e.mu.Unlock()
	if ok {
		return info, nil
	}

	info, err := e.md.SymbolInfo(ctx, symbol)
	if err != nil {
		return market.SymbolInfo{}, err
	}

	e.mu.Lock()
	e.symbols[symbol] = info
	e.mu.Unlock()
	return info, nil
}

func (e *Exchange) MarketBuy(ctx context.Context, symbol string, qty float64) (broker.Fill, error) {
	return e.execute(ctx, symbol, "BUY", qty)
}

func (e *Exchange) MarketSell(ctx context.Context, symbol string, qty float64) (broker.Fill, error) {
	return e.execute(ctx, symbol, "SELL", qty)
}

// Fills returns a copy of every simulated fill.
func (e *Exchange) Fills() []broker.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]broker.Fill, len(e.fills))
	copy(out, e.fills)
	return out
}

func (e *Exchange) execute(ctx context.Context, symbol, side string, qty float64) (broker.Fill, error) {
	if qty <= 0 {
		return broker.Fill{}, fmt.Errorf("order quantity must be positive, got %v", qty)
	}

	info, err := e.SymbolInfo(ctx, symbol)
	if err != nil {
		return broker.Fill{}, err
	}

	e.mu.Lock()
	_, known := e.last[symbol]
	e.mu.Unlock()
	if !known {
		if _, err := e.RecentCloses(ctx, symbol, "1m", 1); err != nil {
			return broker.Fill{}, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.last[symbol]
	if !ok || price <= 0 {
		return broker.Fill{}, fmt.Errorf("no price available for %s", symbol)
	}

	base, quote := info.BaseAsset, info.QuoteAsset
	gross := price * qty
	fee := gross * e.FeeRate

	var quoteQty float64
	switch side {
	case "BUY":
		quoteQty = gross + fee
		if e.balances[quote] < quoteQty {
			return broker.Fill{}, fmt.Errorf("%w: need %.8f %s, have %.8f",
				broker.ErrInsufficientBalance, quoteQty, quote, e.balances[quote])
		}
		e.balances[quote] -= quoteQty
		e.balances[base] += qty
	default:
		if e.balances[base] < qty {
			return broker.Fill{}, fmt.Errorf("%w: need %.8f %s, have %.8f",
				broker.ErrInsufficientBalance, qty, base, e.balances[base])
		}
		quoteQty = gross - fee
		e.balances[base] -= qty
		e.balances[quote] += quoteQty
	}

	fill := broker.Fill{
		OrderID:     id.New(),
		Symbol:      symbol,
		Side:        side,
		ExecutedQty: qty,
		QuoteQty:    quoteQty,
		Time:        time.Now().UTC(),
	}
	e.fills = append(e.fills, fill)

	slog.Info("paper order filled",
		"id", fill.OrderID,
		"symbol", symbol,
		"side", side,
		"qty", qty,
		"price", price,
		"quote", quoteQty,
	)
	return fill, nil
}
