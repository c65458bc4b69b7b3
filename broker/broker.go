package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/spottrader/market"
)

var (
	// ErrTransient marks failures that are safe to retry on the next cycle:
	// network errors, rate limits and exchange-side 5xx responses.
	ErrTransient = errors.New("transient exchange error")

	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Exchange is everything the engine needs from a spot venue.
type Exchange interface {
	Balance(ctx context.Context, asset string) (float64, error)
	RecentCloses(ctx context.Context, symbol, interval string, limit int) ([]float64, error)
	SymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error)
	MarketBuy(ctx context.Context, symbol string, qty float64) (Fill, error)
	MarketSell(ctx context.Context, symbol string, qty float64) (Fill, error)
}

// Fill is a confirmed market order. QuoteQty is the cumulative quote
// amount: cost for a buy, revenue for a sell.
type Fill struct {
	OrderID     string
	Symbol      string
	Side        string
	ExecutedQty float64
	QuoteQty    float64
	Time        time.Time
}

// AvgPrice is QuoteQty/ExecutedQty, or zero for an empty fill.
func (f Fill) AvgPrice() float64 {
	if f.ExecutedQty == 0 {
		return 0
	}
	return f.QuoteQty / f.ExecutedQty
}

// Credentials selects and authenticates an exchange adapter.
type Credentials struct {
	Exchange  string // "binance" or "paper"
	APIKey    string
	SecretKey string
	Testnet   bool
	BaseURL   string // overrides the adapter default

	// paper only
	PaperAsset   string
	PaperBalance float64
}

// Dialer builds an Exchange from credentials.
type Dialer func(Credentials) (Exchange, error)

var (
	dialersMu sync.RWMutex
	dialers   = map[string]Dialer{}
)

// Register makes an adapter available to Dial. Adapters call it from init.
func Register(name string, d Dialer) {
	dialersMu.Lock()
	defer dialersMu.Unlock()
	dialers[strings.ToLower(name)] = d
}

// Dial returns the adapter registered under c.Exchange.
func Dial(c Credentials) (Exchange, error) {
	name := strings.ToLower(strings.TrimSpace(c.Exchange))

	dialersMu.RLock()
	d, ok := dialers[name]
	dialersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q (registered: %s)", c.Exchange, strings.Join(Registered(), ", "))
	}
	return d(c)
}

func Registered() []string {
	dialersMu.RLock()
	defer dialersMu.RUnlock()

	names := make([]string, 0, len(dialers))
	for n := range dialers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
