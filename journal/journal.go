// journal/journal.go
package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/spottrader/pkg/id"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// TradeRecord is one confirmed fill. Cost is meaningful for buys only,
// Revenue and PnL for sells only.
type TradeRecord struct {
	ID       string
	Time     time.Time
	Side     Side
	Symbol   string
	Price    float64
	Quantity float64
	Cost     float64
	Revenue  float64
	PnL      float64
}

func NewBuy(at time.Time, symbol string, price, qty, cost float64) TradeRecord {
	return TradeRecord{
		ID:       id.New(),
		Time:     at,
		Side:     Buy,
		Symbol:   symbol,
		Price:    price,
		Quantity: qty,
		Cost:     cost,
	}
}

func NewSell(at time.Time, symbol string, price, qty, revenue, pnl float64) TradeRecord {
	return TradeRecord{
		ID:       id.New(),
		Time:     at,
		Side:     Sell,
		Symbol:   symbol,
		Price:    price,
		Quantity: qty,
		Revenue:  revenue,
		PnL:      pnl,
	}
}

// Ledger is an append-only record of completed trades.
type Ledger interface {
	Append(TradeRecord) error
	Close() error
}

// Open returns the ledger for kind ("csv" or "sqlite").
func Open(kind, csvPath, dbPath string) (Ledger, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "csv":
		return NewCSV(csvPath)
	case "sqlite", "sqlite3":
		return NewSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unknown journal type %q (supported: csv, sqlite)", kind)
	}
}
