package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/spottrader/broker"
	"github.com/rustyeddy/spottrader/journal"
	"github.com/rustyeddy/spottrader/market"
	"github.com/rustyeddy/spottrader/position"
)

const (
	DefaultHistory = 100
	MaxHistory     = 1000
)

// Settings is everything a runner needs for one configured run.
type Settings struct {
	Credentials broker.Credentials

	Symbol     string
	Interval   string // kline interval, e.g. "1m"
	Strategy   string
	FastPeriod int
	SlowPeriod int
	History    int // closes fetched per cycle, 0 means DefaultHistory

	Capital      float64 // quote cap per entry, 0 means the free balance
	RiskFraction float64 // share of the budget spent per entry, (0,1]
	TrailingStop float64 // fraction below the high-water mark, (0,1)
	ExitOnCross  bool    // also exit on a downward cross

	PollInterval time.Duration // 0 means the interval's duration
	Reconcile    bool

	Store  position.Store
	Ledger journal.Ledger
}

func (s Settings) validate() error {
	var errs []string

	if strings.TrimSpace(s.Symbol) == "" {
		errs = append(errs, "symbol is required")
	}
	if !market.ValidInterval(s.Interval) {
		errs = append(errs, fmt.Sprintf("unsupported interval %q", s.Interval))
	}
	if s.RiskFraction <= 0 || s.RiskFraction > 1 {
		errs = append(errs, fmt.Sprintf("risk fraction must be in (0,1], got %v", s.RiskFraction))
	}
	if s.Capital < 0 {
		errs = append(errs, "capital must not be negative")
	}
	if s.History < 0 || s.History > MaxHistory {
		errs = append(errs, fmt.Sprintf("history must be in 0..%d", MaxHistory))
	}
	if s.PollInterval < 0 {
		errs = append(errs, "poll interval must not be negative")
	}
	if s.Store == nil {
		errs = append(errs, "state store is required")
	}
	if s.Ledger == nil {
		errs = append(errs, "trade ledger is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(errs, "; "))
	}
	return nil
}

// pollInterval resolves the wait between cycles.
func (s Settings) pollInterval() (time.Duration, error) {
	if s.PollInterval > 0 {
		return s.PollInterval, nil
	}
	return market.IntervalDuration(s.Interval)
}

// history resolves the closes fetched per cycle: at least warmup.
func (s Settings) history(warmup int) int {
	h := s.History
	if h == 0 {
		h = DefaultHistory
	}
	if h < warmup {
		h = warmup
	}
	return h
}
