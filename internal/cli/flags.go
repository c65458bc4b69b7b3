package cli

import (
	"github.com/spf13/cobra"

	"github.com/rustyeddy/spottrader/config"
)

// tradeFlags override the strategy and risk sections for one run.
type tradeFlags struct {
	symbol   string
	interval string
	usdt     float64
	fast     int
	slow     int
	risk     float64
	testnet  bool
}

func addTradeFlags(cmd *cobra.Command) *tradeFlags {
	f := &tradeFlags{}
	fl := cmd.Flags()
	fl.StringVarP(&f.symbol, "symbol", "s", "", "trading pair, e.g. BTCUSDT (overrides strategy.symbol)")
	fl.StringVarP(&f.interval, "interval", "i", "", "kline interval, e.g. 1m, 15m (overrides strategy.interval)")
	fl.Float64Var(&f.usdt, "usdt", 0, "quote capital to trade, 0 for the whole free balance (overrides USDT_AMOUNT)")
	fl.IntVar(&f.fast, "fast", 0, "fast moving average period")
	fl.IntVar(&f.slow, "slow", 0, "slow moving average period")
	fl.Float64Var(&f.risk, "risk", 0, "fraction of capital per trade, 0.1 = 10% (overrides RISK)")
	fl.BoolVar(&f.testnet, "testnet", false, "use the Binance testnet and its keys")
	return f
}

// apply copies only the flags set on the command line onto cfg.
func (f *tradeFlags) apply(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		fl := cmd.Flags()
		if fl.Changed("symbol") {
			cfg.Strategy.Symbol = f.symbol
		}
		if fl.Changed("interval") {
			cfg.Strategy.Interval = f.interval
		}
		if fl.Changed("usdt") {
			cfg.Risk.Capital = f.usdt
		}
		if fl.Changed("fast") {
			cfg.Strategy.Fast = f.fast
		}
		if fl.Changed("slow") {
			cfg.Strategy.Slow = f.slow
		}
		if fl.Changed("risk") {
			cfg.Risk.RiskFraction = f.risk
		}
		if fl.Changed("testnet") {
			cfg.Exchange.Testnet = f.testnet
			cfg.ApplyCredentials()
		}
	}
}
