package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/spottrader/config"
	"github.com/rustyeddy/spottrader/journal"
)

func newJournalCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the trade journal",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded trades, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.load(cmd)
			if err != nil {
				return err
			}
			recs, err := readTrades(cmd, cfg)
			if err != nil {
				return err
			}
			if limit > 0 && len(recs) > limit {
				recs = recs[len(recs)-limit:]
			}
			printTrades(cmd, recs)
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 0, "show only the last n trades")

	cmd.AddCommand(list)
	return cmd
}

func readTrades(cmd *cobra.Command, cfg *config.Config) ([]journal.TradeRecord, error) {
	if cfg.Journal.Type == "sqlite" {
		j, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		defer j.Close()
		return j.Trades(cmd.Context())
	}

	recs, err := journal.ReadCSV(cfg.Journal.TradesFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return recs, err
}

func printTrades(cmd *cobra.Command, recs []journal.TradeRecord) {
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "no trades")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSIDE\tSYMBOL\tPRICE\tQTY\tCOST\tREVENUE\tPNL")
	var total float64
	for _, t := range recs {
		cost, revenue, pnl := "", "", ""
		if t.Side == journal.Buy {
			cost = fmt.Sprintf("%.2f", t.Cost)
		} else {
			revenue = fmt.Sprintf("%.2f", t.Revenue)
			pnl = fmt.Sprintf("%.2f", t.PnL)
			total += t.PnL
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%g\t%s\t%s\t%s\n",
			t.Time.Format("2006-01-02 15:04:05"), t.Side, t.Symbol, t.Price, t.Quantity, cost, revenue, pnl)
	}
	tw.Flush()
	fmt.Fprintf(out, "\n%d trades, realized pnl %.2f\n", len(recs), total)
}
