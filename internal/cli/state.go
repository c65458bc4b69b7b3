package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/spottrader/position"
	"github.com/rustyeddy/spottrader/risk"
)

func newStateCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or clear the persisted position",
	}
	cmd.AddCommand(newStateShowCmd(rc), newStateResetCmd(rc))
	return cmd
}

func newStateShowCmd(rc *rootConfig) *cobra.Command {
	var price float64

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted position",
		Long: `Print the persisted position and its trailing stop. With --price, also
value the position at that price.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.load(cmd)
			if err != nil {
				return err
			}
			trail, err := risk.NewTrailingStop(cfg.Risk.TrailingStop)
			if err != nil {
				return err
			}
			store, err := position.Open(cfg.State.Type, cfg.State.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			p := store.Load()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", cfg.Strategy.Symbol, p)
			if p.IsFlat() {
				return nil
			}
			fmt.Fprintf(out, "  held:       %g\n", p.HeldQuantity)
			fmt.Fprintf(out, "  entry:      %g\n", p.EntryPrice)
			fmt.Fprintf(out, "  high water: %g\n", p.HighWaterPrice)
			fmt.Fprintf(out, "  stop:       %.8g\n", trail.StopPrice(p.HighWaterPrice))
			if price > 0 {
				high := max(p.HighWaterPrice, price)
				fmt.Fprintf(out, "  price:      %g\n", price)
				fmt.Fprintf(out, "  upnl:       %.2f\n", p.UnrealizedPnL(price))
				fmt.Fprintf(out, "  to stop:    %.2f%%\n", 100*trail.Distance(price, high))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&price, "price", 0, "value the position at this price")
	return cmd
}

func newStateResetCmd(rc *rootConfig) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the persisted position with flat",
		Long: `Overwrite the persisted position with flat. Nothing is sold; use this
only after closing the position on the exchange by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to reset the position without --force")
			}
			cfg, err := rc.load(cmd)
			if err != nil {
				return err
			}
			store, err := position.Open(cfg.State.Type, cfg.State.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			prev := store.Load()
			if err := store.Save(position.Flat()); err != nil {
				return fmt.Errorf("reset position: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "position reset (was %s)\n", prev)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the reset")
	return cmd
}
