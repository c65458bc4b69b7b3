package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/spottrader/engine"
)

func newRunCmd(rc *rootConfig) *cobra.Command {
	var flags *tradeFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Trade the configured symbol until interrupted",
		Long: `Configure the engine and run the polling loop in the foreground.

Every observation event is printed to stdout. SIGINT or SIGTERM stops the
loop after the cycle in progress; an open position stays open and is
resumed on the next run.

Example:
  spottrader run --config spottrader.yaml
  spottrader run --symbol ETHUSDT --interval 5m --fast 9 --slow 21 --risk 0.1 --testnet`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.load(cmd, flags.apply(cmd))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := rc.openSession(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.runner.Start(); err != nil {
				return err
			}
			return drain(ctx, cmd, s.runner)
		},
	}
	flags = addTradeFlags(cmd)
	return cmd
}

// drain prints events until the loop reports it has stopped. Cancelling
// ctx asks the loop to stop.
func drain(ctx context.Context, cmd *cobra.Command, r *engine.Runner) error {
	out := cmd.OutOrStdout()
	done := ctx.Done()
	for {
		select {
		case <-done:
			fmt.Fprintln(cmd.ErrOrStderr(), "stopping after the current cycle...")
			r.Stop()
			done = nil
		case ev := <-r.Events():
			fmt.Fprintln(out, ev.String())
			if ev.Kind == engine.EventStopped && ev.Message == engine.StoppedMessage {
				return nil
			}
		}
	}
}
