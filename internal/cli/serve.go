package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/spottrader/engine"
	"github.com/rustyeddy/spottrader/internal/server"
)

func newServeCmd(rc *rootConfig) *cobra.Command {
	var (
		listen    string
		autostart bool
		flags     *tradeFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the engine behind an HTTP/WebSocket control API",
		Long: `Configure the engine and serve:

  GET  /api/status   runner status and position
  POST /api/start    start the loop
  POST /api/stop     stop after the current cycle
  POST /api/exit     liquidate the open position on the next cycle
  GET  /api/events   WebSocket stream of observation events
  GET  /metrics      Prometheus metrics

Set SPOTTRADER_API_TOKEN to require a bearer token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.load(cmd, flags.apply(cmd))
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Server.Listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			s, err := rc.openSession(cfg, engine.WithMetrics(engine.NewMetrics(reg)))
			if err != nil {
				return err
			}
			defer s.Close()

			if autostart {
				if err := s.runner.Start(); err != nil {
					return err
				}
			}

			srv := server.New(s.runner,
				server.WithLogger(rc.log.With("component", "server")),
				server.WithToken(cfg.Server.Token),
				server.WithGatherer(reg),
			)
			serveErr := srv.ListenAndServe(ctx, listen)

			s.runner.Stop()
			waitCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := s.runner.Wait(waitCtx); err != nil {
				rc.log.Warn("engine did not stop in time", "err", err)
			}
			return serveErr
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	cmd.Flags().BoolVar(&autostart, "start", false, "start the loop immediately")
	flags = addTradeFlags(cmd)
	return cmd
}
