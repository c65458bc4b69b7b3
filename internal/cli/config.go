package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/spottrader/config"
)

func newConfigCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate configuration files",
		Long: `Manage configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Exchange credentials are never stored in the file. They are read from
BINANCE_API_KEY/BINANCE_SECRET_KEY (or TESTNET_API_KEY/TESTNET_SECRET_KEY
with exchange.testnet) in the environment or a .env file.`,
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd(rc))
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if err := cfg.SaveToFile(output); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created default configuration: %s\n", output)
			fmt.Fprintln(out, "\nEdit the file and run with:")
			fmt.Fprintf(out, "  spottrader run --config %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "spottrader.yaml", "output config file path")
	return cmd
}

func newConfigValidateCmd(rc *rootConfig) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = rc.ConfigPath
			}
			if path == "" {
				return fmt.Errorf("--file or --config is required")
			}
			cfg, err := config.LoadFromFile(path)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Configuration valid: %s\n", path)
			fmt.Fprintf(out, "  Exchange: %s (testnet: %v)\n", cfg.Exchange.Name, cfg.Exchange.Testnet)
			fmt.Fprintf(out, "  Strategy: %s %s %s (%d/%d)\n",
				cfg.Strategy.Name, cfg.Strategy.Symbol, cfg.Strategy.Interval, cfg.Strategy.Fast, cfg.Strategy.Slow)
			fmt.Fprintf(out, "  Risk: %.1f%% of budget, trailing stop %.2f%%\n",
				cfg.Risk.RiskFraction*100, cfg.Risk.TrailingStop*100)
			fmt.Fprintf(out, "  State: %s (%s)\n", cfg.State.Type, cfg.State.Path)
			fmt.Fprintf(out, "  Journal: %s\n", cfg.Journal.Type)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "path to config file")
	return cmd
}
