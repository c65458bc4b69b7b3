package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/spottrader/config"

	// exchange adapters register with broker.Dial
	_ "github.com/rustyeddy/spottrader/broker/binance"
	_ "github.com/rustyeddy/spottrader/broker/paper"
)

var version = "dev"

// rootConfig holds the persistent flags shared by every subcommand.
type rootConfig struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
	LogFormat  string

	log *slog.Logger
}

func NewRootCmd() *cobra.Command {
	rc := &rootConfig{}

	cmd := &cobra.Command{
		Use:           "spottrader",
		Short:         "Single-instrument spot trading engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "", "Path to config file (optional, defaults are used otherwise)")
	cmd.PersistentFlags().StringVar(&rc.EnvFile, "env-file", ".env", "dotenv file with exchange credentials")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	cmd.PersistentFlags().StringVar(&rc.LogFormat, "log-format", "", "Log format: text|json (overrides config)")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, format := rc.LogLevel, rc.LogFormat
		if level == "" {
			level = "info"
		}
		if format == "" {
			format = "text"
		}
		l, err := newLogger(cmd.ErrOrStderr(), level, format)
		if err != nil {
			return err
		}
		rc.log = l
		slog.SetDefault(l)
		return nil
	}

	cmd.AddCommand(
		newRunCmd(rc),
		newServeCmd(rc),
		newConfigCmd(rc),
		newStateCmd(rc),
		newJournalCmd(rc),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "spottrader (%s)\n", version)
		},
	})

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// load reads the config file (or defaults), overlays .env, the
// environment and any command overrides, then re-applies logging from the
// resolved config unless the flags set it.
func (rc *rootConfig) load(cmd *cobra.Command, overrides ...func(*config.Config)) (*config.Config, error) {
	if err := config.LoadDotEnv(rc.EnvFile); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if rc.ConfigPath != "" {
		var err error
		cfg, err = config.LoadFromFile(rc.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if rc.LogLevel != "" {
		cfg.Logging.Level = rc.LogLevel
	}
	if rc.LogFormat != "" {
		cfg.Logging.Format = rc.LogFormat
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l, err := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	rc.log = l
	slog.SetDefault(l)
	return cfg, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("bad --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("bad --log-format %q (text|json)", format)
	}
}
