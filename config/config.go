package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/spottrader/broker"
	"github.com/rustyeddy/spottrader/market"
	"github.com/rustyeddy/spottrader/strategies"
)

// klines endpoint limit
const maxHistory = 1000

// Config represents the complete engine configuration
type Config struct {
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Risk     RiskConfig     `json:"risk" yaml:"risk"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	State    StateConfig    `json:"state" yaml:"state"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Server   ServerConfig   `json:"server" yaml:"server"`
}

// ExchangeConfig selects the venue. Keys come from the environment only
// and are never written back to a file.
type ExchangeConfig struct {
	Name         string  `json:"name" yaml:"name"` // "paper" or "binance"
	Testnet      bool    `json:"testnet" yaml:"testnet"`
	BaseURL      string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	PaperAsset   string  `json:"paper_asset,omitempty" yaml:"paper_asset,omitempty"`
	PaperBalance float64 `json:"paper_balance,omitempty" yaml:"paper_balance,omitempty"`

	APIKey    string `json:"-" yaml:"-"`
	SecretKey string `json:"-" yaml:"-"`
}

// StrategyConfig contains signal parameters
type StrategyConfig struct {
	Name        string `json:"name" yaml:"name"`
	Symbol      string `json:"symbol" yaml:"symbol"`
	Interval    string `json:"interval" yaml:"interval"`
	Fast        int    `json:"fast" yaml:"fast"`
	Slow        int    `json:"slow" yaml:"slow"`
	History     int    `json:"history" yaml:"history"`
	ExitOnCross bool   `json:"exit_on_cross" yaml:"exit_on_cross"`
}

// RiskConfig values are fractions: 0.02 is 2%
type RiskConfig struct {
	Capital      float64 `json:"capital" yaml:"capital"`
	RiskFraction float64 `json:"risk_fraction" yaml:"risk_fraction"`
	TrailingStop float64 `json:"trailing_stop" yaml:"trailing_stop"`
}

type EngineConfig struct {
	PollInterval string `json:"poll_interval" yaml:"poll_interval"` // empty: the candle interval
	EventBuffer  int    `json:"event_buffer" yaml:"event_buffer"`
	Reconcile    bool   `json:"reconcile" yaml:"reconcile"`
}

type StateConfig struct {
	Type string `json:"type" yaml:"type"` // "file" or "sqlite"
	Path string `json:"path" yaml:"path"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv" or "sqlite"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type ServerConfig struct {
	Listen string `json:"listen" yaml:"listen"`
	Token  string `json:"-" yaml:"-"` // SPOTTRADER_API_TOKEN
}

// LoadFromFile loads configuration from a file (YAML, or JSON as fallback)
// on top of Default.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays credentials and SPOTTRADER_* overrides from the
// process environment.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
		return nil
	}

	if v, ok := lookup("SPOTTRADER_TESTNET"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SPOTTRADER_TESTNET: %w", err)
		}
		c.Exchange.Testnet = b
	}
	str("SPOTTRADER_EXCHANGE", &c.Exchange.Name)
	str("SPOTTRADER_SYMBOL", &c.Strategy.Symbol)
	str("SPOTTRADER_INTERVAL", &c.Strategy.Interval)
	str("SPOTTRADER_STATE_PATH", &c.State.Path)
	str("SPOTTRADER_LOG_LEVEL", &c.Logging.Level)
	str("SPOTTRADER_LISTEN", &c.Server.Listen)
	str("SPOTTRADER_API_TOKEN", &c.Server.Token)

	if err := num("USDT_AMOUNT", &c.Risk.Capital); err != nil {
		return err
	}
	if err := num("RISK", &c.Risk.RiskFraction); err != nil {
		return err
	}

	c.applyCredentials(lookup)
	return nil
}

// ApplyCredentials reads the key pair for the selected network from the
// environment, replacing any keys already set. Call it again after
// changing Exchange.Testnet.
func (c *Config) ApplyCredentials() {
	c.applyCredentials(os.LookupEnv)
}

func (c *Config) applyCredentials(lookup func(string) (string, bool)) {
	keyVar, secretVar := "BINANCE_API_KEY", "BINANCE_SECRET_KEY"
	if c.Exchange.Testnet {
		keyVar, secretVar = "TESTNET_API_KEY", "TESTNET_SECRET_KEY"
	}
	c.Exchange.APIKey, _ = lookup(keyVar)
	c.Exchange.SecretKey, _ = lookup(secretVar)
}

// Credentials converts the exchange section for broker.Dial.
func (c *Config) Credentials() broker.Credentials {
	return broker.Credentials{
		Exchange:     c.Exchange.Name,
		APIKey:       c.Exchange.APIKey,
		SecretKey:    c.Exchange.SecretKey,
		Testnet:      c.Exchange.Testnet,
		BaseURL:      c.Exchange.BaseURL,
		PaperAsset:   c.Exchange.PaperAsset,
		PaperBalance: c.Exchange.PaperBalance,
	}
}

// PollDuration is the wait between cycles. An empty poll_interval means
// one candle interval.
func (c *Config) PollDuration() (time.Duration, error) {
	if strings.TrimSpace(c.Engine.PollInterval) == "" {
		return market.IntervalDuration(c.Strategy.Interval)
	}
	d, err := time.ParseDuration(c.Engine.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("engine.poll_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("engine.poll_interval must be positive")
	}
	return d, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Exchange.Name {
	case "paper", "binance":
	default:
		return fmt.Errorf("exchange.name must be 'paper' or 'binance'")
	}
	if c.Exchange.Name == "paper" && c.Exchange.PaperBalance < 0 {
		return fmt.Errorf("exchange.paper_balance must not be negative")
	}
	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if !market.ValidInterval(c.Strategy.Interval) {
		return fmt.Errorf("strategy.interval %q is not a supported kline interval", c.Strategy.Interval)
	}
	if _, err := strategies.ByName(c.Strategy.Name, c.Strategy.Fast, c.Strategy.Slow); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if c.Strategy.History < 0 || c.Strategy.History > maxHistory {
		return fmt.Errorf("strategy.history must be between 0 and %d", maxHistory)
	}
	if c.Risk.Capital < 0 {
		return fmt.Errorf("risk.capital must not be negative")
	}
	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 1 {
		return fmt.Errorf("risk.risk_fraction must be between 0 and 1")
	}
	if c.Risk.TrailingStop <= 0 || c.Risk.TrailingStop >= 1 {
		return fmt.Errorf("risk.trailing_stop must be between 0 and 1")
	}
	if _, err := c.PollDuration(); err != nil {
		return err
	}
	if c.Engine.EventBuffer < 0 {
		return fmt.Errorf("engine.event_buffer must not be negative")
	}
	if c.State.Type != "file" && c.State.Type != "sqlite" {
		return fmt.Errorf("state.type must be 'file' or 'sqlite'")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if c.Journal.Type != "csv" && c.Journal.Type != "sqlite" {
		return fmt.Errorf("journal.type must be 'csv' or 'sqlite'")
	}
	if c.Journal.Type == "csv" && c.Journal.TradesFile == "" {
		return fmt.Errorf("journal trades_file required for CSV type")
	}
	if c.Journal.Type == "sqlite" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal db_path required for SQLite type")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Name:         "paper",
			PaperAsset:   "USDT",
			PaperBalance: 1000,
		},
		Strategy: StrategyConfig{
			Name:     "sma-cross",
			Symbol:   "BTCUSDT",
			Interval: "1m",
			Fast:     10,
			Slow:     50,
			History:  100,
		},
		Risk: RiskConfig{
			RiskFraction: 1.0,
			TrailingStop: 0.02,
		},
		Engine: EngineConfig{
			EventBuffer: 256,
			Reconcile:   true,
		},
		State: StateConfig{
			Type: "file",
			Path: "./position.yaml",
		},
		Journal: JournalConfig{
			Type:       "csv",
			TradesFile: "./trades.csv",
			DBPath:     "./trades.sqlite",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
	}
}
