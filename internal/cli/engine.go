package cli

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/spottrader/config"
	"github.com/rustyeddy/spottrader/engine"
	"github.com/rustyeddy/spottrader/journal"
	"github.com/rustyeddy/spottrader/position"
)

// session is a configured runner plus the stores it writes to.
type session struct {
	runner *engine.Runner
	store  position.Store
	ledger journal.Ledger
}

func (s *session) Close() error {
	var err error
	if s.runner != nil {
		err = s.runner.Close()
	}
	return errors.Join(err, s.store.Close(), s.ledger.Close())
}

// settings converts the resolved config into runner settings.
func settings(cfg *config.Config, store position.Store, ledger journal.Ledger) (engine.Settings, error) {
	poll, err := cfg.PollDuration()
	if err != nil {
		return engine.Settings{}, err
	}
	return engine.Settings{
		Credentials:  cfg.Credentials(),
		Symbol:       cfg.Strategy.Symbol,
		Interval:     cfg.Strategy.Interval,
		Strategy:     cfg.Strategy.Name,
		FastPeriod:   cfg.Strategy.Fast,
		SlowPeriod:   cfg.Strategy.Slow,
		History:      cfg.Strategy.History,
		Capital:      cfg.Risk.Capital,
		RiskFraction: cfg.Risk.RiskFraction,
		TrailingStop: cfg.Risk.TrailingStop,
		ExitOnCross:  cfg.Strategy.ExitOnCross,
		PollInterval: poll,
		Reconcile:    cfg.Engine.Reconcile,
		Store:        store,
		Ledger:       ledger,
	}, nil
}

func (rc *rootConfig) openSession(cfg *config.Config, opts ...engine.Option) (*session, error) {
	store, err := position.Open(cfg.State.Type, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	ledger, err := journal.Open(cfg.Journal.Type, cfg.Journal.TradesFile, cfg.Journal.DBPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	s := &session{store: store, ledger: ledger}

	st, err := settings(cfg, store, ledger)
	if err != nil {
		s.Close()
		return nil, err
	}

	opts = append([]engine.Option{
		engine.WithLogger(rc.log.With("component", "engine")),
		engine.WithEventBuffer(cfg.Engine.EventBuffer),
	}, opts...)
	s.runner = engine.NewRunner(opts...)

	if err := s.runner.Configure(st); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
