package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"shieldedpool/internal/artifacts"
	"shieldedpool/internal/config"
	"shieldedpool/internal/logging"
	"shieldedpool/internal/metrics"
	"shieldedpool/internal/pool"
	"shieldedpool/internal/poseidon"
	"shieldedpool/internal/relay"
	"shieldedpool/internal/store"
	"shieldedpool/internal/transactions/withdraw"
	"shieldedpool/internal/zerocash"
)

// app holds everything built from the config.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Metrics
	store   *store.LevelDB
	spent   map[string]*zerocash.Ledger
	relay   *relay.Client
	engine  *pool.Engine
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		AuditFile:   cfg.Logging.AuditFile,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	hasher, err := poseidon.New(cfg.HashBackend)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
		return errors.Wrap(err, "create store directory")
	}
	if a.store, err = store.Open(cfg.StorePath, a.log.Named("store")); err != nil {
		return err
	}

	var submitter pool.Submitter
	var local *pool.LedgerSubmitter
	if cfg.RelayURL != "" {
		host, _ := os.Hostname()
		a.relay = relay.NewClient(cfg.RelayURL, host)
		submitter = a.relay
	} else {
		chain, err := zerocash.OpenLedger(cfg.StorePath + ".chain.json")
		if err != nil {
			return err
		}
		local = &pool.LedgerSubmitter{Ledger: chain, RequireVerification: cfg.IsProduction()}
		submitter = local
	}

	var provider artifacts.Provider = artifacts.NewFileProvider(cfg.Artifacts.Dir)
	if cfg.Artifacts.URL != "" {
		provider = artifacts.NewHTTPProvider(cfg.Artifacts.URL)
	}
	provider = artifacts.NewCached(provider, a.log.Named("artifacts"))

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(prometheus.NewRegistry())
	}

	a.engine = pool.NewEngine(a.log.Logger)
	a.spent = make(map[string]*zerocash.Ledger, len(cfg.Pools))
	for _, pc := range cfg.Pools {
		lo, hi, err := pc.Bounds()
		if err != nil {
			return err
		}
		spent, err := zerocash.OpenLedger(spentLedgerPath(cfg.StorePath, pc.Token))
		if err != nil {
			return err
		}
		a.spent[pc.Token] = spent
		deps := pool.Deps{
			Hasher:    hasher,
			Artifacts: provider,
			Submitter: submitter,
			Registry:  a.store,
			Leaves:    a.store,
			Spent:     spent,
			ProverOptions: []withdraw.Groth16Option{
				withdraw.WithMaxConcurrency(cfg.Prover.MaxConcurrency),
				withdraw.WithTimeout(cfg.Prover.Timeout()),
				withdraw.WithVerifyCacheSize(cfg.Prover.VerifyCacheSize),
			},
			Logger:  a.log.Named("pool"),
			Auditor: a.log,
		}
		if a.metrics != nil {
			deps.Recorder = a.metrics
			deps.Observer = a.metrics
		}
		p, err := pool.New(pool.Config{
			Token:          pc.Token,
			Depth:          cfg.Tree.Depth,
			RootHistory:    cfg.Tree.RootHistory,
			MinDeposit:     lo,
			MaxDeposit:     hi,
			TokenDecimals:  pc.TokenDecimals,
			CircuitName:    cfg.Artifacts.Circuit,
			AllowSimulated: cfg.AllowSimulatedProofs,
		}, deps)
		if err != nil {
			return err
		}
		if err := a.engine.AddPool(p); err != nil {
			return err
		}
	}
	if err := a.engine.Initialize(ctx); err != nil {
		return err
	}
	if local != nil {
		local.Roots = a.engine
		local.Verifiers = a.engine
	}
	a.log.Info("engine ready",
		zap.String("environment", cfg.Environment),
		zap.Int("pools", len(cfg.Pools)),
		zap.Bool("relay", a.relay != nil),
	)
	return nil
}

// spentLedgerPath keeps one spent ledger per token next to the store.
func spentLedgerPath(storePath, token string) string {
	return storePath + "." + token + ".spent.json"
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store", zap.Error(err))
		}
	}
	_ = a.log.Close()
}
