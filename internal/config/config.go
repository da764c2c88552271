// Package config loads the pool daemon configuration from YAML.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"shieldedpool/internal/merkle"
	"shieldedpool/internal/poseidon"
)

const EnvProduction = "production"

var ErrInvalidConfig = errors.New("config: invalid")

type Config struct {
	Environment string `yaml:"environment"`

	Tree struct {
		Depth       int `yaml:"depth"`
		RootHistory int `yaml:"root_history"`
	} `yaml:"tree"`

	// HashBackend selects the off-circuit Poseidon implementation.
	HashBackend string `yaml:"hash_backend"`

	Pools []PoolConfig `yaml:"pools"`

	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// AllowSimulatedProofs lets pools run without proving keys. Rejected in
	// production.
	AllowSimulatedProofs bool `yaml:"allow_simulated_proofs"`

	Prover ProverConfig `yaml:"prover"`

	StorePath  string `yaml:"store_path"`
	WalletPath string `yaml:"wallet_path"`
	RelayURL   string `yaml:"relay_url"`

	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type PoolConfig struct {
	Token         string `yaml:"token"`
	MinDeposit    string `yaml:"min_deposit"`
	MaxDeposit    string `yaml:"max_deposit"`
	TokenDecimals int32  `yaml:"token_decimals"`
}

// Bounds parses the deposit bounds. An empty max means unbounded.
func (p PoolConfig) Bounds() (decimal.Decimal, decimal.Decimal, error) {
	var lo, hi decimal.Decimal
	var err error
	if p.MinDeposit != "" {
		if lo, err = decimal.NewFromString(p.MinDeposit); err != nil {
			return lo, hi, errors.Wrapf(ErrInvalidConfig, "pool %s min_deposit: %v", p.Token, err)
		}
	}
	if p.MaxDeposit != "" {
		if hi, err = decimal.NewFromString(p.MaxDeposit); err != nil {
			return lo, hi, errors.Wrapf(ErrInvalidConfig, "pool %s max_deposit: %v", p.Token, err)
		}
	}
	return lo, hi, nil
}

type ArtifactsConfig struct {
	Dir     string `yaml:"dir"`
	URL     string `yaml:"url"`
	Circuit string `yaml:"circuit"`
}

type ProverConfig struct {
	MaxConcurrency  int `yaml:"max_concurrency"`
	TimeoutSeconds  int `yaml:"timeout_seconds"`
	VerifyCacheSize int `yaml:"verify_cache_size"`
}

func (p ProverConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type HTTPConfig struct {
	Listen         string  `yaml:"listen"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
	RequestTimeout int     `yaml:"request_timeout_seconds"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	AuditFile   string `yaml:"audit_file"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Default() *Config {
	c := &Config{
		Environment: "development",
		HashBackend: "native",
		Pools: []PoolConfig{{
			Token:         "ETH",
			MinDeposit:    "0.1",
			MaxDeposit:    "100",
			TokenDecimals: 18,
		}},
		Artifacts: ArtifactsConfig{Dir: "artifacts", Circuit: "withdraw"},
		Prover: ProverConfig{
			MaxConcurrency:  4,
			TimeoutSeconds:  120,
			VerifyCacheSize: 1024,
		},
		StorePath:  "data/pool.db",
		WalletPath: "wallet.json",
		HTTP: HTTPConfig{
			Listen:         ":8080",
			RateLimit:      5,
			RateBurst:      10,
			RequestTimeout: 180,
		},
		Logging: LoggingConfig{Level: "info", AuditFile: "audit.log"},
		Metrics: MetricsConfig{Enabled: true},
	}
	c.Tree.Depth = 20
	c.Tree.RootHistory = merkle.DefaultRootHistory
	return c
}

// Load reads path, layered over Default, then applies environment overrides. A
// missing file is created with the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := Save(c, path); err != nil {
			return nil, errors.Wrap(err, "save default config")
		}
	case err != nil:
		return nil, errors.Wrap(err, "read config")
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, errors.Wrap(err, "decode config")
		}
	}
	overrideFromEnv(c)
	return c, nil
}

func Save(c *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create config directory")
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return os.WriteFile(path, data, 0o644)
}

func overrideFromEnv(c *Config) {
	if v := os.Getenv("POOL_ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("POOL_HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("POOL_STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("POOL_RELAY_URL"); v != "" {
		c.RelayURL = v
	}
	if v := os.Getenv("POOL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v, err := strconv.ParseBool(os.Getenv("POOL_ALLOW_SIMULATED_PROOFS")); err == nil {
		c.AllowSimulatedProofs = v
	}
}

func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrInvalidConfig, format, args...)
	}
	if c.Tree.Depth < merkle.MinDepth || c.Tree.Depth > merkle.MaxDepth {
		return invalid("tree.depth %d not in [%d, %d]", c.Tree.Depth, merkle.MinDepth, merkle.MaxDepth)
	}
	if c.Tree.RootHistory < 0 {
		return invalid("tree.root_history must not be negative")
	}
	if _, err := poseidon.New(c.HashBackend); err != nil {
		return invalid("hash_backend: %v", err)
	}
	if c.AllowSimulatedProofs && c.IsProduction() {
		return invalid("allow_simulated_proofs cannot be enabled in production")
	}
	if len(c.Pools) == 0 {
		return invalid("at least one pool is required")
	}
	seen := make(map[string]bool)
	for _, p := range c.Pools {
		if p.Token == "" {
			return invalid("pool token must not be empty")
		}
		if seen[p.Token] {
			return invalid("duplicate pool %s", p.Token)
		}
		seen[p.Token] = true
		lo, hi, err := p.Bounds()
		if err != nil {
			return err
		}
		if lo.IsNegative() || (!hi.IsZero() && hi.LessThan(lo)) {
			return invalid("pool %s: bounds [%s, %s]", p.Token, lo, hi)
		}
		if p.TokenDecimals < 0 || p.TokenDecimals > 36 {
			return invalid("pool %s: token_decimals %d", p.Token, p.TokenDecimals)
		}
	}
	if c.Prover.MaxConcurrency <= 0 {
		return invalid("prover.max_concurrency must be positive")
	}
	if c.Prover.TimeoutSeconds <= 0 {
		return invalid("prover.timeout_seconds must be positive")
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		return invalid("http rate limit must not be negative")
	}
	return nil
}
