package proofflow

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Network    string          `yaml:"network"`
	RPCURL     string          `yaml:"rpc_url"`
	RPCToken   string          `yaml:"rpc_token"`
	PrivateKey string          `yaml:"private_key"`
	Contracts  ContractsConfig `yaml:"contracts"`
	Storage    StorageConfig   `yaml:"storage"`
	Watchdog   WatchdogConfig  `yaml:"watchdog"`
	Log        LogConfig       `yaml:"log"`
	Metrics    MetricsConfig   `yaml:"metrics"`
	Pieces     PiecesConfig    `yaml:"pieces"`
}

// ContractsConfig holds the addresses of the contracts the client talks to.
type ContractsConfig struct {
	Payments        string `yaml:"payments"`
	WarmStorage     string `yaml:"warm_storage"`
	WarmStorageView string `yaml:"warm_storage_view"`
	PDPVerifier     string `yaml:"pdp_verifier"`
	USDFC           string `yaml:"usdfc"`
}

// StorageConfig is the static upload and payment policy.
type StorageConfig struct {
	WithCDN bool `yaml:"with_cdn"`

	// MinDaysThreshold is the minimum number of days of remaining lockup
	// for allowances to count as sufficient.
	MinDaysThreshold int64 `yaml:"min_days_threshold"`

	// PersistencePeriodDays is how long a storage commitment should stay
	// funded.
	PersistencePeriodDays int64 `yaml:"persistence_period_days"`

	// MaxLockupPeriodDays bounds the lockup period granted to the service.
	MaxLockupPeriodDays int64 `yaml:"max_lockup_period_days"`

	// MaxDailyDeposit caps automatic deposits per client per UTC day, in
	// base token units. Empty or "0" means unlimited.
	MaxDailyDeposit string `yaml:"max_daily_deposit"`
}

// WatchdogConfig configures the piece confirmation watchdog.
type WatchdogConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus pull endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// PiecesConfig selects where piece records are kept.
type PiecesConfig struct {
	// Backend is one of "memory", "redis" or "postgres".
	Backend     string `yaml:"backend"`
	RedisAddr   string `yaml:"redis_addr"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// Prefix overrides the Redis key prefix or the Postgres table prefix.
	Prefix string `yaml:"prefix"`
}

// Network is a known Filecoin network.
type Network struct {
	Name    string
	ChainID int64
	RPCURL  string
}

// Networks lists the supported networks by name.
var Networks = map[string]Network{
	"mainnet": {
		Name:    "Filecoin Mainnet",
		ChainID: 314,
		RPCURL:  "https://api.node.glif.io/rpc/v1",
	},
	"calibration": {
		Name:    "Filecoin Calibration",
		ChainID: 314159,
		RPCURL:  "https://api.calibration.node.glif.io/rpc/v1",
	},
}

// DefaultStorageConfig returns the default upload and payment policy.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		WithCDN:               true,
		MinDaysThreshold:      1,
		PersistencePeriodDays: 7,
		MaxLockupPeriodDays:   30,
	}
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() Config {
	return Config{
		Network: "calibration",
		Storage: DefaultStorageConfig(),
		Watchdog: WatchdogConfig{
			Timeout:      DefaultWatchTimeout,
			PollInterval: DefaultPollInterval,
		},
		Log:    LogConfig{Level: "info", Format: "text"},
		Pieces: PiecesConfig{Backend: "memory"},
	}
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("proofflow: read config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML config data on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("proofflow: parse config: %w", err)
	}

	if cfg.RPCURL == "" {
		if n, ok := Networks[cfg.Network]; ok {
			cfg.RPCURL = n.RPCURL
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ChainID returns the chain ID of the configured network.
func (c Config) ChainID() int64 {
	return Networks[c.Network].ChainID
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if _, ok := Networks[c.Network]; !ok {
		return fmt.Errorf("proofflow: config: unknown network %q", c.Network)
	}
	if c.RPCURL == "" {
		return fmt.Errorf("proofflow: config: rpc_url is required")
	}

	for name, addr := range map[string]string{
		"payments":          c.Contracts.Payments,
		"warm_storage":      c.Contracts.WarmStorage,
		"warm_storage_view": c.Contracts.WarmStorageView,
		"pdp_verifier":      c.Contracts.PDPVerifier,
		"usdfc":             c.Contracts.USDFC,
	} {
		if addr == "" {
			return fmt.Errorf("proofflow: config: contracts.%s is required", name)
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("proofflow: config: contracts.%s: invalid address %q", name, addr)
		}
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Watchdog.Timeout <= 0 {
		return fmt.Errorf("proofflow: config: watchdog.timeout must be positive")
	}
	if c.Watchdog.PollInterval <= 0 {
		return fmt.Errorf("proofflow: config: watchdog.poll_interval must be positive")
	}

	switch c.Pieces.Backend {
	case "", "memory":
	case "redis":
		if c.Pieces.RedisAddr == "" {
			return fmt.Errorf("proofflow: config: pieces.redis_addr is required for the redis backend")
		}
	case "postgres":
		if c.Pieces.PostgresDSN == "" {
			return fmt.Errorf("proofflow: config: pieces.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("proofflow: config: pieces.backend: unknown backend %q", c.Pieces.Backend)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("proofflow: config: log.format: invalid format %q", c.Log.Format)
	}

	return nil
}

// Validate checks the storage policy.
func (s StorageConfig) Validate() error {
	if s.MinDaysThreshold < 0 {
		return fmt.Errorf("proofflow: config: storage.min_days_threshold must not be negative")
	}
	if s.PersistencePeriodDays <= 0 {
		return fmt.Errorf("proofflow: config: storage.persistence_period_days must be positive")
	}
	if s.MaxLockupPeriodDays <= 0 {
		return fmt.Errorf("proofflow: config: storage.max_lockup_period_days must be positive")
	}
	if _, err := s.DailyDepositCap(); err != nil {
		return err
	}
	return nil
}

// DailyDepositCap returns MaxDailyDeposit as an integer. Zero means
// unlimited.
func (s StorageConfig) DailyDepositCap() (*big.Int, error) {
	if s.MaxDailyDeposit == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s.MaxDailyDeposit, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("proofflow: config: storage.max_daily_deposit: invalid amount %q", s.MaxDailyDeposit)
	}
	return v, nil
}
