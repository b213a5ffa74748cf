package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// EnvPrefix namespaces every environment override, e.g. DEFACTO_PORT or
// DEFACTO_PROTOCOL_PARAMS_MIN_STAKE.
const EnvPrefix = "DEFACTO"

type Config struct {
	Port        string `mapstructure:"port" yaml:"port"`
	StreamPort  string `mapstructure:"stream_port" yaml:"stream_port"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	CORSOrigins string `mapstructure:"cors_origins" yaml:"cors_origins"`
	IPSalt      string `mapstructure:"ip_salt" yaml:"ip_salt"`

	Protocol ProtocolConfig `mapstructure:"protocol" yaml:"protocol"`
	Market   MarketConfig   `mapstructure:"market" yaml:"market"`
	Ledger   LedgerConfig   `mapstructure:"ledger" yaml:"ledger"`
	Blob     BlobConfig     `mapstructure:"blob" yaml:"blob"`
	Workers  WorkersConfig  `mapstructure:"workers" yaml:"workers"`
}

type ProtocolConfig struct {
	InitialGrant   int64         `mapstructure:"initial_grant" yaml:"initial_grant"`
	VotingDuration time.Duration `mapstructure:"voting_duration" yaml:"voting_duration"`
	AutoOpenRounds bool          `mapstructure:"auto_open_rounds" yaml:"auto_open_rounds"`
	AdminToken     string        `mapstructure:"admin_token" yaml:"admin_token"`
	Params         model.Params  `mapstructure:"params" yaml:"params"`
}

type MarketConfig struct {
	Limits model.MarketLimits `mapstructure:"limits" yaml:"limits"`
}

// LedgerConfig selects the journal backend: memory, badger or postgres.
type LedgerConfig struct {
	Backend        string        `mapstructure:"backend" yaml:"backend"`
	BadgerPath     string        `mapstructure:"badger_path" yaml:"badger_path"`
	SyncWrites     bool          `mapstructure:"sync_writes" yaml:"sync_writes"`
	Attempts       int           `mapstructure:"attempts" yaml:"attempts"`
	RetryInterval  time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
}

// BlobConfig selects the content store: badger or gcs.
type BlobConfig struct {
	Backend        string `mapstructure:"backend" yaml:"backend"`
	GCSBucket      string `mapstructure:"gcs_bucket" yaml:"gcs_bucket"`
	GCSPrefix      string `mapstructure:"gcs_prefix" yaml:"gcs_prefix"`
	GCSCredentials string `mapstructure:"gcs_credentials" yaml:"gcs_credentials"`
}

type WorkersConfig struct {
	ExpiryInterval     time.Duration `mapstructure:"expiry_interval" yaml:"expiry_interval"`
	ProjectionInterval time.Duration `mapstructure:"projection_interval" yaml:"projection_interval"`
}

const (
	LedgerMemory   = "memory"
	LedgerBadger   = "badger"
	LedgerPostgres = "postgres"

	BlobBadger = "badger"
	BlobGCS    = "gcs"
)

// SetDefaults registers every key so env overrides resolve during Unmarshal.
func SetDefaults(v *viper.Viper) {
	params := model.DefaultParams()
	limits := model.DefaultMarketLimits()

	v.SetDefault("port", "8080")
	v.SetDefault("stream_port", "8081")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("environment", "development")
	v.SetDefault("cors_origins", "*")
	v.SetDefault("ip_salt", "defacto-dev-salt")

	v.SetDefault("protocol.initial_grant", 100)
	v.SetDefault("protocol.voting_duration", 24*time.Hour)
	v.SetDefault("protocol.auto_open_rounds", true)
	v.SetDefault("protocol.admin_token", "")
	v.SetDefault("protocol.params.min_stake", params.MinStake)
	v.SetDefault("protocol.params.max_stake", params.MaxStake)
	v.SetDefault("protocol.params.min_validators", params.MinValidators)
	v.SetDefault("protocol.params.quorum_percentage", params.QuorumPercent)
	v.SetDefault("protocol.params.consensus_threshold", params.ConsensusThreshold)
	v.SetDefault("protocol.params.reward_amount", params.RewardAmount)
	v.SetDefault("protocol.params.slash_percentage", params.SlashPercent)

	v.SetDefault("market.limits.min_liquidity", limits.MinLiquidity)
	v.SetDefault("market.limits.max_liquidity", limits.MaxLiquidity)
	v.SetDefault("market.limits.min_bet", limits.MinBet)
	v.SetDefault("market.limits.max_bet", limits.MaxBet)
	v.SetDefault("market.limits.min_duration_hours", limits.MinDurationHours)
	v.SetDefault("market.limits.max_duration_hours", limits.MaxDurationHours)
	v.SetDefault("market.limits.default_duration_hours", limits.DefaultDurationHrs)

	v.SetDefault("ledger.backend", LedgerBadger)
	v.SetDefault("ledger.badger_path", "./data/defacto")
	v.SetDefault("ledger.sync_writes", true)
	v.SetDefault("ledger.attempts", 5)
	v.SetDefault("ledger.retry_interval", 200*time.Millisecond)
	v.SetDefault("ledger.attempt_timeout", 2*time.Second)

	v.SetDefault("blob.backend", BlobBadger)
	v.SetDefault("blob.gcs_bucket", "")
	v.SetDefault("blob.gcs_prefix", "claims")
	v.SetDefault("blob.gcs_credentials", "")

	v.SetDefault("workers.expiry_interval", 30*time.Second)
	v.SetDefault("workers.projection_interval", 2*time.Second)
}

// Load resolves configuration from defaults, the config file already read
// into v (if any) and DEFACTO_* environment variables.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	if err := c.Protocol.Params.Validate(); err != nil {
		return fmt.Errorf("config: protocol.params: %w", err)
	}
	if c.Protocol.InitialGrant < 0 {
		return errors.New("config: protocol.initial_grant must not be negative")
	}
	if c.Protocol.VotingDuration <= 0 {
		return errors.New("config: protocol.voting_duration must be positive")
	}

	l := c.Market.Limits
	switch {
	case l.MinLiquidity <= 0 || l.MaxLiquidity < l.MinLiquidity:
		return errors.New("config: market.limits liquidity bounds are inconsistent")
	case l.MinBet <= 0 || l.MaxBet < l.MinBet:
		return errors.New("config: market.limits bet bounds are inconsistent")
	case l.MinDurationHours < 1 || l.MaxDurationHours < l.MinDurationHours:
		return errors.New("config: market.limits duration bounds are inconsistent")
	case l.DefaultDurationHrs < l.MinDurationHours || l.DefaultDurationHrs > l.MaxDurationHours:
		return errors.New("config: market.limits.default_duration_hours out of bounds")
	}

	switch c.Ledger.Backend {
	case LedgerMemory, LedgerBadger:
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: ledger.backend postgres requires database_url")
		}
	default:
		return fmt.Errorf("config: unknown ledger.backend %q", c.Ledger.Backend)
	}

	switch c.Blob.Backend {
	case BlobBadger:
	case BlobGCS:
		if c.Blob.GCSBucket == "" {
			return errors.New("config: blob.backend gcs requires blob.gcs_bucket")
		}
	default:
		return fmt.Errorf("config: unknown blob.backend %q", c.Blob.Backend)
	}
	return nil
}

// RequiresBadger reports whether any backend keeps data in the embedded store.
func (c *Config) RequiresBadger() bool {
	return c.Ledger.Backend == LedgerBadger || c.Blob.Backend == BlobBadger
}
