package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// VenueConfig describes one trading venue and its instrument sizing rules.
// ContractSize > 0 marks a contract-denominated instrument. Decimal-valued
// fields are strings so config files stay exact.
type VenueConfig struct {
	Name              string  `mapstructure:"name"`
	Kind              string  `mapstructure:"kind"`
	BaseURL           string  `mapstructure:"base_url"`
	Instrument        string  `mapstructure:"instrument"`
	APIKey            string  `mapstructure:"api_key"`
	APISecret         string  `mapstructure:"api_secret"`
	PrivateKey        string  `mapstructure:"private_key"`
	ContractSize      string  `mapstructure:"contract_size"`
	MinIncrement      string  `mapstructure:"min_increment"`
	MinOrderSize      string  `mapstructure:"min_order_size"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL          string
	ContractAddress string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HTTPAddr string

	ReconcileInterval time.Duration
	StartLookback     uint64
	BatchSize         uint64
	MaxRetries        int
	RetryBackoff      time.Duration

	PopTimeout  time.Duration
	ClaimTTL    time.Duration
	DepositTTL  time.Duration
	PositionTTL time.Duration

	PostgresDSN string
	ArchivePath string

	LogLevel string

	Venues []VenueConfig
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HEDGED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("redis-addr", "127.0.0.1:6379")
	v.SetDefault("http-addr", "127.0.0.1:8080")
	v.SetDefault("reconcile-interval", 30*time.Second)
	v.SetDefault("start-lookback", uint64(100))
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("pop-timeout", 5*time.Second)
	v.SetDefault("claim-ttl", 2*time.Minute)
	v.SetDefault("deposit-ttl", 7*24*time.Hour)
	v.SetDefault("position-ttl", 30*24*time.Hour)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		ContractAddress:   v.GetString("contract"),
		RedisAddr:         v.GetString("redis-addr"),
		RedisPassword:     v.GetString("redis-password"),
		RedisDB:           v.GetInt("redis-db"),
		HTTPAddr:          v.GetString("http-addr"),
		ReconcileInterval: v.GetDuration("reconcile-interval"),
		StartLookback:     v.GetUint64("start-lookback"),
		BatchSize:         v.GetUint64("batch-size"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		PopTimeout:        v.GetDuration("pop-timeout"),
		ClaimTTL:          v.GetDuration("claim-ttl"),
		DepositTTL:        v.GetDuration("deposit-ttl"),
		PositionTTL:       v.GetDuration("position-ttl"),
		PostgresDSN:       v.GetString("pg-dsn"),
		ArchivePath:       v.GetString("archive-path"),
		LogLevel:          v.GetString("log-level"),
	}

	if err := v.UnmarshalKey("venues", &cfg.Venues); err != nil {
		return Config{}, fmt.Errorf("parse venues: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings the process cannot start without.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.ContractAddress == "" {
		return fmt.Errorf("contract address is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	for _, venue := range c.Venues {
		if venue.Name == "" {
			return fmt.Errorf("venue name is required")
		}
		switch venue.Kind {
		case "margin", "futures":
			if venue.APIKey == "" || venue.APISecret == "" {
				return fmt.Errorf("venue %s: credentials are required", venue.Name)
			}
		case "perp":
			if venue.PrivateKey == "" {
				return fmt.Errorf("venue %s: private key is required", venue.Name)
			}
		default:
			return fmt.Errorf("venue %s: unknown kind %q", venue.Name, venue.Kind)
		}
		if venue.BaseURL == "" {
			return fmt.Errorf("venue %s: base url is required", venue.Name)
		}
		if venue.Instrument == "" {
			return fmt.Errorf("venue %s: instrument is required", venue.Name)
		}
	}
	return nil
}
