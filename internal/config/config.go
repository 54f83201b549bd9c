package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ChainConfig is the per-chain ingestion configuration.
type ChainConfig struct {
	ChainID          uint64        `mapstructure:"chain-id"`
	Name             string        `mapstructure:"name"`
	RPCURL           string        `mapstructure:"rpc"`
	FactoryAddress   string        `mapstructure:"factory"`
	StartBlock       uint64        `mapstructure:"start-block"`
	PollInterval     time.Duration `mapstructure:"poll-interval"`
	Confirmations    uint64        `mapstructure:"confirmations"`
	FactoryBatchSize uint64        `mapstructure:"factory-batch-size"`
	PairBatchSize    uint64        `mapstructure:"pair-batch-size"`
	Enabled          bool          `mapstructure:"enabled"`
}

// Validate reports whether this chain entry is usable. A bad chain entry is
// fatal for that chain only.
func (c ChainConfig) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("chain id is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("chain %d: rpc url is required", c.ChainID)
	}
	if !common.IsHexAddress(c.FactoryAddress) {
		return fmt.Errorf("chain %d: invalid factory address: %q", c.ChainID, c.FactoryAddress)
	}
	if c.FactoryBatchSize == 0 || c.PairBatchSize == 0 {
		return fmt.Errorf("chain %d: batch sizes must be greater than zero", c.ChainID)
	}
	return nil
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Chains       []ChainConfig `mapstructure:"chains"`
	PgDSN        string        `mapstructure:"pg-dsn"`
	RedisAddr    string        `mapstructure:"redis-addr"`
	CacheTTL     time.Duration `mapstructure:"cache-ttl"`
	MetricsAddr  string        `mapstructure:"metrics-addr"`
	BaseBackoff  time.Duration `mapstructure:"base-backoff"`
	MaxBackoff   time.Duration `mapstructure:"max-backoff"`
	StallAfter   int           `mapstructure:"stall-after"`
	HubQueueSize int           `mapstructure:"hub-queue-size"`
	LogLevel     string        `mapstructure:"log-level"`
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEXWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("cache-ttl", 30*time.Second)
	v.SetDefault("base-backoff", 500*time.Millisecond)
	v.SetDefault("max-backoff", 30*time.Second)
	v.SetDefault("stall-after", 10)
	v.SetDefault("hub-queue-size", 256)
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

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	applyChainDefaults(cfg.Chains)
	return cfg, nil
}

func applyChainDefaults(chains []ChainConfig) {
	for i := range chains {
		if chains[i].PollInterval <= 0 {
			chains[i].PollInterval = 5 * time.Second
		}
		if chains[i].FactoryBatchSize == 0 {
			chains[i].FactoryBatchSize = 1000
		}
		if chains[i].PairBatchSize == 0 {
			chains[i].PairBatchSize = 100
		}
	}
}
