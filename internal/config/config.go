package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	CoinMarketCap CoinMarketCapConfig `mapstructure:"coinmarketcap"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	Port              int `mapstructure:"port"`
	RequestTimeoutSec int `mapstructure:"request_timeout_sec"`
}

// RedisConfig selects the shared cache backend. An empty Addr keeps the
// in-process store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CoinMarketCapConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type CacheConfig struct {
	TickerTTLSec int `mapstructure:"ticker_ttl_sec"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from an optional file plus MARKETFETCH_* env overrides
// (e.g. MARKETFETCH_COINMARKETCAP_API_KEY, MARKETFETCH_REDIS_ADDR).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_sec", 15)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("coinmarketcap.api_key", "")
	v.SetDefault("cache.ticker_ttl_sec", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetEnvPrefix("MARKETFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
