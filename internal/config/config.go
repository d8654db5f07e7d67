package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/goodtune/imgcached/internal/cache"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Journal JournalConfig `mapstructure:"journal"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// CacheConfig defines the cache engine settings
type CacheConfig struct {
	Capacity   int    `mapstructure:"capacity"`
	TimeWindow string `mapstructure:"time_window"`
	Policy     string `mapstructure:"policy"`
}

// DockerConfig defines the docker driver settings
type DockerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	PullTimeout      string `mapstructure:"pull_timeout"`
	InspectCacheSize int    `mapstructure:"inspect_cache_size"`
}

// JournalConfig defines the event journal settings
type JournalConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	HistoryLimit int         `mapstructure:"history_limit"`
	Redis        RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the redis connection for the journal
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("IMGCACHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8321)
	v.SetDefault("server.metrics_port", 9090)

	// Cache defaults
	v.SetDefault("cache.capacity", 16)
	v.SetDefault("cache.time_window", "1h")
	v.SetDefault("cache.policy", cache.PolicyLeastFrequentlyUsed)

	// Docker defaults
	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.pull_timeout", "10m")
	v.SetDefault("docker.inspect_cache_size", 256)

	// Journal defaults
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.history_limit", 10000)
	v.SetDefault("journal.redis.host", "localhost")
	v.SetDefault("journal.redis.port", 6379)
	v.SetDefault("journal.redis.db", 0)
	v.SetDefault("journal.redis.pool_size", 10)
	v.SetDefault("journal.redis.min_idle_conns", 2)
	v.SetDefault("journal.redis.dial_timeout", "5s")
	v.SetDefault("journal.redis.read_timeout", "3s")
	v.SetDefault("journal.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive: %d", cfg.Cache.Capacity)
	}

	window, err := time.ParseDuration(cfg.Cache.TimeWindow)
	if err != nil {
		return fmt.Errorf("invalid cache time_window %q: %w", cfg.Cache.TimeWindow, err)
	}
	if window <= 0 {
		return fmt.Errorf("cache time_window must be positive: %s", cfg.Cache.TimeWindow)
	}

	// Fail fast on a policy name nothing recognizes; there is no
	// silent fallback.
	if _, err := cache.ParsePolicy(cfg.Cache.Policy); err != nil {
		return err
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.HistoryLimit <= 0 {
			return fmt.Errorf("journal history_limit must be positive: %d", cfg.Journal.HistoryLimit)
		}
		if cfg.Journal.Redis.Host == "" {
			return fmt.Errorf("journal requires a redis host")
		}
	}

	return nil
}

// Window returns the parsed cache time window. Load has already
// validated the string.
func (c *CacheConfig) Window() time.Duration {
	d, _ := time.ParseDuration(c.TimeWindow)
	return d
}
