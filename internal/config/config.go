package config

import (
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	ServerPort     string        `mapstructure:"server_port"`
	BackendURL     string        `mapstructure:"backend_url"`
	BackendToken   string        `mapstructure:"backend_token"`
	DeviceStatsURL string        `mapstructure:"device_stats_url"`
	PortStatsURL   string        `mapstructure:"port_stats_url"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	LatestTTL      time.Duration `mapstructure:"latest_ttl"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	ReapInterval   time.Duration `mapstructure:"reap_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RedisEnabled reports whether a latest-sample cache is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// Load reads the configuration from defaults, an optional config file and the
// environment. An explicit path must exist; otherwise config.yaml is looked up
// on the usual search paths and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_port", "8080")
	v.SetDefault("backend_url", "http://localhost:8000")
	v.SetDefault("backend_token", "")
	v.SetDefault("device_stats_url", "ws://localhost:8000/ws/device_stats/")
	v.SetDefault("port_stats_url", "ws://localhost:8000/ws/openflow_metrics/")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("latest_ttl", "1h")
	v.SetDefault("idle_timeout", "5m")
	v.SetDefault("reap_interval", "30s")
	v.SetDefault("request_timeout", "10s")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/sdn-stats/")
	}

	// SERVER_PORT, REDIS_ADDR, ...
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Printf("No config file found, using defaults and environment")
	} else {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerPort == "" {
		return fmt.Errorf("server_port is required")
	}
	if err := checkURL("backend_url", c.BackendURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("device_stats_url", c.DeviceStatsURL, "ws", "wss"); err != nil {
		return err
	}
	if err := checkURL("port_stats_url", c.PortStatsURL, "ws", "wss"); err != nil {
		return err
	}
	if c.RedisEnabled() && c.LatestTTL <= 0 {
		return fmt.Errorf("latest_ttl must be positive when redis is enabled")
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("reap_interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %v URL, got %q", key, schemes, raw)
}
