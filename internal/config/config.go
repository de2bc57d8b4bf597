package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Broker  BrokerConfig  `mapstructure:"broker"`
	Cache   CacheConfig   `mapstructure:"cache"`
	History HistoryConfig `mapstructure:"history"`
	Mirror  MirrorConfig  `mapstructure:"mirror"`
}

type BrokerConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	StartedTopic   string   `mapstructure:"started_topic"`
	CompletedTopic string   `mapstructure:"completed_topic"`
	GroupID        string   `mapstructure:"group_id"`
	ClientID       string   `mapstructure:"client_id"`
}

type CacheConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type MirrorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// Load reads the config file and applies environment overrides. A missing
// file is not an error: every setting has a documented default.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("calcstream")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("broker.started_topic", "calculations.started")
	v.SetDefault("broker.completed_topic", "calculations.completed")
	v.SetDefault("broker.group_id", "calcstream-consumers")
	v.SetDefault("broker.client_id", "")
	v.SetDefault("cache.addr", "127.0.0.1:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "calcstream-history.db")
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.url", "")
	v.SetDefault("mirror.exchange", "calculations.audit")
}

func (c Config) Validate() error {
	if len(c.Broker.Brokers) == 0 {
		return fmt.Errorf("broker.brokers is required")
	}
	if c.Broker.StartedTopic == "" || c.Broker.CompletedTopic == "" {
		return fmt.Errorf("broker topics are required")
	}
	if c.Broker.StartedTopic == c.Broker.CompletedTopic {
		return fmt.Errorf("started and completed topics must differ")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if c.Mirror.Enabled && c.Mirror.URL == "" {
		return fmt.Errorf("mirror.url is required when mirror is enabled")
	}
	return nil
}
