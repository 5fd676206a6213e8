package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "parkngo/backend/libs/config"
	"parkngo/backend/parking"
)

// Config defines ingest service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"INGEST_HTTP_PORT"`
	} `yaml:"http"`
	Store struct {
		Driver        string `yaml:"driver" env:"INGEST_STORE_DRIVER"`
		RedisAddr     string `yaml:"redisAddr" env:"INGEST_REDIS_ADDR"`
		RedisPassword string `yaml:"redisPassword" env:"INGEST_REDIS_PASSWORD"`
		RedisDB       int    `yaml:"redisDb" env:"INGEST_REDIS_DB"`
		PostgresDSN   string `yaml:"postgresDsn" env:"INGEST_POSTGRES_DSN"`
	} `yaml:"store"`
	Scan struct {
		Secret string `yaml:"secret" env:"INGEST_SCAN_SECRET"`
	} `yaml:"scan"`
	Feed struct {
		Interval time.Duration `yaml:"interval" env:"INGEST_FEED_INTERVAL"`
	} `yaml:"feed"`
	Tariff parking.Tariff `yaml:"tariff"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Store.Driver = "redis"
	cfg.Store.RedisAddr = "localhost:6379"
	cfg.Feed.Interval = 5 * time.Second

	if err := libconfig.Load(cfg); err != nil {
		return nil, err
	}
	cfg.Tariff.ApplyDefaults()

	if strings.TrimSpace(cfg.Scan.Secret) == "" {
		return nil, errors.New("config: scan secret required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
