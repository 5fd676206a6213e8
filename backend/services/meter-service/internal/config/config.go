package config

import (
	"errors"
	"strings"
	"time"

	libconfig "parkngo/backend/libs/config"
	"parkngo/backend/parking"
)

// Config defines meter service configuration.
type Config struct {
	Store struct {
		Driver        string `yaml:"driver" env:"METER_STORE_DRIVER"`
		RedisAddr     string `yaml:"redisAddr" env:"METER_REDIS_ADDR"`
		RedisPassword string `yaml:"redisPassword" env:"METER_REDIS_PASSWORD"`
		RedisDB       int    `yaml:"redisDb" env:"METER_REDIS_DB"`
		PostgresDSN   string `yaml:"postgresDsn" env:"METER_POSTGRES_DSN"`
	} `yaml:"store"`
	Tick struct {
		Interval time.Duration `yaml:"interval" env:"METER_TICK_INTERVAL"`
	} `yaml:"tick"`
	Payments struct {
		BaseURL string `yaml:"baseUrl" env:"METER_PAYMENTS_BASE_URL"`
	} `yaml:"payments"`
	Auth struct {
		Secret string `yaml:"secret" env:"METER_AUTH_SECRET"`
	} `yaml:"auth"`
	Tariff parking.Tariff `yaml:"tariff"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.Store.Driver = "redis"
	cfg.Store.RedisAddr = "localhost:6379"
	cfg.Tick.Interval = 60 * time.Second
	cfg.Payments.BaseURL = "http://localhost:8081"

	if err := libconfig.Load(cfg); err != nil {
		return nil, err
	}
	cfg.Tariff.ApplyDefaults()

	if strings.TrimSpace(cfg.Auth.Secret) == "" {
		return nil, errors.New("config: auth secret required")
	}
	return cfg, nil
}
