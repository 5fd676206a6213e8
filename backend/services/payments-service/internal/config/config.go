package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "parkngo/backend/libs/config"
)

// Config defines payments service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"PAYMENTS_HTTP_PORT"`
	} `yaml:"http"`
	Store struct {
		Driver        string `yaml:"driver" env:"PAYMENTS_STORE_DRIVER"`
		RedisAddr     string `yaml:"redisAddr" env:"PAYMENTS_REDIS_ADDR"`
		RedisPassword string `yaml:"redisPassword" env:"PAYMENTS_REDIS_PASSWORD"`
		RedisDB       int    `yaml:"redisDb" env:"PAYMENTS_REDIS_DB"`
		PostgresDSN   string `yaml:"postgresDsn" env:"PAYMENTS_POSTGRES_DSN"`
	} `yaml:"store"`
	Masumi struct {
		BaseURL         string `yaml:"baseUrl" env:"PAYMENTS_MASUMI_BASE_URL"`
		APIKey          string `yaml:"apiKey" env:"PAYMENTS_MASUMI_API_KEY"`
		Network         string `yaml:"network" env:"PAYMENTS_MASUMI_NETWORK"`
		AgentIdentifier string `yaml:"agentIdentifier" env:"PAYMENTS_MASUMI_AGENT_IDENTIFIER"`
	} `yaml:"masumi"`
	Funding struct {
		PollInterval time.Duration `yaml:"pollInterval" env:"PAYMENTS_FUNDING_POLL_INTERVAL"`
	} `yaml:"funding"`
	Auth struct {
		Secret string `yaml:"secret" env:"PAYMENTS_AUTH_SECRET"`
	} `yaml:"auth"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8081"
	cfg.Store.Driver = "redis"
	cfg.Store.RedisAddr = "localhost:6379"
	cfg.Masumi.Network = "Preprod"
	cfg.Funding.PollInterval = 30 * time.Second

	if err := libconfig.Load(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Masumi.BaseURL) == "" {
		return nil, errors.New("config: masumi base url required")
	}
	if strings.TrimSpace(cfg.Masumi.APIKey) == "" {
		return nil, errors.New("config: masumi api key required")
	}
	if strings.TrimSpace(cfg.Auth.Secret) == "" {
		return nil, errors.New("config: auth secret required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8081"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
