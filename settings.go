package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type ServerConfig struct {
	AppEnv            string  `env:"APP_ENV,default=local"`
	Port              string  `env:"PORT,default=8080"`
	StoreBackend      string  `env:"STORE_BACKEND,default=memory"`
	DatabaseURL       string  `env:"DATABASE_URL"`
	RedisAddr         string  `env:"REDIS_ADDR"`
	RedisPassword     string  `env:"REDIS_PASSWORD"`
	RedisDB           int     `env:"REDIS_DB,default=0"`
	EconomyConfigPath string  `env:"ECONOMY_CONFIG"`
	LogLevel          string  `env:"LOG_LEVEL,default=info"`
	LogFormat         string  `env:"LOG_FORMAT,default=text"`
	RateLimitRPS      float64 `env:"RATE_LIMIT_RPS,default=10"`
	RateLimitBurst    int     `env:"RATE_LIMIT_BURST,default=20"`
	TrustForwardedFor bool    `env:"TRUST_FORWARDED_FOR,default=false"`
	SyncSweepSchedule string  `env:"SYNC_SWEEP_SCHEDULE,default=@every 1m"`
}

// LoadServerConfig reads envFile into the environment when it exists and
// then decodes ServerConfig from the environment.
func LoadServerConfig(envFile string) (ServerConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ServerConfig{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg ServerConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return ServerConfig{}, err
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is not set")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is not set")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Port == "" {
		return errors.New("PORT is empty")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
