package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// defaultJWTSecret 仅用于开发环境
const defaultJWTSecret = "your-secret-key-change-in-production"

// Config 应用配置
type Config struct {
	Port      string        `env:"PORT" envDefault:":8080"`
	DBPath    string        `env:"DB_PATH" envDefault:"./data/trips/trips.db"`
	JWTSecret string        `env:"JWT_SECRET" envDefault:"your-secret-key-change-in-production"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
	Env       string        `env:"APP_ENV" envDefault:"development"`
	LogLevel  string        `env:"LOG_LEVEL"`

	// 远端后端，留空时使用进程内实现
	RedisURL    string `env:"REDIS_URL"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"trip"`

	// 路线规划
	DirectionsURL      string        `env:"DIRECTIONS_URL"`
	DirectionsAPIKey   string        `env:"DIRECTIONS_API_KEY"`
	ProximityThreshold float64       `env:"PROXIMITY_THRESHOLD_METERS" envDefault:"500"`
	RouteDebounce      time.Duration `env:"ROUTE_DEBOUNCE" envDefault:"500ms"`
	DirectionsTimeout  time.Duration `env:"DIRECTIONS_TIMEOUT" envDefault:"20s"`
	Timezone           string        `env:"TIMEZONE"`

	RateLimit       int           `env:"RATE_LIMIT" envDefault:"120"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// Load 加载配置
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env parsing cannot
func (c *Config) Validate() error {
	if c.ProximityThreshold <= 0 {
		return fmt.Errorf("PROXIMITY_THRESHOLD_METERS must be positive, got %v", c.ProximityThreshold)
	}
	if c.RouteDebounce <= 0 || c.DirectionsTimeout <= 0 {
		return errors.New("ROUTE_DEBOUNCE and DIRECTIONS_TIMEOUT must be positive")
	}
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT and RATE_LIMIT_WINDOW must be positive")
	}
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		return errors.New("JWT_SECRET must be set in production")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Location 返回用于日期计算的时区，留空时使用本地时区
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
