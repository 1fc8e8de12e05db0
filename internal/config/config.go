// Package config holds the environment-driven server configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Broadcast and presence backends.
const (
	BackendRedis = "redis"
	BackendLocal = "local"
	BackendDB    = "db"
)

// LoadDotEnv loads .env files into the environment, warning when none could
// be read. Variables already set are not overridden.
func LoadDotEnv(files ...string) bool {
	if err := godotenv.Load(files...); err != nil {
		logrus.WithError(err).Warn("no .env file loaded")
		return false
	}
	return true
}

// Config is parsed from the environment. Call LoadDotEnv before Load
// to pick up a local .env file.
type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseDSN   string `env:"DATABASE_DSN" envDefault:"host=localhost user=user password=password dbname=socialchat port=5432 sslmode=disable"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	JWTSecret     string `env:"JWT_SECRET,required,notEmpty"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Chat Chat `envPrefix:"CHAT_"`
}

// Chat groups the chat core settings.
type Chat struct {
	PageSize     int    `env:"PAGE_SIZE" envDefault:"10"`
	SendBuffer   int    `env:"SEND_BUFFER" envDefault:"256"`
	DefaultImage string `env:"DEFAULT_IMAGE" envDefault:"/static/images/default_room.png"`
	Broadcast    string `env:"BROADCAST" envDefault:"redis"`
	Presence     string `env:"PRESENCE" envDefault:"db"`
	TimeZone     string `env:"TIMEZONE" envDefault:"UTC"`
}

// Load parses and validates the configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	if c.Chat.PageSize <= 0 {
		return fmt.Errorf("CHAT_PAGE_SIZE must be positive, got %d", c.Chat.PageSize)
	}
	if c.Chat.SendBuffer <= 0 {
		return fmt.Errorf("CHAT_SEND_BUFFER must be positive, got %d", c.Chat.SendBuffer)
	}
	switch c.Chat.Broadcast {
	case BackendRedis, BackendLocal:
	default:
		return fmt.Errorf("CHAT_BROADCAST must be %q or %q, got %q", BackendRedis, BackendLocal, c.Chat.Broadcast)
	}
	switch c.Chat.Presence {
	case BackendDB, BackendRedis:
	default:
		return fmt.Errorf("CHAT_PRESENCE must be %q or %q, got %q", BackendDB, BackendRedis, c.Chat.Presence)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Location resolves the zone used for "today at" timestamps.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Chat.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("CHAT_TIMEZONE: %w", err)
	}
	return loc, nil
}

// ConfigureLogging applies LOG_LEVEL to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})
}
