// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/quote"
	"github.com/stockleague/engine/internal/store"
)

// Config holds all configuration for the service.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Game     GameConfig
	Quotes   QuoteConfig
	Jobs     JobConfig
	LogLevel slog.Level
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds database configuration. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds cache configuration. An empty URL disables caching.
type RedisConfig struct {
	URL string
	TTL time.Duration
}

// AuthConfig holds token settings.
type AuthConfig struct {
	JWTSecret     string
	JWTIssuer     string
	InternalToken string
}

// GameConfig holds gameplay settings.
type GameConfig struct {
	// CurrencyField names a balance column on the host user record. Empty
	// keeps cash on the season account.
	CurrencyField          string
	DefaultStartingBalance decimal.Decimal
	DayBoundary            *time.Location
	Language               string
}

// QuoteConfig holds quote provider settings.
type QuoteConfig struct {
	SourceURL string
	APIKey    string
	MaxPrice  decimal.Decimal
}

// JobConfig holds cron schedules. Setting a schedule to "off" leaves it
// empty, which disables the job.
type JobConfig struct {
	QuoteRefresh       string
	LeaderboardRebuild string
}

// Load reads files (default .env) into the environment, ignoring missing
// files, and builds a Config from it.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. Every invalid value is reported in
// one error naming the offending keys.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	var bad []string

	cfg := &Config{
		Server:   ServerConfig{Port: get("PORT", "8080")},
		Database: DatabaseConfig{URL: get("DATABASE_URL", "")},
		Redis:    RedisConfig{URL: get("REDIS_URL", "")},
		Auth: AuthConfig{
			JWTSecret:     get("JWT_SECRET", ""),
			JWTIssuer:     get("JWT_ISSUER", "host"),
			InternalToken: get("INTERNAL_API_TOKEN", ""),
		},
		Game: GameConfig{
			CurrencyField: get("CURRENCY_FIELD", ""),
			Language:      get("LANGUAGE", "en"),
		},
		Quotes: QuoteConfig{
			SourceURL: get("QUOTE_SOURCE_URL", ""),
			APIKey:    get("QUOTE_API_KEY", ""),
		},
		Jobs: JobConfig{
			QuoteRefresh:       get("QUOTE_REFRESH_SCHEDULE", "*/5 * * * *"),
			LeaderboardRebuild: get("LEADERBOARD_SCHEDULE", "0 * * * *"),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		bad = append(bad, "JWT_SECRET")
	}

	ttl, err := time.ParseDuration(get("CACHE_TTL", "30s"))
	if err != nil || ttl <= 0 {
		bad = append(bad, "CACHE_TTL")
	}
	cfg.Redis.TTL = ttl

	if f := cfg.Game.CurrencyField; f != "" && !store.ValidField(f) {
		bad = append(bad, "CURRENCY_FIELD")
	}

	starting, err := decimal.NewFromString(get("DEFAULT_STARTING_BALANCE", "10000"))
	if err != nil || starting.IsNegative() {
		bad = append(bad, "DEFAULT_STARTING_BALANCE")
	}
	cfg.Game.DefaultStartingBalance = starting

	loc, err := time.LoadLocation(get("DAY_BOUNDARY_TZ", "UTC"))
	if err != nil {
		bad = append(bad, "DAY_BOUNDARY_TZ")
		loc = time.UTC
	}
	cfg.Game.DayBoundary = loc

	maxPrice, err := decimal.NewFromString(get("QUOTE_MAX_PRICE", quote.DefaultMaxPrice.String()))
	if err != nil || !maxPrice.IsPositive() {
		bad = append(bad, "QUOTE_MAX_PRICE")
	}
	cfg.Quotes.MaxPrice = maxPrice

	for key, spec := range map[string]string{
		"QUOTE_REFRESH_SCHEDULE": cfg.Jobs.QuoteRefresh,
		"LEADERBOARD_SCHEDULE":   cfg.Jobs.LeaderboardRebuild,
	} {
		if spec == "off" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			bad = append(bad, key)
		}
	}
	if cfg.Jobs.QuoteRefresh == "off" {
		cfg.Jobs.QuoteRefresh = ""
	}
	if cfg.Jobs.LeaderboardRebuild == "off" {
		cfg.Jobs.LeaderboardRebuild = ""
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		bad = append(bad, "LOG_LEVEL")
	}

	if len(bad) > 0 {
		slices.Sort(bad)
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(bad, ", "))
	}
	return cfg, nil
}
