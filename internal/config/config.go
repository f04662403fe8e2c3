// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/MJE43/dice-duel/internal/games"
)

// Config holds every server setting. Values come from DICE_* variables,
// optionally seeded from .env files.
type Config struct {
	HTTPAddr     string        `env:"DICE_HTTP_ADDR" envDefault:"127.0.0.1:8080"`
	Timeout      time.Duration `env:"DICE_HTTP_TIMEOUT" envDefault:"30s"`
	AllowOrigins []string      `env:"DICE_ALLOW_ORIGINS" envSeparator:","`

	Store      string `env:"DICE_STORE" envDefault:"memory"`
	SQLitePath string `env:"DICE_SQLITE_PATH" envDefault:"dice.db"`

	RedisAddr     string `env:"DICE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"DICE_REDIS_PASSWORD"`
	RedisDB       int    `env:"DICE_REDIS_DB" envDefault:"0"`

	JWTSecret string `env:"DICE_JWT_SECRET"`
	JWTIssuer string `env:"DICE_JWT_ISSUER" envDefault:"dice-duel"`

	AutoSettle       bool   `env:"DICE_AUTO_SETTLE" envDefault:"true"`
	SettlementPolicy string `env:"DICE_SETTLEMENT_POLICY" envDefault:"return_residuals"`
	DenomExponent    int32  `env:"DICE_DENOM_EXPONENT" envDefault:"6"`

	PayoutRetryMax      int           `env:"DICE_PAYOUT_RETRY_MAX" envDefault:"3"`
	PayoutRetryBase     time.Duration `env:"DICE_PAYOUT_RETRY_BASE" envDefault:"200ms"`
	PayoutSweepInterval time.Duration `env:"DICE_PAYOUT_SWEEP_INTERVAL" envDefault:"30s"`

	XPPolicy string            `env:"DICE_XP_POLICY" envDefault:"off"`
	XPTable  map[string]uint64 `env:"DICE_XP_TABLE" envSeparator:"," envKeyValSeparator:"="`
}

// Load reads the given .env files (default ".env"; missing files are not
// an error), then parses and validates the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store {
	case "memory", "redis":
	case "sqlite":
		if strings.TrimSpace(c.SQLitePath) == "" {
			problems = append(problems, "DICE_SQLITE_PATH is required for the sqlite store")
		}
	default:
		problems = append(problems, fmt.Sprintf("DICE_STORE must be memory, sqlite or redis, got %q", c.Store))
	}
	if len(c.JWTSecret) < 32 {
		problems = append(problems, "DICE_JWT_SECRET must be at least 32 bytes")
	}
	if _, err := games.ParsePolicy(c.SettlementPolicy); err != nil {
		problems = append(problems, "DICE_SETTLEMENT_POLICY: "+err.Error())
	}
	if c.DenomExponent < 0 || c.DenomExponent > 18 {
		problems = append(problems, "DICE_DENOM_EXPONENT must be within [0, 18]")
	}
	if c.PayoutRetryMax < 0 {
		problems = append(problems, "DICE_PAYOUT_RETRY_MAX must not be negative")
	}
	if c.PayoutSweepInterval <= 0 {
		problems = append(problems, "DICE_PAYOUT_SWEEP_INTERVAL must be positive")
	}
	switch c.XPPolicy {
	case "off", "tiers":
	default:
		problems = append(problems, fmt.Sprintf("DICE_XP_POLICY must be off or tiers, got %q", c.XPPolicy))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Policy returns the parsed settlement policy.
func (c *Config) Policy() games.SettlementPolicy {
	p, _ := games.ParsePolicy(c.SettlementPolicy)
	return p
}

