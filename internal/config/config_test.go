package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MJE43/dice-duel/internal/games"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DICE_JWT_SECRET", secret)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != "memory" || cfg.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("defaults = %+v", cfg)
	}
	if !cfg.AutoSettle || cfg.Policy() != games.ReturnResiduals {
		t.Errorf("settlement defaults: auto=%v policy=%s", cfg.AutoSettle, cfg.Policy())
	}
	if cfg.PayoutSweepInterval != 30*time.Second {
		t.Errorf("sweep interval = %s", cfg.PayoutSweepInterval)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := strings.Join([]string{
		"DICE_JWT_SECRET=" + secret,
		"DICE_STORE=sqlite",
		"DICE_SQLITE_PATH=/tmp/dice-test.db",
		"DICE_SETTLEMENT_POLICY=winner_takes_all",
		"DICE_XP_POLICY=tiers",
		"DICE_XP_TABLE=nft-1=12,nft-2=50",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override existing variables, so clear them first
	for _, k := range []string{"DICE_JWT_SECRET", "DICE_STORE", "DICE_SQLITE_PATH", "DICE_SETTLEMENT_POLICY", "DICE_XP_POLICY", "DICE_XP_TABLE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != "sqlite" || cfg.Policy() != games.WinnerTakesAll {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.XPTable["nft-1"] != 12 || cfg.XPTable["nft-2"] != 50 {
		t.Errorf("xp table = %v", cfg.XPTable)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Store:               "memory",
		JWTSecret:           secret,
		SettlementPolicy:    "return_residuals",
		DenomExponent:       6,
		PayoutSweepInterval: time.Second,
		XPPolicy:            "off",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := map[string]func(c *Config){
		"store":    func(c *Config) { c.Store = "postgres" },
		"secret":   func(c *Config) { c.JWTSecret = "short" },
		"policy":   func(c *Config) { c.SettlementPolicy = "house" },
		"exponent": func(c *Config) { c.DenomExponent = 40 },
		"sweep":    func(c *Config) { c.PayoutSweepInterval = 0 },
		"xp":       func(c *Config) { c.XPPolicy = "always" },
		"sqlite":   func(c *Config) { c.Store, c.SQLitePath = "sqlite", "" },
	}
	for name, mutate := range tests {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
