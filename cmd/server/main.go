// Command server runs the dice duel HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/MJE43/dice-duel/internal/api"
	"github.com/MJE43/dice-duel/internal/auth"
	"github.com/MJE43/dice-duel/internal/bank"
	"github.com/MJE43/dice-duel/internal/config"
	"github.com/MJE43/dice-duel/internal/events"
	"github.com/MJE43/dice-duel/internal/games"
	"github.com/MJE43/dice-duel/internal/store"
	"github.com/MJE43/dice-duel/internal/table"
)

const sweepBatch = 100

func main() {
	if err := run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run() error {
	log.Printf("Starting dice duel server %s (Go %s)...", api.EngineVersion, runtime.Version())

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gameStore, ledger, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}

	dispatcher := bank.NewDispatcher(bank.NewMemoryBank(), ledger, bank.Config{
		MaxRetries:     cfg.PayoutRetryMax,
		BaseRetryDelay: cfg.PayoutRetryBase,
	})
	hub := events.NewHub(64)

	var eligibility games.Eligibility = games.AllowAll{}
	if cfg.XPPolicy == "tiers" {
		eligibility = games.XPTiers{Source: games.NewStaticXP(cfg.XPTable)}
	}

	svc := table.New(gameStore, ledger, dispatcher, hub, table.Options{
		Policy:      cfg.Policy(),
		AutoSettle:  cfg.AutoSettle,
		Eligibility: eligibility,
	})

	server := api.NewServer(svc, api.Options{
		Verifier:      verifier,
		Hub:           hub,
		AllowOrigins:  cfg.AllowOrigins,
		Timeout:       cfg.Timeout,
		DenomExponent: cfg.DenomExponent,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	started := time.Now()
	server.SecurityLogger().LogSystemStartup(cfg.HTTPAddr, map[string]interface{}{
		"store":             cfg.Store,
		"auto_settle":       cfg.AutoSettle,
		"settlement_policy": cfg.Policy().String(),
		"xp_policy":         cfg.XPPolicy,
		"denom_exponent":    cfg.DenomExponent,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	go sweepPayouts(ctx, svc, cfg.PayoutSweepInterval)

	reason := "signal"
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			reason = "serve_error"
			log.Printf("http server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	server.SecurityLogger().LogSystemShutdown(reason, time.Since(started))
	return nil
}

// openStores builds the game store and payout ledger selected by cfg. The
// Redis store keeps only games and relays its settlements to a SQLite ledger.
func openStores(ctx context.Context, cfg *config.Config) (store.GameStore, store.PayoutStore, func(), error) {
	switch cfg.Store {
	case "sqlite":
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, func() { s.Close() }, nil
	case "redis":
		ledger, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		rs, err := store.OpenRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, ledger)
		if err != nil {
			ledger.Close()
			return nil, nil, nil, err
		}
		return rs, ledger, func() {
			rs.Close()
			ledger.Close()
		}, nil
	default:
		m := store.NewMemoryStore()
		return m, m, func() { m.Close() }, nil
	}
}

// sweepPayouts retries undelivered payouts until ctx is done.
func sweepPayouts(ctx context.Context, svc *table.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.RetryPayouts(ctx, sweepBatch); err != nil {
				log.Printf("payout sweep: %v", err)
			}
		}
	}
}
