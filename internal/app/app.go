// Package app assembles the engine's services from configuration. Both the
// HTTP server and smctl build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stockleague/engine/internal/achievement"
	"github.com/stockleague/engine/internal/config"
	"github.com/stockleague/engine/internal/currency"
	"github.com/stockleague/engine/internal/i18n"
	"github.com/stockleague/engine/internal/leaderboard"
	"github.com/stockleague/engine/internal/ledger"
	"github.com/stockleague/engine/internal/notify"
	"github.com/stockleague/engine/internal/quote"
	"github.com/stockleague/engine/internal/store"
	"github.com/stockleague/engine/internal/trade"
	"github.com/stockleague/engine/internal/xp"
)

// App holds the wired services.
type App struct {
	Config       *config.Config
	Store        store.Store
	Pool         *pgxpool.Pool // nil for the in-memory store
	Hub          *notify.Hub
	Ranks        *xp.Calculator
	Ledger       *ledger.Service
	Achievements *achievement.Engine
	Leaderboard  *leaderboard.Builder
	Quotes       *quote.Updater
	Executor     *trade.Executor
	Service      *trade.Service

	cleanup []func()
}

// New opens storage and builds every service. Close releases connections.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Hub: notify.NewHub(), Ranks: xp.Default()}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	cur, err := currency.New(cfg.Game.CurrencyField)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = ledger.NewService(a.Store, cur, a.Ranks, cfg.Game.DefaultStartingBalance)

	var hooks achievement.Hooks
	if cur.IsExternal() {
		hooks.Credits = achievement.StoreCredits{Store: a.Store, Field: cfg.Game.CurrencyField}
	}
	a.Achievements = achievement.NewEngine(a.Store, a.Ranks, a.Hub, hooks)
	a.Achievements.SetDayBoundary(cfg.Game.DayBoundary)
	a.Achievements.SetPhrases(i18n.New(cfg.Game.Language))

	a.Leaderboard = leaderboard.NewBuilder(a.Store)

	var src quote.Source
	if cfg.Quotes.SourceURL != "" {
		src = quote.NewHTTPSource(cfg.Quotes.SourceURL, cfg.Quotes.APIKey)
	}
	a.Quotes = quote.NewUpdater(a.Store, src, cfg.Quotes.MaxPrice, a.Hub)

	a.Executor = trade.NewExecutor(a.Store, a.Ledger, a.Achievements, a.Hub)
	a.Service = trade.NewService(trade.Deps{
		Store:        a.Store,
		Ledger:       a.Ledger,
		Executor:     a.Executor,
		Achievements: a.Achievements,
		Leaderboard:  a.Leaderboard,
		Quotes:       a.Quotes,
		Ranks:        a.Ranks,
		Broadcaster:  a.Hub,
	})

	slog.Info("engine assembled", "currency_external", cur.IsExternal(), "quote_source", src != nil)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	if cfg.Database.URL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		a.Store = store.NewMemoryStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.cleanup = append(a.cleanup, pool.Close)
	a.Pool = pool
	a.Store = store.NewPostgresStore(pool)
	slog.Info("connected to PostgreSQL")

	if cfg.Redis.URL == "" {
		return nil
	}
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	a.cleanup = append(a.cleanup, func() { rdb.Close() })
	a.Store = store.NewCachedStore(a.Store, rdb, cfg.Redis.TTL)
	slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL)
	return nil
}

// Migrate applies the schema. It is a no-op for the in-memory store.
func (a *App) Migrate(ctx context.Context) error {
	if a.Pool == nil {
		return nil
	}
	return store.Migrate(ctx, a.Pool)
}

// Close releases storage connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
