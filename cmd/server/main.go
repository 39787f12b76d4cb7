package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/stockleague/engine/internal/app"
	"github.com/stockleague/engine/internal/config"
	"github.com/stockleague/engine/internal/httpserver"
	"github.com/stockleague/engine/internal/metrics"
	"github.com/stockleague/engine/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Services ---
	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		slog.Error("migration failed", "err", err)
		os.Exit(1)
	}
	if a.Pool == nil {
		// The in-memory store starts empty.
		if _, err := a.Seed(ctx); err != nil {
			slog.Error("seed failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Notification hub ---
	go a.Hub.Run(ctx)

	// --- Scheduled jobs ---
	jobs := cron.New()
	if spec := cfg.Jobs.QuoteRefresh; spec != "" {
		jobs.AddFunc(spec, func() {
			if _, err := a.Quotes.UpdateAll(ctx); err != nil {
				slog.Error("scheduled quote refresh failed", "err", err)
			}
		})
	}
	if spec := cfg.Jobs.LeaderboardRebuild; spec != "" {
		jobs.AddFunc(spec, func() {
			season, err := a.Ledger.ActiveSeason(ctx)
			if err != nil {
				slog.Warn("leaderboard rebuild skipped", "err", err)
				return
			}
			n, err := a.Leaderboard.Rebuild(ctx, season.ID)
			if err != nil {
				slog.Error("scheduled leaderboard rebuild failed", "season", season.ID, "err", err)
				return
			}
			a.Hub.Broadcast(notify.KindLeaderboard, map[string]any{"season_id": season.ID, "entries": n})
		})
	}
	jobs.Start()

	// --- HTTP router ---
	svc := a.Service
	verifier := httpserver.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for the host forum's cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"stockleague-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httpserver.WithAuth(verifier))

		// WebSocket endpoint for achievement, rank and trade notifications.
		r.Get("/ws", a.Hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Markets and quotes.
			r.Get("/markets", svc.ListMarkets)
			r.Get("/markets/{marketID}/status", svc.MarketStatus)
			r.Get("/symbols/{symbolID}/quote", svc.GetQuote)

			// Trade execution.
			r.Post("/trade", svc.ExecuteTrade)

			// Player state.
			r.Get("/portfolio", svc.GetPortfolio)
			r.Get("/trades", svc.GetTrades)
			r.Get("/achievements", svc.GetAchievements)
			r.Get("/career", svc.GetCareer)

			// Standings.
			r.Get("/leaderboard", svc.GetLeaderboard)
			r.Get("/leaderboard/career", svc.GetCareerLeaderboard)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(httpserver.InternalAuth(cfg.Auth.InternalToken))
		r.Post("/quotes", svc.PushQuotes)
		r.Post("/leaderboard/rebuild", svc.RebuildLeaderboard)
		r.Post("/achievements/rebuild", svc.RebuildAchievements)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down engine...")
	<-jobs.Stop().Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("engine stopped")
}
