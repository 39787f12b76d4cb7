package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/stockleague/engine/internal/app"
	"github.com/stockleague/engine/internal/calendar"
	"github.com/stockleague/engine/internal/config"
	"github.com/stockleague/engine/internal/httpserver"
)

// --- migrateCmd ---

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply the database schema" }
func (*migrateCmd) Usage() string {
	return `smctl migrate

  Applies the embedded schema to DATABASE_URL. Every statement is
  idempotent, so running it twice is harmless.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		if a.Pool == nil {
			return errors.New("migrate needs DATABASE_URL")
		}
		if err := a.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("schema up to date")
		return nil
	})
}

// --- seedCmd ---

type seedCmd struct{}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "create default markets, symbols, achievements and season" }
func (*seedCmd) Usage() string {
	return `smctl seed

  Inserts the default NYSE, TSE and LSE listings, the achievement catalog
  and "Season 1" when no season is active. Existing rows are kept.
`
}
func (*seedCmd) SetFlags(*flag.FlagSet) {}

func (*seedCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		res, err := a.Seed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("markets +%d, symbols +%d, achievements %d\n", res.Markets, res.Symbols, res.Achievements)
		return nil
	})
}

// --- marketStatusCmd ---

type marketStatusCmd struct {
	at string
}

func (*marketStatusCmd) Name() string     { return "market-status" }
func (*marketStatusCmd) Synopsis() string { return "show every market's trading state" }
func (*marketStatusCmd) Usage() string {
	return `smctl market-status [-at <RFC3339 time>]

  Prints status, local time and the countdown to the next open or close.
`
}

func (c *marketStatusCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.at, "at", "", "Evaluate at this instant instead of now.")
}

func (c *marketStatusCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	now := time.Now()
	if c.at != "" {
		t, err := time.Parse(time.RFC3339, c.at)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing -at: %v\n", err)
			return subcommands.ExitUsageError
		}
		now = t
	}
	return withApp(ctx, func(a *app.App) error {
		markets, err := a.Store.ListMarkets(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tSTATUS\tLOCAL\tNEXT")
		for i := range markets {
			m := &markets[i]
			snap := calendar.Describe(m, now)
			next := "-"
			switch {
			case snap.ClosesIn != nil:
				next = "closes in " + calendar.FormatDuration(*snap.ClosesIn)
			case snap.OpensIn != nil:
				next = "opens in " + calendar.FormatDuration(*snap.OpensIn)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Code, snap.Status, snap.LocalTime, next)
		}
		return w.Flush()
	})
}

// --- updateQuotesCmd ---

type updateQuotesCmd struct{}

func (*updateQuotesCmd) Name() string     { return "update-quotes" }
func (*updateQuotesCmd) Synopsis() string { return "refresh quotes for every active symbol" }
func (*updateQuotesCmd) Usage() string {
	return `smctl update-quotes

  Fetches quotes from QUOTE_SOURCE_URL in batches and stores them.
`
}
func (*updateQuotesCmd) SetFlags(*flag.FlagSet) {}

func (*updateQuotesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		stats, err := a.Quotes.UpdateAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d symbols: %d updated, %d failed\n", stats.Total, stats.Updated, stats.Failed)
		return nil
	})
}

// --- rebuildLeaderboardCmd ---

type rebuildLeaderboardCmd struct {
	season int64
}

func (*rebuildLeaderboardCmd) Name() string     { return "rebuild-leaderboard" }
func (*rebuildLeaderboardCmd) Synopsis() string { return "recompute a season's leaderboard snapshot" }
func (*rebuildLeaderboardCmd) Usage() string {
	return `smctl rebuild-leaderboard [-season <id>]
`
}

func (c *rebuildLeaderboardCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.season, "season", 0, "Season ID (defaults to the active season).")
}

func (c *rebuildLeaderboardCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		seasonID := c.season
		if seasonID == 0 {
			season, err := a.Ledger.ActiveSeason(ctx)
			if err != nil {
				return fmt.Errorf("active season: %w", err)
			}
			seasonID = season.ID
		}
		n, err := a.Leaderboard.Rebuild(ctx, seasonID)
		if err != nil {
			return err
		}
		fmt.Printf("season %d: %d entries\n", seasonID, n)
		return nil
	})
}

// --- rebuildAchievementsCmd ---

type rebuildAchievementsCmd struct{}

func (*rebuildAchievementsCmd) Name() string     { return "rebuild-achievements" }
func (*rebuildAchievementsCmd) Synopsis() string { return "re-evaluate achievements for every trading account" }
func (*rebuildAchievementsCmd) Usage() string {
	return `smctl rebuild-achievements

  Awards anything an account qualifies for but has not earned yet.
`
}
func (*rebuildAchievementsCmd) SetFlags(*flag.FlagSet) {}

func (*rebuildAchievementsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		n, err := a.Achievements.Rebuild(ctx)
		fmt.Printf("%d accounts processed\n", n)
		return err
	})
}

// --- issueTokenCmd ---

type issueTokenCmd struct {
	user int64
	ttl  time.Duration
}

func (*issueTokenCmd) Name() string     { return "issue-token" }
func (*issueTokenCmd) Synopsis() string { return "sign a player token for local testing" }
func (*issueTokenCmd) Usage() string {
	return `smctl issue-token -user <id> [-ttl 1h]
`
}

func (c *issueTokenCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.user, "user", 0, "Host user ID to put in the subject.")
	f.DurationVar(&c.ttl, "ttl", time.Hour, "Token lifetime.")
}

func (c *issueTokenCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user <= 0 {
		fmt.Fprintln(os.Stderr, "-user is required")
		return subcommands.ExitUsageError
	}
	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	token, err := httpserver.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer).Issue(c.user, c.ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Println(token)
	return subcommands.ExitSuccess
}
