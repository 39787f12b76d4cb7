// Command smctl runs operator tasks against the engine's storage: schema
// migration, seeding, quote refresh and rebuilds.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"

	"github.com/stockleague/engine/internal/app"
	"github.com/stockleague/engine/internal/config"
)

var envFile = flag.String("env", ".env", "dotenv file to load before reading the environment")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&migrateCmd{}, "storage")
	commander.Register(&seedCmd{}, "storage")
	commander.Register(&marketStatusCmd{}, "markets")
	commander.Register(&updateQuotesCmd{}, "markets")
	commander.Register(&rebuildLeaderboardCmd{}, "rebuild")
	commander.Register(&rebuildAchievementsCmd{}, "rebuild")
	commander.Register(&issueTokenCmd{}, "auth")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := commander.Execute(ctx)
	stop()
	os.Exit(int(code))
}

// withApp loads configuration, assembles the services and runs fn.
func withApp(ctx context.Context, fn func(*app.App) error) subcommands.ExitStatus {
	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	a, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if err := fn(a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
