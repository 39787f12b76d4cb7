// Package leaderboard snapshots season standings and reads career
// standings.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
)

// Builder rebuilds and reads leaderboards.
type Builder struct {
	store store.Store
	now   func() time.Time
}

// NewBuilder creates a leaderboard builder.
func NewBuilder(st store.Store) *Builder {
	return &Builder{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Rebuild replaces the season's snapshot with the current accounts ranked
// by total value, and returns the number of entries written. It is a full
// replace and safe to repeat.
func (b *Builder) Rebuild(ctx context.Context, seasonID int64) (int, error) {
	season, err := b.store.GetSeason(ctx, seasonID)
	if err != nil {
		return 0, fmt.Errorf("rebuild leaderboard: %w", err)
	}
	accounts, err := b.store.ListAccountsBySeason(ctx, seasonID)
	if err != nil {
		return 0, fmt.Errorf("rebuild leaderboard: list accounts: %w", err)
	}

	now := b.now()
	entries := make([]model.LeaderboardEntry, len(accounts))
	for i, a := range accounts {
		entries[i] = model.LeaderboardEntry{
			SeasonID:      seasonID,
			UserID:        a.UserID,
			AccountID:     a.ID,
			Rank:          i + 1,
			TotalValue:    a.TotalValue,
			ReturnPercent: model.ReturnPercent(a.TotalValue, season.StartingBalance),
			UpdatedAt:     now,
		}
	}
	if err := b.store.ReplaceLeaderboard(ctx, seasonID, entries); err != nil {
		return 0, fmt.Errorf("rebuild leaderboard: %w", err)
	}
	slog.Info("leaderboard rebuilt", "season", seasonID, "entries", len(entries))
	return len(entries), nil
}

// Standings returns the season snapshot by rank. A limit of zero returns
// every entry.
func (b *Builder) Standings(ctx context.Context, seasonID int64, limit int) ([]model.LeaderboardEntry, error) {
	return b.store.ListLeaderboard(ctx, seasonID, limit)
}

// UserEntry returns one user's snapshot row, or store.ErrNotFound.
func (b *Builder) UserEntry(ctx context.Context, seasonID, userID int64) (*model.LeaderboardEntry, error) {
	return b.store.GetLeaderboardEntry(ctx, seasonID, userID)
}

// CareerStandings returns careers by lifetime XP.
func (b *Builder) CareerStandings(ctx context.Context, limit int) ([]model.UserCareer, error) {
	return b.store.ListTopCareers(ctx, limit)
}

// CareerPosition is 1 plus the number of careers with more lifetime XP.
func (b *Builder) CareerPosition(ctx context.Context, userID int64) (int64, error) {
	career, err := b.store.GetCareer(ctx, userID)
	if err != nil {
		return 0, err
	}
	above, err := b.store.CountCareersAbove(ctx, career.LifetimeXP)
	if err != nil {
		return 0, err
	}
	return above + 1, nil
}
