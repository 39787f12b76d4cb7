package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockleague/engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: quotes, the active season and leaderboard
// snapshots. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Everything else passes
// through, including transactions.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertQuote(ctx context.Context, q *model.Quote) error {
	if err := s.Store.UpsertQuote(ctx, q); err != nil {
		return err
	}
	// Re-read on next access so the cache holds the stored scale.
	s.rdb.Del(ctx, quoteKey(q.SymbolID))
	return nil
}

func (s *CachedStore) CreateSeason(ctx context.Context, season *model.Season) error {
	if err := s.Store.CreateSeason(ctx, season); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, activeSeasonKey)
	return nil
}

func (s *CachedStore) ReplaceLeaderboard(ctx context.Context, seasonID int64, entries []model.LeaderboardEntry) error {
	if err := s.Store.ReplaceLeaderboard(ctx, seasonID, entries); err != nil {
		return err
	}
	s.rdb.Del(ctx, leaderboardKey(seasonID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetQuote(ctx context.Context, symbolID int64) (*model.Quote, error) {
	var q model.Quote
	if s.get(ctx, quoteKey(symbolID), &q) {
		return &q, nil
	}

	// Cache miss: read from primary.
	quote, err := s.Store.GetQuote(ctx, symbolID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, quoteKey(symbolID), quote)
	return quote, nil
}

func (s *CachedStore) GetActiveSeason(ctx context.Context) (*model.Season, error) {
	var season model.Season
	if s.get(ctx, activeSeasonKey, &season) {
		return &season, nil
	}

	active, err := s.Store.GetActiveSeason(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, activeSeasonKey, active)
	return active, nil
}

// ListLeaderboard caches the whole snapshot and applies limit locally.
func (s *CachedStore) ListLeaderboard(ctx context.Context, seasonID int64, limit int) ([]model.LeaderboardEntry, error) {
	var entries []model.LeaderboardEntry
	if !s.get(ctx, leaderboardKey(seasonID), &entries) {
		var err error
		entries, err = s.Store.ListLeaderboard(ctx, seasonID, 0)
		if err != nil {
			return nil, err
		}
		s.set(ctx, leaderboardKey(seasonID), entries)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const activeSeasonKey = "season:active"

func quoteKey(symbolID int64) string       { return fmt.Sprintf("quote:%d", symbolID) }
func leaderboardKey(seasonID int64) string { return fmt.Sprintf("leaderboard:%d", seasonID) }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*memState)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
