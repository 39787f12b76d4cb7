// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint would be violated.
	ErrConflict = errors.New("conflict")
)

// TradeFilter narrows CountTrades. Zero values match everything.
type TradeFilter struct {
	Type  model.TradeType
	Since time.Time
}

// CareerDelta is an additive change to a user's career counters.
type CareerDelta struct {
	XP           int64
	Achievements int64
	Seasons      int64
	Trades       int64
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Markets and symbols ---

	// CreateMarket persists a new market and assigns its ID.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id int64) (*model.Market, error)

	// ListMarkets returns all markets ordered by display order.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// CreateSymbol persists a new symbol. (market, ticker) must be unique.
	CreateSymbol(ctx context.Context, sym *model.Symbol) error

	// GetSymbol retrieves a symbol by its ID.
	GetSymbol(ctx context.Context, id int64) (*model.Symbol, error)

	// GetSymbolByTicker retrieves a symbol by market and ticker.
	GetSymbolByTicker(ctx context.Context, marketID int64, ticker string) (*model.Symbol, error)

	// ListActiveSymbols returns every active symbol ordered by ID.
	ListActiveSymbols(ctx context.Context) ([]model.Symbol, error)

	// --- Quotes ---

	// GetQuote returns the latest quote for a symbol, or ErrNotFound.
	GetQuote(ctx context.Context, symbolID int64) (*model.Quote, error)

	// UpsertQuote overwrites the quote for q.SymbolID.
	UpsertQuote(ctx context.Context, q *model.Quote) error

	// --- Seasons ---

	CreateSeason(ctx context.Context, season *model.Season) error
	GetSeason(ctx context.Context, id int64) (*model.Season, error)

	// GetActiveSeason returns the active season with the highest ID.
	GetActiveSeason(ctx context.Context) (*model.Season, error)

	// --- External balances (host user record) ---

	// GetUserBalance reads the named balance field on the user record.
	GetUserBalance(ctx context.Context, userID int64, field string) (decimal.Decimal, error)

	// SetUserBalance overwrites the named balance field. Used for seeding.
	SetUserBalance(ctx context.Context, userID int64, field string, amount decimal.Decimal) error

	// AdjustUserBalance applies field += delta only if the result stays
	// non-negative. It reports whether a row was changed.
	AdjustUserBalance(ctx context.Context, userID int64, field string, delta decimal.Decimal) (bool, error)

	// --- Accounts ---

	// CreateAccount persists a new account. (user, season) must be unique.
	CreateAccount(ctx context.Context, acct *model.Account) error
	GetAccount(ctx context.Context, userID, seasonID int64) (*model.Account, error)
	GetAccountByID(ctx context.Context, id int64) (*model.Account, error)

	// ListAccountsBySeason returns a season's accounts by total value
	// descending, ties broken by account ID.
	ListAccountsBySeason(ctx context.Context, seasonID int64) ([]model.Account, error)

	// ListAccountIDsWithTrades returns accounts that have at least one trade.
	ListAccountIDsWithTrades(ctx context.Context) ([]int64, error)

	// AdjustCashBalance applies cash_balance += delta only if the result
	// stays non-negative. It reports whether a row was changed.
	AdjustCashBalance(ctx context.Context, accountID int64, delta decimal.Decimal) (bool, error)

	// UpdateAccountValuation stores the cached valuation fields.
	UpdateAccountValuation(ctx context.Context, accountID int64, cash, portfolio, total decimal.Decimal) error

	// AddAccountXP increments season XP and returns the new total.
	AddAccountXP(ctx context.Context, accountID, delta int64) (int64, error)
	SetAccountRank(ctx context.Context, accountID int64, rank string) error

	// --- Positions ---

	GetPosition(ctx context.Context, accountID, symbolID int64) (*model.Position, error)
	ListPositions(ctx context.Context, accountID int64) ([]model.Position, error)

	// SavePosition inserts or updates the position for (account, symbol).
	SavePosition(ctx context.Context, p *model.Position) error
	DeletePosition(ctx context.Context, accountID, symbolID int64) error

	// --- Immutable trade history ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTrades returns an account's most recent trades, newest first.
	// A limit of zero returns all of them.
	ListTrades(ctx context.Context, accountID int64, limit int) ([]model.Trade, error)
	CountTrades(ctx context.Context, accountID int64, f TradeFilter) (int64, error)

	// CountTradedMarkets counts distinct markets the account has traded in.
	CountTradedMarkets(ctx context.Context, accountID int64) (int64, error)

	// --- Careers ---

	GetCareer(ctx context.Context, userID int64) (*model.UserCareer, error)

	// EnsureCareer creates the career row if missing and reports whether
	// it was created.
	EnsureCareer(ctx context.Context, userID int64, rank string) (bool, error)

	// IncrementCareer applies d additively and returns the updated row.
	IncrementCareer(ctx context.Context, userID int64, d CareerDelta) (*model.UserCareer, error)
	SetCareerRank(ctx context.Context, userID int64, rank string) error
	ListTopCareers(ctx context.Context, limit int) ([]model.UserCareer, error)

	// CountCareersAbove counts careers with strictly more lifetime XP.
	CountCareersAbove(ctx context.Context, xp int64) (int64, error)

	// --- Achievements ---

	// SaveAchievement inserts or updates a catalog entry keyed by Key.
	SaveAchievement(ctx context.Context, a *model.Achievement) error
	GetAchievementByKey(ctx context.Context, key string) (*model.Achievement, error)
	ListActiveAchievements(ctx context.Context) ([]model.Achievement, error)

	// InsertUserAchievement records an award. Unless repeatable, a prior
	// record for (user, achievement, season) blocks the insert and the
	// call returns false with no error.
	InsertUserAchievement(ctx context.Context, ua *model.UserAchievement, repeatable bool) (bool, error)
	ListUserAchievements(ctx context.Context, userID, seasonID int64) ([]model.UserAchievement, error)

	// --- Leaderboard snapshots ---

	// ReplaceLeaderboard deletes a season's entries and writes entries.
	ReplaceLeaderboard(ctx context.Context, seasonID int64, entries []model.LeaderboardEntry) error

	// ListLeaderboard returns entries by rank. A limit of zero returns all.
	ListLeaderboard(ctx context.Context, seasonID int64, limit int) ([]model.LeaderboardEntry, error)
	GetLeaderboardEntry(ctx context.Context, seasonID, userID int64) (*model.LeaderboardEntry, error)

	// WithTx runs fn against a Store bound to one transaction. The
	// transaction commits if fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Store) error) error
}
