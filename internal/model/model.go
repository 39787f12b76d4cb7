// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal; never float64 for money.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places kept for share prices. Money
// columns store six places, so price × quantity never needs rounding.
const PriceScale = 4

// TradeType is the direction of a trade.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Valid reports whether t is buy or sell.
func (t TradeType) Valid() bool {
	return t == TradeBuy || t == TradeSell
}

// MarketStatus is the trading-hours state of a market at an instant.
type MarketStatus string

const (
	StatusClosed     MarketStatus = "closed"
	StatusPreMarket  MarketStatus = "pre_market"
	StatusOpen       MarketStatus = "open"
	StatusAfterHours MarketStatus = "after_hours"
)

// Market is an exchange with its own timezone and trading hours.
// Times are local "HH:MM" strings; PreMarketOpen and AfterHoursClose are
// empty when extended hours are not configured.
type Market struct {
	ID              int64  `json:"id" db:"id"`
	Code            string `json:"code" db:"code"`
	Name            string `json:"name" db:"name"`
	CountryCode     string `json:"country_code" db:"country_code"`
	Timezone        string `json:"timezone" db:"timezone"`
	OpenTime        string `json:"open_time" db:"open_time"`
	CloseTime       string `json:"close_time" db:"close_time"`
	PreMarketOpen   string `json:"pre_market_open,omitempty" db:"pre_market_open"`
	AfterHoursClose string `json:"after_hours_close,omitempty" db:"after_hours_close"`
	TradingDays     []int  `json:"trading_days" db:"trading_days"` // ISO weekdays, 1=Mon … 7=Sun
	Active          bool   `json:"active" db:"active"`
	DisplayOrder    int    `json:"display_order" db:"display_order"`
}

// Symbol is a tradable ticker listed on exactly one market.
type Symbol struct {
	ID       int64  `json:"id" db:"id"`
	MarketID int64  `json:"market_id" db:"market_id"`
	Ticker   string `json:"ticker" db:"ticker"`
	Name     string `json:"name" db:"name"`
	Active   bool   `json:"active" db:"active"`
	Featured bool   `json:"featured" db:"featured"`
}

// Quote is the latest known price snapshot for a symbol. It is overwritten
// in place by the quote updater and never kept historically.
type Quote struct {
	SymbolID      int64           `json:"symbol_id" db:"symbol_id"`
	Price         decimal.Decimal `json:"price" db:"price"`
	ChangeAmount  decimal.Decimal `json:"change_amount" db:"change_amount"`
	ChangePercent decimal.Decimal `json:"change_percent" db:"change_percent"`
	Volume        int64           `json:"volume" db:"volume"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Season is a bounded competitive period with its own starting balance.
type Season struct {
	ID              int64           `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	StartAt         time.Time       `json:"start_at" db:"start_at"`
	EndAt           *time.Time      `json:"end_at,omitempty" db:"end_at"`
	Active          bool            `json:"active" db:"active"`
	StartingBalance decimal.Decimal `json:"starting_balance" db:"starting_balance"`
}

// Account is a user's cash and position ledger for one season.
// PortfolioValue and TotalValue are cached derived values, refreshed by
// the ledger revaluation path after every mutation.
type Account struct {
	ID             int64           `json:"id" db:"id"`
	UserID         int64           `json:"user_id" db:"user_id"`
	SeasonID       int64           `json:"season_id" db:"season_id"`
	CashBalance    decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	PortfolioValue decimal.Decimal `json:"portfolio_value" db:"portfolio_value"`
	TotalValue     decimal.Decimal `json:"total_value" db:"total_value"`
	InitialBalance decimal.Decimal `json:"initial_balance" db:"initial_balance"`
	SeasonXP       int64           `json:"season_xp" db:"season_xp"`
	SeasonRank     string          `json:"season_rank" db:"season_rank"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ProfitLoss is total value minus the given starting balance.
func (a *Account) ProfitLoss(starting decimal.Decimal) decimal.Decimal {
	return a.TotalValue.Sub(starting)
}

// ReturnPercent is the profit relative to starting, in percent.
// Zero when starting is zero.
func (a *Account) ReturnPercent(starting decimal.Decimal) decimal.Decimal {
	return ReturnPercent(a.TotalValue, starting)
}

// ReturnPercent computes (value - starting) / starting × 100, or zero when
// starting is not positive.
func ReturnPercent(value, starting decimal.Decimal) decimal.Decimal {
	if !starting.IsPositive() {
		return decimal.Zero
	}
	return value.Sub(starting).Div(starting).Mul(decimal.NewFromInt(100))
}

// Position is the aggregated holding of one symbol within one account.
// A position never persists with a non-positive quantity.
type Position struct {
	ID           int64           `json:"id" db:"id"`
	AccountID    int64           `json:"account_id" db:"account_id"`
	SymbolID     int64           `json:"symbol_id" db:"symbol_id"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
	TotalCost    decimal.Decimal `json:"total_cost" db:"total_cost"` // average_price × quantity
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// CurrentValue marks the position to the given price.
func (p *Position) CurrentValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Quantity))
}

// ProfitLoss is the unrealized gain at price.
func (p *Position) ProfitLoss(price decimal.Decimal) decimal.Decimal {
	return p.CurrentValue(price).Sub(p.TotalCost)
}

// ProfitLossPercent is ProfitLoss relative to cost basis, in percent.
func (p *Position) ProfitLossPercent(price decimal.Decimal) decimal.Decimal {
	if p.TotalCost.IsZero() {
		return decimal.Zero
	}
	return p.ProfitLoss(price).Div(p.TotalCost).Mul(decimal.NewFromInt(100))
}

// Trade is an immutable record of an executed buy or sell.
// Once created, these are never modified or deleted.
type Trade struct {
	ID        string          `json:"id" db:"id"`
	AccountID int64           `json:"account_id" db:"account_id"`
	SymbolID  int64           `json:"symbol_id" db:"symbol_id"`
	Type      TradeType       `json:"type" db:"type"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	TotalCost decimal.Decimal `json:"total_cost" db:"total_cost"` // quantity × price
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// UserCareer holds a user's lifetime statistics across seasons.
type UserCareer struct {
	UserID              int64     `json:"user_id" db:"user_id"`
	LifetimeXP          int64     `json:"lifetime_xp" db:"lifetime_xp"`
	CareerRank          string    `json:"career_rank" db:"career_rank"`
	AchievementsEarned  int64     `json:"achievements_earned" db:"achievements_earned"`
	SeasonsParticipated int64     `json:"seasons_participated" db:"seasons_participated"`
	TotalTrades         int64     `json:"total_trades" db:"total_trades"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// Achievement is a catalog rule. Title and description are resolved through
// the localization lookup keyed by Key.
type Achievement struct {
	ID            int64  `json:"id" db:"id"`
	Key           string `json:"key" db:"key"`
	Category      string `json:"category" db:"category"`
	XPPoints      int64  `json:"xp_points" db:"xp_points"`
	Difficulty    string `json:"difficulty" db:"difficulty"`
	Points        int64  `json:"points" db:"points"`
	CreditsReward int64  `json:"credits_reward" db:"credits_reward"`
	TrophyID      *int64 `json:"trophy_id,omitempty" db:"trophy_id"`
	BadgeID       *int64 `json:"badge_id,omitempty" db:"badge_id"`
	Repeatable    bool   `json:"repeatable" db:"repeatable"`
	Active        bool   `json:"active" db:"active"`
	DisplayOrder  int    `json:"display_order" db:"display_order"`
}

// UserAchievement records one award. It is created once and never updated.
type UserAchievement struct {
	ID            string          `json:"id" db:"id"`
	UserID        int64           `json:"user_id" db:"user_id"`
	AchievementID int64           `json:"achievement_id" db:"achievement_id"`
	SeasonID      int64           `json:"season_id" db:"season_id"`
	AccountID     int64           `json:"account_id,omitempty" db:"account_id"` // 0 when not linked
	XPAwarded     int64           `json:"xp_awarded" db:"xp_awarded"`
	Progress      json.RawMessage `json:"progress,omitempty" db:"progress"`
	EarnedAt      time.Time       `json:"earned_at" db:"earned_at"`
}

// LeaderboardEntry is a rebuildable snapshot of one user's season standing.
type LeaderboardEntry struct {
	SeasonID      int64           `json:"season_id" db:"season_id"`
	UserID        int64           `json:"user_id" db:"user_id"`
	AccountID     int64           `json:"account_id" db:"account_id"`
	Rank          int             `json:"rank" db:"rank"`
	TotalValue    decimal.Decimal `json:"total_value" db:"total_value"`
	ReturnPercent decimal.Decimal `json:"return_percent" db:"return_percent"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}
