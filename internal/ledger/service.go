// Package ledger owns seasons, accounts and the single revaluation path
// that keeps total_value equal to resolved cash plus marked positions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/currency"
	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
	"github.com/stockleague/engine/internal/xp"
)

// DefaultSeasonName names the season created when none is active.
const DefaultSeasonName = "Season 1"

// Service manages accounts and their valuation.
type Service struct {
	store           store.Store
	currency        currency.Provider
	ranks           *xp.Calculator
	defaultStarting decimal.Decimal
	now             func() time.Time
}

// NewService creates a ledger service. defaultStarting seeds the season
// created by GetOrCreateDefaultSeason.
func NewService(st store.Store, cur currency.Provider, ranks *xp.Calculator, defaultStarting decimal.Decimal) *Service {
	return &Service{
		store:           st,
		currency:        cur,
		ranks:           ranks,
		defaultStarting: defaultStarting,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Currency returns the configured cash provider.
func (s *Service) Currency() currency.Provider { return s.currency }

// --- Seasons ---

// ActiveSeason returns the most recently created active season.
func (s *Service) ActiveSeason(ctx context.Context) (*model.Season, error) {
	return s.store.GetActiveSeason(ctx)
}

// CreateSeason starts a new active season.
func (s *Service) CreateSeason(ctx context.Context, name string, starting decimal.Decimal) (*model.Season, error) {
	if starting.IsNegative() {
		return nil, fmt.Errorf("starting balance %s must not be negative", starting)
	}
	season := &model.Season{
		Name:            name,
		StartAt:         s.now(),
		Active:          true,
		StartingBalance: starting,
	}
	if err := s.store.CreateSeason(ctx, season); err != nil {
		return nil, fmt.Errorf("create season: %w", err)
	}
	slog.Info("season created", "season", season.ID, "name", name, "starting_balance", starting.String())
	return season, nil
}

// GetOrCreateDefaultSeason returns the active season, creating the default
// one when none exists.
func (s *Service) GetOrCreateDefaultSeason(ctx context.Context) (*model.Season, error) {
	season, err := s.store.GetActiveSeason(ctx)
	if err == nil {
		return season, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.CreateSeason(ctx, DefaultSeasonName, s.defaultStarting)
}

// --- Accounts ---

// GetAccount returns the account for (user, season).
func (s *Service) GetAccount(ctx context.Context, userID, seasonID int64) (*model.Account, error) {
	return s.store.GetAccount(ctx, userID, seasonID)
}

// GetOrCreateAccount returns the account for (user, season), opening it
// with the season's starting balance on first use. Opening an account
// counts as participating in the season.
func (s *Service) GetOrCreateAccount(ctx context.Context, userID, seasonID int64) (*model.Account, error) {
	acct, err := s.store.GetAccount(ctx, userID, seasonID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	season, err := s.store.GetSeason(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}

	acct = &model.Account{
		UserID:         userID,
		SeasonID:       seasonID,
		CashBalance:    season.StartingBalance,
		TotalValue:     season.StartingBalance,
		InitialBalance: season.StartingBalance,
		SeasonRank:     s.ranks.Rank(0).Key,
		CreatedAt:      s.now(),
	}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateAccount(ctx, acct); err != nil {
			return err
		}
		if _, err := tx.EnsureCareer(ctx, userID, s.ranks.Rank(0).Key); err != nil {
			return err
		}
		if _, err := tx.IncrementCareer(ctx, userID, store.CareerDelta{Seasons: 1}); err != nil {
			return err
		}
		revalued, err := s.Recalculate(ctx, tx, acct)
		if err != nil {
			return err
		}
		*acct = *revalued
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		// Lost a creation race; the winner's row is authoritative.
		return s.store.GetAccount(ctx, userID, seasonID)
	}
	if err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}

	slog.Info("account opened", "account", acct.ID, "user", userID, "season", seasonID)
	return acct, nil
}

// CountTrade adds one trade to the user's career, creating the career row
// on first use.
func (s *Service) CountTrade(ctx context.Context, st store.Store, userID int64) error {
	if _, err := st.EnsureCareer(ctx, userID, s.ranks.Rank(0).Key); err != nil {
		return fmt.Errorf("ensure career: %w", err)
	}
	if _, err := st.IncrementCareer(ctx, userID, store.CareerDelta{Trades: 1}); err != nil {
		return fmt.Errorf("count trade: %w", err)
	}
	return nil
}

// --- Valuation ---

// RecalculatePortfolioValue revalues acct against current quotes and
// persists the result. Call it after every trade and before showing a
// portfolio, since quotes move independently of trades.
func (s *Service) RecalculatePortfolioValue(ctx context.Context, acct *model.Account) (*model.Account, error) {
	return s.Recalculate(ctx, s.store, acct)
}

// Recalculate is RecalculatePortfolioValue against an explicit Store, for
// use inside a transaction.
//
// portfolio_value is Σ quantity × quote price (0 without a quote) and
// total_value is the provider's cash plus portfolio_value.
func (s *Service) Recalculate(ctx context.Context, st store.Store, acct *model.Account) (*model.Account, error) {
	fresh, err := st.GetAccountByID(ctx, acct.ID)
	if err != nil {
		return nil, err
	}

	positions, err := st.ListPositions(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	portfolio := decimal.Zero
	for _, p := range positions {
		price, err := s.price(ctx, st, p.SymbolID)
		if err != nil {
			return nil, err
		}
		portfolio = portfolio.Add(p.CurrentValue(price))
	}

	cash, err := s.currency.Balance(ctx, st, fresh)
	if err != nil {
		return nil, fmt.Errorf("resolve cash: %w", err)
	}

	// Only the built-in provider mirrors cash into the account row.
	stored := fresh.CashBalance
	if !s.currency.IsExternal() {
		stored = cash
	}
	total := cash.Add(portfolio)
	if err := st.UpdateAccountValuation(ctx, acct.ID, stored, portfolio, total); err != nil {
		return nil, err
	}

	fresh.CashBalance = stored
	fresh.PortfolioValue = portfolio
	fresh.TotalValue = total
	return fresh, nil
}

func (s *Service) price(ctx context.Context, st store.Store, symbolID int64) (decimal.Decimal, error) {
	q, err := st.GetQuote(ctx, symbolID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote for symbol %d: %w", symbolID, err)
	}
	return q.Price, nil
}
