// Package trade executes buy and sell orders against the ledger and serves
// the player-facing HTTP API.
//
// All monetary values use shopspring/decimal; never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/achievement"
	"github.com/stockleague/engine/internal/calendar"
	"github.com/stockleague/engine/internal/currency"
	"github.com/stockleague/engine/internal/ledger"
	"github.com/stockleague/engine/internal/metrics"
	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/notify"
	"github.com/stockleague/engine/internal/store"
)

var (
	// ErrValidation covers malformed orders and unknown symbols or accounts.
	ErrValidation = errors.New("invalid trade")
	// ErrMarketClosed means the symbol's market is not in regular hours.
	ErrMarketClosed = errors.New("market is closed")
	// ErrInsufficientShares means a sale exceeds the held quantity.
	ErrInsufficientShares = errors.New("insufficient shares")
)

// AchievementChecker evaluates achievements after a trade commits.
type AchievementChecker interface {
	CheckAchievements(ctx context.Context, acct *model.Account, c achievement.Context, data achievement.Data) ([]string, error)
}

// Notifier receives per-user trade events.
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind string, payload any)
}

// Executor runs each order as one atomic unit: cash adjustment, position
// upsert, trade record, career count and revaluation commit together or
// not at all. Achievement checks run after commit and never undo a trade.
type Executor struct {
	store        store.Store
	ledger       *ledger.Service
	currency     currency.Provider
	achievements AchievementChecker
	notifier     Notifier
	now          func() time.Time
}

// NewExecutor creates a trade executor. achievements and notifier may be nil.
func NewExecutor(st store.Store, led *ledger.Service, achievements AchievementChecker, notifier Notifier) *Executor {
	return &Executor{
		store:        st,
		ledger:       led,
		currency:     led.Currency(),
		achievements: achievements,
		notifier:     notifier,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Buy purchases qty shares of symbolID at price for acct. The price is
// rounded to model.PriceScale places before anything else. On success acct
// is updated in place with the revalued account.
func (e *Executor) Buy(ctx context.Context, acct *model.Account, symbolID, qty int64, price decimal.Decimal) (*model.Trade, error) {
	return e.execute(ctx, acct, symbolID, model.TradeBuy, qty, price)
}

// Sell sells qty shares of symbolID at price for acct.
func (e *Executor) Sell(ctx context.Context, acct *model.Account, symbolID, qty int64, price decimal.Decimal) (*model.Trade, error) {
	return e.execute(ctx, acct, symbolID, model.TradeSell, qty, price)
}

func (e *Executor) execute(ctx context.Context, acct *model.Account, symbolID int64, typ model.TradeType, qty int64, price decimal.Decimal) (*model.Trade, error) {
	start := time.Now()
	now := e.now()
	price = price.Round(model.PriceScale)

	if err := e.precheck(ctx, acct, symbolID, typ, qty, price, now); err != nil {
		metrics.TradeRejections.WithLabelValues(reason(err)).Inc()
		return nil, err
	}

	total := price.Mul(decimal.NewFromInt(qty))
	delta := total.Neg()
	if typ == model.TradeSell {
		delta = total
	}

	t := &model.Trade{
		ID:        uuid.New().String(),
		AccountID: acct.ID,
		SymbolID:  symbolID,
		Type:      typ,
		Quantity:  qty,
		Price:     price,
		TotalCost: total,
		CreatedAt: now,
	}

	var revalued *model.Account
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		memo := fmt.Sprintf("%s %d of symbol %d", typ, qty, symbolID)
		if err := e.currency.Adjust(ctx, tx, acct, delta, memo); err != nil {
			return err
		}
		if err := e.applyPosition(ctx, tx, acct.ID, symbolID, typ, qty, price, now); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, t); err != nil {
			return fmt.Errorf("record trade: %w", err)
		}
		if err := e.ledger.CountTrade(ctx, tx, acct.UserID); err != nil {
			return err
		}
		var err error
		revalued, err = e.ledger.Recalculate(ctx, tx, acct)
		return err
	})
	if err != nil {
		if errors.Is(err, currency.ErrLedgerConsistency) {
			metrics.LedgerConsistencyFailures.Inc()
		}
		metrics.TradeRejections.WithLabelValues(reason(err)).Inc()
		return nil, err
	}
	*acct = *revalued

	metrics.TradesTotal.WithLabelValues(string(typ)).Inc()
	metrics.TradeLatency.WithLabelValues(string(typ)).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", t.ID,
		"account", acct.ID,
		"user", acct.UserID,
		"symbol", symbolID,
		"type", typ,
		"qty", qty,
		"price", price.String(),
		"total", total.String(),
		"total_value", acct.TotalValue.String(),
	)

	if e.notifier != nil {
		e.notifier.Notify(ctx, acct.UserID, notify.KindTradeExecuted, t)
	}
	e.checkAchievements(ctx, acct, typ)
	return t, nil
}

// precheck rejects an order before anything is mutated.
func (e *Executor) precheck(ctx context.Context, acct *model.Account, symbolID int64, typ model.TradeType, qty int64, price decimal.Decimal, now time.Time) error {
	switch {
	case acct == nil || acct.ID == 0:
		return fmt.Errorf("%w: unknown account", ErrValidation)
	case !typ.Valid():
		return fmt.Errorf("%w: type must be buy or sell", ErrValidation)
	case qty <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	case !price.IsPositive():
		return fmt.Errorf("%w: no price available", ErrValidation)
	}

	sym, err := e.store.GetSymbol(ctx, symbolID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !sym.Active) {
		return fmt.Errorf("%w: unknown symbol %d", ErrValidation, symbolID)
	}
	if err != nil {
		return err
	}
	market, err := e.store.GetMarket(ctx, sym.MarketID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: symbol %d has no market", ErrValidation, symbolID)
	}
	if err != nil {
		return err
	}
	if !calendar.IsOpen(market, now) {
		return fmt.Errorf("%w: %s is %s", ErrMarketClosed, market.Code, calendar.Status(market, now))
	}

	if typ == model.TradeBuy {
		total := price.Mul(decimal.NewFromInt(qty))
		ok, err := e.currency.CanAfford(ctx, e.store, acct, total)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: need %s", currency.ErrInsufficientFunds, total.StringFixed(2))
		}
		return nil
	}
	return e.checkShares(ctx, e.store, acct.ID, symbolID, qty)
}

func (e *Executor) checkShares(ctx context.Context, st store.Store, accountID, symbolID, qty int64) error {
	pos, err := st.GetPosition(ctx, accountID, symbolID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: no position in symbol %d", ErrInsufficientShares, symbolID)
	}
	if err != nil {
		return err
	}
	if pos.Quantity < qty {
		return fmt.Errorf("%w: hold %d, selling %d", ErrInsufficientShares, pos.Quantity, qty)
	}
	return nil
}

func (e *Executor) applyPosition(ctx context.Context, tx store.Store, accountID, symbolID int64, typ model.TradeType, qty int64, price decimal.Decimal, now time.Time) error {
	existing, err := tx.GetPosition(ctx, accountID, symbolID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if typ == model.TradeBuy {
		p := ledger.ApplyBuy(existing, accountID, symbolID, qty, price, now)
		return tx.SavePosition(ctx, &p)
	}

	// The holding may have shrunk since precheck.
	if err := e.checkShares(ctx, tx, accountID, symbolID, qty); err != nil {
		return err
	}
	remaining, closed := ledger.ApplySell(*existing, qty, now)
	if closed {
		return tx.DeletePosition(ctx, accountID, symbolID)
	}
	return tx.SavePosition(ctx, &remaining)
}

func (e *Executor) checkAchievements(ctx context.Context, acct *model.Account, typ model.TradeType) {
	if e.achievements == nil {
		return
	}
	if _, err := e.achievements.CheckAchievements(ctx, acct, achievement.ContextTrade, achievement.Data{TradeType: typ}); err != nil {
		slog.Warn("achievement check failed", "account", acct.ID, "context", achievement.ContextTrade, "err", err)
	}
	if _, err := e.achievements.CheckAchievements(ctx, acct, achievement.ContextPortfolioUpdate, achievement.Data{}); err != nil {
		slog.Warn("achievement check failed", "account", acct.ID, "context", achievement.ContextPortfolioUpdate, "err", err)
	}
}

// reason maps an execution error to its rejection metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, currency.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, currency.ErrLedgerConsistency):
		return "ledger_consistency"
	default:
		return "error"
	}
}
