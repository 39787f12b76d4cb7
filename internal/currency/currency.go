// Package currency decides where trading cash lives.
//
// Two providers exist: Builtin keeps cash on the season account, External
// reads a named balance column on the host user record shared across
// seasons. Both debit and credit through a single conditional update at the
// storage layer, so concurrent adjustments can never overdraw a balance.
package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
)

var (
	// ErrInsufficientFunds means the adjustment would leave a negative balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrLedgerConsistency means the conditional update changed nothing
	// although the resulting balance would have been valid.
	ErrLedgerConsistency = errors.New("ledger consistency failure")
)

// Provider resolves and mutates an account's cash. Every method takes the
// Store to run against so callers can pass a transaction-bound one.
type Provider interface {
	// Balance returns the actual cash available to acct.
	Balance(ctx context.Context, st store.Store, acct *model.Account) (decimal.Decimal, error)

	// Adjust applies delta atomically. A zero delta is a successful no-op.
	Adjust(ctx context.Context, st store.Store, acct *model.Account, delta decimal.Decimal, memo string) error

	// CanAfford reports whether Balance is at least amount.
	CanAfford(ctx context.Context, st store.Store, acct *model.Account, amount decimal.Decimal) (bool, error)

	// IsExternal reports whether cash lives outside the account row.
	IsExternal() bool
}

// New returns Builtin when field is empty and External otherwise. field
// must be a plain column identifier.
func New(field string) (Provider, error) {
	if field == "" {
		return Builtin{}, nil
	}
	if !store.ValidField(field) {
		return nil, fmt.Errorf("currency field %q is not a valid column name", field)
	}
	return External{Field: field}, nil
}

// Builtin keeps cash in Account.CashBalance.
type Builtin struct{}

func (Builtin) IsExternal() bool { return false }

func (Builtin) Balance(ctx context.Context, st store.Store, acct *model.Account) (decimal.Decimal, error) {
	fresh, err := st.GetAccountByID(ctx, acct.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return fresh.CashBalance, nil
}

func (b Builtin) CanAfford(ctx context.Context, st store.Store, acct *model.Account, amount decimal.Decimal) (bool, error) {
	bal, err := b.Balance(ctx, st, acct)
	if err != nil {
		return false, err
	}
	return bal.GreaterThanOrEqual(amount), nil
}

func (b Builtin) Adjust(ctx context.Context, st store.Store, acct *model.Account, delta decimal.Decimal, memo string) error {
	if delta.IsZero() {
		return nil
	}
	applied, err := st.AdjustCashBalance(ctx, acct.ID, delta)
	if err != nil {
		return fmt.Errorf("adjust account %d: %w", acct.ID, err)
	}
	if applied {
		return nil
	}
	return classify(ctx, acct, delta, memo, func() (decimal.Decimal, error) {
		return b.Balance(ctx, st, acct)
	})
}

// External keeps cash in a named numeric column on the host user record.
type External struct {
	Field string
}

func (External) IsExternal() bool { return true }

// Balance treats a user without a balance row as holding nothing.
func (e External) Balance(ctx context.Context, st store.Store, acct *model.Account) (decimal.Decimal, error) {
	bal, err := st.GetUserBalance(ctx, acct.UserID, e.Field)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	return bal, err
}

func (e External) CanAfford(ctx context.Context, st store.Store, acct *model.Account, amount decimal.Decimal) (bool, error) {
	bal, err := e.Balance(ctx, st, acct)
	if err != nil {
		return false, err
	}
	return bal.GreaterThanOrEqual(amount), nil
}

func (e External) Adjust(ctx context.Context, st store.Store, acct *model.Account, delta decimal.Decimal, memo string) error {
	if delta.IsZero() {
		return nil
	}
	applied, err := st.AdjustUserBalance(ctx, acct.UserID, e.Field, delta)
	if err != nil {
		return fmt.Errorf("adjust user %d %s: %w", acct.UserID, e.Field, err)
	}
	if applied {
		return nil
	}
	return classify(ctx, acct, delta, memo, func() (decimal.Decimal, error) {
		return e.Balance(ctx, st, acct)
	})
}

// classify explains a conditional update that changed no row. The affected
// row count is the signal; the balance is re-read only to tell an overdraft
// apart from any other failure.
func classify(ctx context.Context, acct *model.Account, delta decimal.Decimal, memo string, balance func() (decimal.Decimal, error)) error {
	current, err := balance()
	if err == nil && current.Add(delta).IsNegative() {
		slog.InfoContext(ctx, "balance adjustment rejected",
			"account", acct.ID, "user", acct.UserID, "delta", delta.String(),
			"balance", current.String(), "memo", memo)
		return fmt.Errorf("account %d needs %s, has %s: %w",
			acct.ID, delta.Neg().String(), current.String(), ErrInsufficientFunds)
	}
	slog.ErrorContext(ctx, "balance adjustment not applied",
		"account", acct.ID, "user", acct.UserID, "delta", delta.String(),
		"memo", memo, "err", err)
	return fmt.Errorf("account %d adjustment %s not applied: %w", acct.ID, delta.String(), ErrLedgerConsistency)
}
