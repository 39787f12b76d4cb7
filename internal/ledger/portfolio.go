package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
)

// Holding is one position marked to the current quote.
type Holding struct {
	model.Position
	Ticker            string          `json:"ticker"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
}

// Portfolio is the read model behind the portfolio screen.
type Portfolio struct {
	Account       model.Account   `json:"account"`
	Cash          decimal.Decimal `json:"cash"`
	Holdings      []Holding       `json:"holdings"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	ReturnPercent decimal.Decimal `json:"return_percent"`
}

// Portfolio revalues acct and returns its holdings with derived P/L.
// Account P/L is measured against the balance snapshotted when the account
// was opened.
func (s *Service) Portfolio(ctx context.Context, acct *model.Account) (*Portfolio, error) {
	revalued, err := s.RecalculatePortfolioValue(ctx, acct)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.ListPositions(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	holdings := make([]Holding, 0, len(positions))
	for _, p := range positions {
		price, err := s.price(ctx, s.store, p.SymbolID)
		if err != nil {
			return nil, err
		}
		h := Holding{
			Position:          p,
			CurrentPrice:      price,
			CurrentValue:      p.CurrentValue(price),
			ProfitLoss:        p.ProfitLoss(price),
			ProfitLossPercent: p.ProfitLossPercent(price).Round(2),
		}
		sym, err := s.store.GetSymbol(ctx, p.SymbolID)
		switch {
		case err == nil:
			h.Ticker = sym.Ticker
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		holdings = append(holdings, h)
	}

	cash := revalued.TotalValue.Sub(revalued.PortfolioValue)
	return &Portfolio{
		Account:       *revalued,
		Cash:          cash,
		Holdings:      holdings,
		ProfitLoss:    revalued.ProfitLoss(revalued.InitialBalance),
		ReturnPercent: revalued.ReturnPercent(revalued.InitialBalance).Round(2),
	}, nil
}
