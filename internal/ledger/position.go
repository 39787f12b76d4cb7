package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/model"
)

// ApplyBuy folds a purchase into an existing position using weighted
// average cost. existing may be nil for a first purchase.
//
//	new_avg = (old_avg × old_qty + price × qty) / (old_qty + qty)
func ApplyBuy(existing *model.Position, accountID, symbolID, qty int64, price decimal.Decimal, now time.Time) model.Position {
	if existing == nil {
		return model.Position{
			AccountID:    accountID,
			SymbolID:     symbolID,
			Quantity:     qty,
			AveragePrice: price,
			TotalCost:    price.Mul(decimal.NewFromInt(qty)),
			UpdatedAt:    now,
		}
	}

	p := *existing
	newQty := p.Quantity + qty
	cost := p.AveragePrice.Mul(decimal.NewFromInt(p.Quantity)).
		Add(price.Mul(decimal.NewFromInt(qty)))
	p.AveragePrice = cost.DivRound(decimal.NewFromInt(newQty), 6)
	p.Quantity = newQty
	p.TotalCost = p.AveragePrice.Mul(decimal.NewFromInt(newQty))
	p.UpdatedAt = now
	return p
}

// ApplySell removes qty shares from p. The average price never changes on
// a sale. closed is true when nothing remains, in which case the position
// must be deleted rather than stored.
func ApplySell(p model.Position, qty int64, now time.Time) (remaining model.Position, closed bool) {
	p.Quantity -= qty
	if p.Quantity <= 0 {
		return model.Position{}, true
	}
	p.TotalCost = p.AveragePrice.Mul(decimal.NewFromInt(p.Quantity))
	p.UpdatedAt = now
	return p, false
}
