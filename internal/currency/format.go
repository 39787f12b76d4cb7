package currency

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCode is the display currency for balances.
const DefaultCode = money.USD

// Format renders amount for display in the given ISO currency, e.g.
// "$1,234.56". Unknown codes fall back to the plain decimal string.
func Format(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), code).Display()
}
