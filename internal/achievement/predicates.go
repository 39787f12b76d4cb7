package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
)

// Context tags which event triggered an evaluation. Each predicate names
// the contexts it cares about; Rebuild evaluates every predicate.
type Context string

const (
	ContextTrade           Context = "trade"
	ContextPortfolioUpdate Context = "portfolio_update"
	ContextRebuild         Context = "rebuild"
)

// Data carries context-specific facts. TradeType is set for ContextTrade.
type Data struct {
	TradeType model.TradeType
}

// Predicate decides whether an account has met one achievement's criteria.
type Predicate struct {
	Contexts []Context
	Check    func(s *Stats) (bool, error)
}

func (p Predicate) appliesTo(c Context) bool {
	if c == ContextRebuild {
		return true
	}
	for _, pc := range p.Contexts {
		if pc == c {
			return true
		}
	}
	return false
}

// Stats answers predicate questions about one account. Each figure is
// loaded on first use and reused for the rest of the evaluation.
type Stats struct {
	ctx      context.Context
	st       store.Store
	acct     *model.Account
	data     Data
	dayStart time.Time
	counts   map[string]int64
}

func newStats(ctx context.Context, st store.Store, acct *model.Account, data Data, dayStart time.Time) *Stats {
	return &Stats{ctx: ctx, st: st, acct: acct, data: data, dayStart: dayStart, counts: make(map[string]int64)}
}

func (s *Stats) memo(key string, load func() (int64, error)) (int64, error) {
	if n, ok := s.counts[key]; ok {
		return n, nil
	}
	n, err := load()
	if err != nil {
		return 0, fmt.Errorf("stat %s for account %d: %w", key, s.acct.ID, err)
	}
	s.counts[key] = n
	return n, nil
}

// Account returns the account under evaluation.
func (s *Stats) Account() *model.Account { return s.acct }

// TradeType is the direction of the triggering trade, empty outside
// ContextTrade.
func (s *Stats) TradeType() model.TradeType { return s.data.TradeType }

// Trades counts all trades of the account.
func (s *Stats) Trades() (int64, error) {
	return s.memo("trades", func() (int64, error) {
		return s.st.CountTrades(s.ctx, s.acct.ID, store.TradeFilter{})
	})
}

// TradesOfType counts trades in one direction.
func (s *Stats) TradesOfType(t model.TradeType) (int64, error) {
	return s.memo("trades:"+string(t), func() (int64, error) {
		return s.st.CountTrades(s.ctx, s.acct.ID, store.TradeFilter{Type: t})
	})
}

// TradesToday counts trades since the start of the current day.
func (s *Stats) TradesToday() (int64, error) {
	return s.memo("today", func() (int64, error) {
		return s.st.CountTrades(s.ctx, s.acct.ID, store.TradeFilter{Since: s.dayStart})
	})
}

// HeldSymbols counts distinct symbols with an open position.
func (s *Stats) HeldSymbols() (int64, error) {
	return s.memo("held", func() (int64, error) {
		positions, err := s.st.ListPositions(s.ctx, s.acct.ID)
		return int64(len(positions)), err
	})
}

// TradedMarkets counts distinct markets ever traded.
func (s *Stats) TradedMarkets() (int64, error) {
	return s.memo("markets", func() (int64, error) {
		return s.st.CountTradedMarkets(s.ctx, s.acct.ID)
	})
}

// TotalValue is the account's cached total value.
func (s *Stats) TotalValue() decimal.Decimal { return s.acct.TotalValue }

// Profit is total value above the account's initial balance.
func (s *Stats) Profit() decimal.Decimal {
	return s.acct.TotalValue.Sub(s.acct.InitialBalance)
}

// --- Predicate constructors ---

func tradesAtLeast(n int64) Predicate {
	return Predicate{
		Contexts: []Context{ContextTrade},
		Check: func(s *Stats) (bool, error) {
			c, err := s.Trades()
			return c >= n, err
		},
	}
}

// firstOfType fires on the first trade in direction t. Outside a rebuild
// it only fires when the triggering trade went that way.
func firstOfType(t model.TradeType) Predicate {
	return Predicate{
		Contexts: []Context{ContextTrade},
		Check: func(s *Stats) (bool, error) {
			if tt := s.TradeType(); tt != "" && tt != t {
				return false, nil
			}
			c, err := s.TradesOfType(t)
			return c >= 1, err
		},
	}
}

func tradesTodayAtLeast(n int64) Predicate {
	return Predicate{
		Contexts: []Context{ContextTrade},
		Check: func(s *Stats) (bool, error) {
			c, err := s.TradesToday()
			return c >= n, err
		},
	}
}

func totalValueAtLeast(v int64) Predicate {
	threshold := decimal.NewFromInt(v)
	return Predicate{
		Contexts: []Context{ContextPortfolioUpdate},
		Check: func(s *Stats) (bool, error) {
			return s.TotalValue().GreaterThanOrEqual(threshold), nil
		},
	}
}

func profitAtLeast(v int64) Predicate {
	threshold := decimal.NewFromInt(v)
	return Predicate{
		Contexts: []Context{ContextPortfolioUpdate},
		Check: func(s *Stats) (bool, error) {
			return s.Profit().GreaterThanOrEqual(threshold), nil
		},
	}
}

func heldSymbolsAtLeast(n int64) Predicate {
	return Predicate{
		Contexts: []Context{ContextPortfolioUpdate},
		Check: func(s *Stats) (bool, error) {
			c, err := s.HeldSymbols()
			return c >= n, err
		},
	}
}

func tradedMarketsAtLeast(n int64) Predicate {
	return Predicate{
		Contexts: []Context{ContextPortfolioUpdate},
		Check: func(s *Stats) (bool, error) {
			c, err := s.TradedMarkets()
			return c >= n, err
		},
	}
}

// DefaultPredicates returns the rules for the default catalog, keyed by
// achievement key. Catalog entries without a rule never award.
func DefaultPredicates() map[string]Predicate {
	return map[string]Predicate{
		"first_steps":            tradesAtLeast(1),
		"getting_started":        tradesAtLeast(10),
		"active_trader":          tradesAtLeast(50),
		"consistent_trader":      tradesAtLeast(250),
		"volume_king":            tradesAtLeast(1000),
		"first_purchase":         firstOfType(model.TradeBuy),
		"first_sale":             firstOfType(model.TradeSell),
		"active_beginner":        tradesTodayAtLeast(5),
		"day_trader":             tradesTodayAtLeast(20),
		"building_wealth":        totalValueAtLeast(25_000),
		"strategic_investor":     totalValueAtLeast(100_000),
		"portfolio_millionaire":  totalValueAtLeast(1_000_000),
		"consistent_profit":      profitAtLeast(5_000),
		"profit_champion":        profitAtLeast(250_000),
		"diverse_portfolio_5":    heldSymbolsAtLeast(10),
		"market_explorer":        tradedMarketsAtLeast(3),
		"market_diversification": tradedMarketsAtLeast(5),
	}
}
