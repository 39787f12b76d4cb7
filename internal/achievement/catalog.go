package achievement

import (
	"context"
	"fmt"

	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
	"github.com/stockleague/engine/internal/xp"
)

type seed struct {
	key, category, difficulty string
	points                    int64
}

var defaultCatalog = []seed{
	{"first_steps", "trading", "easy", 5},
	{"first_purchase", "trading", "easy", 5},
	{"first_sale", "trading", "easy", 5},
	{"getting_started", "trading", "easy", 10},
	{"active_beginner", "activity", "easy", 10},
	{"active_trader", "trading", "medium", 25},
	{"day_trader", "activity", "hard", 50},
	{"consistent_trader", "trading", "hard", 50},
	{"volume_king", "trading", "epic", 100},
	{"building_wealth", "wealth", "medium", 25},
	{"strategic_investor", "wealth", "hard", 50},
	{"portfolio_millionaire", "wealth", "legendary", 250},
	{"consistent_profit", "profit", "medium", 25},
	{"profit_champion", "profit", "epic", 100},
	{"diverse_portfolio_5", "diversification", "medium", 25},
	{"market_explorer", "diversification", "medium", 25},
	{"market_diversification", "diversification", "hard", 50},
}

// DefaultCatalog returns the stock achievement set. XP follows the
// difficulty table.
func DefaultCatalog() []model.Achievement {
	out := make([]model.Achievement, len(defaultCatalog))
	for i, s := range defaultCatalog {
		out[i] = model.Achievement{
			Key:          s.key,
			Category:     s.category,
			Difficulty:   s.difficulty,
			XPPoints:     xp.XPForDifficulty(s.difficulty),
			Points:       s.points,
			Active:       true,
			DisplayOrder: (i + 1) * 10,
		}
	}
	return out
}

// SeedCatalog upserts the default catalog and returns how many entries
// were written.
func SeedCatalog(ctx context.Context, st store.Store) (int, error) {
	catalog := DefaultCatalog()
	for i := range catalog {
		if err := st.SaveAchievement(ctx, &catalog[i]); err != nil {
			return i, fmt.Errorf("seed achievement %s: %w", catalog[i].Key, err)
		}
	}
	return len(catalog), nil
}
