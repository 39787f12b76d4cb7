package achievement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/metrics"
	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
)

// ErrRewardHook wraps failures of the best-effort reward collaborators.
// An award that hits one stays recorded.
var ErrRewardHook = errors.New("reward hook failed")

// TrophyAwarder grants a host trophy.
type TrophyAwarder interface {
	AwardTrophy(ctx context.Context, userID, trophyID, points int64) error
}

// BadgeAwarder grants a host badge.
type BadgeAwarder interface {
	AwardBadge(ctx context.Context, userID, badgeID int64) error
}

// CreditAdjuster pays out host credits.
type CreditAdjuster interface {
	AdjustCredits(ctx context.Context, userID, amount int64, memo string) error
}

// Hooks are the optional reward collaborators. Nil members are skipped.
type Hooks struct {
	Trophy  TrophyAwarder
	Badge   BadgeAwarder
	Credits CreditAdjuster
}

// run invokes every configured hook for a and returns the joined failures.
func (h Hooks) run(ctx context.Context, userID int64, a *model.Achievement) error {
	var errs []error
	fail := func(hook string, err error) {
		metrics.RewardHookFailures.WithLabelValues(hook).Inc()
		errs = append(errs, fmt.Errorf("%w: %s for %s: %v", ErrRewardHook, hook, a.Key, err))
	}
	if a.TrophyID != nil && h.Trophy != nil {
		if err := h.Trophy.AwardTrophy(ctx, userID, *a.TrophyID, a.Points); err != nil {
			fail("trophy", err)
		}
	}
	if a.BadgeID != nil && h.Badge != nil {
		if err := h.Badge.AwardBadge(ctx, userID, *a.BadgeID); err != nil {
			fail("badge", err)
		}
	}
	if a.CreditsReward > 0 && h.Credits != nil {
		if err := h.Credits.AdjustCredits(ctx, userID, a.CreditsReward, "achievement "+a.Key); err != nil {
			fail("credits", err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	slog.Warn("achievement reward hooks failed", "user", userID, "achievement", a.Key, "err", err)
	return err
}

// StoreCredits pays credit rewards into a numeric column of the host user
// record.
type StoreCredits struct {
	Store store.Store
	Field string
}

// AdjustCredits adds amount to the configured field.
func (c StoreCredits) AdjustCredits(ctx context.Context, userID, amount int64, memo string) error {
	applied, err := c.Store.AdjustUserBalance(ctx, userID, c.Field, decimal.NewFromInt(amount))
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("user %d has no %s balance", userID, c.Field)
	}
	slog.Info("credits rewarded", "user", userID, "amount", amount, "memo", memo)
	return nil
}
