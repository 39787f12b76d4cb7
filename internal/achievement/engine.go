// Package achievement evaluates achievement rules against account activity
// and records awards with their XP, rank and reward side effects.
package achievement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stockleague/engine/internal/metrics"
	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
	"github.com/stockleague/engine/internal/xp"
)

// Notification kinds emitted by the engine. They match the hub's kinds.
const (
	kindEarned       = "achievement_earned"
	kindSeasonRankUp = "season_rank_up"
	kindCareerRankUp = "career_rank_up"
)

var errAlreadyEarned = errors.New("already earned")

// Notifier receives award events for one user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind string, payload any)
}

// Phraser localizes display strings by key.
type Phraser interface {
	Phrase(key string) string
}

// Engine checks and awards achievements.
type Engine struct {
	store      store.Store
	ranks      *xp.Calculator
	notifier   Notifier
	hooks      Hooks
	phrases    Phraser
	predicates map[string]Predicate
	dayZone    *time.Location
	now        func() time.Time
}

// NewEngine creates an engine with the default predicates and a UTC day
// boundary. notifier may be nil.
func NewEngine(st store.Store, ranks *xp.Calculator, notifier Notifier, hooks Hooks) *Engine {
	return &Engine{
		store:      st,
		ranks:      ranks,
		notifier:   notifier,
		hooks:      hooks,
		predicates: DefaultPredicates(),
		dayZone:    time.UTC,
		now:        time.Now,
	}
}

// Register adds or replaces the rule for an achievement key.
func (e *Engine) Register(key string, p Predicate) { e.predicates[key] = p }

// SetDayBoundary sets the zone whose midnight starts a trading day for
// "trades today" rules.
func (e *Engine) SetDayBoundary(loc *time.Location) {
	if loc != nil {
		e.dayZone = loc
	}
}

// SetPhrases attaches a localizer for notification titles.
func (e *Engine) SetPhrases(p Phraser) { e.phrases = p }

func (e *Engine) dayStart() time.Time {
	now := e.now().In(e.dayZone)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.dayZone)
}

// CheckAchievements evaluates every applicable, not yet earned
// achievement for acct and awards the ones whose rule passes. A failing
// rule or award does not stop the others; their errors are joined.
func (e *Engine) CheckAchievements(ctx context.Context, acct *model.Account, c Context, data Data) ([]string, error) {
	catalog, err := e.store.ListActiveAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	held, err := e.store.ListUserAchievements(ctx, acct.UserID, acct.SeasonID)
	if err != nil {
		return nil, fmt.Errorf("list earned achievements: %w", err)
	}
	earned := make(map[int64]bool, len(held))
	for _, ua := range held {
		earned[ua.AchievementID] = true
	}

	stats := newStats(ctx, e.store, acct, data, e.dayStart())
	var (
		awarded []string
		errs    []error
	)
	for i := range catalog {
		a := &catalog[i]
		pred, ok := e.predicates[a.Key]
		if !ok || !pred.appliesTo(c) {
			continue
		}
		if earned[a.ID] && !a.Repeatable {
			continue
		}
		met, err := pred.Check(stats)
		if err != nil {
			errs = append(errs, fmt.Errorf("check %s: %w", a.Key, err))
			continue
		}
		if !met {
			continue
		}
		ok, err = e.Award(ctx, acct.UserID, acct, a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			awarded = append(awarded, a.Key)
		}
	}
	return awarded, errors.Join(errs...)
}

// Award records a for userID in acct's season and applies its XP to the
// account and the career. acct may be nil, in which case the award goes
// to the active season and only career XP changes. It reports false when
// a non-repeatable achievement was already earned. Reward hook failures
// are logged and do not fail the award.
func (e *Engine) Award(ctx context.Context, userID int64, acct *model.Account, a *model.Achievement) (bool, error) {
	ua := &model.UserAchievement{
		ID:            uuid.NewString(),
		UserID:        userID,
		AchievementID: a.ID,
		XPAwarded:     a.XPPoints,
		EarnedAt:      e.now().UTC(),
	}
	if acct != nil {
		ua.SeasonID = acct.SeasonID
		ua.AccountID = acct.ID
	} else {
		season, err := e.store.GetActiveSeason(ctx)
		switch {
		case err == nil:
			ua.SeasonID = season.ID
		case !errors.Is(err, store.ErrNotFound):
			return false, fmt.Errorf("award %s: active season: %w", a.Key, err)
		}
	}

	var (
		seasonUp, careerUp xp.Tier
		rankedSeason       bool
		rankedCareer       bool
		seasonXP           int64
		seasonRank         string
	)
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		inserted, err := tx.InsertUserAchievement(ctx, ua, a.Repeatable)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyEarned
		}

		if acct != nil {
			newXP, err := tx.AddAccountXP(ctx, acct.ID, a.XPPoints)
			if err != nil {
				return err
			}
			seasonUp, rankedSeason = e.ranks.DidRankUp(newXP-a.XPPoints, newXP)
			seasonXP, seasonRank = newXP, e.ranks.Rank(newXP).Key
			if err := tx.SetAccountRank(ctx, acct.ID, seasonRank); err != nil {
				return err
			}
		}

		if _, err := tx.EnsureCareer(ctx, userID, e.ranks.Rank(0).Key); err != nil {
			return err
		}
		career, err := tx.IncrementCareer(ctx, userID, store.CareerDelta{XP: a.XPPoints, Achievements: 1})
		if err != nil {
			return err
		}
		careerUp, rankedCareer = e.ranks.DidRankUp(career.LifetimeXP-a.XPPoints, career.LifetimeXP)
		return tx.SetCareerRank(ctx, userID, e.ranks.Rank(career.LifetimeXP).Key)
	})
	if errors.Is(err, errAlreadyEarned) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("award %s to user %d: %w", a.Key, userID, err)
	}
	if acct != nil {
		acct.SeasonXP, acct.SeasonRank = seasonXP, seasonRank
	}

	metrics.AchievementsAwarded.WithLabelValues(a.Key).Inc()
	slog.Info("achievement awarded", "user", userID, "achievement", a.Key, "xp", a.XPPoints, "season", ua.SeasonID)

	e.notify(ctx, userID, kindEarned, map[string]any{
		"achievement": a.Key,
		"title":       e.title(a.Key),
		"xp":          a.XPPoints,
		"xp_display":  xp.FormatXP(a.XPPoints),
	})
	if rankedSeason {
		e.notify(ctx, userID, kindSeasonRankUp, map[string]any{"rank": seasonUp.Key, "season_id": ua.SeasonID})
	}
	if rankedCareer {
		e.notify(ctx, userID, kindCareerRankUp, map[string]any{"rank": careerUp.Key})
	}

	_ = e.hooks.run(ctx, userID, a)
	return true, nil
}

func (e *Engine) notify(ctx context.Context, userID int64, kind string, payload map[string]any) {
	if e.notifier != nil {
		e.notifier.Notify(ctx, userID, kind, payload)
	}
}

func (e *Engine) title(key string) string {
	if e.phrases == nil {
		return key
	}
	return e.phrases.Phrase("achievement." + key + ".title")
}

// Progress is one catalog entry with the user's status in a season.
type Progress struct {
	Achievement model.Achievement `json:"achievement"`
	Earned      bool              `json:"earned"`
	Times       int               `json:"times"`
	EarnedAt    *time.Time        `json:"earned_at,omitempty"`
}

// GetProgress lists the active catalog in display order with acct's
// earned state. EarnedAt is the first award.
func (e *Engine) GetProgress(ctx context.Context, acct *model.Account) ([]Progress, error) {
	catalog, err := e.store.ListActiveAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	held, err := e.store.ListUserAchievements(ctx, acct.UserID, acct.SeasonID)
	if err != nil {
		return nil, fmt.Errorf("list earned achievements: %w", err)
	}
	byID := make(map[int64][]model.UserAchievement)
	for _, ua := range held {
		byID[ua.AchievementID] = append(byID[ua.AchievementID], ua)
	}

	sort.SliceStable(catalog, func(i, j int) bool { return catalog[i].DisplayOrder < catalog[j].DisplayOrder })
	out := make([]Progress, 0, len(catalog))
	for _, a := range catalog {
		p := Progress{Achievement: a}
		if awards := byID[a.ID]; len(awards) > 0 {
			first := awards[0].EarnedAt
			for _, ua := range awards[1:] {
				if ua.EarnedAt.Before(first) {
					first = ua.EarnedAt
				}
			}
			p.Earned, p.Times, p.EarnedAt = true, len(awards), &first
		}
		out = append(out, p)
	}
	return out, nil
}

// Rebuild re-evaluates every rule for every account with trade history
// and returns how many accounts were processed. Per-account failures are
// logged and joined into the returned error.
func (e *Engine) Rebuild(ctx context.Context) (int, error) {
	ids, err := e.store.ListAccountIDsWithTrades(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts with trades: %w", err)
	}
	processed := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		acct, err := e.store.GetAccountByID(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %d: %w", id, err))
			continue
		}
		awarded, err := e.CheckAchievements(ctx, acct, ContextRebuild, Data{})
		if err != nil {
			slog.Error("achievement rebuild failed for account", "account", id, "err", err)
			errs = append(errs, fmt.Errorf("account %d: %w", id, err))
		}
		if len(awarded) > 0 {
			slog.Info("achievements awarded on rebuild", "account", id, "awarded", awarded)
		}
		processed++
	}
	slog.Info("achievement rebuild complete", "accounts", processed, "failures", len(errs))
	return processed, errors.Join(errs...)
}
