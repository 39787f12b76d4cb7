package achievement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockleague/engine/internal/achievement"
	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
	"github.com/stockleague/engine/internal/xp"
)

type recorder struct {
	events []string
}

func (r *recorder) Notify(_ context.Context, _ int64, kind string, _ any) {
	r.events = append(r.events, kind)
}

type failingTrophies struct{ calls int }

func (f *failingTrophies) AwardTrophy(context.Context, int64, int64, int64) error {
	f.calls++
	return errors.New("host down")
}

type testEnv struct {
	st     *store.MemoryStore
	engine *achievement.Engine
	notes  *recorder
	acct   *model.Account
	sym    *model.Symbol
}

func newTestEnv(t *testing.T, hooks achievement.Hooks) *testEnv {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()

	season := &model.Season{Name: "Season 1", Active: true, StartingBalance: decimal.NewFromInt(10000)}
	require.NoError(t, st.CreateSeason(ctx, season))
	market := &model.Market{Code: "NASDAQ", Name: "Nasdaq", Timezone: "America/New_York", Active: true}
	require.NoError(t, st.CreateMarket(ctx, market))
	sym := &model.Symbol{MarketID: market.ID, Ticker: "AAPL", Name: "Apple", Active: true}
	require.NoError(t, st.CreateSymbol(ctx, sym))

	acct := &model.Account{
		UserID:         7,
		SeasonID:       season.ID,
		CashBalance:    decimal.NewFromInt(10000),
		TotalValue:     decimal.NewFromInt(10000),
		InitialBalance: decimal.NewFromInt(10000),
		SeasonRank:     "novice",
	}
	require.NoError(t, st.CreateAccount(ctx, acct))

	_, err := achievement.SeedCatalog(ctx, st)
	require.NoError(t, err)

	notes := &recorder{}
	return &testEnv{
		st:     st,
		engine: achievement.NewEngine(st, xp.Default(), notes, hooks),
		notes:  notes,
		acct:   acct,
		sym:    sym,
	}
}

func (e *testEnv) trade(t *testing.T, typ model.TradeType, at time.Time) {
	t.Helper()
	require.NoError(t, e.st.InsertTrade(context.Background(), &model.Trade{
		ID:        uuid.NewString(),
		AccountID: e.acct.ID,
		SymbolID:  e.sym.ID,
		Type:      typ,
		Quantity:  1,
		Price:     decimal.NewFromInt(100),
		TotalCost: decimal.NewFromInt(100),
		CreatedAt: at,
	}))
}

func earnedKeys(t *testing.T, e *testEnv) []string {
	t.Helper()
	progress, err := e.engine.GetProgress(context.Background(), e.acct)
	require.NoError(t, err)
	var keys []string
	for _, p := range progress {
		if p.Earned {
			keys = append(keys, p.Achievement.Key)
		}
	}
	return keys
}

func TestFirstTradeAwards(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	env.trade(t, model.TradeBuy, time.Now())

	awarded, err := env.engine.CheckAchievements(ctx, env.acct, achievement.ContextTrade, achievement.Data{TradeType: model.TradeBuy})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first_steps", "first_purchase"}, awarded)

	// easy + easy = 20 hundredths
	acct, err := env.st.GetAccountByID(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 20, acct.SeasonXP)

	career, err := env.st.GetCareer(ctx, env.acct.UserID)
	require.NoError(t, err)
	assert.EqualValues(t, 20, career.LifetimeXP)
	assert.EqualValues(t, 2, career.AchievementsEarned)

	assert.Equal(t, []string{"achievement_earned", "achievement_earned"}, env.notes.events)
}

func TestFirstSaleNeedsSellContext(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	env.trade(t, model.TradeSell, time.Now())

	// A buy event never grants the sale achievement, even with a sale on record.
	awarded, err := env.engine.CheckAchievements(ctx, env.acct, achievement.ContextTrade, achievement.Data{TradeType: model.TradeBuy})
	require.NoError(t, err)
	assert.NotContains(t, awarded, "first_sale")

	awarded, err = env.engine.CheckAchievements(ctx, env.acct, achievement.ContextTrade, achievement.Data{TradeType: model.TradeSell})
	require.NoError(t, err)
	assert.Contains(t, awarded, "first_sale")
}

func TestCheckIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	env.trade(t, model.TradeBuy, time.Now())

	first, err := env.engine.CheckAchievements(ctx, env.acct, achievement.ContextTrade, achievement.Data{TradeType: model.TradeBuy})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	again, err := env.engine.CheckAchievements(ctx, env.acct, achievement.ContextTrade, achievement.Data{TradeType: model.TradeBuy})
	require.NoError(t, err)
	assert.Empty(t, again)

	acct, err := env.st.GetAccountByID(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 20, acct.SeasonXP)
}

func TestContextFiltersPredicates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	env.acct.TotalValue = decimal.NewFromInt(30000)

	// Wealth rules only run on portfolio updates.
	awarded, err := env.engine.CheckAchievements(ctx, env.acct, achievement.ContextTrade, achievement.Data{})
	require.NoError(t, err)
	assert.NotContains(t, awarded, "building_wealth")

	awarded, err = env.engine.CheckAchievements(ctx, env.acct, achievement.ContextPortfolioUpdate, achievement.Data{})
	require.NoError(t, err)
	assert.Equal(t, []string{"building_wealth", "consistent_profit"}, awarded)
}

func TestTradesTodayUsesDayBoundary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	now := time.Now()
	for i := 0; i < 4; i++ {
		env.trade(t, model.TradeBuy, now)
	}
	env.trade(t, model.TradeBuy, now.Add(-72*time.Hour))

	awarded, err := env.engine.CheckAchievements(ctx, env.acct, achievement.ContextTrade, achievement.Data{TradeType: model.TradeBuy})
	require.NoError(t, err)
	assert.NotContains(t, awarded, "active_beginner")

	env.trade(t, model.TradeBuy, now)
	awarded, err = env.engine.CheckAchievements(ctx, env.acct, achievement.ContextTrade, achievement.Data{TradeType: model.TradeBuy})
	require.NoError(t, err)
	assert.Contains(t, awarded, "active_beginner")
}

func TestAwardRankUpNotifies(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	big := &model.Achievement{Key: "whale", Category: "wealth", Difficulty: "epic", XPPoints: 250, Active: true}
	require.NoError(t, env.st.SaveAchievement(ctx, big))

	ok, err := env.engine.Award(ctx, env.acct.UserID, env.acct, big)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "apprentice", env.acct.SeasonRank)
	assert.Equal(t, []string{"achievement_earned", "season_rank_up", "career_rank_up"}, env.notes.events)

	career, err := env.st.GetCareer(ctx, env.acct.UserID)
	require.NoError(t, err)
	assert.Equal(t, "apprentice", career.CareerRank)

	ok, err = env.engine.Award(ctx, env.acct.UserID, env.acct, big)
	require.NoError(t, err)
	assert.False(t, ok)

	// The second call credits nothing.
	assert.EqualValues(t, 250, env.acct.SeasonXP)
	stored, err := env.st.GetAccountByID(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 250, stored.SeasonXP)
	career, err = env.st.GetCareer(ctx, env.acct.UserID)
	require.NoError(t, err)
	assert.EqualValues(t, 250, career.LifetimeXP)
	assert.EqualValues(t, 1, career.AchievementsEarned)
	held, err := env.st.ListUserAchievements(ctx, env.acct.UserID, env.acct.SeasonID)
	require.NoError(t, err)
	assert.Len(t, held, 1)
	assert.Len(t, env.notes.events, 3, "no further notifications")
}

// careerRankFails fails SetCareerRank inside transactions.
type careerRankFails struct{ *store.MemoryStore }

func (s careerRankFails) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx store.Store) error {
		return fn(failingCareerTx{tx})
	})
}

type failingCareerTx struct{ store.Store }

func (failingCareerTx) SetCareerRank(context.Context, int64, string) error {
	return errors.New("disk full")
}

func TestAwardRollbackLeavesAccountUntouched(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	big := &model.Achievement{Key: "whale", Category: "wealth", Difficulty: "epic", XPPoints: 250, Active: true}
	require.NoError(t, env.st.SaveAchievement(ctx, big))

	engine := achievement.NewEngine(careerRankFails{env.st}, xp.Default(), env.notes, achievement.Hooks{})
	ok, err := engine.Award(ctx, env.acct.UserID, env.acct, big)
	require.Error(t, err)
	assert.False(t, ok)

	assert.Zero(t, env.acct.SeasonXP)
	assert.Equal(t, "novice", env.acct.SeasonRank)
	assert.Empty(t, env.notes.events)

	stored, err := env.st.GetAccountByID(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.SeasonXP)
	held, err := env.st.ListUserAchievements(ctx, env.acct.UserID, env.acct.SeasonID)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestAwardWithoutAccountUsesActiveSeason(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	a, err := env.st.GetAchievementByKey(ctx, "first_steps")
	require.NoError(t, err)

	ok, err := env.engine.Award(ctx, 99, nil, a)
	require.NoError(t, err)
	assert.True(t, ok)

	held, err := env.st.ListUserAchievements(ctx, 99, env.acct.SeasonID)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Zero(t, held[0].AccountID)

	career, err := env.st.GetCareer(ctx, 99)
	require.NoError(t, err)
	assert.EqualValues(t, 10, career.LifetimeXP)
}

func TestRepeatableAwardsAgain(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	daily := &model.Achievement{Key: "daily_login", Category: "activity", XPPoints: 5, Repeatable: true, Active: true}
	require.NoError(t, env.st.SaveAchievement(ctx, daily))

	for i := 0; i < 3; i++ {
		ok, err := env.engine.Award(ctx, env.acct.UserID, env.acct, daily)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.EqualValues(t, 15, env.acct.SeasonXP)

	progress, err := env.engine.GetProgress(ctx, env.acct)
	require.NoError(t, err)
	for _, p := range progress {
		if p.Achievement.Key == "daily_login" {
			assert.Equal(t, 3, p.Times)
		}
	}
}

func TestRewardHookFailureKeepsAward(t *testing.T) {
	ctx := context.Background()
	trophies := &failingTrophies{}
	env := newTestEnv(t, achievement.Hooks{Trophy: trophies})
	trophyID := int64(3)
	a := &model.Achievement{Key: "trophy_case", XPPoints: 10, TrophyID: &trophyID, Points: 5, Active: true}
	require.NoError(t, env.st.SaveAchievement(ctx, a))

	ok, err := env.engine.Award(ctx, env.acct.UserID, env.acct, a)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, trophies.calls)
	assert.Contains(t, earnedKeys(t, env), "trophy_case")
}

func TestStoreCreditsHook(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.SetUserBalance(ctx, 7, "credits", decimal.NewFromInt(10)))

	credits := achievement.StoreCredits{Store: st, Field: "credits"}
	require.NoError(t, credits.AdjustCredits(ctx, 7, 25, "test"))

	bal, err := st.GetUserBalance(ctx, 7, "credits")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(35)))

	assert.Error(t, credits.AdjustCredits(ctx, 8, 25, "unknown user"))
}

func TestRebuildConverges(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	env.trade(t, model.TradeBuy, time.Now())
	env.trade(t, model.TradeSell, time.Now())

	n, err := env.engine.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	first := earnedKeys(t, env)
	assert.Subset(t, first, []string{"first_steps", "first_purchase", "first_sale"})

	n, err = env.engine.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, first, earnedKeys(t, env))
}

func TestRegisterOverridesRule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, achievement.Hooks{})
	env.engine.Register("first_steps", achievement.Predicate{
		Contexts: []achievement.Context{achievement.ContextTrade},
		Check:    func(*achievement.Stats) (bool, error) { return false, errors.New("broken rule") },
	})
	env.trade(t, model.TradeBuy, time.Now())

	awarded, err := env.engine.CheckAchievements(ctx, env.acct, achievement.ContextTrade, achievement.Data{TradeType: model.TradeBuy})
	require.Error(t, err)
	// The broken rule does not stop the rest.
	assert.Contains(t, awarded, "first_purchase")
}

func TestDefaultCatalogXP(t *testing.T) {
	for _, a := range achievement.DefaultCatalog() {
		assert.Equal(t, xp.XPForDifficulty(a.Difficulty), a.XPPoints, a.Key)
		assert.Positive(t, a.XPPoints, a.Key)
		_, ok := achievement.DefaultPredicates()[a.Key]
		assert.True(t, ok, "no rule for %s", a.Key)
	}
}
