package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedAccount(t *testing.T, st store.Store, cash string) *model.Account {
	t.Helper()
	ctx := context.Background()
	season := &model.Season{Name: "S1", Active: true, StartingBalance: d("1000")}
	require.NoError(t, st.CreateSeason(ctx, season))
	acct := &model.Account{UserID: 7, SeasonID: season.ID, CashBalance: d(cash), InitialBalance: d("1000")}
	require.NoError(t, st.CreateAccount(ctx, acct))
	return acct
}

func TestAdjustCashBalanceRejectsOverdraft(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	acct := seedAccount(t, st, "100")

	ok, err := st.AdjustCashBalance(ctx, acct.ID, d("-200"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.AdjustCashBalance(ctx, acct.ID, d("-100"))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.IsZero())
}

func TestAdjustCashBalanceConcurrentDebits(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	acct := seedAccount(t, st, "100")

	results := make(chan bool, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.AdjustCashBalance(ctx, acct.ID, d("-30"))
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for ok := range results {
		if ok {
			applied++
		}
	}
	assert.Equal(t, 3, applied)

	got, err := st.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(d("10")), "cash %s", got.CashBalance)
}

func TestAdjustUserBalance(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	ok, err := st.AdjustUserBalance(ctx, 1, "credits", d("5"))
	require.NoError(t, err)
	assert.False(t, ok, "unknown user must not be adjusted")

	require.NoError(t, st.SetUserBalance(ctx, 1, "credits", d("50")))
	ok, err = st.AdjustUserBalance(ctx, 1, "credits", d("-60"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.AdjustUserBalance(ctx, 1, "credits", d("-20"))
	require.NoError(t, err)
	assert.True(t, ok)

	bal, err := st.GetUserBalance(ctx, 1, "credits")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("30")))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	acct := seedAccount(t, st, "100")
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.AdjustCashBalance(ctx, acct.ID, d("-40")); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, &model.Trade{ID: "t1", AccountID: acct.ID, Type: model.TradeBuy, Quantity: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := st.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(d("100")))

	n, err := st.CountTrades(ctx, acct.ID, store.TradeFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWithTxCommits(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	acct := seedAccount(t, st, "100")

	err := st.WithTx(ctx, func(tx store.Store) error {
		_, err := tx.AdjustCashBalance(ctx, acct.ID, d("-40"))
		return err
	})
	require.NoError(t, err)

	got, err := st.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(d("60")))
}

func TestCreateAccountUniquePerSeason(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	acct := seedAccount(t, st, "100")

	err := st.CreateAccount(ctx, &model.Account{UserID: acct.UserID, SeasonID: acct.SeasonID})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestGetActiveSeasonPicksHighestID(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	_, err := st.GetActiveSeason(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	first := &model.Season{Name: "A", Active: true}
	second := &model.Season{Name: "B", Active: true}
	inactive := &model.Season{Name: "C"}
	for _, s := range []*model.Season{first, second, inactive} {
		require.NoError(t, st.CreateSeason(ctx, s))
	}

	got, err := st.GetActiveSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestInsertUserAchievementOncePerSeason(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	ua := &model.UserAchievement{ID: "a", UserID: 1, AchievementID: 2, SeasonID: 3}
	ok, err := st.InsertUserAchievement(ctx, ua, false)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := &model.UserAchievement{ID: "b", UserID: 1, AchievementID: 2, SeasonID: 3}
	ok, err = st.InsertUserAchievement(ctx, dup, false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.InsertUserAchievement(ctx, dup, true)
	require.NoError(t, err)
	assert.True(t, ok, "repeatable awards are always recorded")

	other := &model.UserAchievement{ID: "c", UserID: 1, AchievementID: 2, SeasonID: 4}
	ok, err = st.InsertUserAchievement(ctx, other, false)
	require.NoError(t, err)
	assert.True(t, ok, "a new season earns again")
}

func TestCountTradesFilters(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	acct := seedAccount(t, st, "100")

	mkA := &model.Market{Code: "A"}
	mkB := &model.Market{Code: "B"}
	require.NoError(t, st.CreateMarket(ctx, mkA))
	require.NoError(t, st.CreateMarket(ctx, mkB))
	symA := &model.Symbol{MarketID: mkA.ID, Ticker: "AAA"}
	symB := &model.Symbol{MarketID: mkB.ID, Ticker: "BBB"}
	require.NoError(t, st.CreateSymbol(ctx, symA))
	require.NoError(t, st.CreateSymbol(ctx, symB))

	yesterday := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	today := yesterday.Add(24 * time.Hour)
	trades := []model.Trade{
		{ID: "1", AccountID: acct.ID, SymbolID: symA.ID, Type: model.TradeBuy, CreatedAt: yesterday},
		{ID: "2", AccountID: acct.ID, SymbolID: symA.ID, Type: model.TradeSell, CreatedAt: today},
		{ID: "3", AccountID: acct.ID, SymbolID: symB.ID, Type: model.TradeBuy, CreatedAt: today},
	}
	for i := range trades {
		require.NoError(t, st.InsertTrade(ctx, &trades[i]))
	}

	n, err := st.CountTrades(ctx, acct.ID, store.TradeFilter{Type: model.TradeBuy})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = st.CountTrades(ctx, acct.ID, store.TradeFilter{Since: today.Truncate(24 * time.Hour)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	markets, err := st.CountTradedMarkets(ctx, acct.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, markets)

	recent, err := st.ListTrades(ctx, acct.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].ID)
}

func TestSavePositionRejectsNonPositive(t *testing.T) {
	st := store.NewMemoryStore()
	err := st.SavePosition(context.Background(), &model.Position{AccountID: 1, SymbolID: 1})
	assert.Error(t, err)
}

func TestValidField(t *testing.T) {
	assert.True(t, store.ValidField("credits"))
	assert.True(t, store.ValidField("dbtech_credits_1"))
	assert.False(t, store.ValidField("credits; DROP TABLE users"))
	assert.False(t, store.ValidField(""))
}
