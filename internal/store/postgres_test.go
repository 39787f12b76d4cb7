package store_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
)

// newPostgres connects to TEST_DATABASE_URL and applies the schema. Tests
// create their own rows with unique keys, so the database may be shared.
func newPostgres(t *testing.T) *store.PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, store.Migrate(ctx, pool))
	return store.NewPostgresStore(pool)
}

func uniqueID() int64 { return time.Now().UnixNano() }

func TestPostgresConcurrentDebitsNeverOverdraw(t *testing.T) {
	st := newPostgres(t)
	ctx := context.Background()
	season := &model.Season{Name: "pg", Active: true, StartAt: time.Now().UTC(), StartingBalance: d("100")}
	require.NoError(t, st.CreateSeason(ctx, season))
	acct := &model.Account{UserID: uniqueID(), SeasonID: season.ID, CashBalance: d("100"), InitialBalance: d("100")}
	require.NoError(t, st.CreateAccount(ctx, acct))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.AdjustCashBalance(ctx, acct.ID, d("-60"))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	got, err := st.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(d("40")), "cash %s", got.CashBalance)
}

func TestPostgresAdjustUserBalanceIsConditional(t *testing.T) {
	st := newPostgres(t)
	ctx := context.Background()
	user := uniqueID()

	ok, err := st.AdjustUserBalance(ctx, user, "credits", d("5"))
	require.NoError(t, err)
	assert.False(t, ok, "missing user row")

	require.NoError(t, st.SetUserBalance(ctx, user, "credits", d("50")))
	ok, err = st.AdjustUserBalance(ctx, user, "credits", d("-50.000001"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.AdjustUserBalance(ctx, user, "credits", d("-20.1234"))
	require.NoError(t, err)
	assert.True(t, ok)

	bal, err := st.GetUserBalance(ctx, user, "credits")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("29.8766")), "balance %s", bal)
}

func TestPostgresKeepsSubCentAmounts(t *testing.T) {
	st := newPostgres(t)
	ctx := context.Background()
	tag := uniqueID()

	market := &model.Market{Code: fmt.Sprintf("PG%d", tag), Name: "pg", Timezone: "UTC", OpenTime: "00:00", CloseTime: "24:00", TradingDays: []int{1, 2, 3, 4, 5, 6, 7}, Active: true}
	require.NoError(t, st.CreateMarket(ctx, market))
	sym := &model.Symbol{MarketID: market.ID, Ticker: "SUB", Name: "Sub cent", Active: true}
	require.NoError(t, st.CreateSymbol(ctx, sym))

	require.NoError(t, st.UpsertQuote(ctx, &model.Quote{SymbolID: sym.ID, Price: d("10.1234"), UpdatedAt: time.Now().UTC()}))
	q, err := st.GetQuote(ctx, sym.ID)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(d("10.1234")), "quote %s", q.Price)

	season := &model.Season{Name: "pg", Active: true, StartAt: time.Now().UTC(), StartingBalance: d("10000")}
	require.NoError(t, st.CreateSeason(ctx, season))
	acct := &model.Account{UserID: tag, SeasonID: season.ID, CashBalance: d("10000"), InitialBalance: d("10000")}
	require.NoError(t, st.CreateAccount(ctx, acct))

	ok, err := st.AdjustCashBalance(ctx, acct.ID, d("-30.3702"))
	require.NoError(t, err)
	require.True(t, ok)
	trade := &model.Trade{
		ID: uuid.NewString(), AccountID: acct.ID, SymbolID: sym.ID,
		Type: model.TradeBuy, Quantity: 3, Price: d("10.1234"), TotalCost: d("30.3702"), CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertTrade(ctx, trade))
	require.NoError(t, st.SavePosition(ctx, &model.Position{
		AccountID: acct.ID, SymbolID: sym.ID, Quantity: 3,
		AveragePrice: d("10.1234"), TotalCost: d("30.3702"), UpdatedAt: time.Now().UTC(),
	}))

	got, err := st.GetAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(d("9969.6298")), "cash %s", got.CashBalance)

	trades, err := st.ListTrades(ctx, acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("10.1234")), "price %s", trades[0].Price)
	assert.True(t, trades[0].TotalCost.Equal(trades[0].Price.Mul(d("3"))), "total %s", trades[0].TotalCost)

	pos, err := st.GetPosition(ctx, acct.ID, sym.ID)
	require.NoError(t, err)
	assert.True(t, pos.TotalCost.Equal(trades[0].TotalCost))
}
