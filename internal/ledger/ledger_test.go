package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockleague/engine/internal/currency"
	"github.com/stockleague/engine/internal/ledger"
	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
	"github.com/stockleague/engine/internal/xp"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var now = time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)

func TestApplyBuyWeightedAverage(t *testing.T) {
	p := ledger.ApplyBuy(nil, 1, 2, 10, d("10"), now)
	p = ledger.ApplyBuy(&p, 1, 2, 10, d("20"), now)

	assert.EqualValues(t, 20, p.Quantity)
	assert.True(t, p.AveragePrice.Equal(d("15")), "avg %s", p.AveragePrice)
	assert.True(t, p.TotalCost.Equal(d("300")), "cost %s", p.TotalCost)
}

func TestApplySell(t *testing.T) {
	p := ledger.ApplyBuy(nil, 1, 2, 10, d("12.5"), now)

	rest, closed := ledger.ApplySell(p, 4, now)
	require.False(t, closed)
	assert.EqualValues(t, 6, rest.Quantity)
	assert.True(t, rest.AveragePrice.Equal(d("12.5")), "sale must not move the cost basis")
	assert.True(t, rest.TotalCost.Equal(d("75")))

	_, closed = ledger.ApplySell(rest, 6, now)
	assert.True(t, closed)
}

type env struct {
	st  *store.MemoryStore
	svc *ledger.Service
}

func newEnv(t *testing.T, cur currency.Provider) *env {
	t.Helper()
	st := store.NewMemoryStore()
	return &env{st: st, svc: ledger.NewService(st, cur, xp.Default(), d("10000"))}
}

func TestGetOrCreateDefaultSeason(t *testing.T) {
	e := newEnv(t, currency.Builtin{})
	ctx := context.Background()

	season, err := e.svc.GetOrCreateDefaultSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultSeasonName, season.Name)
	assert.True(t, season.StartingBalance.Equal(d("10000")))

	again, err := e.svc.GetOrCreateDefaultSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, season.ID, again.ID)
}

func TestGetOrCreateAccount(t *testing.T) {
	e := newEnv(t, currency.Builtin{})
	ctx := context.Background()
	season, err := e.svc.CreateSeason(ctx, "Spring", d("5000"))
	require.NoError(t, err)

	acct, err := e.svc.GetOrCreateAccount(ctx, 9, season.ID)
	require.NoError(t, err)
	assert.True(t, acct.CashBalance.Equal(d("5000")))
	assert.True(t, acct.InitialBalance.Equal(d("5000")))
	assert.True(t, acct.TotalValue.Equal(d("5000")))
	assert.Equal(t, "novice", acct.SeasonRank)

	again, err := e.svc.GetOrCreateAccount(ctx, 9, season.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, again.ID)

	career, err := e.st.GetCareer(ctx, 9)
	require.NoError(t, err)
	assert.EqualValues(t, 1, career.SeasonsParticipated, "reopening must not count twice")
}

func seedQuote(t *testing.T, st *store.MemoryStore, price string) *model.Symbol {
	t.Helper()
	ctx := context.Background()
	mk := &model.Market{Code: "M" + price}
	require.NoError(t, st.CreateMarket(ctx, mk))
	sym := &model.Symbol{MarketID: mk.ID, Ticker: "T" + price, Active: true}
	require.NoError(t, st.CreateSymbol(ctx, sym))
	if price != "" {
		require.NoError(t, st.UpsertQuote(ctx, &model.Quote{SymbolID: sym.ID, Price: d(price), UpdatedAt: now}))
	}
	return sym
}

func TestRecalculatePortfolioValue(t *testing.T) {
	e := newEnv(t, currency.Builtin{})
	ctx := context.Background()
	season, err := e.svc.CreateSeason(ctx, "S", d("1000"))
	require.NoError(t, err)
	acct, err := e.svc.GetOrCreateAccount(ctx, 1, season.ID)
	require.NoError(t, err)

	quoted := seedQuote(t, e.st, "25")
	unquoted := seedQuote(t, e.st, "")
	for _, sym := range []*model.Symbol{quoted, unquoted} {
		p := ledger.ApplyBuy(nil, acct.ID, sym.ID, 4, d("20"), now)
		require.NoError(t, e.st.SavePosition(ctx, &p))
	}

	got, err := e.svc.RecalculatePortfolioValue(ctx, acct)
	require.NoError(t, err)
	assert.True(t, got.PortfolioValue.Equal(d("100")), "unquoted symbols value at zero")
	assert.True(t, got.TotalValue.Equal(got.CashBalance.Add(got.PortfolioValue)))

	// Quote moves without a trade; the next revaluation picks it up.
	require.NoError(t, e.st.UpsertQuote(ctx, &model.Quote{SymbolID: quoted.ID, Price: d("30"), UpdatedAt: now}))
	got, err = e.svc.RecalculatePortfolioValue(ctx, acct)
	require.NoError(t, err)
	assert.True(t, got.TotalValue.Equal(d("1120")), "total %s", got.TotalValue)
}

func TestRecalculateUsesExternalCash(t *testing.T) {
	e := newEnv(t, currency.External{Field: "credits"})
	ctx := context.Background()
	require.NoError(t, e.st.SetUserBalance(ctx, 3, "credits", d("250")))
	season, err := e.svc.CreateSeason(ctx, "S", d("1000"))
	require.NoError(t, err)

	acct, err := e.svc.GetOrCreateAccount(ctx, 3, season.ID)
	require.NoError(t, err)
	assert.True(t, acct.TotalValue.Equal(d("250")), "total reflects the external balance")
	assert.True(t, acct.CashBalance.Equal(d("1000")), "stored cash is not mirrored for external balances")
}

func TestPortfolio(t *testing.T) {
	e := newEnv(t, currency.Builtin{})
	ctx := context.Background()
	season, err := e.svc.CreateSeason(ctx, "S", d("1000"))
	require.NoError(t, err)
	acct, err := e.svc.GetOrCreateAccount(ctx, 1, season.ID)
	require.NoError(t, err)

	sym := seedQuote(t, e.st, "30")
	p := ledger.ApplyBuy(nil, acct.ID, sym.ID, 10, d("20"), now)
	require.NoError(t, e.st.SavePosition(ctx, &p))
	_, err = e.st.AdjustCashBalance(ctx, acct.ID, d("-200"))
	require.NoError(t, err)

	pf, err := e.svc.Portfolio(ctx, acct)
	require.NoError(t, err)
	require.Len(t, pf.Holdings, 1)
	h := pf.Holdings[0]
	assert.Equal(t, sym.Ticker, h.Ticker)
	assert.True(t, h.CurrentValue.Equal(d("300")))
	assert.True(t, h.ProfitLoss.Equal(d("100")))
	assert.True(t, h.ProfitLossPercent.Equal(d("50")))
	assert.True(t, pf.Cash.Equal(d("800")))
	assert.True(t, pf.ProfitLoss.Equal(d("100")))
	assert.True(t, pf.ReturnPercent.Equal(d("10")))
}
