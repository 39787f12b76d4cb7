package quote_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/quote"
	"github.com/stockleague/engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNormalizeClamps(t *testing.T) {
	q, err := quote.Normalize(1, quote.Raw{
		Price:         "123456789012.5",
		Change:        "-99999999999999999",
		ChangePercent: "1234567.5",
		Volume:        -5,
	}, d("1000"))
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(d("1000")))
	assert.True(t, q.ChangeAmount.Equal(d("-9999999999999.99")))
	assert.True(t, q.ChangePercent.Equal(d("999999.9999")))
	assert.Zero(t, q.Volume)
	assert.False(t, q.UpdatedAt.IsZero())
}

func TestNormalizeKeepsPriceScale(t *testing.T) {
	q, err := quote.Normalize(1, quote.Raw{Price: "10.12344"}, quote.DefaultMaxPrice)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(d("10.1234")), q.Price.String())
	assert.Equal(t, int32(-model.PriceScale), q.Price.Exponent())
}

func TestNormalizeRejects(t *testing.T) {
	for _, price := range []string{"", "n/a", "-1"} {
		_, err := quote.Normalize(1, quote.Raw{Price: price}, quote.DefaultMaxPrice)
		assert.True(t, errors.Is(err, quote.ErrInvalidQuote), price)
	}

	// Bad change fields do not block the price.
	q, err := quote.Normalize(1, quote.Raw{Price: "10", Change: "??"}, quote.DefaultMaxPrice)
	require.NoError(t, err)
	assert.True(t, q.ChangeAmount.IsZero())
}

type fakeSource struct {
	calls  [][]string
	quotes map[string]quote.Raw
	err    error
}

func (f *fakeSource) Fetch(_ context.Context, tickers []string) (map[string]quote.Raw, error) {
	f.calls = append(f.calls, tickers)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]quote.Raw)
	for _, tk := range tickers {
		if r, ok := f.quotes[tk]; ok {
			out[tk] = r
		}
	}
	return out, nil
}

type countingBroadcaster struct{ kinds []string }

func (c *countingBroadcaster) Broadcast(kind string, _ any) { c.kinds = append(c.kinds, kind) }

func seedSymbols(t *testing.T, st store.Store, n int) []model.Symbol {
	t.Helper()
	ctx := context.Background()
	m := &model.Market{Code: "NYSE", Name: "NYSE", Active: true}
	require.NoError(t, st.CreateMarket(ctx, m))
	out := make([]model.Symbol, n)
	for i := range out {
		out[i] = model.Symbol{MarketID: m.ID, Ticker: fmt.Sprintf("T%03d", i), Active: true}
		require.NoError(t, st.CreateSymbol(ctx, &out[i]))
	}
	return out
}

func TestUpdateAllBatches(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	symbols := seedSymbols(t, st, 120)

	src := &fakeSource{quotes: make(map[string]quote.Raw)}
	for i, s := range symbols {
		price := "10.5"
		if i%40 == 0 {
			price = "garbage"
		}
		if i == 119 {
			continue
		}
		src.quotes[s.Ticker] = quote.Raw{Symbol: s.Ticker, Price: price}
	}
	b := &countingBroadcaster{}
	u := quote.NewUpdater(st, src, decimal.Zero, b)

	stats, err := u.UpdateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, quote.Stats{Total: 120, Updated: 116, Failed: 4}, stats)
	require.Len(t, src.calls, 3)
	assert.Len(t, src.calls[0], 50)
	assert.Len(t, src.calls[2], 20)
	assert.Equal(t, []string{"quotes_updated"}, b.kinds)

	q, err := st.GetQuote(ctx, symbols[1].ID)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(d("10.5")))

	_, err = st.GetQuote(ctx, symbols[0].ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestUpdateAllSourceFailure(t *testing.T) {
	st := store.NewMemoryStore()
	seedSymbols(t, st, 3)
	u := quote.NewUpdater(st, &fakeSource{err: errors.New("timeout")}, decimal.Zero, nil)

	stats, err := u.UpdateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, quote.Stats{Total: 3, Failed: 3}, stats)
}

func TestUpdateAllWithoutSource(t *testing.T) {
	u := quote.NewUpdater(store.NewMemoryStore(), nil, decimal.Zero, nil)
	_, err := u.UpdateAll(context.Background())
	assert.Error(t, err)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AAPL,MSFT", r.URL.Query().Get("symbols"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]quote.Raw{
			{Symbol: "aapl", Price: "189.20", Change: "1.10", ChangePercent: "0.58", Volume: 1000},
		})
	}))
	defer srv.Close()

	got, err := quote.NewHTTPSource(srv.URL, "key").Fetch(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Contains(t, got, "AAPL")
	assert.Equal(t, "189.20", got["AAPL"].Price)
	assert.NotContains(t, got, "MSFT")
}

func TestHTTPSourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := quote.NewHTTPSource(srv.URL, "").Fetch(context.Background(), []string{"AAPL"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "429"))
}
