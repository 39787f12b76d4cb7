// Package quote ingests prices from an external provider into the quote
// store. Malformed provider data is dropped as "no update this cycle";
// storage and transport failures are logged.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/metrics"
	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/notify"
	"github.com/stockleague/engine/internal/store"
)

// BatchSize is the number of tickers requested per provider call.
const BatchSize = 50

var (
	// ErrInvalidQuote marks provider data that cannot be stored.
	ErrInvalidQuote = errors.New("invalid quote")

	// DefaultMaxPrice caps stored prices.
	DefaultMaxPrice = decimal.RequireFromString("99999999.9999")

	maxChangeAmount  = decimal.RequireFromString("9999999999999.99")
	maxChangePercent = decimal.RequireFromString("999999.9999")
)

// Raw is one quote as the provider reports it. Numbers arrive as strings
// so a non-numeric value is a data error rather than a decode failure.
type Raw struct {
	Symbol        string    `json:"symbol"`
	Price         string    `json:"price"`
	Change        string    `json:"change"`
	ChangePercent string    `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// Source fetches quotes for a batch of tickers, keyed by ticker. Missing
// tickers are simply absent from the result.
type Source interface {
	Fetch(ctx context.Context, tickers []string) (map[string]Raw, error)
}

// Broadcaster announces a completed refresh to every client.
type Broadcaster interface {
	Broadcast(kind string, payload any)
}

// Normalize validates r and clamps it into storable bounds. Price must be
// a non-negative number; change fields that do not parse count as zero.
func Normalize(symbolID int64, r Raw, maxPrice decimal.Decimal) (*model.Quote, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: price %q", ErrInvalidQuote, r.Price)
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: negative price %s", ErrInvalidQuote, price)
	}
	if price.GreaterThan(maxPrice) {
		price = maxPrice
	}

	q := &model.Quote{
		SymbolID:      symbolID,
		Price:         price.Round(model.PriceScale),
		ChangeAmount:  clamp(parseOrZero(r.Change), maxChangeAmount).Round(2),
		ChangePercent: clamp(parseOrZero(r.ChangePercent), maxChangePercent).Round(4),
		Volume:        max(r.Volume, 0),
		UpdatedAt:     r.Timestamp.UTC(),
	}
	if r.Timestamp.IsZero() {
		q.UpdatedAt = time.Now().UTC()
	}
	return q, nil
}

func parseOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func clamp(v, limit decimal.Decimal) decimal.Decimal {
	if v.GreaterThan(limit) {
		return limit
	}
	if v.LessThan(limit.Neg()) {
		return limit.Neg()
	}
	return v
}

// Stats summarizes one refresh.
type Stats struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Updater refreshes the quote store.
type Updater struct {
	store       store.Store
	source      Source
	maxPrice    decimal.Decimal
	broadcaster Broadcaster
}

// NewUpdater creates an updater. source may be nil when quotes are only
// pushed in; a non-positive maxPrice selects DefaultMaxPrice.
func NewUpdater(st store.Store, source Source, maxPrice decimal.Decimal, b Broadcaster) *Updater {
	if !maxPrice.IsPositive() {
		maxPrice = DefaultMaxPrice
	}
	return &Updater{store: st, source: source, maxPrice: maxPrice, broadcaster: b}
}

// Ingest normalizes and stores one quote. It returns ErrInvalidQuote for
// bad data and the storage error otherwise.
func (u *Updater) Ingest(ctx context.Context, symbolID int64, r Raw) error {
	q, err := Normalize(symbolID, r, u.maxPrice)
	if err != nil {
		metrics.QuoteUpdates.WithLabelValues("failed").Inc()
		return err
	}
	if err := u.store.UpsertQuote(ctx, q); err != nil {
		metrics.QuoteUpdates.WithLabelValues("failed").Inc()
		slog.Error("quote store failed", "symbol", symbolID, "err", err)
		return fmt.Errorf("store quote for symbol %d: %w", symbolID, err)
	}
	metrics.QuoteUpdates.WithLabelValues("updated").Inc()
	return nil
}

// UpdateAll refreshes every active symbol in batches of BatchSize.
func (u *Updater) UpdateAll(ctx context.Context) (Stats, error) {
	var stats Stats
	if u.source == nil {
		return stats, errors.New("no quote source configured")
	}
	symbols, err := u.store.ListActiveSymbols(ctx)
	if err != nil {
		return stats, fmt.Errorf("list symbols: %w", err)
	}
	stats.Total = len(symbols)

	for batch := range slices.Chunk(symbols, BatchSize) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		tickers := make([]string, len(batch))
		for i, s := range batch {
			tickers[i] = s.Ticker
		}
		fetched, err := u.source.Fetch(ctx, tickers)
		if err != nil {
			slog.Error("quote fetch failed", "batch", len(batch), "err", err)
			stats.Failed += len(batch)
			metrics.QuoteUpdates.WithLabelValues("failed").Add(float64(len(batch)))
			continue
		}
		for _, s := range batch {
			r, ok := fetched[s.Ticker]
			if !ok {
				stats.Failed++
				metrics.QuoteUpdates.WithLabelValues("failed").Inc()
				continue
			}
			if err := u.Ingest(ctx, s.ID, r); err != nil {
				stats.Failed++
				continue
			}
			stats.Updated++
		}
	}

	u.report(stats)
	return stats, nil
}

func (u *Updater) report(stats Stats) {
	if stats.Total > 0 && stats.Failed*10 > stats.Total {
		slog.Error("quote refresh mostly failed", "total", stats.Total, "updated", stats.Updated, "failed", stats.Failed)
	} else {
		slog.Info("quote refresh complete", "total", stats.Total, "updated", stats.Updated, "failed", stats.Failed)
	}
	if u.broadcaster != nil && stats.Updated > 0 {
		u.broadcaster.Broadcast(notify.KindQuotesUpdated, stats)
	}
}
