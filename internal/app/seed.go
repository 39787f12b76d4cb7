package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stockleague/engine/internal/achievement"
	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/store"
)

var weekdays = []int{1, 2, 3, 4, 5}

// Listing is a seeded market with its symbols.
type Listing struct {
	Market  model.Market
	Symbols []model.Symbol
}

// DefaultListings are the markets a fresh install starts with.
var DefaultListings = []Listing{
	{
		Market: model.Market{
			Code: "NYSE", Name: "New York Stock Exchange", CountryCode: "US",
			Timezone: "America/New_York", OpenTime: "09:30", CloseTime: "16:00",
			PreMarketOpen: "04:00", AfterHoursClose: "20:00",
			TradingDays: weekdays, Active: true, DisplayOrder: 10,
		},
		Symbols: []model.Symbol{
			{Ticker: "AAPL", Name: "Apple Inc.", Featured: true},
			{Ticker: "MSFT", Name: "Microsoft Corporation", Featured: true},
			{Ticker: "GOOGL", Name: "Alphabet Inc. Class A"},
			{Ticker: "AMZN", Name: "Amazon.com Inc."},
			{Ticker: "TSLA", Name: "Tesla Inc."},
			{Ticker: "META", Name: "Meta Platforms Inc."},
			{Ticker: "NVDA", Name: "NVIDIA Corporation"},
			{Ticker: "JPM", Name: "JPMorgan Chase & Co."},
			{Ticker: "V", Name: "Visa Inc."},
			{Ticker: "WMT", Name: "Walmart Inc."},
			{Ticker: "DIS", Name: "Walt Disney Co."},
			{Ticker: "NFLX", Name: "Netflix Inc."},
		},
	},
	{
		Market: model.Market{
			Code: "TSE", Name: "Tokyo Stock Exchange", CountryCode: "JP",
			Timezone: "Asia/Tokyo", OpenTime: "09:00", CloseTime: "15:00",
			TradingDays: weekdays, Active: true, DisplayOrder: 20,
		},
		Symbols: []model.Symbol{
			{Ticker: "7203.T", Name: "Toyota Motor Corporation", Featured: true},
			{Ticker: "6758.T", Name: "Sony Group Corporation"},
			{Ticker: "9984.T", Name: "SoftBank Group Corp."},
			{Ticker: "7974.T", Name: "Nintendo Co., Ltd."},
			{Ticker: "6861.T", Name: "Keyence Corporation"},
			{Ticker: "8306.T", Name: "Mitsubishi UFJ Financial Group"},
			{Ticker: "9983.T", Name: "Fast Retailing Co., Ltd."},
			{Ticker: "6501.T", Name: "Hitachi, Ltd."},
		},
	},
	{
		Market: model.Market{
			Code: "LSE", Name: "London Stock Exchange", CountryCode: "GB",
			Timezone: "Europe/London", OpenTime: "08:00", CloseTime: "16:30",
			TradingDays: weekdays, Active: true, DisplayOrder: 30,
		},
		Symbols: []model.Symbol{
			{Ticker: "TSCO.L", Name: "Tesco PLC", Featured: true},
			{Ticker: "BP.L", Name: "BP p.l.c."},
			{Ticker: "HSBA.L", Name: "HSBC Holdings plc"},
			{Ticker: "AZN.L", Name: "AstraZeneca PLC"},
			{Ticker: "GSK.L", Name: "GSK plc"},
			{Ticker: "ULVR.L", Name: "Unilever PLC"},
			{Ticker: "SHEL.L", Name: "Shell plc"},
			{Ticker: "BARC.L", Name: "Barclays PLC"},
		},
	},
}

// SeedResult counts what Seed created.
type SeedResult struct {
	Markets      int
	Symbols      int
	Achievements int
}

// Seed creates the default listings, the achievement catalog and the
// default season. Existing markets and symbols are left untouched, so it
// can run repeatedly.
func (a *App) Seed(ctx context.Context) (SeedResult, error) {
	res, err := SeedListings(ctx, a.Store, DefaultListings)
	if err != nil {
		return res, err
	}
	if res.Achievements, err = achievement.SeedCatalog(ctx, a.Store); err != nil {
		return res, err
	}
	if _, err := a.Ledger.GetOrCreateDefaultSeason(ctx); err != nil {
		return res, err
	}
	slog.Info("seed complete", "markets", res.Markets, "symbols", res.Symbols, "achievements", res.Achievements)
	return res, nil
}

// SeedListings inserts listings that are not present yet, matching markets
// by code and symbols by ticker.
func SeedListings(ctx context.Context, st store.Store, listings []Listing) (SeedResult, error) {
	var res SeedResult
	existing, err := st.ListMarkets(ctx)
	if err != nil {
		return res, fmt.Errorf("list markets: %w", err)
	}
	byCode := make(map[string]int64, len(existing))
	for _, m := range existing {
		byCode[m.Code] = m.ID
	}

	for _, l := range listings {
		marketID, ok := byCode[l.Market.Code]
		if !ok {
			m := l.Market
			if err := st.CreateMarket(ctx, &m); err != nil {
				return res, fmt.Errorf("create market %s: %w", m.Code, err)
			}
			marketID = m.ID
			res.Markets++
		}
		for _, sym := range l.Symbols {
			_, err := st.GetSymbolByTicker(ctx, marketID, sym.Ticker)
			if err == nil {
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return res, err
			}
			sym.MarketID = marketID
			sym.Active = true
			if err := st.CreateSymbol(ctx, &sym); err != nil {
				return res, fmt.Errorf("create symbol %s: %w", sym.Ticker, err)
			}
			res.Symbols++
		}
	}
	return res, nil
}
