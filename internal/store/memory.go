package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Every call holds a single mutex, so WithTx serializes transactions and
// restores a snapshot when fn fails.
type MemoryStore struct {
	mu sync.Mutex
	st *memState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

type posKey struct{ account, symbol int64 }

// memState holds the data and implements Store without locking. The
// MemoryStore methods lock and delegate; WithTx hands fn the state directly.
type memState struct {
	nextID       int64
	markets      map[int64]model.Market
	symbols      map[int64]model.Symbol
	quotes       map[int64]model.Quote
	seasons      map[int64]model.Season
	balances     map[string]map[int64]decimal.Decimal
	accounts     map[int64]model.Account
	positions    map[posKey]model.Position
	trades       []model.Trade
	careers      map[int64]model.UserCareer
	achievements map[int64]model.Achievement
	earned       []model.UserAchievement
	leaderboard  map[int64][]model.LeaderboardEntry
}

func newMemState() *memState {
	return &memState{
		markets:      make(map[int64]model.Market),
		symbols:      make(map[int64]model.Symbol),
		quotes:       make(map[int64]model.Quote),
		seasons:      make(map[int64]model.Season),
		balances:     make(map[string]map[int64]decimal.Decimal),
		accounts:     make(map[int64]model.Account),
		positions:    make(map[posKey]model.Position),
		careers:      make(map[int64]model.UserCareer),
		achievements: make(map[int64]model.Achievement),
		leaderboard:  make(map[int64][]model.LeaderboardEntry),
	}
}

// clone copies every container. Stored values are structs, so a shallow
// copy of each map is enough.
func (m *memState) clone() *memState {
	c := &memState{
		nextID:       m.nextID,
		markets:      maps.Clone(m.markets),
		symbols:      maps.Clone(m.symbols),
		quotes:       maps.Clone(m.quotes),
		seasons:      maps.Clone(m.seasons),
		balances:     make(map[string]map[int64]decimal.Decimal, len(m.balances)),
		accounts:     maps.Clone(m.accounts),
		positions:    maps.Clone(m.positions),
		trades:       slices.Clone(m.trades),
		careers:      maps.Clone(m.careers),
		achievements: maps.Clone(m.achievements),
		earned:       slices.Clone(m.earned),
		leaderboard:  maps.Clone(m.leaderboard),
	}
	for field, users := range m.balances {
		c.balances[field] = maps.Clone(users)
	}
	return c
}

func (m *memState) id() int64 {
	m.nextID++
	return m.nextID
}

// --- MemoryStore: lock and delegate ---

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(s.st); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) CreateMarket(ctx context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateMarket(ctx, m)
}

func (s *MemoryStore) GetMarket(ctx context.Context, id int64) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetMarket(ctx, id)
}

func (s *MemoryStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListMarkets(ctx)
}

func (s *MemoryStore) CreateSymbol(ctx context.Context, sym *model.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateSymbol(ctx, sym)
}

func (s *MemoryStore) GetSymbol(ctx context.Context, id int64) (*model.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetSymbol(ctx, id)
}

func (s *MemoryStore) GetSymbolByTicker(ctx context.Context, marketID int64, ticker string) (*model.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetSymbolByTicker(ctx, marketID, ticker)
}

func (s *MemoryStore) ListActiveSymbols(ctx context.Context) ([]model.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListActiveSymbols(ctx)
}

func (s *MemoryStore) GetQuote(ctx context.Context, symbolID int64) (*model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetQuote(ctx, symbolID)
}

func (s *MemoryStore) UpsertQuote(ctx context.Context, q *model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpsertQuote(ctx, q)
}

func (s *MemoryStore) CreateSeason(ctx context.Context, season *model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateSeason(ctx, season)
}

func (s *MemoryStore) GetSeason(ctx context.Context, id int64) (*model.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetSeason(ctx, id)
}

func (s *MemoryStore) GetActiveSeason(ctx context.Context) (*model.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetActiveSeason(ctx)
}

func (s *MemoryStore) GetUserBalance(ctx context.Context, userID int64, field string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetUserBalance(ctx, userID, field)
}

func (s *MemoryStore) SetUserBalance(ctx context.Context, userID int64, field string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SetUserBalance(ctx, userID, field, amount)
}

func (s *MemoryStore) AdjustUserBalance(ctx context.Context, userID int64, field string, delta decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.AdjustUserBalance(ctx, userID, field, delta)
}

func (s *MemoryStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateAccount(ctx, acct)
}

func (s *MemoryStore) GetAccount(ctx context.Context, userID, seasonID int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetAccount(ctx, userID, seasonID)
}

func (s *MemoryStore) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetAccountByID(ctx, id)
}

func (s *MemoryStore) ListAccountsBySeason(ctx context.Context, seasonID int64) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListAccountsBySeason(ctx, seasonID)
}

func (s *MemoryStore) ListAccountIDsWithTrades(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListAccountIDsWithTrades(ctx)
}

func (s *MemoryStore) AdjustCashBalance(ctx context.Context, accountID int64, delta decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.AdjustCashBalance(ctx, accountID, delta)
}

func (s *MemoryStore) UpdateAccountValuation(ctx context.Context, accountID int64, cash, portfolio, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateAccountValuation(ctx, accountID, cash, portfolio, total)
}

func (s *MemoryStore) AddAccountXP(ctx context.Context, accountID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.AddAccountXP(ctx, accountID, delta)
}

func (s *MemoryStore) SetAccountRank(ctx context.Context, accountID int64, rank string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SetAccountRank(ctx, accountID, rank)
}

func (s *MemoryStore) GetPosition(ctx context.Context, accountID, symbolID int64) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetPosition(ctx, accountID, symbolID)
}

func (s *MemoryStore) ListPositions(ctx context.Context, accountID int64) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListPositions(ctx, accountID)
}

func (s *MemoryStore) SavePosition(ctx context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SavePosition(ctx, p)
}

func (s *MemoryStore) DeletePosition(ctx context.Context, accountID, symbolID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeletePosition(ctx, accountID, symbolID)
}

func (s *MemoryStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertTrade(ctx, t)
}

func (s *MemoryStore) ListTrades(ctx context.Context, accountID int64, limit int) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListTrades(ctx, accountID, limit)
}

func (s *MemoryStore) CountTrades(ctx context.Context, accountID int64, f TradeFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CountTrades(ctx, accountID, f)
}

func (s *MemoryStore) CountTradedMarkets(ctx context.Context, accountID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CountTradedMarkets(ctx, accountID)
}

func (s *MemoryStore) GetCareer(ctx context.Context, userID int64) (*model.UserCareer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetCareer(ctx, userID)
}

func (s *MemoryStore) EnsureCareer(ctx context.Context, userID int64, rank string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.EnsureCareer(ctx, userID, rank)
}

func (s *MemoryStore) IncrementCareer(ctx context.Context, userID int64, d CareerDelta) (*model.UserCareer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IncrementCareer(ctx, userID, d)
}

func (s *MemoryStore) SetCareerRank(ctx context.Context, userID int64, rank string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SetCareerRank(ctx, userID, rank)
}

func (s *MemoryStore) ListTopCareers(ctx context.Context, limit int) ([]model.UserCareer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListTopCareers(ctx, limit)
}

func (s *MemoryStore) CountCareersAbove(ctx context.Context, xp int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CountCareersAbove(ctx, xp)
}

func (s *MemoryStore) SaveAchievement(ctx context.Context, a *model.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SaveAchievement(ctx, a)
}

func (s *MemoryStore) GetAchievementByKey(ctx context.Context, key string) (*model.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetAchievementByKey(ctx, key)
}

func (s *MemoryStore) ListActiveAchievements(ctx context.Context) ([]model.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListActiveAchievements(ctx)
}

func (s *MemoryStore) InsertUserAchievement(ctx context.Context, ua *model.UserAchievement, repeatable bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertUserAchievement(ctx, ua, repeatable)
}

func (s *MemoryStore) ListUserAchievements(ctx context.Context, userID, seasonID int64) ([]model.UserAchievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListUserAchievements(ctx, userID, seasonID)
}

func (s *MemoryStore) ReplaceLeaderboard(ctx context.Context, seasonID int64, entries []model.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ReplaceLeaderboard(ctx, seasonID, entries)
}

func (s *MemoryStore) ListLeaderboard(ctx context.Context, seasonID int64, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListLeaderboard(ctx, seasonID, limit)
}

func (s *MemoryStore) GetLeaderboardEntry(ctx context.Context, seasonID, userID int64) (*model.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetLeaderboardEntry(ctx, seasonID, userID)
}

// --- memState: unlocked implementation ---

// WithTx inside a transaction runs fn in the same transaction.
func (m *memState) WithTx(_ context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *memState) CreateMarket(_ context.Context, mk *model.Market) error {
	for _, existing := range m.markets {
		if existing.Code == mk.Code {
			return fmt.Errorf("market %s: %w", mk.Code, ErrConflict)
		}
	}
	mk.ID = m.id()
	// Store a copy to avoid external mutation.
	m.markets[mk.ID] = *mk
	return nil
}

func (m *memState) GetMarket(_ context.Context, id int64) (*model.Market, error) {
	mk, ok := m.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	return &mk, nil
}

func (m *memState) ListMarkets(_ context.Context) ([]model.Market, error) {
	markets := make([]model.Market, 0, len(m.markets))
	for _, mk := range m.markets {
		markets = append(markets, mk)
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].DisplayOrder != markets[j].DisplayOrder {
			return markets[i].DisplayOrder < markets[j].DisplayOrder
		}
		return markets[i].ID < markets[j].ID
	})
	return markets, nil
}

func (m *memState) CreateSymbol(_ context.Context, sym *model.Symbol) error {
	if _, ok := m.markets[sym.MarketID]; !ok {
		return fmt.Errorf("market %d: %w", sym.MarketID, ErrNotFound)
	}
	for _, existing := range m.symbols {
		if existing.MarketID == sym.MarketID && existing.Ticker == sym.Ticker {
			return fmt.Errorf("symbol %s: %w", sym.Ticker, ErrConflict)
		}
	}
	sym.ID = m.id()
	m.symbols[sym.ID] = *sym
	return nil
}

func (m *memState) GetSymbol(_ context.Context, id int64) (*model.Symbol, error) {
	sym, ok := m.symbols[id]
	if !ok {
		return nil, fmt.Errorf("symbol %d: %w", id, ErrNotFound)
	}
	return &sym, nil
}

func (m *memState) GetSymbolByTicker(_ context.Context, marketID int64, ticker string) (*model.Symbol, error) {
	for _, sym := range m.symbols {
		if sym.MarketID == marketID && sym.Ticker == ticker {
			return &sym, nil
		}
	}
	return nil, fmt.Errorf("symbol %s: %w", ticker, ErrNotFound)
}

func (m *memState) ListActiveSymbols(_ context.Context) ([]model.Symbol, error) {
	var out []model.Symbol
	for _, sym := range m.symbols {
		if sym.Active {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memState) GetQuote(_ context.Context, symbolID int64) (*model.Quote, error) {
	q, ok := m.quotes[symbolID]
	if !ok {
		return nil, fmt.Errorf("quote for symbol %d: %w", symbolID, ErrNotFound)
	}
	return &q, nil
}

func (m *memState) UpsertQuote(_ context.Context, q *model.Quote) error {
	if _, ok := m.symbols[q.SymbolID]; !ok {
		return fmt.Errorf("symbol %d: %w", q.SymbolID, ErrNotFound)
	}
	m.quotes[q.SymbolID] = *q
	return nil
}

func (m *memState) CreateSeason(_ context.Context, season *model.Season) error {
	season.ID = m.id()
	m.seasons[season.ID] = *season
	return nil
}

func (m *memState) GetSeason(_ context.Context, id int64) (*model.Season, error) {
	season, ok := m.seasons[id]
	if !ok {
		return nil, fmt.Errorf("season %d: %w", id, ErrNotFound)
	}
	return &season, nil
}

func (m *memState) GetActiveSeason(_ context.Context) (*model.Season, error) {
	var best *model.Season
	for _, season := range m.seasons {
		if season.Active && (best == nil || season.ID > best.ID) {
			s := season
			best = &s
		}
	}
	if best == nil {
		return nil, fmt.Errorf("active season: %w", ErrNotFound)
	}
	return best, nil
}

func (m *memState) GetUserBalance(_ context.Context, userID int64, field string) (decimal.Decimal, error) {
	bal, ok := m.balances[field][userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return bal, nil
}

func (m *memState) SetUserBalance(_ context.Context, userID int64, field string, amount decimal.Decimal) error {
	users, ok := m.balances[field]
	if !ok {
		users = make(map[int64]decimal.Decimal)
		m.balances[field] = users
	}
	users[userID] = amount
	return nil
}

func (m *memState) AdjustUserBalance(_ context.Context, userID int64, field string, delta decimal.Decimal) (bool, error) {
	bal, ok := m.balances[field][userID]
	if !ok {
		return false, nil
	}
	next := bal.Add(delta)
	if next.IsNegative() {
		return false, nil
	}
	m.balances[field][userID] = next
	return true, nil
}

func (m *memState) CreateAccount(_ context.Context, acct *model.Account) error {
	for _, existing := range m.accounts {
		if existing.UserID == acct.UserID && existing.SeasonID == acct.SeasonID {
			return fmt.Errorf("account for user %d season %d: %w", acct.UserID, acct.SeasonID, ErrConflict)
		}
	}
	acct.ID = m.id()
	m.accounts[acct.ID] = *acct
	return nil
}

func (m *memState) GetAccount(_ context.Context, userID, seasonID int64) (*model.Account, error) {
	for _, acct := range m.accounts {
		if acct.UserID == userID && acct.SeasonID == seasonID {
			return &acct, nil
		}
	}
	return nil, fmt.Errorf("account for user %d season %d: %w", userID, seasonID, ErrNotFound)
}

func (m *memState) GetAccountByID(_ context.Context, id int64) (*model.Account, error) {
	acct, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return &acct, nil
}

func (m *memState) ListAccountsBySeason(_ context.Context, seasonID int64) ([]model.Account, error) {
	var out []model.Account
	for _, acct := range m.accounts {
		if acct.SeasonID == seasonID {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalValue.Cmp(out[j].TotalValue); c != 0 {
			return c > 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memState) ListAccountIDsWithTrades(_ context.Context) ([]int64, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, t := range m.trades {
		if !seen[t.AccountID] {
			seen[t.AccountID] = true
			ids = append(ids, t.AccountID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *memState) AdjustCashBalance(_ context.Context, accountID int64, delta decimal.Decimal) (bool, error) {
	acct, ok := m.accounts[accountID]
	if !ok {
		return false, nil
	}
	next := acct.CashBalance.Add(delta)
	if next.IsNegative() {
		return false, nil
	}
	acct.CashBalance = next
	m.accounts[accountID] = acct
	return true, nil
}

func (m *memState) UpdateAccountValuation(_ context.Context, accountID int64, cash, portfolio, total decimal.Decimal) error {
	acct, ok := m.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	acct.CashBalance = cash
	acct.PortfolioValue = portfolio
	acct.TotalValue = total
	m.accounts[accountID] = acct
	return nil
}

func (m *memState) AddAccountXP(_ context.Context, accountID, delta int64) (int64, error) {
	acct, ok := m.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	acct.SeasonXP += delta
	m.accounts[accountID] = acct
	return acct.SeasonXP, nil
}

func (m *memState) SetAccountRank(_ context.Context, accountID int64, rank string) error {
	acct, ok := m.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	acct.SeasonRank = rank
	m.accounts[accountID] = acct
	return nil
}

func (m *memState) GetPosition(_ context.Context, accountID, symbolID int64) (*model.Position, error) {
	p, ok := m.positions[posKey{accountID, symbolID}]
	if !ok {
		return nil, fmt.Errorf("position %d/%d: %w", accountID, symbolID, ErrNotFound)
	}
	return &p, nil
}

func (m *memState) ListPositions(_ context.Context, accountID int64) ([]model.Position, error) {
	var out []model.Position
	for k, p := range m.positions {
		if k.account == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SymbolID < out[j].SymbolID })
	return out, nil
}

func (m *memState) SavePosition(_ context.Context, p *model.Position) error {
	if p.Quantity <= 0 {
		return fmt.Errorf("position %d/%d: quantity %d must be positive", p.AccountID, p.SymbolID, p.Quantity)
	}
	k := posKey{p.AccountID, p.SymbolID}
	if existing, ok := m.positions[k]; ok {
		p.ID = existing.ID
	} else {
		p.ID = m.id()
	}
	m.positions[k] = *p
	return nil
}

func (m *memState) DeletePosition(_ context.Context, accountID, symbolID int64) error {
	delete(m.positions, posKey{accountID, symbolID})
	return nil
}

func (m *memState) InsertTrade(_ context.Context, t *model.Trade) error {
	m.trades = append(m.trades, *t)
	return nil
}

func (m *memState) ListTrades(_ context.Context, accountID int64, limit int) ([]model.Trade, error) {
	var out []model.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].AccountID != accountID {
			continue
		}
		out = append(out, m.trades[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memState) CountTrades(_ context.Context, accountID int64, f TradeFilter) (int64, error) {
	var n int64
	for _, t := range m.trades {
		if t.AccountID != accountID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if !f.Since.IsZero() && t.CreatedAt.Before(f.Since) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *memState) CountTradedMarkets(_ context.Context, accountID int64) (int64, error) {
	markets := make(map[int64]bool)
	for _, t := range m.trades {
		if t.AccountID != accountID {
			continue
		}
		if sym, ok := m.symbols[t.SymbolID]; ok {
			markets[sym.MarketID] = true
		}
	}
	return int64(len(markets)), nil
}

func (m *memState) GetCareer(_ context.Context, userID int64) (*model.UserCareer, error) {
	c, ok := m.careers[userID]
	if !ok {
		return nil, fmt.Errorf("career %d: %w", userID, ErrNotFound)
	}
	return &c, nil
}

func (m *memState) EnsureCareer(_ context.Context, userID int64, rank string) (bool, error) {
	if _, ok := m.careers[userID]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	m.careers[userID] = model.UserCareer{UserID: userID, CareerRank: rank, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (m *memState) IncrementCareer(_ context.Context, userID int64, d CareerDelta) (*model.UserCareer, error) {
	c, ok := m.careers[userID]
	if !ok {
		return nil, fmt.Errorf("career %d: %w", userID, ErrNotFound)
	}
	c.LifetimeXP += d.XP
	c.AchievementsEarned += d.Achievements
	c.SeasonsParticipated += d.Seasons
	c.TotalTrades += d.Trades
	c.UpdatedAt = time.Now().UTC()
	m.careers[userID] = c
	return &c, nil
}

func (m *memState) SetCareerRank(_ context.Context, userID int64, rank string) error {
	c, ok := m.careers[userID]
	if !ok {
		return fmt.Errorf("career %d: %w", userID, ErrNotFound)
	}
	c.CareerRank = rank
	m.careers[userID] = c
	return nil
}

func (m *memState) ListTopCareers(_ context.Context, limit int) ([]model.UserCareer, error) {
	out := make([]model.UserCareer, 0, len(m.careers))
	for _, c := range m.careers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LifetimeXP != out[j].LifetimeXP {
			return out[i].LifetimeXP > out[j].LifetimeXP
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memState) CountCareersAbove(_ context.Context, xp int64) (int64, error) {
	var n int64
	for _, c := range m.careers {
		if c.LifetimeXP > xp {
			n++
		}
	}
	return n, nil
}

func (m *memState) SaveAchievement(_ context.Context, a *model.Achievement) error {
	for id, existing := range m.achievements {
		if existing.Key == a.Key {
			a.ID = id
			m.achievements[id] = *a
			return nil
		}
	}
	a.ID = m.id()
	m.achievements[a.ID] = *a
	return nil
}

func (m *memState) GetAchievementByKey(_ context.Context, key string) (*model.Achievement, error) {
	for _, a := range m.achievements {
		if a.Key == key {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("achievement %s: %w", key, ErrNotFound)
}

func (m *memState) ListActiveAchievements(_ context.Context) ([]model.Achievement, error) {
	var out []model.Achievement
	for _, a := range m.achievements {
		if a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memState) InsertUserAchievement(_ context.Context, ua *model.UserAchievement, repeatable bool) (bool, error) {
	if !repeatable {
		for _, e := range m.earned {
			if e.UserID == ua.UserID && e.AchievementID == ua.AchievementID && e.SeasonID == ua.SeasonID {
				return false, nil
			}
		}
	}
	m.earned = append(m.earned, *ua)
	return true, nil
}

func (m *memState) ListUserAchievements(_ context.Context, userID, seasonID int64) ([]model.UserAchievement, error) {
	var out []model.UserAchievement
	for _, e := range m.earned {
		if e.UserID == userID && e.SeasonID == seasonID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memState) ReplaceLeaderboard(_ context.Context, seasonID int64, entries []model.LeaderboardEntry) error {
	m.leaderboard[seasonID] = slices.Clone(entries)
	return nil
}

func (m *memState) ListLeaderboard(_ context.Context, seasonID int64, limit int) ([]model.LeaderboardEntry, error) {
	entries := m.leaderboard[seasonID]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return slices.Clone(entries), nil
}

func (m *memState) GetLeaderboardEntry(_ context.Context, seasonID, userID int64) (*model.LeaderboardEntry, error) {
	for _, e := range m.leaderboard[seasonID] {
		if e.UserID == userID {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("leaderboard entry for user %d: %w", userID, ErrNotFound)
}
