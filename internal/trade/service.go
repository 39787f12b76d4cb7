package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stockleague/engine/internal/achievement"
	"github.com/stockleague/engine/internal/calendar"
	"github.com/stockleague/engine/internal/currency"
	"github.com/stockleague/engine/internal/httpserver"
	"github.com/stockleague/engine/internal/i18n"
	"github.com/stockleague/engine/internal/leaderboard"
	"github.com/stockleague/engine/internal/ledger"
	"github.com/stockleague/engine/internal/model"
	"github.com/stockleague/engine/internal/notify"
	"github.com/stockleague/engine/internal/quote"
	"github.com/stockleague/engine/internal/store"
	"github.com/stockleague/engine/internal/ticker"
	"github.com/stockleague/engine/internal/xp"
)

// Broadcaster announces events to every connected client.
type Broadcaster interface {
	Broadcast(kind string, payload any)
}

// Deps are the collaborators behind the HTTP handlers. Broadcaster may be
// nil.
type Deps struct {
	Store        store.Store
	Ledger       *ledger.Service
	Executor     *Executor
	Achievements *achievement.Engine
	Leaderboard  *leaderboard.Builder
	Quotes       *quote.Updater
	Ranks        *xp.Calculator
	Broadcaster  Broadcaster
}

// Service serves the player API and the internal operator endpoints.
type Service struct {
	Deps
	now func() time.Time
}

// NewService creates the HTTP service.
func NewService(deps Deps) *Service {
	return &Service{Deps: deps, now: time.Now}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	SymbolID int64           `json:"symbol_id"`
	Type     model.TradeType `json:"type"`
	Quantity int64           `json:"quantity"`
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	Trade   model.Trade   `json:"trade"`
	Account model.Account `json:"account"`
	Display string        `json:"total_display"`
}

// MarketView is a market with its current trading state.
type MarketView struct {
	model.Market
	Status        calendar.Snapshot `json:"status"`
	StatusLabel   string            `json:"status_label"`
	OpensInLabel  string            `json:"opens_in_label,omitempty"`
	ClosesInLabel string            `json:"closes_in_label,omitempty"`
}

// QuoteView is a quote with chart and display helpers.
type QuoteView struct {
	Symbol         model.Symbol `json:"symbol"`
	Quote          *model.Quote `json:"quote"`
	PriceDisplay   string       `json:"price_display"`
	ChartSymbol    string       `json:"chart_symbol"`
	ChartSupported bool         `json:"chart_supported"`
}

// CareerView is a user's career with rank progress.
type CareerView struct {
	Career   model.UserCareer `json:"career"`
	Rank     xp.Info          `json:"rank"`
	Label    string           `json:"rank_label"`
	Position int64            `json:"position,omitempty"`
}

// PushQuote is one entry of POST /internal/quotes.
type PushQuote struct {
	SymbolID int64 `json:"symbol_id"`
	quote.Raw
}

// --- Player handlers ---

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.Store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	loc := localizer(r)
	now := s.now()
	views := make([]MarketView, 0, len(markets))
	for i := range markets {
		views = append(views, s.marketView(&markets[i], now, loc))
	}
	writeJSON(w, http.StatusOK, views)
}

// MarketStatus handles GET /api/v1/markets/{marketID}/status
func (s *Service) MarketStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "marketID")
	if !ok {
		return
	}
	market, err := s.Store.GetMarket(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "market not found")
		return
	}
	writeJSON(w, http.StatusOK, s.marketView(market, s.now(), localizer(r)))
}

func (s *Service) marketView(m *model.Market, now time.Time, loc *i18n.Localizer) MarketView {
	snap := calendar.Describe(m, now)
	v := MarketView{Market: *m, Status: snap, StatusLabel: loc.Phrase("market_status." + string(snap.Status))}
	if snap.OpensIn != nil {
		v.OpensInLabel = calendar.FormatDuration(*snap.OpensIn)
	}
	if snap.ClosesIn != nil {
		v.ClosesInLabel = calendar.FormatDuration(*snap.ClosesIn)
	}
	return v
}

// GetQuote handles GET /api/v1/symbols/{symbolID}/quote
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "symbolID")
	if !ok {
		return
	}
	ctx := r.Context()
	sym, err := s.Store.GetSymbol(ctx, id)
	if err != nil {
		writeStoreError(w, err, "symbol not found")
		return
	}
	q, err := s.Store.GetQuote(ctx, id)
	if err != nil {
		writeStoreError(w, err, "no quote for symbol")
		return
	}
	v := QuoteView{
		Symbol:         *sym,
		Quote:          q,
		PriceDisplay:   currency.Format(q.Price, currency.DefaultCode),
		ChartSymbol:    sym.Ticker,
		ChartSupported: true,
	}
	if tk, err := ticker.Parse(sym.Ticker); err == nil {
		v.ChartSymbol, v.ChartSupported = tk.ChartSymbol(), tk.ChartSupported()
	}
	writeJSON(w, http.StatusOK, v)
}

// ExecuteTrade handles POST /api/v1/trade
// The order fills at the symbol's current quote.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Type.Valid() {
		writeError(w, "type must be buy or sell", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		writeError(w, "quantity must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	acct, err := s.account(r, userID)
	if err != nil {
		writeTradeError(w, r, err)
		return
	}

	q, err := s.Store.GetQuote(ctx, req.SymbolID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no quote for symbol", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeTradeError(w, r, err)
		return
	}

	var t *model.Trade
	if req.Type == model.TradeBuy {
		t, err = s.Executor.Buy(ctx, acct, req.SymbolID, req.Quantity, q.Price)
	} else {
		t, err = s.Executor.Sell(ctx, acct, req.SymbolID, req.Quantity, q.Price)
	}
	if err != nil {
		writeTradeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TradeResponse{
		Trade:   *t,
		Account: *acct,
		Display: currency.Format(t.TotalCost, currency.DefaultCode),
	})
}

// GetPortfolio handles GET /api/v1/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	acct, err := s.account(r, userID)
	if err != nil {
		writeTradeError(w, r, err)
		return
	}
	p, err := s.Ledger.Portfolio(r.Context(), acct)
	if err != nil {
		slog.Error("portfolio failed", "account", acct.ID, "err", err)
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetTrades handles GET /api/v1/trades?limit=N
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	acct, err := s.account(r, userID)
	if err != nil {
		writeTradeError(w, r, err)
		return
	}
	trades, err := s.Store.ListTrades(r.Context(), acct.ID, queryLimit(r, 50, 200))
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetAchievements handles GET /api/v1/achievements
func (s *Service) GetAchievements(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	acct, err := s.account(r, userID)
	if err != nil {
		writeTradeError(w, r, err)
		return
	}
	progress, err := s.Achievements.GetProgress(r.Context(), acct)
	if err != nil {
		writeError(w, "failed to load achievements", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// GetCareer handles GET /api/v1/career
func (s *Service) GetCareer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	career, err := s.Store.GetCareer(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		career = &model.UserCareer{UserID: userID, CareerRank: s.Ranks.Rank(0).Key}
	case err != nil:
		writeError(w, "failed to load career", http.StatusInternalServerError)
		return
	}

	v := CareerView{
		Career: *career,
		Rank:   s.Ranks.RankInfo(career.LifetimeXP),
		Label:  localizer(r).Rank(s.Ranks.Rank(career.LifetimeXP).Key),
	}
	if pos, err := s.Leaderboard.CareerPosition(ctx, userID); err == nil {
		v.Position = pos
	}
	writeJSON(w, http.StatusOK, v)
}

// GetLeaderboard handles GET /api/v1/leaderboard?season=ID&limit=N
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	seasonID, ok := s.seasonParam(w, r)
	if !ok {
		return
	}
	entries, err := s.Leaderboard.Standings(ctx, seasonID, queryLimit(r, 100, 500))
	if err != nil {
		writeError(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	resp := map[string]any{"season_id": seasonID, "entries": entries}
	if userID, ok := httpserver.UserID(ctx); ok {
		if me, err := s.Leaderboard.UserEntry(ctx, seasonID, userID); err == nil {
			resp["me"] = me
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCareerLeaderboard handles GET /api/v1/leaderboard/career?limit=N
func (s *Service) GetCareerLeaderboard(w http.ResponseWriter, r *http.Request) {
	careers, err := s.Leaderboard.CareerStandings(r.Context(), queryLimit(r, 100, 500))
	if err != nil {
		writeError(w, "failed to load career leaderboard", http.StatusInternalServerError)
		return
	}
	if careers == nil {
		careers = []model.UserCareer{}
	}
	writeJSON(w, http.StatusOK, careers)
}

// --- Internal handlers ---

// PushQuotes handles POST /internal/quotes
// Invalid entries are counted as failed; a storage error fails the call.
func (s *Service) PushQuotes(w http.ResponseWriter, r *http.Request) {
	var items []PushQuote
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	stats := quote.Stats{Total: len(items)}
	for _, it := range items {
		err := s.Quotes.Ingest(r.Context(), it.SymbolID, it.Raw)
		switch {
		case err == nil:
			stats.Updated++
		case errors.Is(err, quote.ErrInvalidQuote):
			stats.Failed++
		default:
			writeError(w, "failed to store quotes", http.StatusInternalServerError)
			return
		}
	}
	if s.Broadcaster != nil && stats.Updated > 0 {
		s.Broadcaster.Broadcast(notify.KindQuotesUpdated, stats)
	}
	writeJSON(w, http.StatusOK, stats)
}

// RebuildLeaderboard handles POST /internal/leaderboard/rebuild?season=ID
func (s *Service) RebuildLeaderboard(w http.ResponseWriter, r *http.Request) {
	seasonID, ok := s.seasonParam(w, r)
	if !ok {
		return
	}
	n, err := s.Leaderboard.Rebuild(r.Context(), seasonID)
	if err != nil {
		writeStoreError(w, err, "season not found")
		return
	}
	if s.Broadcaster != nil {
		s.Broadcaster.Broadcast(notify.KindLeaderboard, map[string]any{"season_id": seasonID, "entries": n})
	}
	writeJSON(w, http.StatusOK, map[string]any{"season_id": seasonID, "entries": n})
}

// RebuildAchievements handles POST /internal/achievements/rebuild
func (s *Service) RebuildAchievements(w http.ResponseWriter, r *http.Request) {
	n, err := s.Achievements.Rebuild(r.Context())
	resp := map[string]any{"accounts": n}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

// account returns the caller's account in the active season, opening the
// season and the account on first use.
func (s *Service) account(r *http.Request, userID int64) (*model.Account, error) {
	ctx := r.Context()
	season, err := s.Ledger.GetOrCreateDefaultSeason(ctx)
	if err != nil {
		return nil, err
	}
	return s.Ledger.GetOrCreateAccount(ctx, userID, season.ID)
}

func (s *Service) seasonParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if raw := r.URL.Query().Get("season"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, "invalid season", http.StatusBadRequest)
			return 0, false
		}
		return id, true
	}
	season, err := s.Store.GetActiveSeason(r.Context())
	if err != nil {
		writeStoreError(w, err, "no active season")
		return 0, false
	}
	return season.ID, true
}

func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := httpserver.UserID(r.Context())
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

func localizer(r *http.Request) *i18n.Localizer {
	return i18n.New(r.Header.Get("Accept-Language"))
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, "invalid "+param, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, def, ceiling int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, ceiling)
}

// writeTradeError maps executor errors onto statuses with a localized
// message.
func writeTradeError(w http.ResponseWriter, r *http.Request, err error) {
	loc := localizer(r)
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrMarketClosed):
		writeError(w, loc.Phrase("error.market_closed"), http.StatusConflict)
	case errors.Is(err, currency.ErrInsufficientFunds):
		writeError(w, loc.Phrase("error.insufficient_funds"), http.StatusConflict)
	case errors.Is(err, ErrInsufficientShares):
		writeError(w, loc.Phrase("error.insufficient_shares"), http.StatusConflict)
	default:
		slog.Error("trade failed", "err", err)
		writeError(w, "trade failed", http.StatusInternalServerError)
	}
}

func writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, notFound, http.StatusNotFound)
		return
	}
	slog.Error("store error", "err", err)
	writeError(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
