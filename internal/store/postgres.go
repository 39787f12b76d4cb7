package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockleague/engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool // nil when bound to a transaction
	db   querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Markets and symbols ---

const marketColumns = `id, code, name, country_code, timezone, open_time, close_time,
	pre_market_open, after_hours_close, trading_days, active, display_order`

func scanMarket(row scanner) (*model.Market, error) {
	var m model.Market
	var days string
	if err := row.Scan(&m.ID, &m.Code, &m.Name, &m.CountryCode, &m.Timezone,
		&m.OpenTime, &m.CloseTime, &m.PreMarketOpen, &m.AfterHoursClose,
		&days, &m.Active, &m.DisplayOrder); err != nil {
		return nil, err
	}
	m.TradingDays = parseDays(days)
	return &m, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO markets (code, name, country_code, timezone, open_time, close_time,
		                      pre_market_open, after_hours_close, trading_days, active, display_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		m.Code, m.Name, m.CountryCode, m.Timezone, m.OpenTime, m.CloseTime,
		m.PreMarketOpen, m.AfterHoursClose, formatDays(m.TradingDays), m.Active, m.DisplayOrder,
	).Scan(&m.ID)
	return wrap(err, "create market %s", m.Code)
}

func (s *PostgresStore) GetMarket(ctx context.Context, id int64) (*model.Market, error) {
	m, err := scanMarket(s.db.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "get market %d", id)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY display_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

const symbolColumns = `id, market_id, ticker, name, active, featured`

func scanSymbol(row scanner) (*model.Symbol, error) {
	var sym model.Symbol
	if err := row.Scan(&sym.ID, &sym.MarketID, &sym.Ticker, &sym.Name, &sym.Active, &sym.Featured); err != nil {
		return nil, err
	}
	return &sym, nil
}

func (s *PostgresStore) CreateSymbol(ctx context.Context, sym *model.Symbol) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO symbols (market_id, ticker, name, active, featured)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		sym.MarketID, sym.Ticker, sym.Name, sym.Active, sym.Featured,
	).Scan(&sym.ID)
	return wrap(err, "create symbol %s", sym.Ticker)
}

func (s *PostgresStore) GetSymbol(ctx context.Context, id int64) (*model.Symbol, error) {
	sym, err := scanSymbol(s.db.QueryRow(ctx,
		`SELECT `+symbolColumns+` FROM symbols WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "get symbol %d", id)
	}
	return sym, nil
}

func (s *PostgresStore) GetSymbolByTicker(ctx context.Context, marketID int64, ticker string) (*model.Symbol, error) {
	sym, err := scanSymbol(s.db.QueryRow(ctx,
		`SELECT `+symbolColumns+` FROM symbols WHERE market_id = $1 AND ticker = $2`, marketID, ticker))
	if err != nil {
		return nil, wrap(err, "get symbol %s", ticker)
	}
	return sym, nil
}

func (s *PostgresStore) ListActiveSymbols(ctx context.Context) ([]model.Symbol, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+symbolColumns+` FROM symbols WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sym)
	}
	return out, rows.Err()
}

// --- Quotes ---

func (s *PostgresStore) GetQuote(ctx context.Context, symbolID int64) (*model.Quote, error) {
	var q model.Quote
	var price, change, pct string
	err := s.db.QueryRow(ctx,
		`SELECT symbol_id, price::TEXT, change_amount::TEXT, change_percent::TEXT, volume, updated_at
		 FROM quotes WHERE symbol_id = $1`, symbolID).
		Scan(&q.SymbolID, &price, &change, &pct, &q.Volume, &q.UpdatedAt)
	if err != nil {
		return nil, wrap(err, "get quote %d", symbolID)
	}
	q.Price = dec(price)
	q.ChangeAmount = dec(change)
	q.ChangePercent = dec(pct)
	return &q, nil
}

func (s *PostgresStore) UpsertQuote(ctx context.Context, q *model.Quote) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO quotes (symbol_id, price, change_amount, change_percent, volume, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6)
		 ON CONFLICT (symbol_id) DO UPDATE SET
		   price = EXCLUDED.price, change_amount = EXCLUDED.change_amount,
		   change_percent = EXCLUDED.change_percent, volume = EXCLUDED.volume,
		   updated_at = EXCLUDED.updated_at`,
		q.SymbolID, q.Price.String(), q.ChangeAmount.String(), q.ChangePercent.String(),
		q.Volume, q.UpdatedAt)
	return wrap(err, "upsert quote %d", q.SymbolID)
}

// --- Seasons ---

const seasonColumns = `id, name, start_at, end_at, active, starting_balance::TEXT`

func scanSeason(row scanner) (*model.Season, error) {
	var season model.Season
	var starting string
	if err := row.Scan(&season.ID, &season.Name, &season.StartAt, &season.EndAt, &season.Active, &starting); err != nil {
		return nil, err
	}
	season.StartingBalance = dec(starting)
	return &season, nil
}

func (s *PostgresStore) CreateSeason(ctx context.Context, season *model.Season) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO seasons (name, start_at, end_at, active, starting_balance)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC) RETURNING id`,
		season.Name, season.StartAt, season.EndAt, season.Active, season.StartingBalance.String(),
	).Scan(&season.ID)
	return wrap(err, "create season %s", season.Name)
}

func (s *PostgresStore) GetSeason(ctx context.Context, id int64) (*model.Season, error) {
	season, err := scanSeason(s.db.QueryRow(ctx,
		`SELECT `+seasonColumns+` FROM seasons WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "get season %d", id)
	}
	return season, nil
}

func (s *PostgresStore) GetActiveSeason(ctx context.Context) (*model.Season, error) {
	season, err := scanSeason(s.db.QueryRow(ctx,
		`SELECT `+seasonColumns+` FROM seasons WHERE active ORDER BY id DESC LIMIT 1`))
	if err != nil {
		return nil, wrap(err, "get active season")
	}
	return season, nil
}

// --- External balances ---

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidField reports whether field is usable as a balance column name.
func ValidField(field string) bool {
	return identifierRe.MatchString(field)
}

func balanceColumn(field string) (string, error) {
	if !ValidField(field) {
		return "", fmt.Errorf("invalid balance field %q", field)
	}
	return pgx.Identifier{field}.Sanitize(), nil
}

func (s *PostgresStore) GetUserBalance(ctx context.Context, userID int64, field string) (decimal.Decimal, error) {
	col, err := balanceColumn(field)
	if err != nil {
		return decimal.Zero, err
	}
	var bal string
	err = s.db.QueryRow(ctx,
		`SELECT `+col+`::TEXT FROM users WHERE id = $1`, userID).Scan(&bal)
	if err != nil {
		return decimal.Zero, wrap(err, "get balance for user %d", userID)
	}
	return dec(bal), nil
}

func (s *PostgresStore) SetUserBalance(ctx context.Context, userID int64, field string, amount decimal.Decimal) error {
	col, err := balanceColumn(field)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO users (id, `+col+`) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET `+col+` = EXCLUDED.`+col,
		userID, amount.String())
	return wrap(err, "set balance for user %d", userID)
}

func (s *PostgresStore) AdjustUserBalance(ctx context.Context, userID int64, field string, delta decimal.Decimal) (bool, error) {
	col, err := balanceColumn(field)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET `+col+` = `+col+` + $2::NUMERIC
		 WHERE id = $1 AND `+col+` + $2::NUMERIC >= 0`,
		userID, delta.String())
	if err != nil {
		return false, wrap(err, "adjust balance for user %d", userID)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Accounts ---

const accountColumns = `id, user_id, season_id, cash_balance::TEXT, portfolio_value::TEXT,
	total_value::TEXT, initial_balance::TEXT, season_xp, season_rank, created_at`

func scanAccount(row scanner) (*model.Account, error) {
	var a model.Account
	var cash, portfolio, total, initial string
	if err := row.Scan(&a.ID, &a.UserID, &a.SeasonID, &cash, &portfolio,
		&total, &initial, &a.SeasonXP, &a.SeasonRank, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.CashBalance = dec(cash)
	a.PortfolioValue = dec(portfolio)
	a.TotalValue = dec(total)
	a.InitialBalance = dec(initial)
	return &a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO accounts (user_id, season_id, cash_balance, portfolio_value, total_value,
		                       initial_balance, season_xp, season_rank, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)
		 RETURNING id`,
		a.UserID, a.SeasonID, a.CashBalance.String(), a.PortfolioValue.String(), a.TotalValue.String(),
		a.InitialBalance.String(), a.SeasonXP, a.SeasonRank, a.CreatedAt,
	).Scan(&a.ID)
	return wrap(err, "create account for user %d season %d", a.UserID, a.SeasonID)
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID, seasonID int64) (*model.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND season_id = $2`, userID, seasonID))
	if err != nil {
		return nil, wrap(err, "get account for user %d season %d", userID, seasonID)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "get account %d", id)
	}
	return a, nil
}

func (s *PostgresStore) ListAccountsBySeason(ctx context.Context, seasonID int64) ([]model.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE season_id = $1
		 ORDER BY total_value DESC, id`, seasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAccountIDsWithTrades(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT account_id FROM trades ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *PostgresStore) AdjustCashBalance(ctx context.Context, accountID int64, delta decimal.Decimal) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET cash_balance = cash_balance + $2::NUMERIC
		 WHERE id = $1 AND cash_balance + $2::NUMERIC >= 0`,
		accountID, delta.String())
	if err != nil {
		return false, wrap(err, "adjust cash for account %d", accountID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateAccountValuation(ctx context.Context, accountID int64, cash, portfolio, total decimal.Decimal) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET cash_balance = $2::NUMERIC, portfolio_value = $3::NUMERIC, total_value = $4::NUMERIC
		 WHERE id = $1`,
		accountID, cash.String(), portfolio.String(), total.String())
	if err != nil {
		return wrap(err, "update valuation for account %d", accountID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) AddAccountXP(ctx context.Context, accountID, delta int64) (int64, error) {
	var xp int64
	err := s.db.QueryRow(ctx,
		`UPDATE accounts SET season_xp = season_xp + $2 WHERE id = $1 RETURNING season_xp`,
		accountID, delta).Scan(&xp)
	return xp, wrap(err, "add xp to account %d", accountID)
}

func (s *PostgresStore) SetAccountRank(ctx context.Context, accountID int64, rank string) error {
	_, err := s.db.Exec(ctx, `UPDATE accounts SET season_rank = $2 WHERE id = $1`, accountID, rank)
	return wrap(err, "set rank for account %d", accountID)
}

// --- Positions ---

const positionColumns = `id, account_id, symbol_id, quantity, average_price::TEXT, total_cost::TEXT, updated_at`

func scanPosition(row scanner) (*model.Position, error) {
	var p model.Position
	var avg, cost string
	if err := row.Scan(&p.ID, &p.AccountID, &p.SymbolID, &p.Quantity, &avg, &cost, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.AveragePrice = dec(avg)
	p.TotalCost = dec(cost)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, accountID, symbolID int64) (*model.Position, error) {
	p, err := scanPosition(s.db.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = $1 AND symbol_id = $2`,
		accountID, symbolID))
	if err != nil {
		return nil, wrap(err, "get position %d/%d", accountID, symbolID)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, accountID int64) ([]model.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = $1 ORDER BY symbol_id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.Position) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO positions (account_id, symbol_id, quantity, average_price, total_cost, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (account_id, symbol_id) DO UPDATE SET
		   quantity = EXCLUDED.quantity, average_price = EXCLUDED.average_price,
		   total_cost = EXCLUDED.total_cost, updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		p.AccountID, p.SymbolID, p.Quantity, p.AveragePrice.String(), p.TotalCost.String(), p.UpdatedAt,
	).Scan(&p.ID)
	return wrap(err, "save position %d/%d", p.AccountID, p.SymbolID)
}

func (s *PostgresStore) DeletePosition(ctx context.Context, accountID, symbolID int64) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM positions WHERE account_id = $1 AND symbol_id = $2`, accountID, symbolID)
	return wrap(err, "delete position %d/%d", accountID, symbolID)
}

// --- Immutable trade history ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO trades (id, account_id, symbol_id, type, quantity, price, total_cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.AccountID, t.SymbolID, string(t.Type), t.Quantity,
		t.Price.String(), t.TotalCost.String(), t.CreatedAt)
	return wrap(err, "insert trade %s", t.ID)
}

func (s *PostgresStore) ListTrades(ctx context.Context, accountID int64, limit int) ([]model.Trade, error) {
	q := `SELECT id::TEXT, account_id, symbol_id, type, quantity, price::TEXT, total_cost::TEXT, created_at
	      FROM trades WHERE account_id = $1 ORDER BY created_at DESC, id`
	args := []any{accountID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var typ, price, cost string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.SymbolID, &typ, &t.Quantity, &price, &cost, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = model.TradeType(typ)
		t.Price = dec(price)
		t.TotalCost = dec(cost)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountTrades(ctx context.Context, accountID int64, f TradeFilter) (int64, error) {
	q := `SELECT COUNT(*) FROM trades WHERE account_id = $1`
	args := []any{accountID}
	if f.Type != "" {
		args = append(args, string(f.Type))
		q += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		q += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	var n int64
	err := s.db.QueryRow(ctx, q, args...).Scan(&n)
	return n, wrap(err, "count trades for account %d", accountID)
}

func (s *PostgresStore) CountTradedMarkets(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT sy.market_id)
		 FROM trades t JOIN symbols sy ON sy.id = t.symbol_id
		 WHERE t.account_id = $1`, accountID).Scan(&n)
	return n, wrap(err, "count traded markets for account %d", accountID)
}

// --- Careers ---

const careerColumns = `user_id, lifetime_xp, career_rank, achievements_earned,
	seasons_participated, total_trades, created_at, updated_at`

func scanCareer(row scanner) (*model.UserCareer, error) {
	var c model.UserCareer
	if err := row.Scan(&c.UserID, &c.LifetimeXP, &c.CareerRank, &c.AchievementsEarned,
		&c.SeasonsParticipated, &c.TotalTrades, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetCareer(ctx context.Context, userID int64) (*model.UserCareer, error) {
	c, err := scanCareer(s.db.QueryRow(ctx,
		`SELECT `+careerColumns+` FROM user_careers WHERE user_id = $1`, userID))
	if err != nil {
		return nil, wrap(err, "get career %d", userID)
	}
	return c, nil
}

func (s *PostgresStore) EnsureCareer(ctx context.Context, userID int64, rank string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO user_careers (user_id, career_rank) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`, userID, rank)
	if err != nil {
		return false, wrap(err, "ensure career %d", userID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) IncrementCareer(ctx context.Context, userID int64, d CareerDelta) (*model.UserCareer, error) {
	c, err := scanCareer(s.db.QueryRow(ctx,
		`UPDATE user_careers SET
		   lifetime_xp = lifetime_xp + $2,
		   achievements_earned = achievements_earned + $3,
		   seasons_participated = seasons_participated + $4,
		   total_trades = total_trades + $5,
		   updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING `+careerColumns,
		userID, d.XP, d.Achievements, d.Seasons, d.Trades))
	if err != nil {
		return nil, wrap(err, "increment career %d", userID)
	}
	return c, nil
}

func (s *PostgresStore) SetCareerRank(ctx context.Context, userID int64, rank string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE user_careers SET career_rank = $2, updated_at = NOW() WHERE user_id = $1`, userID, rank)
	return wrap(err, "set career rank %d", userID)
}

func (s *PostgresStore) ListTopCareers(ctx context.Context, limit int) ([]model.UserCareer, error) {
	q := `SELECT ` + careerColumns + ` FROM user_careers ORDER BY lifetime_xp DESC, user_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UserCareer
	for rows.Next() {
		c, err := scanCareer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountCareersAbove(ctx context.Context, xp int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_careers WHERE lifetime_xp > $1`, xp).Scan(&n)
	return n, wrap(err, "count careers above %d", xp)
}

// --- Achievements ---

const achievementColumns = `id, key, category, xp_points, difficulty, points, credits_reward,
	trophy_id, badge_id, repeatable, active, display_order`

func scanAchievement(row scanner) (*model.Achievement, error) {
	var a model.Achievement
	if err := row.Scan(&a.ID, &a.Key, &a.Category, &a.XPPoints, &a.Difficulty, &a.Points,
		&a.CreditsReward, &a.TrophyID, &a.BadgeID, &a.Repeatable, &a.Active, &a.DisplayOrder); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) SaveAchievement(ctx context.Context, a *model.Achievement) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO achievements (key, category, xp_points, difficulty, points, credits_reward,
		                           trophy_id, badge_id, repeatable, active, display_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (key) DO UPDATE SET
		   category = EXCLUDED.category, xp_points = EXCLUDED.xp_points,
		   difficulty = EXCLUDED.difficulty, points = EXCLUDED.points,
		   credits_reward = EXCLUDED.credits_reward, trophy_id = EXCLUDED.trophy_id,
		   badge_id = EXCLUDED.badge_id, repeatable = EXCLUDED.repeatable,
		   active = EXCLUDED.active, display_order = EXCLUDED.display_order
		 RETURNING id`,
		a.Key, a.Category, a.XPPoints, a.Difficulty, a.Points, a.CreditsReward,
		a.TrophyID, a.BadgeID, a.Repeatable, a.Active, a.DisplayOrder,
	).Scan(&a.ID)
	return wrap(err, "save achievement %s", a.Key)
}

func (s *PostgresStore) GetAchievementByKey(ctx context.Context, key string) (*model.Achievement, error) {
	a, err := scanAchievement(s.db.QueryRow(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE key = $1`, key))
	if err != nil {
		return nil, wrap(err, "get achievement %s", key)
	}
	return a, nil
}

func (s *PostgresStore) ListActiveAchievements(ctx context.Context) ([]model.Achievement, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE active ORDER BY display_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertUserAchievement(ctx context.Context, ua *model.UserAchievement, repeatable bool) (bool, error) {
	var account *int64
	if ua.AccountID != 0 {
		account = &ua.AccountID
	}
	var progress []byte
	if len(ua.Progress) > 0 {
		progress = ua.Progress
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO user_achievements (id, user_id, achievement_id, season_id, account_id,
		                                xp_awarded, progress, repeatable, earned_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT DO NOTHING`,
		ua.ID, ua.UserID, ua.AchievementID, ua.SeasonID, account,
		ua.XPAwarded, progress, repeatable, ua.EarnedAt)
	if err != nil {
		return false, wrap(err, "insert user achievement %s", ua.ID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListUserAchievements(ctx context.Context, userID, seasonID int64) ([]model.UserAchievement, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id::TEXT, user_id, achievement_id, season_id, COALESCE(account_id, 0),
		        xp_awarded, progress, earned_at
		 FROM user_achievements WHERE user_id = $1 AND season_id = $2
		 ORDER BY earned_at`, userID, seasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UserAchievement
	for rows.Next() {
		var ua model.UserAchievement
		var progress []byte
		if err := rows.Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.SeasonID, &ua.AccountID,
			&ua.XPAwarded, &progress, &ua.EarnedAt); err != nil {
			return nil, err
		}
		ua.Progress = progress
		out = append(out, ua)
	}
	return out, rows.Err()
}

// --- Leaderboard snapshots ---

func (s *PostgresStore) ReplaceLeaderboard(ctx context.Context, seasonID int64, entries []model.LeaderboardEntry) error {
	return s.WithTx(ctx, func(st Store) error {
		tx := st.(*PostgresStore)
		if _, err := tx.db.Exec(ctx, `DELETE FROM leaderboard_entries WHERE season_id = $1`, seasonID); err != nil {
			return wrap(err, "clear leaderboard %d", seasonID)
		}
		for _, e := range entries {
			if _, err := tx.db.Exec(ctx,
				`INSERT INTO leaderboard_entries
				   (season_id, user_id, account_id, rank, total_value, return_percent, updated_at)
				 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
				seasonID, e.UserID, e.AccountID, e.Rank,
				e.TotalValue.String(), e.ReturnPercent.Round(4).String(), e.UpdatedAt); err != nil {
				return wrap(err, "insert leaderboard entry for user %d", e.UserID)
			}
		}
		return nil
	})
}

const leaderboardColumns = `season_id, user_id, account_id, rank, total_value::TEXT, return_percent::TEXT, updated_at`

func scanLeaderboardEntry(row scanner) (*model.LeaderboardEntry, error) {
	var e model.LeaderboardEntry
	var total, ret string
	if err := row.Scan(&e.SeasonID, &e.UserID, &e.AccountID, &e.Rank, &total, &ret, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.TotalValue = dec(total)
	e.ReturnPercent = dec(ret)
	return &e, nil
}

func (s *PostgresStore) ListLeaderboard(ctx context.Context, seasonID int64, limit int) ([]model.LeaderboardEntry, error) {
	q := `SELECT ` + leaderboardColumns + ` FROM leaderboard_entries WHERE season_id = $1 ORDER BY rank`
	args := []any{seasonID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LeaderboardEntry
	for rows.Next() {
		e, err := scanLeaderboardEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetLeaderboardEntry(ctx context.Context, seasonID, userID int64) (*model.LeaderboardEntry, error) {
	e, err := scanLeaderboardEntry(s.db.QueryRow(ctx,
		`SELECT `+leaderboardColumns+` FROM leaderboard_entries WHERE season_id = $1 AND user_id = $2`,
		seasonID, userID))
	if err != nil {
		return nil, wrap(err, "get leaderboard entry for user %d", userID)
	}
	return e, nil
}

// --- Helpers ---

// wrap annotates err and maps driver errors onto ErrNotFound and ErrConflict.
func wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", msg, ErrConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func formatDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func parseDays(s string) []int {
	var days []int
	for _, part := range strings.Split(s, ",") {
		if d, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && d >= 1 && d <= 7 {
			days = append(days, d)
		}
	}
	return days
}
