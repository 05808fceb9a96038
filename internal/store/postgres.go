package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/collateral"
	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Commits run in a transaction that locks the owning account row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

const accountSelectCols = `user_id, account_type,
	virtual_balance::TEXT, wallet_balance::TEXT,
	bets_placed, created_at, updated_at`

const positionSelectCols = `id, user_id, match_id, market, bet_type,
	bet_price::TEXT, stake_per_point::TEXT, makeup_limit::TEXT, collateral_held::TEXT,
	status, stake_open::TEXT, stake_closed::TEXT,
	current_price::TEXT, final_result::TEXT, profit_loss::TEXT,
	version, timestamp, updated_at`

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, account_type, virtual_balance, wallet_balance, bets_placed, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)`,
		a.UserID, string(a.AccountType),
		a.VirtualBalance.String(), a.WalletBalance.String(),
		a.BetsPlaced, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: account %s", ErrAlreadyExists, a.UserID)
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE user_id = $1`, userID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "account", userID)
	}
	return a, nil
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		return nil, notFound(err, "position", id)
	}
	return p, nil
}

func (s *PostgresStore) LoadPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.GetPosition(ctx, id)
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE user_id = $1 ORDER BY timestamp DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListLivePositions(ctx context.Context, olderThan time.Time) ([]model.Position, error) {
	var cutoff *time.Time
	if !olderThan.IsZero() {
		cutoff = &olderThan
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status IN ('open', 'partially_closed')
		   AND ($1::TIMESTAMPTZ IS NULL OR timestamp < $1)
		 ORDER BY timestamp`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListLivePositionsByMatch(ctx context.Context, matchID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status IN ('open', 'partially_closed') AND match_id = $1
		 ORDER BY timestamp`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) GetUserMatchExposures(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT match_id, COALESCE(SUM(collateral_held), 0)::TEXT
		 FROM positions
		 WHERE user_id = $1 AND status IN ('open', 'partially_closed')
		 GROUP BY match_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exposures := make(map[string]decimal.Decimal)
	for rows.Next() {
		var matchID, heldS string
		if err := rows.Scan(&matchID, &heldS); err != nil {
			return nil, err
		}
		held, _ := decimal.NewFromString(heldS)
		exposures[matchID] = held
	}
	return exposures, rows.Err()
}

// --- Atomic commits ---

func (s *PostgresStore) CommitOpen(ctx context.Context, c OpenCommit) (*model.Account, error) {
	var out *model.Account
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		acct, err := lockAccount(ctx, tx, c.Position.UserID)
		if err != nil {
			return err
		}

		entry, err := collateral.Hold(acct, c.Position.ID, c.Collateral, c.Now)
		if err != nil {
			return err
		}

		p := c.Position
		_, err = tx.Exec(ctx,
			`INSERT INTO positions (id, user_id, match_id, market, bet_type,
			        bet_price, stake_per_point, makeup_limit, collateral_held,
			        status, stake_open, stake_closed, current_price, final_result, profit_loss,
			        version, timestamp, updated_at)
			 VALUES ($1, $2, $3, $4, $5,
			         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
			         $10, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14::NUMERIC, $15::NUMERIC,
			         $16, $17, $18)`,
			p.ID, p.UserID, p.MatchID, p.Market, string(p.BetType),
			p.BetPrice.String(), p.StakePerPoint.String(), p.MakeupLimit.String(), p.CollateralHeld.String(),
			string(p.Status), p.StakeOpen.String(), p.StakeClosed.String(),
			optional(p.CurrentPrice), optional(p.FinalResult), p.ProfitLoss.String(),
			p.Version, p.Timestamp, p.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: position %s", ErrAlreadyExists, p.ID)
		}
		if err != nil {
			return fmt.Errorf("insert position %s: %w", p.ID, err)
		}

		if err := saveAccount(ctx, tx, acct); err != nil {
			return err
		}
		if err := insertLedgerEntries(ctx, tx, []model.LedgerEntry{entry}); err != nil {
			return err
		}
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) CommitClose(ctx context.Context, c CloseCommit) (*model.Account, error) {
	var out *model.Account
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		p := c.Result.Position

		tag, err := tx.Exec(ctx,
			`UPDATE positions
			 SET collateral_held = $3::NUMERIC, status = $4,
			     stake_open = $5::NUMERIC, stake_closed = $6::NUMERIC,
			     current_price = $7::NUMERIC, final_result = $8::NUMERIC,
			     profit_loss = $9::NUMERIC,
			     version = version + 1, updated_at = $10
			 WHERE id = $1 AND version = $2`,
			p.ID, c.ExpectedVersion,
			p.CollateralHeld.String(), string(p.Status),
			p.StakeOpen.String(), p.StakeClosed.String(),
			optional(p.CurrentPrice), optional(p.FinalResult),
			p.ProfitLoss.String(), c.Now,
		)
		if err != nil {
			return fmt.Errorf("update position %s: %w", p.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: position %s, expected version %d", ErrStaleState, p.ID, c.ExpectedVersion)
		}

		acct, err := lockAccount(ctx, tx, p.UserID)
		if err != nil {
			return err
		}
		entries := collateral.Release(acct, c.Result, c.Now)

		if err := saveAccount(ctx, tx, acct); err != nil {
			return err
		}
		if err := insertLedgerEntries(ctx, tx, entries); err != nil {
			return err
		}
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Immutable ledger ---

func (s *PostgresStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, position_id, kind,
		        amount::TEXT, balance_after::TEXT, timestamp
		 FROM ledger_entries WHERE user_id = $1 ORDER BY timestamp, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind, amountS, afterS string
		if err := rows.Scan(&e.ID, &e.UserID, &e.PositionID, &kind,
			&amountS, &afterS, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = model.LedgerKind(kind)
		e.Amount, _ = decimal.NewFromString(amountS)
		e.BalanceAfter, _ = decimal.NewFromString(afterS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Transaction helpers ---

func lockAccount(ctx context.Context, tx pgx.Tx, userID string) (*model.Account, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "account", userID)
	}
	return a, nil
}

func saveAccount(ctx context.Context, tx pgx.Tx, a *model.Account) error {
	_, err := tx.Exec(ctx,
		`UPDATE accounts
		 SET virtual_balance = $2::NUMERIC, wallet_balance = $3::NUMERIC,
		     bets_placed = $4, updated_at = $5
		 WHERE user_id = $1`,
		a.UserID, a.VirtualBalance.String(), a.WalletBalance.String(),
		a.BetsPlaced, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update account %s: %w", a.UserID, err)
	}
	return nil
}

func insertLedgerEntries(ctx context.Context, tx pgx.Tx, entries []model.LedgerEntry) error {
	for _, e := range entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, user_id, position_id, kind, amount, balance_after, timestamp)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
			e.ID, e.UserID, e.PositionID, string(e.Kind),
			e.Amount.String(), e.BalanceAfter.String(), e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
	}
	return nil
}

// --- Scanning ---

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var accountType, virtualS, walletS string

	if err := row.Scan(&a.UserID, &accountType, &virtualS, &walletS,
		&a.BetsPlaced, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.AccountType = model.AccountType(accountType)
	a.VirtualBalance, _ = decimal.NewFromString(virtualS)
	a.WalletBalance, _ = decimal.NewFromString(walletS)
	return &a, nil
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var betType, status string
	var priceS, stakeS, limitS, heldS, openS, closedS, plS string
	var currentS, finalS *string

	if err := row.Scan(&p.ID, &p.UserID, &p.MatchID, &p.Market, &betType,
		&priceS, &stakeS, &limitS, &heldS,
		&status, &openS, &closedS,
		&currentS, &finalS, &plS,
		&p.Version, &p.Timestamp, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.BetType = model.BetType(betType)
	p.Status = model.PositionStatus(status)
	p.BetPrice, _ = decimal.NewFromString(priceS)
	p.StakePerPoint, _ = decimal.NewFromString(stakeS)
	p.MakeupLimit, _ = decimal.NewFromString(limitS)
	p.CollateralHeld, _ = decimal.NewFromString(heldS)
	p.StakeOpen, _ = decimal.NewFromString(openS)
	p.StakeClosed, _ = decimal.NewFromString(closedS)
	p.ProfitLoss, _ = decimal.NewFromString(plS)
	p.CurrentPrice = parseOptional(currentS)
	p.FinalResult = parseOptional(finalS)
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func optional(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseOptional(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &v
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
