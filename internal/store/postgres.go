package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/litebridge/errs"
	"github.com/coachpo/litebridge/internal/orders"
)

const (
	stateDeleteSQL = `DELETE FROM order_states;`

	stateInsertSQL = `
INSERT INTO order_states (
    client_order_id,
    exchange_order_id,
    market,
    side,
    order_type,
    price,
    amount,
    status,
    executed_base,
    executed_quote,
    fee_paid,
    created_at,
    saved_at
)
VALUES (
    @client_order_id,
    @exchange_order_id,
    @market,
    @side,
    @order_type,
    @price::numeric,
    @amount::numeric,
    @status,
    @executed_base::numeric,
    @executed_quote::numeric,
    @fee_paid::numeric,
    @created_at,
    NOW()
);
`

	stateSelectSQL = `
SELECT
    client_order_id,
    exchange_order_id,
    market,
    side,
    order_type,
    price::text,
    amount::text,
    status,
    executed_base::text,
    executed_quote::text,
    fee_paid::text,
    created_at
FROM order_states
ORDER BY created_at;
`
)

// Postgres persists order snapshots in an order_states table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a store backed by the provided pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect opens a pgx pool for the DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.New("store/connect", errs.CodeUnavailable,
			errs.WithMessage("open database pool"), errs.WithCause(err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.New("store/connect", errs.CodeUnavailable,
			errs.WithMessage("ping database"), errs.WithCause(err))
	}
	return pool, nil
}

// SaveStates replaces the stored snapshot set in one transaction.
func (s *Postgres) SaveStates(ctx context.Context, states []orders.State) error {
	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite

	tx, err := s.pool.BeginTx(ctx, txOptions)
	if err != nil {
		return errs.New("store/save", errs.CodeUnavailable,
			errs.WithMessage("begin tx"), errs.WithCause(err))
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			_ = rbErr
		}
	}()

	if _, err := tx.Exec(ctx, stateDeleteSQL); err != nil {
		return errs.New("store/save", errs.CodeUnavailable,
			errs.WithMessage("clear order states"), errs.WithCause(err))
	}
	for _, state := range states {
		args := pgx.NamedArgs{
			"client_order_id":   state.ClientOrderID,
			"exchange_order_id": state.ExchangeOrderID,
			"market":            state.Market,
			"side":              state.Side,
			"order_type":        state.Type,
			"price":             state.Price,
			"amount":            state.Amount,
			"status":            state.Status,
			"executed_base":     zeroIfEmpty(state.ExecutedBase),
			"executed_quote":    zeroIfEmpty(state.ExecutedQuote),
			"fee_paid":          zeroIfEmpty(state.FeePaid),
			"created_at":        state.CreatedAt,
		}
		if _, err := tx.Exec(ctx, stateInsertSQL, args); err != nil {
			return errs.New("store/save", errs.CodeUnavailable,
				errs.WithMessage("insert order state "+state.ClientOrderID), errs.WithCause(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.New("store/save", errs.CodeUnavailable,
			errs.WithMessage("commit tx"), errs.WithCause(err))
	}
	return nil
}

// LoadStates reads every stored snapshot.
func (s *Postgres) LoadStates(ctx context.Context) ([]orders.State, error) {
	rows, err := s.pool.Query(ctx, stateSelectSQL)
	if err != nil {
		return nil, errs.New("store/load", errs.CodeUnavailable,
			errs.WithMessage("query order states"), errs.WithCause(err))
	}
	defer rows.Close()

	var states []orders.State
	for rows.Next() {
		var state orders.State
		if err := rows.Scan(
			&state.ClientOrderID,
			&state.ExchangeOrderID,
			&state.Market,
			&state.Side,
			&state.Type,
			&state.Price,
			&state.Amount,
			&state.Status,
			&state.ExecutedBase,
			&state.ExecutedQuote,
			&state.FeePaid,
			&state.CreatedAt,
		); err != nil {
			return nil, errs.New("store/load", errs.CodeUnavailable,
				errs.WithMessage("scan order state"), errs.WithCause(err))
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New("store/load", errs.CodeUnavailable,
			errs.WithMessage("iterate order states"), errs.WithCause(err))
	}
	return states, nil
}

func zeroIfEmpty(value string) string {
	if value == "" {
		return "0"
	}
	return value
}
