package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool     *pgxpool.Pool
	instance string
}

// NewOutcomeStore creates an OutcomeStore scoped to one bot instance.
func NewOutcomeStore(pool *pgxpool.Pool, instance string) *OutcomeStore {
	return &OutcomeStore{pool: pool, instance: instance}
}

const outcomeColumns = `id::text, success, action, price, price_source, quantity::text,
	tx_ref, reason, last_high, last_low, simulated, pnl_stable::text, created_at`

// Insert records one outcome. An empty ID gets a fresh UUID.
func (s *OutcomeStore) Insert(ctx context.Context, o domain.TradeOutcome) error {
	const query = `
		INSERT INTO trade_outcomes (
			id, instance, success, action, price, price_source, quantity,
			tx_ref, reason, last_high, last_low, simulated, pnl_stable, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13::numeric, $14)`

	id := o.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := o.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		id, s.instance, o.Success, string(o.Action), o.Price, string(o.PriceSource),
		o.Quantity.String(), o.TxRef, o.Reason, o.LastHigh, o.LastLow, o.Simulated,
		o.PnlStable.String(), createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert outcome %s: %w", id, err)
	}
	return nil
}

// ListRecent returns outcomes newest first, with optional time filtering and
// pagination.
func (s *OutcomeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	query, args := windowed(
		`SELECT `+outcomeColumns+` FROM trade_outcomes WHERE instance = $1`,
		[]any{s.instance}, opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes: %w", err)
	}
	return collectOutcomes(rows)
}

// ListBefore returns every outcome created before the cutoff, oldest first.
func (s *OutcomeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeOutcome, error) {
	query := `SELECT ` + outcomeColumns + `
		FROM trade_outcomes
		WHERE instance = $1 AND created_at < $2
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, s.instance, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectOutcomes(rows)
}

// DeleteBefore removes outcomes created before the cutoff and reports how
// many rows went.
func (s *OutcomeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM trade_outcomes WHERE instance = $1 AND created_at < $2`
	tag, err := s.pool.Exec(ctx, query, s.instance, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete outcomes before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectOutcomes(rows pgx.Rows) ([]domain.TradeOutcome, error) {
	defer rows.Close()

	var outcomes []domain.TradeOutcome
	for rows.Next() {
		var (
			o               domain.TradeOutcome
			action, source  string
			qtyText, pnlTxt string
		)
		if err := rows.Scan(
			&o.ID, &o.Success, &action, &o.Price, &source, &qtyText,
			&o.TxRef, &o.Reason, &o.LastHigh, &o.LastLow, &o.Simulated, &pnlTxt, &o.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		o.Action = domain.Action(action)
		o.PriceSource = domain.PriceSourceTag(source)

		var err error
		if o.Quantity, err = decimal.NewFromString(qtyText); err != nil {
			return nil, fmt.Errorf("postgres: parse quantity %q: %w", qtyText, err)
		}
		if o.PnlStable, err = decimal.NewFromString(pnlTxt); err != nil {
			return nil, fmt.Errorf("postgres: parse pnl %q: %w", pnlTxt, err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list outcomes rows: %w", err)
	}
	return outcomes, nil
}
