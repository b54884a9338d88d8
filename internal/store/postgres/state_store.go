package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// StateStore implements domain.StateStore with one bot_state row per
// instance.
type StateStore struct {
	pool     *pgxpool.Pool
	instance string
}

// NewStateStore creates a StateStore for the named bot instance.
func NewStateStore(pool *pgxpool.Pool, instance string) *StateStore {
	return &StateStore{pool: pool, instance: instance}
}

// Load returns the persisted state or domain.ErrNotFound.
func (s *StateStore) Load(ctx context.Context) (domain.BotState, error) {
	const query = `
		SELECT mode, last_high, last_low, cooldown_until, is_running,
		       trade_count, realized_pnl::text, entry_price, updated_at,
		       paper_volatile::text, paper_stable::text
		FROM bot_state
		WHERE instance = $1`

	var (
		st                  domain.BotState
		mode                string
		pnlText             string
		paperVol, paperStbl *string
	)
	err := s.pool.QueryRow(ctx, query, s.instance).Scan(
		&mode, &st.LastHigh, &st.LastLow, &st.CooldownUntil, &st.IsRunning,
		&st.Stats.TradeCount, &pnlText, &st.EntryPrice, &st.UpdatedAt,
		&paperVol, &paperStbl,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BotState{}, domain.ErrNotFound
		}
		return domain.BotState{}, fmt.Errorf("postgres: load state %s: %w", s.instance, err)
	}

	st.Mode = domain.Mode(mode)
	if !st.Mode.Valid() {
		return domain.BotState{}, fmt.Errorf("postgres: load state %s: unknown mode %q", s.instance, mode)
	}
	st.Stats.RealizedPnlStable, err = decimal.NewFromString(pnlText)
	if err != nil {
		return domain.BotState{}, fmt.Errorf("postgres: parse realized pnl %q: %w", pnlText, err)
	}
	if st.Paper, err = parsePaper(paperVol, paperStbl); err != nil {
		return domain.BotState{}, fmt.Errorf("postgres: load state %s: %w", s.instance, err)
	}
	return st, nil
}

// Save upserts the whole state row.
func (s *StateStore) Save(ctx context.Context, st domain.BotState) error {
	const query = `
		INSERT INTO bot_state (
			instance, mode, last_high, last_low, cooldown_until, is_running,
			trade_count, realized_pnl, entry_price, updated_at,
			paper_volatile, paper_stable
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11::numeric, $12::numeric)
		ON CONFLICT (instance) DO UPDATE SET
			mode           = EXCLUDED.mode,
			last_high      = EXCLUDED.last_high,
			last_low       = EXCLUDED.last_low,
			cooldown_until = EXCLUDED.cooldown_until,
			is_running     = EXCLUDED.is_running,
			trade_count    = EXCLUDED.trade_count,
			realized_pnl   = EXCLUDED.realized_pnl,
			entry_price    = EXCLUDED.entry_price,
			updated_at     = EXCLUDED.updated_at,
			paper_volatile = EXCLUDED.paper_volatile,
			paper_stable   = EXCLUDED.paper_stable`

	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	var paperVol, paperStbl *string
	if st.Paper != nil {
		v, sb := st.Paper.Volatile.String(), st.Paper.Stable.String()
		paperVol, paperStbl = &v, &sb
	}
	_, err := s.pool.Exec(ctx, query,
		s.instance, string(st.Mode), st.LastHigh, st.LastLow, st.CooldownUntil, st.IsRunning,
		st.Stats.TradeCount, st.Stats.RealizedPnlStable.String(), st.EntryPrice, updated,
		paperVol, paperStbl,
	)
	if err != nil {
		return fmt.Errorf("postgres: save state %s: %w", s.instance, err)
	}
	return nil
}

// parsePaper rebuilds the safe-mode wallet from its two nullable columns.
func parsePaper(vol, stable *string) (*domain.PaperBalances, error) {
	if vol == nil || stable == nil {
		return nil, nil
	}
	v, err := decimal.NewFromString(*vol)
	if err != nil {
		return nil, fmt.Errorf("parse paper volatile %q: %w", *vol, err)
	}
	sb, err := decimal.NewFromString(*stable)
	if err != nil {
		return nil, fmt.Errorf("parse paper stable %q: %w", *stable, err)
	}
	return &domain.PaperBalances{Volatile: v, Stable: sb}, nil
}
