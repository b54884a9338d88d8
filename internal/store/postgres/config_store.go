package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// BotConfigStore implements domain.BotConfigStore using a JSONB column.
type BotConfigStore struct {
	pool *pgxpool.Pool
}

// NewBotConfigStore creates a new BotConfigStore.
func NewBotConfigStore(pool *pgxpool.Pool) *BotConfigStore {
	return &BotConfigStore{pool: pool}
}

// Get returns the stored config and when it was last written, or
// domain.ErrNotFound.
func (s *BotConfigStore) Get(ctx context.Context, name string) (domain.BotConfig, time.Time, error) {
	const query = `SELECT config_json, updated_at FROM bot_configs WHERE name = $1`

	var (
		raw     []byte
		updated time.Time
	)
	if err := s.pool.QueryRow(ctx, query, name).Scan(&raw, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BotConfig{}, time.Time{}, domain.ErrNotFound
		}
		return domain.BotConfig{}, time.Time{}, fmt.Errorf("postgres: get bot config %s: %w", name, err)
	}

	var cfg domain.BotConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.BotConfig{}, time.Time{}, fmt.Errorf("postgres: unmarshal bot config %s: %w", name, err)
	}
	return cfg, updated, nil
}

// Upsert stores cfg under name, replacing any previous value.
func (s *BotConfigStore) Upsert(ctx context.Context, name string, cfg domain.BotConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: marshal bot config %s: %w", name, err)
	}

	const query = `
		INSERT INTO bot_configs (name, config_json, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			config_json = EXCLUDED.config_json,
			updated_at  = NOW()`
	if _, err := s.pool.Exec(ctx, query, name, raw); err != nil {
		return fmt.Errorf("postgres: upsert bot config %s: %w", name, err)
	}
	return nil
}
