package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// AuditStore implements domain.AuditStore. Rows are tagged with the bot
// instance so several bots can share one audit_log table.
type AuditStore struct {
	pool     *pgxpool.Pool
	instance string
}

// NewAuditStore creates an AuditStore scoped to one bot instance.
func NewAuditStore(pool *pgxpool.Pool, instance string) *AuditStore {
	return &AuditStore{pool: pool, instance: instance}
}

// Log records an event; detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: encode %s detail: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (instance, event, detail) VALUES ($1, $2, $3)`,
		s.instance, event, raw,
	); err != nil {
		return fmt.Errorf("postgres: audit %s for %s: %w", event, s.instance, err)
	}
	return nil
}

// List returns this instance's entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := s.listQuery(opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit for %s: %w", s.instance, err)
	}
	return collectAudit(rows)
}

func (s *AuditStore) listQuery(opts domain.ListOpts) (string, []any) {
	return windowed(
		`SELECT id, event, detail, created_at FROM audit_log WHERE instance = $1`,
		[]any{s.instance}, opts,
	)
}

func collectAudit(rows pgx.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode audit %d detail: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate audit entries: %w", err)
	}
	return entries, nil
}
