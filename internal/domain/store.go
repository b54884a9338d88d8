package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StateStore persists the switcher's BotState. Load returns ErrNotFound when
// nothing has been saved yet.
type StateStore interface {
	Load(ctx context.Context) (BotState, error)
	Save(ctx context.Context, state BotState) error
}

// OutcomeStore persists trade outcomes for auditing and reporting.
type OutcomeStore interface {
	Insert(ctx context.Context, o TradeOutcome) error
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeOutcome, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeOutcome, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BotConfigStore persists runtime config changes so they survive restarts.
type BotConfigStore interface {
	Get(ctx context.Context, name string) (BotConfig, time.Time, error)
	Upsert(ctx context.Context, name string, cfg BotConfig) error
}
