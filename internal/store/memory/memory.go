// Package memory provides process-local stores for tests and for running
// without a database. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// StateStore keeps the last saved BotState.
type StateStore struct {
	mu    sync.Mutex
	state *domain.BotState
}

// NewStateStore returns an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{}
}

func (s *StateStore) Load(_ context.Context) (domain.BotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return domain.BotState{}, domain.ErrNotFound
	}
	return s.state.Clone(), nil
}

func (s *StateStore) Save(_ context.Context, state domain.BotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := state.Clone()
	s.state = &c
	return nil
}

// OutcomeStore keeps outcomes in insertion order.
type OutcomeStore struct {
	mu       sync.Mutex
	outcomes []domain.TradeOutcome
}

// NewOutcomeStore returns an empty OutcomeStore.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{}
}

func (s *OutcomeStore) Insert(_ context.Context, o domain.TradeOutcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	s.outcomes = append(s.outcomes, o)
	s.mu.Unlock()
	return nil
}

// ListRecent returns outcomes newest first.
func (s *OutcomeStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	s.mu.Lock()
	var out []domain.TradeOutcome
	for _, o := range s.outcomes {
		if opts.Since != nil && o.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && o.Timestamp.After(*opts.Until) {
			continue
		}
		out = append(out, o)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ListBefore returns outcomes older than before, oldest first.
func (s *OutcomeStore) ListBefore(_ context.Context, before time.Time) ([]domain.TradeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeOutcome
	for _, o := range s.outcomes {
		if o.Timestamp.Before(before) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *OutcomeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outcomes[:0]
	var n int64
	for _, o := range s.outcomes {
		if o.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, o)
	}
	s.outcomes = kept
	return n, nil
}

// AuditStore is an append-only in-memory audit log.
type AuditStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// BotConfigStore keeps named configs.
type BotConfigStore struct {
	mu      sync.Mutex
	configs map[string]storedConfig
}

type storedConfig struct {
	cfg     domain.BotConfig
	updated time.Time
}

// NewBotConfigStore returns an empty BotConfigStore.
func NewBotConfigStore() *BotConfigStore {
	return &BotConfigStore{configs: make(map[string]storedConfig)}
}

func (s *BotConfigStore) Get(_ context.Context, name string) (domain.BotConfig, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[name]
	if !ok {
		return domain.BotConfig{}, time.Time{}, domain.ErrNotFound
	}
	return c.cfg, c.updated, nil
}

func (s *BotConfigStore) Upsert(_ context.Context, name string, cfg domain.BotConfig) error {
	s.mu.Lock()
	s.configs[name] = storedConfig{cfg: cfg, updated: time.Now().UTC()}
	s.mu.Unlock()
	return nil
}
