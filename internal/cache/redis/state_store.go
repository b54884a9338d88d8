package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// StateStore implements domain.StateStore as a JSON snapshot at
// "updownbot:<instance>:state". It never expires.
type StateStore struct {
	rdb *redis.Client
	key string
}

// NewStateStore creates a StateStore for the named bot instance.
func NewStateStore(c *Client, instance string) *StateStore {
	return &StateStore{rdb: c.Underlying(), key: "updownbot:" + instance + ":state"}
}

func (s *StateStore) Load(ctx context.Context) (domain.BotState, error) {
	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BotState{}, domain.ErrNotFound
		}
		return domain.BotState{}, fmt.Errorf("redis: load state: %w", err)
	}
	var st domain.BotState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.BotState{}, fmt.Errorf("redis: decode state: %w", err)
	}
	if !st.Mode.Valid() {
		return domain.BotState{}, fmt.Errorf("redis: decode state: unknown mode %q", st.Mode)
	}
	return st, nil
}

func (s *StateStore) Save(ctx context.Context, st domain.BotState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis: encode state: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: save state: %w", err)
	}
	return nil
}

var _ domain.StateStore = (*StateStore)(nil)
