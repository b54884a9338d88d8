package postgres

import (
	"reflect"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestWindowed(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name     string
		opts     domain.ListOpts
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "no filters",
			wantSQL:  "SELECT x FROM t WHERE instance = $1 ORDER BY created_at DESC",
			wantArgs: []any{"bot-a"},
		},
		{
			name:     "full window",
			opts:     domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20},
			wantSQL:  "SELECT x FROM t WHERE instance = $1 AND created_at >= $2 AND created_at <= $3 ORDER BY created_at DESC LIMIT $4 OFFSET $5",
			wantArgs: []any{"bot-a", since, until, 10, 20},
		},
		{
			name:     "offset without window",
			opts:     domain.ListOpts{Offset: 5},
			wantSQL:  "SELECT x FROM t WHERE instance = $1 ORDER BY created_at DESC OFFSET $2",
			wantArgs: []any{"bot-a", 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := windowed("SELECT x FROM t WHERE instance = $1", []any{"bot-a"}, tt.opts)
			if sql != tt.wantSQL {
				t.Errorf("sql = %q, want %q", sql, tt.wantSQL)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestAuditStore_ListIsScopedToInstance(t *testing.T) {
	s := NewAuditStore(nil, "bot-b")
	sql, args := s.listQuery(domain.ListOpts{Limit: 3})

	const want = "SELECT id, event, detail, created_at FROM audit_log WHERE instance = $1 ORDER BY created_at DESC LIMIT $2"
	if sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if !reflect.DeepEqual(args, []any{"bot-b", 3}) {
		t.Errorf("args = %v", args)
	}
}

func TestParsePaper(t *testing.T) {
	vol, stable := "0.25", "1000.5"

	got, err := parsePaper(&vol, &stable)
	if err != nil {
		t.Fatalf("parsePaper: %v", err)
	}
	if got.Volatile.String() != "0.25" || got.Stable.String() != "1000.5" {
		t.Errorf("got %s / %s", got.Volatile, got.Stable)
	}

	if got, err := parsePaper(nil, nil); err != nil || got != nil {
		t.Errorf("null columns: got %v, %v; want nil, nil", got, err)
	}

	bad := "not-a-number"
	if _, err := parsePaper(&bad, &stable); err == nil {
		t.Error("expected error for malformed volatile balance")
	}
}
