package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/devmgr/internal/infrastructure/database"
	_ "github.com/nerrad567/devmgr/migrations"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	repo := setupTestRepo(t)
	log := &Event{Tenant: "acme", Action: "create", EntityType: "device", EntityID: "ab12", Source: "devmgr"}

	if err := repo.Create(context.Background(), log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(log.ID) != len("evt-")+8 {
		t.Errorf("ID = %q, want evt- prefix and 8 chars", log.ID)
	}
	if log.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreate_RequiresTenant(t *testing.T) {
	repo := setupTestRepo(t)
	err := repo.Create(context.Background(), &Event{Action: "create", EntityType: "device", Source: "devmgr"})
	if !errors.Is(err, ErrTenantRequired) {
		t.Errorf("Create() error = %v, want ErrTenantRequired", err)
	}
}

func TestList(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []Event{
		{Tenant: "acme", Action: "create", EntityType: "device", EntityID: "aa01", CreatedAt: base},
		{Tenant: "acme", Action: "update", EntityType: "device", EntityID: "aa01", CreatedAt: base.Add(time.Minute),
			Details: map[string]any{"label": "lamp"}},
		{Tenant: "acme", Action: "template.update", EntityType: "template", EntityID: "3", CreatedAt: base.Add(2 * time.Minute)},
		{Tenant: "other", Action: "create", EntityType: "device", EntityID: "bb02", CreatedAt: base},
	}
	for i := range entries {
		entries[i].Source = "devmgr"
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{"tenant scoped newest first", Filter{Tenant: "acme"}, 3, "template.update"},
		{"by action", Filter{Tenant: "acme", Action: "update"}, 1, "update"},
		{"by entity", Filter{Tenant: "acme", EntityType: "device", EntityID: "aa01"}, 2, "update"},
		{"other tenant", Filter{Tenant: "other"}, 1, "create"},
		{"no match", Filter{Tenant: "nobody"}, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if result.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", result.Total, tt.wantTotal)
			}
			if tt.wantFirst != "" && (len(result.Events) == 0 || result.Events[0].Action != tt.wantFirst) {
				t.Errorf("first action = %v, want %s", result.Events, tt.wantFirst)
			}
			if result.Limit != defaultLimit {
				t.Errorf("Limit = %d, want %d", result.Limit, defaultLimit)
			}
		})
	}

	t.Run("details round trip", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Tenant: "acme", Action: "update"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if got := result.Events[0].Details["label"]; got != "lamp" {
			t.Errorf("Details[label] = %v, want lamp", got)
		}
	})

	t.Run("limit clamped and offset applied", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Tenant: "acme", Limit: 1000, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Limit != maxLimit {
			t.Errorf("Limit = %d, want %d", result.Limit, maxLimit)
		}
		if len(result.Events) != 1 || result.Events[0].Action != "create" {
			t.Errorf("Events = %+v, want the oldest acme entry", result.Events)
		}
	})

	t.Run("missing tenant", func(t *testing.T) {
		if _, err := repo.List(ctx, Filter{}); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("List() error = %v, want ErrTenantRequired", err)
		}
	})
}
