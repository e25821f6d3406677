//go:build integration

package fraud

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/framegate/framegate/internal/idgen"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	store := NewPostgresStore(db)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		db.ExecContext(ctx, "DELETE FROM risk_events")
		db.Close()
	}
	return store, cleanup
}

func TestPostgres_RecordAndList(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	accountID := idgen.WithPrefix("acct_")
	for i, tier := range []string{"none", "5d", "15d"} {
		e := &Event{
			ID:             idgen.WithPrefix("risk_"),
			AccountID:      accountID,
			Delta:          10,
			Reason:         "test",
			ResultingScore: 10 * (i + 1),
			Tier:           tier,
			CreatedAt:      time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := store.ListByAccount(ctx, accountID, 2)
	if err != nil {
		t.Fatalf("ListByAccount failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Tier != "15d" {
		t.Errorf("expected newest event first, got tier %q", got[0].Tier)
	}

	other, err := store.ListByAccount(ctx, idgen.WithPrefix("acct_"), 10)
	if err != nil {
		t.Fatalf("ListByAccount failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no events for other account, got %d", len(other))
	}
}
