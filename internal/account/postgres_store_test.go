//go:build integration

package account

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

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
		db.ExecContext(ctx, "DELETE FROM accounts")
		db.Close()
	}
	return store, cleanup
}

func TestPostgres_CreateGetUpdate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	a := &Account{
		ID:             idgen.WithPrefix("acct_"),
		Email:          "pg@example.com",
		CredentialHash: HashCredential("secret"),
	}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.GetByEmail(ctx, "pg@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if got.ID != a.ID || got.Version != 1 {
		t.Errorf("unexpected record: id=%s version=%d", got.ID, got.Version)
	}

	got.UsageCount = 3
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}
}

func TestPostgres_DuplicateEmail(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	a := &Account{ID: idgen.WithPrefix("acct_"), Email: "dup@example.com", CredentialHash: "x"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	b := &Account{ID: idgen.WithPrefix("acct_"), Email: "dup@example.com", CredentialHash: "y"}
	if err := store.Create(ctx, b); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestPostgres_VersionConflict(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	a := &Account{ID: idgen.WithPrefix("acct_"), Email: "cas-pg@example.com", CredentialHash: "x"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, _ := store.Get(ctx, a.ID)
	second, _ := store.Get(ctx, a.ID)

	first.RiskScore = 10
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	second.RiskScore = 99
	if err := store.Update(ctx, second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestPostgres_UpdateMissing(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ghost := &Account{ID: "acct_ghost", Email: "ghost@example.com", Version: 1}
	if err := store.Update(context.Background(), ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
