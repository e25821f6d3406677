package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestAccount(id, email string) *Account {
	return &Account{
		ID:             id,
		Email:          email,
		CredentialHash: HashCredential("pattern-1234"),
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newTestAccount("acct_1", "user@example.com")
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if a.Version != 1 {
		t.Errorf("expected version 1 after create, got %d", a.Version)
	}

	got, err := store.Get(ctx, "acct_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Email != "user@example.com" {
		t.Errorf("unexpected email %q", got.Email)
	}

	byEmail, err := store.GetByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if byEmail.ID != "acct_1" {
		t.Errorf("unexpected id %q", byEmail.ID)
	}
}

func TestMemoryStore_DuplicateEmail(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestAccount("acct_1", "dup@example.com")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err := store.Create(ctx, newTestAccount("acct_2", "dup@example.com"))
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "acct_none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_UpdateCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newTestAccount("acct_1", "cas@example.com")
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Two readers load the same version.
	first, _ := store.Get(ctx, "acct_1")
	second, _ := store.Get(ctx, "acct_1")

	first.UsageCount = 1
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("expected version bump to 2, got %d", first.Version)
	}

	second.UsageCount = 5
	err := store.Update(ctx, second)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for stale writer, got %v", err)
	}

	// The store kept the first writer's value.
	got, _ := store.Get(ctx, "acct_1")
	if got.UsageCount != 1 {
		t.Errorf("expected usage count 1, got %d", got.UsageCount)
	}
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	until := time.Now().Add(time.Hour)
	a := newTestAccount("acct_1", "iso@example.com")
	a.BannedUntil = &until
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, _ := store.Get(ctx, "acct_1")
	*got.BannedUntil = time.Now().Add(-time.Hour) // mutate the copy

	again, _ := store.Get(ctx, "acct_1")
	if !again.BannedUntil.After(time.Now()) {
		t.Error("store state leaked through returned pointer")
	}
}

func TestMemoryStore_ConcurrentCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestAccount("acct_1", "race@example.com")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const writers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			a, err := store.Get(ctx, "acct_1")
			if err != nil {
				return
			}
			a.UsageCount++
			if err := store.Update(ctx, a); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, "acct_1")
	if int64(wins)+1 != got.Version {
		t.Errorf("version %d does not match %d successful writes", got.Version, wins)
	}
}
