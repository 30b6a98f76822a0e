package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLoadOrNewThenSave(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	sess, err := LoadOrNew(ctx, store, "t1", "c1", 10, now)
	if err != nil {
		t.Fatalf("LoadOrNew() error = %v", err)
	}
	if sess.Stage != StageGreeting || sess.Version != 0 {
		t.Fatalf("unexpected fresh session: %#v", sess)
	}

	sess.Stage = StageDiscovery
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Stage != StageDiscovery || loaded.Version != 1 {
		t.Fatalf("unexpected loaded session: stage=%s version=%d", loaded.Stage, loaded.Version)
	}

	loaded.Stage = StageGreeting
	if loaded.Stage == sess.Stage {
		t.Fatal("Load must return a copy")
	}
}

func TestMemoryStoreRejectsStaleVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	sess := NewSession("t1", "c1", 0, time.Now())
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	a, _ := store.Load(ctx, "t1", "c1")
	b, _ := store.Load(ctx, "t1", "c1")

	if err := store.Save(ctx, a); err != nil {
		t.Fatalf("Save(a) error = %v", err)
	}
	if err := store.Save(ctx, b); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("Save(b) error = %v, want ErrVersionConflict", err)
	}
}

func TestMemoryStoreArchiveStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	old := NewSession("t1", "old", 0, now.Add(-40*24*time.Hour))
	old.Stage = StageFulfillment
	fresh := NewSession("t1", "fresh", 0, now)
	for _, s := range []*Session{old, fresh} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	n, err := store.ArchiveStale(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("ArchiveStale() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("ArchiveStale() = %d, want 1", n)
	}

	again, _ := store.ArchiveStale(ctx, now.Add(-30*24*time.Hour))
	if again != 0 {
		t.Fatalf("second ArchiveStale() = %d, want 0", again)
	}

	reopened, err := LoadOrNew(ctx, store, "t1", "old", 10, now)
	if err != nil {
		t.Fatalf("LoadOrNew() error = %v", err)
	}
	if reopened.Stage != StageGreeting || reopened.ArchivedAt != nil {
		t.Fatalf("archived session was not restarted: %#v", reopened)
	}
	if err := store.Save(ctx, reopened); err != nil {
		t.Fatalf("Save() of restarted session error = %v", err)
	}
}
