package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestSessionStore spins up an in-process miniredis and returns a
// SessionStore backed by it.
func newTestSessionStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewSessionStore(client, "chat-1"), mr
}

func TestSessionCreateAndGet(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	rec, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a session record, got nil")
	}
	if rec.UserID != "alice" || rec.ConnID != "conn-1" || rec.Server != "chat-1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.ConnectedAt == 0 || rec.LastActive == 0 {
		t.Error("expected timestamps to be set")
	}
}

func TestSessionGet_Absent(t *testing.T) {
	store, _ := newTestSessionStore(t)

	rec, err := store.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for absent session, got %+v", rec)
	}
}

func TestSessionDelete(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Delete(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	rec, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected session to be deleted, got %+v", rec)
	}
}

func TestSessionDelete_SupersededRecordIsKept(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	// A reconnect overwrote the record before the old connection's cleanup ran.
	if err := store.Create(ctx, "alice", "conn-2"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := store.Delete(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	rec, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec == nil || rec.ConnID != "conn-2" {
		t.Errorf("expected conn-2 record to survive stale delete, got %+v", rec)
	}
}

func TestSessionTouch_RefreshesTTL(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Burn most of the TTL, then touch; the key must survive the original
	// expiry point.
	mr.FastForward(SessionTTL - 1)
	if err := store.Touch(ctx, "alice"); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	mr.FastForward(SessionTTL - 1)

	rec, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected touched session to still exist")
	}
}
