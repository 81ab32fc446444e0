package ban

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and flushes
// test ban keys before returning. Tests that call this helper require a
// running Redis on localhost:6379 and skip otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		iter := client.Scan(ctx, 0, BanPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client)
}

func TestIsBanned_NotBanned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	banned, reason, err := store.IsBanned(ctx, "test_10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if banned {
		t.Errorf("expected not banned, got banned (reason=%q)", reason)
	}
}

func TestBanAndCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	addr := "test_10.0.0.2"

	if err := store.Ban(ctx, addr, "abusive username"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	banned, reason, err := store.IsBanned(ctx, addr)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected address to be banned")
	}
	if reason != "abusive username" {
		t.Errorf("expected reason %q, got %q", "abusive username", reason)
	}

	// The ban is permanent: it has no TTL.
	ttl, err := store.client.TTL(ctx, BanPrefix+addr).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl > 0 {
		t.Errorf("expected no expiry on ban record, got TTL %v", ttl)
	}
}

func TestBanIsRepeatable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	addr := "test_10.0.0.3"

	if err := store.Ban(ctx, addr, "first"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	if err := store.Ban(ctx, addr, "second"); err != nil {
		t.Fatalf("second Ban() error: %v", err)
	}

	// Multiple checks all see the ban.
	for i := 0; i < 3; i++ {
		banned, _, err := store.IsBanned(ctx, addr)
		if err != nil {
			t.Fatalf("IsBanned() error: %v", err)
		}
		if !banned {
			t.Fatalf("check %d: expected banned", i)
		}
	}
}

func TestUnban(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	addr := "test_10.0.0.4"

	if err := store.Ban(ctx, addr, "mistake"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	if err := store.Unban(ctx, addr); err != nil {
		t.Fatalf("Unban() error: %v", err)
	}

	banned, _, err := store.IsBanned(ctx, addr)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if banned {
		t.Error("expected address to be unbanned")
	}
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, addr := range []string{"test_10.1.0.1", "test_10.1.0.2"} {
		if err := store.Ban(ctx, addr, "spam"); err != nil {
			t.Fatalf("Ban(%s) error: %v", addr, err)
		}
	}

	addrs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}

	found := 0
	for _, a := range addrs {
		if a == "test_10.1.0.1" || a == "test_10.1.0.2" {
			found++
		}
	}
	if found != 2 {
		t.Errorf("expected both test addresses in listing, found %d (all: %v)", found, addrs)
	}
}
