package server

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ssd-technologies/screendawg/internal/config"
)

func TestSignSession_RoundTrip(t *testing.T) {
	value := signSession("secret", "abc123")
	id, ok := verifySession("secret", value)
	if !ok || id != "abc123" {
		t.Fatalf("verifySession = %q, %v", id, ok)
	}

	for _, bad := range []string{
		"",
		"abc123",
		".sig",
		"abc124." + sessionMAC("secret", "abc123"),
		signSession("other", "abc123"),
	} {
		if _, ok := verifySession("secret", bad); ok {
			t.Errorf("verifySession(%q) accepted", bad)
		}
	}
}

func TestMemorySessions_Lifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemorySessions()
	m.now = func() time.Time { return now }

	id, err := m.Create(ctx, "admin", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(id) != 2*sessionIDBytes {
		t.Errorf("session id length = %d", len(id))
	}
	if user, err := m.Lookup(ctx, id); err != nil || user != "admin" {
		t.Fatalf("Lookup = %q, %v", user, err)
	}

	if err := m.Destroy(ctx, id); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := m.Lookup(ctx, id); !errors.Is(err, ErrNoSession) {
		t.Errorf("Lookup after Destroy err = %v", err)
	}
}

func TestMemorySessions_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemorySessions()
	m.now = func() time.Time { return now }

	short, _ := m.Create(ctx, "admin", time.Minute)
	long, _ := m.Create(ctx, "admin", time.Hour)

	now = now.Add(2 * time.Minute)
	if _, err := m.Lookup(ctx, short); !errors.Is(err, ErrNoSession) {
		t.Errorf("expired session err = %v", err)
	}
	if _, err := m.Lookup(ctx, long); err != nil {
		t.Errorf("live session err = %v", err)
	}

	m.Create(ctx, "admin", time.Minute)
	now = now.Add(2 * time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
}

// TestRedisSessions runs against a real server when SCREENDAWG_TEST_REDIS
// holds its address.
func TestRedisSessions(t *testing.T) {
	addr := os.Getenv("SCREENDAWG_TEST_REDIS")
	if addr == "" {
		t.Skip("SCREENDAWG_TEST_REDIS not set")
	}
	ctx := context.Background()
	rs := NewRedisSessions(config.RedisConfig{Addr: addr})
	defer rs.Close()
	if err := rs.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	id, err := rs.Create(ctx, "admin", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if user, err := rs.Lookup(ctx, id); err != nil || user != "admin" {
		t.Fatalf("Lookup = %q, %v", user, err)
	}
	if err := rs.Destroy(ctx, id); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := rs.Lookup(ctx, id); !errors.Is(err, ErrNoSession) {
		t.Errorf("Lookup after Destroy err = %v", err)
	}
}
