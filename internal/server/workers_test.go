package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ssd-technologies/screendawg/internal/config"
	"github.com/ssd-technologies/screendawg/internal/storage"
)

func TestPruneDangling(t *testing.T) {
	srv := setupTestServer(t)
	live := uploadTestFile(t, srv, "owner-1", "a.png", pngBytes)
	gone := uploadTestFile(t, srv, "owner-2", "b.png", pngBytes)
	seedUpload(t, srv, "ghost00", "owner-3")

	rec, _ := srv.registry.Find(gone.ShortID)
	os.Remove(filepath.Join(srv.cfg.Blob.Dir, filepath.FromSlash(rec.StoragePath)))

	if n := srv.pruneDangling(context.Background()); n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	if _, err := srv.registry.Find(live.ShortID); err != nil {
		t.Errorf("live upload pruned: %v", err)
	}
	for _, id := range []string{gone.ShortID, "ghost00"} {
		if _, err := srv.registry.Find(id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("%s still registered: %v", id, err)
		}
	}
	if n, _ := srv.registry.Deleted(); n != 0 {
		t.Errorf("pruning counted as deletion: %d", n)
	}
}

func TestRunPruner_StopsOnCancel(t *testing.T) {
	srv := setupTestServer(t, func(c *config.Config) {
		c.Registry.PruneInterval = config.Duration{Duration: 10 * time.Millisecond}
	})
	seedUpload(t, srv, "ghost00", "owner-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.runPruner(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := srv.registry.Find("ghost00"); errors.Is(err, storage.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pruner never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop after cancel")
	}
}

func TestSweep_DropsExpiredSessions(t *testing.T) {
	srv := setupTestServer(t)
	mem := srv.sessions.(*MemorySessions)

	now := time.Now()
	mem.now = func() time.Time { return now }
	mem.Create(context.Background(), "admin", time.Minute)

	now = now.Add(time.Hour)
	srv.sweep()
	if len(mem.items) != 0 {
		t.Errorf("%d sessions left after sweep", len(mem.items))
	}
}
