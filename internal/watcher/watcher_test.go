package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *recorder) onChange(path string) {
	r.mu.Lock()
	r.changed = append(r.changed, path)
	r.mu.Unlock()
}

func (r *recorder) onRemove(path string) {
	r.mu.Lock()
	r.removed = append(r.removed, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() (changed, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changed...), append([]string(nil), r.removed...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_ChangeAndRemove(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher(dir, ".json", rec.onChange, rec.onRemove, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	fixture := filepath.Join(dir, "prp_1_v1.json")
	if err := os.WriteFile(fixture, []byte(`{"rules": {}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		changed, _ := rec.snapshot()
		return len(changed) > 0
	})

	if err := os.Remove(fixture); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, removed := rec.snapshot()
		return len(removed) > 0
	})

	changed, removed := rec.snapshot()
	for _, p := range append(changed, removed...) {
		if filepath.Base(p) != "prp_1_v1.json" {
			t.Errorf("unexpected callback for %s", p)
		}
	}
}

func TestWatcher_DebounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher(dir, ".json", rec.onChange, rec.onRemove, WithDebounce(300*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	fixture := filepath.Join(dir, "prp_2_v1.json")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(fixture, []byte(`{"rules": {}}`), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, func() bool {
		changed, _ := rec.snapshot()
		return len(changed) > 0
	})
	time.Sleep(400 * time.Millisecond)
	if changed, _ := rec.snapshot(); len(changed) != 1 {
		t.Errorf("expected one debounced callback, got %d", len(changed))
	}
}

func TestWatcher_StartMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), ".json", nil, nil)
	if err := w.Start(context.Background()); err == nil {
		t.Error("expected error for a missing directory")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(t.TempDir(), ".json", nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
