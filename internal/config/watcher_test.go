package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oribridge/oribridge/internal/oribridge"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.json")
	initial := `[{"type": "tiki", "name": "w", "server": "h", "trackerId": "1"}]`
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	watcher, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { watcher.Close() })
	watcher.debounce = 50 * time.Millisecond

	reloaded := make(chan []oribridge.BackendSpec, 1)
	go watcher.Run(func(specs []oribridge.BackendSpec) {
		select {
		case reloaded <- specs:
		default:
		}
	})

	// An invalid edit must be swallowed without firing the callback.
	if err := os.WriteFile(path, []byte(`[{"type": "jira"}]`), 0o644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}
	select {
	case specs := <-reloaded:
		t.Fatalf("invalid config must not reload, got %d specs", len(specs))
	case <-time.After(300 * time.Millisecond):
	}

	updated := `[
		{"type": "tiki", "name": "w", "server": "h", "trackerId": "1"},
		{"type": "github", "name": "gh", "repo": "acme/tracker"}
	]`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write updated config: %v", err)
	}
	select {
	case specs := <-reloaded:
		if len(specs) != 2 {
			t.Fatalf("expected 2 specs after reload, got %d", len(specs))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}

	// A write elsewhere in the directory is not our file.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`[]`), 0o644); err != nil {
		t.Fatalf("write sibling file: %v", err)
	}
	select {
	case <-reloaded:
		t.Fatalf("sibling file must not trigger a reload")
	case <-time.After(300 * time.Millisecond):
	}
}
