package oribridge

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBuildStateBackendFromDSNFile(t *testing.T) {
	dir := t.TempDir()

	backend, err := BuildStateBackendFromDSN("file://"+dir, "gh-issue")
	if err != nil {
		t.Fatalf("file dsn failed: %v", err)
	}
	fileBackend, ok := backend.(*JSONFileStateBackend)
	if !ok {
		t.Fatalf("expected *JSONFileStateBackend, got %T", backend)
	}
	if fileBackend.Path != filepath.Join(dir, "gh-issue.json") {
		t.Fatalf("unexpected snapshot path %q", fileBackend.Path)
	}

	// a bare path means the same thing
	backend, err = BuildStateBackendFromDSN(dir, "gh-comment")
	if err != nil {
		t.Fatalf("bare path dsn failed: %v", err)
	}
	if _, ok := backend.(*JSONFileStateBackend); !ok {
		t.Fatalf("expected *JSONFileStateBackend, got %T", backend)
	}
}

func TestBuildStateBackendFromDSNMemory(t *testing.T) {
	for _, dsn := range []string{"memory://", "mem://", "inmem://"} {
		backend, err := BuildStateBackendFromDSN(dsn, "x")
		if err != nil {
			t.Fatalf("%s failed: %v", dsn, err)
		}
		if _, ok := backend.(*InMemoryStateBackend); !ok {
			t.Fatalf("%s: expected *InMemoryStateBackend, got %T", dsn, backend)
		}
	}
}

func TestBuildStateBackendFromDSNPostgres(t *testing.T) {
	backend, err := BuildStateBackendFromDSN("postgres://user:pw@db:5432/oribridge", "gh-issue")
	if err != nil {
		t.Fatalf("postgres dsn failed: %v", err)
	}
	if _, ok := backend.(*PostgresStateBackend); !ok {
		t.Fatalf("expected *PostgresStateBackend, got %T", backend)
	}
}

func TestBuildStateBackendFromDSNErrors(t *testing.T) {
	if _, err := BuildStateBackendFromDSN("", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty dsn must fail, got %v", err)
	}
	if _, err := BuildStateBackendFromDSN("file:///tmp", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty name must fail, got %v", err)
	}
	if _, err := BuildStateBackendFromDSN("sqlite://x.db", "x"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("sqlite must report not implemented, got %v", err)
	}
	if _, err := BuildStateBackendFromDSN("carrier-pigeon://x", "x"); err == nil {
		t.Fatalf("unknown scheme must fail")
	}
}

func TestRegisteredFactoryWinsOverBuiltins(t *testing.T) {
	sentinel := NewInMemoryStateBackend()
	RegisterStateBackendFactory("custom", func(dsn, name string) (StateBackend, error) {
		return sentinel, nil
	})

	backend, err := BuildStateBackendFromDSN("custom://whatever", "x")
	if err != nil {
		t.Fatalf("custom scheme failed: %v", err)
	}
	if backend != sentinel {
		t.Fatalf("registered factory was not used")
	}
}
