package oribridge

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StateBackend persists one named JSON snapshot: an identity-map table
// or the whole item store. Load returns (nil, nil) when no snapshot
// exists yet.
type StateBackend interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

type stateBackendCloser interface {
	Close() error
}

type JSONFileStateBackend struct {
	Path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() ([]byte, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (b *JSONFileStateBackend) Save(data []byte) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || data == nil {
		return nil
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot []byte
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	out := make([]byte, len(b.snapshot))
	copy(out, b.snapshot)
	return out, nil
}

func (b *InMemoryStateBackend) Save(data []byte) error {
	if b == nil || data == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = make([]byte, len(data))
	copy(b.snapshot, data)
	return nil
}
