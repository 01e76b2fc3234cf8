package oribridge

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// LriMap owns the durable bidirectional mapping between one backend's
// local identifiers and canonical identifiers (ORIs), scoped to a
// single (backend, item type) pair. The mapping is a bijection; a
// conflicting insert is an integrity error, never an overwrite.
type LriMap struct {
	name    string
	backend StateBackend

	mu sync.Mutex
	// both directions of the same bijection
	toLocal    map[string]string
	toOriginal map[string]string
}

type lriMapSnapshot struct {
	ToLocal    map[string]string `json:"toLocal"`
	ToOriginal map[string]string `json:"toOriginal"`
}

func NewLriMap(name string, backend StateBackend) *LriMap {
	if backend == nil {
		backend = NewInMemoryStateBackend()
	}
	return &LriMap{
		name:       name,
		backend:    backend,
		toLocal:    map[string]string{},
		toOriginal: map[string]string{},
	}
}

func (m *LriMap) Name() string {
	return m.name
}

// ToLocal resolves a canonical identifier to this backend's local
// identifier. Pure lookup, no side effects.
func (m *LriMap) ToLocal(original string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	local, ok := m.toLocal[original]
	return local, ok
}

// OriginalOf resolves a local identifier to its canonical identifier
// without attempting reconciliation.
func (m *LriMap) OriginalOf(local string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.toOriginal[local]
	return original, ok
}

// ToOriginal assigns (or confirms) the canonical identifier for a
// freshly observed local item. An existing mapping always wins. For an
// unseen local identifier the hint takes priority over the minted
// identifier; having neither is an adapter defect. A hint that
// disagrees with the adopted identifier means two backends have
// diverged on the item's identity and the operation fails without
// touching the map.
func (m *LriMap) ToOriginal(f FetchedItem) (string, error) {
	if f.LocalIdentifier == "" {
		return "", fmt.Errorf("%w: fetched item of type %s has no local identifier", ErrInvalidInput, f.Type)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if original, ok := m.toOriginal[f.LocalIdentifier]; ok {
		if f.HintedIdentifier != "" && f.HintedIdentifier != original {
			return "", &IntegrityError{
				MapName:  m.name,
				Local:    f.LocalIdentifier,
				Hinted:   f.HintedIdentifier,
				Original: original,
			}
		}
		return original, nil
	}

	log.Printf("lrimap %s: local identifier %q not seen before", m.name, f.LocalIdentifier)
	var original string
	switch {
	case f.HintedIdentifier != "":
		log.Printf("lrimap %s: adopting ORI %q for %q from hint", m.name, f.HintedIdentifier, f.LocalIdentifier)
		original = f.HintedIdentifier
	case f.MintedIdentifier != "":
		log.Printf("lrimap %s: minting ORI %q for %q", m.name, f.MintedIdentifier, f.LocalIdentifier)
		original = f.MintedIdentifier
	default:
		return "", fmt.Errorf("%w: local=%q in %s", ErrNoIdentifier, f.LocalIdentifier, m.name)
	}

	if existingLocal, ok := m.toLocal[original]; ok && existingLocal != f.LocalIdentifier {
		return "", &IntegrityError{
			MapName:  m.name,
			Local:    f.LocalIdentifier,
			Hinted:   f.HintedIdentifier,
			Original: original,
		}
	}
	if f.HintedIdentifier == "" {
		// soft warning only: the item does not yet describe its own identity
		log.Printf("lrimap %s: no ORI hint embedded for local=%q original=%q", m.name, f.LocalIdentifier, original)
	}
	m.toOriginal[f.LocalIdentifier] = original
	m.toLocal[original] = f.LocalIdentifier
	return original, nil
}

// AddMapping records a pairing learned on the push path, after a
// backend returned the local id it assigned to an item we created.
// Re-inserting the identical pair is a no-op; a conflicting pair on
// either side is an integrity error and the map is left unchanged.
func (m *LriMap) AddMapping(local, original string) error {
	if local == "" || original == "" {
		return fmt.Errorf("%w: mapping needs both identifiers, got local=%q original=%q", ErrInvalidInput, local, original)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existingLocal, haveLocal := m.toLocal[original]
	existingOriginal, haveOriginal := m.toOriginal[local]
	if haveLocal && existingLocal == local && haveOriginal && existingOriginal == original {
		return nil
	}
	if haveLocal || haveOriginal {
		return &IntegrityError{
			MapName:  m.name,
			Local:    local,
			Original: original,
		}
	}
	m.toLocal[original] = local
	m.toOriginal[local] = original
	return nil
}

// Len reports the number of mapped pairs.
func (m *LriMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.toOriginal)
}

// Load replaces the table with the persisted snapshot. Missing or
// corrupt state degrades to an empty map.
func (m *LriMap) Load() error {
	data, err := m.backend.Load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if data == nil {
		log.Printf("lrimap %s: no persisted state, starting empty", m.name)
		m.toLocal = map[string]string{}
		m.toOriginal = map[string]string{}
		return nil
	}
	var snapshot lriMapSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.Printf("lrimap %s: corrupt persisted state, starting empty: %v", m.name, err)
		m.toLocal = map[string]string{}
		m.toOriginal = map[string]string{}
		return nil
	}
	if snapshot.ToLocal == nil {
		snapshot.ToLocal = map[string]string{}
	}
	if snapshot.ToOriginal == nil {
		snapshot.ToOriginal = map[string]string{}
	}
	m.toLocal = snapshot.ToLocal
	m.toOriginal = snapshot.ToOriginal
	return nil
}

// Save persists the whole bidirectional table.
func (m *LriMap) Save() error {
	m.mu.Lock()
	snapshot := lriMapSnapshot{
		ToLocal:    make(map[string]string, len(m.toLocal)),
		ToOriginal: make(map[string]string, len(m.toOriginal)),
	}
	for k, v := range m.toLocal {
		snapshot.ToLocal[k] = v
	}
	for k, v := range m.toOriginal {
		snapshot.ToOriginal[k] = v
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return m.backend.Save(append(data, '\n'))
}

// Close releases the state backend when it holds external resources
// (a Postgres pool). File and in-memory backends have nothing to
// release.
func (m *LriMap) Close() error {
	if closer, ok := m.backend.(stateBackendCloser); ok {
		return closer.Close()
	}
	return nil
}
