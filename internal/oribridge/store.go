package oribridge

import (
	"encoding/json"
	"log"
	"sync"
)

// DataStore is the process-wide canonical cache of every item across
// all backends, keyed by (type, canonical identifier). Last write wins;
// no history is retained.
type DataStore struct {
	backend StateBackend

	mu    sync.RWMutex
	items map[ItemType]map[string]Item
}

func NewDataStore(backend StateBackend) *DataStore {
	if backend == nil {
		backend = NewInMemoryStateBackend()
	}
	return &DataStore{
		backend: backend,
		items:   map[ItemType]map[string]Item{},
	}
}

// Add upserts an item by (type, identifier).
func (s *DataStore) Add(item Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.items[item.Type]
	if !ok {
		byID = map[string]Item{}
		s.items[item.Type] = byID
	}
	byID[item.Identifier] = item
	return nil
}

func (s *DataStore) GetItem(itemType ItemType, identifier string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemType][identifier]
	return item, ok
}

func (s *DataStore) GetAllItemsOfType(itemType ItemType) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.items[itemType]
	out := make([]Item, 0, len(byID))
	for _, item := range byID {
		out = append(out, item)
	}
	return out
}

// MarkDeleted tombstones an item. The entry stays in the store so
// identity mappings keep working for idempotency checks.
func (s *DataStore) MarkDeleted(itemType ItemType, identifier string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemType][identifier]
	if !ok {
		return false
	}
	item.Deleted = true
	s.items[itemType][identifier] = item
	return true
}

func (s *DataStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, byID := range s.items {
		total += len(byID)
	}
	return total
}

// Load replaces the store with the persisted snapshot; missing or
// corrupt state degrades to an empty store.
func (s *DataStore) Load() error {
	data, err := s.backend.Load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if data == nil {
		log.Printf("datastore: no persisted state, starting empty")
		s.items = map[ItemType]map[string]Item{}
		return nil
	}
	var snapshot map[ItemType]map[string]Item
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.Printf("datastore: corrupt persisted state, starting empty: %v", err)
		s.items = map[ItemType]map[string]Item{}
		return nil
	}
	if snapshot == nil {
		snapshot = map[ItemType]map[string]Item{}
	}
	s.items = snapshot
	return nil
}

// Save persists the whole store.
func (s *DataStore) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.items, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return s.backend.Save(append(data, '\n'))
}
