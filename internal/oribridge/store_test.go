package oribridge

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestDataStoreAddUpserts(t *testing.T) {
	store := NewDataStore(nil)
	if err := store.Add(Item{Type: TypeIssue, Identifier: "ori://a/1", Fields: map[string]any{"title": "one"}}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := store.Add(Item{Type: TypeIssue, Identifier: "ori://a/1", Fields: map[string]any{"title": "one revised"}}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("upsert must not duplicate, len=%d", store.Len())
	}
	item, ok := store.GetItem(TypeIssue, "ori://a/1")
	if !ok {
		t.Fatalf("item missing after upsert")
	}
	if item.Fields["title"] != "one revised" {
		t.Fatalf("last write must win, got %v", item.Fields["title"])
	}
}

func TestDataStoreRejectsInvalidItem(t *testing.T) {
	store := NewDataStore(nil)
	if err := store.Add(Item{Type: TypeIssue}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := store.Add(Item{Identifier: "ori://a/1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDataStoreMarkDeletedKeepsTombstone(t *testing.T) {
	store := NewDataStore(nil)
	if err := store.Add(Item{Type: TypeIssue, Identifier: "ori://a/1", Fields: map[string]any{}}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !store.MarkDeleted(TypeIssue, "ori://a/1") {
		t.Fatalf("tombstoning a known item must report true")
	}
	if store.MarkDeleted(TypeIssue, "ori://a/2") {
		t.Fatalf("tombstoning an unknown item must report false")
	}
	item, ok := store.GetItem(TypeIssue, "ori://a/1")
	if !ok || !item.Deleted {
		t.Fatalf("tombstone lost: ok=%v deleted=%v", ok, item.Deleted)
	}
	if store.Len() != 1 {
		t.Fatalf("tombstoned entry must stay in the store, len=%d", store.Len())
	}
}

func TestDataStoreSaveLoadRoundTrip(t *testing.T) {
	backend := NewJSONFileStateBackend(filepath.Join(t.TempDir(), "items.json"))
	store := NewDataStore(backend)
	if err := store.Add(Item{
		Type:       TypeComment,
		Identifier: "ori://a/c1",
		Fields:     map[string]any{"body": "hello"},
		References: map[string]string{"issue": "ori://a/1"},
	}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := store.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	restored := NewDataStore(backend)
	if err := restored.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	item, ok := restored.GetItem(TypeComment, "ori://a/c1")
	if !ok {
		t.Fatalf("comment missing after reload")
	}
	if item.References["issue"] != "ori://a/1" {
		t.Fatalf("references lost: %v", item.References)
	}
}
