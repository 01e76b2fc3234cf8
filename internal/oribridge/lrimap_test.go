package oribridge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func fetched(itemType ItemType, local, hinted, minted string) FetchedItem {
	return FetchedItem{
		Type:             itemType,
		LocalIdentifier:  local,
		Fields:           map[string]any{"title": "t", "body": "b"},
		HintedIdentifier: hinted,
		MintedIdentifier: minted,
	}
}

func TestToOriginalMintsThenSticks(t *testing.T) {
	m := NewLriMap("test-issue", nil)

	original, err := m.ToOriginal(fetched(TypeIssue, "42", "", "ori://gh/42"))
	if err != nil {
		t.Fatalf("first resolution failed: %v", err)
	}
	if original != "ori://gh/42" {
		t.Fatalf("expected minted identifier, got %q", original)
	}

	// same local again, even without identifiers now
	again, err := m.ToOriginal(FetchedItem{Type: TypeIssue, LocalIdentifier: "42"})
	if err != nil {
		t.Fatalf("second resolution failed: %v", err)
	}
	if again != original {
		t.Fatalf("resolution is not stable: %q then %q", original, again)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 mapping, got %d", m.Len())
	}
}

func TestToOriginalHintBeatsMinted(t *testing.T) {
	m := NewLriMap("test-issue", nil)

	original, err := m.ToOriginal(fetched(TypeIssue, "7", "ori://other/99", "ori://gh/7"))
	if err != nil {
		t.Fatalf("resolution failed: %v", err)
	}
	if original != "ori://other/99" {
		t.Fatalf("hint should win over minted, got %q", original)
	}
	local, ok := m.ToLocal("ori://other/99")
	if !ok || local != "7" {
		t.Fatalf("reverse lookup broken: local=%q ok=%v", local, ok)
	}
}

func TestToOriginalHintMismatchFailsWithoutWrite(t *testing.T) {
	m := NewLriMap("test-issue", nil)
	if _, err := m.ToOriginal(fetched(TypeIssue, "1", "", "ori://gh/1")); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	_, err := m.ToOriginal(fetched(TypeIssue, "1", "ori://conflicting", ""))
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected *IntegrityError, got %T", err)
	}
	if original, _ := m.OriginalOf("1"); original != "ori://gh/1" {
		t.Fatalf("existing mapping was disturbed: %q", original)
	}
}

func TestToOriginalRejectsSecondLocalForSameIdentifier(t *testing.T) {
	m := NewLriMap("test-issue", nil)
	if _, err := m.ToOriginal(fetched(TypeIssue, "1", "ori://shared", "")); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	_, err := m.ToOriginal(fetched(TypeIssue, "2", "ori://shared", ""))
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("two locals claiming one ORI must fail, got %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("failed insert must not grow the map, len=%d", m.Len())
	}
}

func TestToOriginalNoIdentifierAvailable(t *testing.T) {
	m := NewLriMap("test-issue", nil)
	_, err := m.ToOriginal(FetchedItem{Type: TypeIssue, LocalIdentifier: "5"})
	if !errors.Is(err, ErrNoIdentifier) {
		t.Fatalf("expected ErrNoIdentifier, got %v", err)
	}
}

func TestAddMapping(t *testing.T) {
	m := NewLriMap("test-issue", nil)
	if err := m.AddMapping("10", "ori://gh/10"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	// identical re-insert is fine
	if err := m.AddMapping("10", "ori://gh/10"); err != nil {
		t.Fatalf("idempotent re-insert failed: %v", err)
	}
	// either side conflicting is not
	if err := m.AddMapping("10", "ori://gh/11"); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("conflicting original accepted: %v", err)
	}
	if err := m.AddMapping("11", "ori://gh/10"); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("conflicting local accepted: %v", err)
	}
	if err := m.AddMapping("", "ori://gh/12"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty local accepted: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 mapping, got %d", m.Len())
	}
}

func TestLriMapSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maps", "gh-issue.json")
	backend := NewJSONFileStateBackend(path)

	m := NewLriMap("gh-issue", backend)
	if err := m.AddMapping("42", "ori://gh/42"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	restored := NewLriMap("gh-issue", backend)
	if err := restored.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if local, ok := restored.ToLocal("ori://gh/42"); !ok || local != "42" {
		t.Fatalf("restored map lost the pair: local=%q ok=%v", local, ok)
	}
}

func TestLriMapLoadToleratesMissingAndCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gh-issue.json")
	backend := NewJSONFileStateBackend(path)

	m := NewLriMap("gh-issue", backend)
	if err := m.Load(); err != nil {
		t.Fatalf("load of missing state failed: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty map, got %d", m.Len())
	}

	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("writing corrupt state: %v", err)
	}
	if err := m.Load(); err != nil {
		t.Fatalf("load of corrupt state failed: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("corrupt state must degrade to empty, got %d", m.Len())
	}
}
