package oribridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCachingAdapterMemoizesFetches(t *testing.T) {
	inner := newFakeAdapter("a")
	inner.issues = []FetchedItem{
		fetched(TypeIssue, "1", "", inner.MintIdentifier(TypeIssue, "1")),
	}
	dir := t.TempDir()
	cached := NewCachingAdapter(inner, dir)

	first, err := cached.GetItems(context.Background(), TypeIssue, nil)
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(first))
	}

	// backend goes away; the cache must still answer
	inner.failAll = true
	second, err := cached.GetItems(context.Background(), TypeIssue, nil)
	if err != nil {
		t.Fatalf("cached fetch failed: %v", err)
	}
	if len(second) != 1 || second[0].LocalIdentifier != "1" {
		t.Fatalf("cache returned wrong items: %+v", second)
	}
}

func TestCachingAdapterKeysPerIssueFilter(t *testing.T) {
	inner := newFakeAdapter("a")
	inner.comments["1"] = []FetchedItem{{
		Type:             TypeComment,
		LocalIdentifier:  "c1",
		Fields:           map[string]any{"body": "x"},
		LocalReferences:  map[string]string{"issue": "1"},
		MintedIdentifier: inner.MintIdentifier(TypeComment, "c1"),
	}}
	dir := t.TempDir()
	cached := NewCachingAdapter(inner, dir)

	if _, err := cached.GetItems(context.Background(), TypeComment, &ItemFilter{Issue: "1"}); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a", "comment-1.json")); err != nil {
		t.Fatalf("per-issue cache file missing: %v", err)
	}
}

func TestCachingAdapterIgnoresCorruptCache(t *testing.T) {
	inner := newFakeAdapter("a")
	inner.issues = []FetchedItem{
		fetched(TypeIssue, "1", "", inner.MintIdentifier(TypeIssue, "1")),
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "issue.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	cached := NewCachingAdapter(inner, dir)
	items, err := cached.GetItems(context.Background(), TypeIssue, nil)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("corrupt cache must fall through to the backend, got %d items", len(items))
	}
}
