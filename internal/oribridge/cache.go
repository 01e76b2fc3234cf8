package oribridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// CachingAdapter wraps an Adapter and memoizes bulk fetches on disk,
// one file per (type, filter), so repeated sync cycles do not re-hit
// the backend API. Mutations pass through and invalidate nothing; the
// cache is a bootstrap convenience, removed by deleting its directory.
type CachingAdapter struct {
	Adapter
	dir string
}

func NewCachingAdapter(inner Adapter, dir string) *CachingAdapter {
	return &CachingAdapter{Adapter: inner, dir: dir}
}

func (c *CachingAdapter) cachePath(itemType ItemType, filter *ItemFilter) string {
	name := string(itemType) + ".json"
	if filter != nil && filter.Issue != "" {
		name = fmt.Sprintf("%s-%s.json", itemType, filter.Issue)
	}
	return filepath.Join(c.dir, c.Adapter.Name(), name)
}

func (c *CachingAdapter) GetItems(ctx context.Context, itemType ItemType, filter *ItemFilter) ([]FetchedItem, error) {
	path := c.cachePath(itemType, filter)
	if data, err := os.ReadFile(path); err == nil {
		var items []FetchedItem
		if err := json.Unmarshal(data, &items); err == nil {
			log.Printf("cache: loaded %s", path)
			return items, nil
		}
		log.Printf("cache: ignoring corrupt %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	items, err := c.Adapter.GetItems(ctx, itemType, filter)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return items, nil
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return items, nil
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		log.Printf("cache: failed to save %s: %v", path, err)
	}
	return items, nil
}
