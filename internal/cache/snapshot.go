package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is the persisted form of a cache.
type Snapshot struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Config    Config    `json:"config"`
	Items     []Item    `json:"items"`
	Stats     Stats     `json:"stats"`
}

// Export captures the live entries from most to least recently used.
// Expired entries that were never read again are left out.
func (c *Cache) Export() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	items := make([]Item, 0, c.lru.Len())
	for e := c.lru.Front(); e != nil; e = e.Next() {
		item := *e.Value.(*Item)
		if !now.Before(item.ExpiresAt) {
			continue
		}
		item.Value = append(json.RawMessage(nil), item.Value...)
		items = append(items, item)
	}
	return Snapshot{
		Version:   SnapshotVersion,
		Timestamp: now,
		Config:    c.cfg,
		Items:     items,
		Stats:     c.statsLocked(),
	}
}

// Import merges a snapshot into the cache. Expired items are skipped and
// recency order is preserved. It returns the number of items loaded.
func (c *Cache) Import(s Snapshot) (int, error) {
	if s.Version != SnapshotVersion {
		return 0, fmt.Errorf("unsupported cache snapshot version %d", s.Version)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	loaded := 0
	// Oldest first so the most recent item ends at the front.
	for i := len(s.Items) - 1; i >= 0; i-- {
		src := s.Items[i]
		if !now.Before(src.ExpiresAt) {
			continue
		}
		if elem, ok := c.entries[src.Key]; ok {
			c.removeElement(elem)
		}
		item := src
		item.Size = len(item.Value)
		c.insert(&item)
		loaded++
	}

	c.hits += s.Stats.Hits
	c.misses += s.Stats.Misses
	c.evictions += s.Stats.Evictions

	c.logger.Debug("cache snapshot imported",
		zap.Int("loaded", loaded),
		zap.Int("skipped", len(s.Items)-loaded))
	return loaded, nil
}

// SaveFile writes the snapshot to path atomically.
func (c *Cache) SaveFile(path string) error {
	data, err := json.MarshalIndent(c.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace cache snapshot: %w", err)
	}
	return nil
}

// LoadFile imports a snapshot from path. A missing file loads nothing.
func (c *Cache) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cache snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, fmt.Errorf("failed to parse cache snapshot: %w", err)
	}
	return c.Import(s)
}
