// Package cache provides a TTL-bounded LRU cache for completion responses.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Eviction policies. Only LRU is implemented.
const (
	PolicyLRU = "lru"
)

// Cache events reported to an Observer.
const (
	EventHit      = "hit"
	EventMiss     = "miss"
	EventExpired  = "expired"
	EventEviction = "eviction"
	EventSet      = "set"
)

// Config controls capacity and expiry.
type Config struct {
	DefaultTTL     time.Duration `json:"default_ttl"`
	MaxSize        int           `json:"max_size"`
	EvictionPolicy string        `json:"eviction_policy"`
}

// DefaultConfig returns a 24h TTL, 1000 entry LRU configuration.
func DefaultConfig() Config {
	return Config{DefaultTTL: 24 * time.Hour, MaxSize: 1000, EvictionPolicy: PolicyLRU}
}

// Item is one cached value with its access metadata.
type Item struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	LastAccess  time.Time       `json:"last_access"`
	AccessCount int             `json:"access_count"`
	Size        int             `json:"size"`
}

// Stats are aggregate counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	Bytes     int     `json:"bytes"`
	HitRate   float64 `json:"hit_rate"`
}

// Observer is notified of cache events, typically to update metrics.
type Observer func(event string)

// Cache is a doubly-linked-list plus map LRU keyed by content hash.
// It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*list.Element
	lru     *list.List
	bytes   int

	hits, misses, evictions int64

	now      func() time.Time
	observer Observer
	logger   *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a cache. Zero config values fall back to DefaultConfig.
func New(cfg Config, opts ...Option) (*Cache, error) {
	def := DefaultConfig()
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.EvictionPolicy == "" {
		cfg.EvictionPolicy = def.EvictionPolicy
	}
	if cfg.MaxSize < 0 {
		return nil, fmt.Errorf("invalid cache max size %d", cfg.MaxSize)
	}
	if cfg.EvictionPolicy != PolicyLRU {
		return nil, fmt.Errorf("unsupported eviction policy %q", cfg.EvictionPolicy)
	}

	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Key hashes the parts into a stable content key.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Config returns the effective configuration.
func (c *Cache) Config() Config {
	return c.cfg
}

// Get returns the raw value for key. Absent and expired entries count as
// misses; expired entries are removed on access.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		c.emit(EventMiss)
		return nil, false
	}

	item := elem.Value.(*Item)
	now := c.now()
	if !now.Before(item.ExpiresAt) {
		c.removeElement(elem)
		c.misses++
		c.emit(EventExpired)
		c.emit(EventMiss)
		return nil, false
	}

	item.LastAccess = now
	item.AccessCount++
	c.lru.MoveToFront(elem)
	c.hits++
	c.emit(EventHit)

	out := make(json.RawMessage, len(item.Value))
	copy(out, item.Value)
	return out, true
}

// Decode looks up key and unmarshals the value into dst.
func (c *Cache) Decode(key string, dst any) (bool, error) {
	raw, ok := c.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return true, nil
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value any) error {
	return c.SetWithTTL(key, value, c.cfg.DefaultTTL)
}

// SetWithTTL stores value under key. Size is the serialized byte length.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.entries[key]; ok {
		item := elem.Value.(*Item)
		c.bytes += len(data) - item.Size
		item.Value = data
		item.Size = len(data)
		item.CreatedAt = now
		item.ExpiresAt = now.Add(ttl)
		c.lru.MoveToFront(elem)
		c.emit(EventSet)
		return nil
	}

	c.insert(&Item{
		Key:        key,
		Value:      data,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
		Size:       len(data),
	})
	c.emit(EventSet)
	return nil
}

// insert adds a new item at the front, evicting from the back while the
// cache is full. Caller holds mu.
func (c *Cache) insert(item *Item) {
	for c.lru.Len() >= c.cfg.MaxSize && c.lru.Len() > 0 {
		c.evictOldest()
	}
	c.entries[item.Key] = c.lru.PushFront(item)
	c.bytes += item.Size
}

func (c *Cache) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	c.evictions++
	c.emit(EventEviction)
}

func (c *Cache) removeElement(elem *list.Element) {
	item := c.lru.Remove(elem).(*Item)
	delete(c.entries, item.Key)
	c.bytes -= item.Size
}

func (c *Cache) emit(event string) {
	if c.observer != nil {
		c.observer(event)
	}
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Clear drops all entries. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.bytes = 0
}

// Len returns the number of entries, including ones that have expired but
// not yet been accessed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns keys from most to least recently used.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.lru.Len())
	for e := c.lru.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*Item).Key)
	}
	return keys
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Cache) statsLocked() Stats {
	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   c.lru.Len(),
		Bytes:     c.bytes,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// String renders the stats for CLI output.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entries=%d bytes=%d hits=%d misses=%d evictions=%d hit_rate=%.1f%%",
		s.Entries, s.Bytes, s.Hits, s.Misses, s.Evictions, s.HitRate*100)
	return b.String()
}
