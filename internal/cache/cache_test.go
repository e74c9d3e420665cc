package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(t *testing.T, cfg Config, clock *fakeClock) *Cache {
	t.Helper()
	c, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return c
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(t, Config{MaxSize: 1}, newFakeClock())

	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("b", 2))

	_, ok := c.Get("a")
	assert.False(t, ok)

	var got int
	found, err := c.Decode("b", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, got)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Evictions)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
}

func TestCache_SetThenGet(t *testing.T) {
	c := newTestCache(t, Config{}, newFakeClock())

	type payload struct {
		Text  string `json:"text"`
		Model string `json:"model"`
	}
	in := payload{Text: "test('x', ...)", Model: "gpt-4"}
	require.NoError(t, c.Set("k", in))

	var out payload
	found, err := c.Decode("k", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in, out)
}

func TestCache_RecencyProtectsAccessedKey(t *testing.T) {
	c := newTestCache(t, Config{MaxSize: 3}, newFakeClock())

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(k, k))
	}
	_, ok := c.Get("a")
	require.True(t, ok)

	require.NoError(t, c.Set("d", "d"))

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	assert.Equal(t, []string{"d", "a", "c"}, c.Keys())
}

func TestCache_NeverExceedsMaxSize(t *testing.T) {
	c := newTestCache(t, Config{MaxSize: 5}, newFakeClock())

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Set(fmt.Sprintf("k%d", i), i))
		assert.LessOrEqual(t, c.Len(), 5)
	}
	assert.Equal(t, int64(15), c.Stats().Evictions)
}

func TestCache_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, Config{DefaultTTL: time.Minute}, clock)

	require.NoError(t, c.Set("a", "x"))
	require.NoError(t, c.SetWithTTL("b", "y", time.Hour))

	clock.Advance(time.Minute)
	assert.Equal(t, 2, c.Len(), "expired entries linger until accessed")

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestCache_OverwriteKeepsSingleEntry(t *testing.T) {
	c := newTestCache(t, Config{}, newFakeClock())

	require.NoError(t, c.Set("a", "short"))
	require.NoError(t, c.Set("a", "much longer value"))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, len(`"much longer value"`), c.Stats().Bytes)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := newTestCache(t, Config{}, newFakeClock())
	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("b", 2))

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.Stats().Bytes)
}

func TestCache_Observer(t *testing.T) {
	var events []string
	c, err := New(Config{MaxSize: 1}, WithObserver(func(e string) { events = append(events, e) }))
	require.NoError(t, err)

	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("b", 1))
	c.Get("b")
	c.Get("a")

	assert.Equal(t, []string{EventSet, EventEviction, EventSet, EventHit, EventMiss}, events)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{MaxSize: -1})
	assert.Error(t, err)

	_, err = New(Config{EvictionPolicy: "lfu"})
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("prompt", "gpt-4"), Key("prompt", "gpt-4"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Len(t, Key("x"), 64)
}

func TestCache_ExportImport(t *testing.T) {
	clock := newFakeClock()
	src := newTestCache(t, Config{DefaultTTL: time.Hour}, clock)

	require.NoError(t, src.Set("old", "o"))
	require.NoError(t, src.SetWithTTL("short", "s", time.Minute))
	require.NoError(t, src.Set("new", "n"))
	src.Get("old")

	snap := src.Export()
	assert.Equal(t, SnapshotVersion, snap.Version)
	require.Len(t, snap.Items, 3)

	clock.Advance(2 * time.Minute)
	dst := newTestCache(t, Config{DefaultTTL: time.Hour}, clock)
	n, err := dst.Import(snap)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "expired item skipped")
	assert.Equal(t, []string{"old", "new"}, dst.Keys())
	assert.Equal(t, int64(1), dst.Stats().Hits)

	later := src.Export()
	require.Len(t, later.Items, 2, "expired item not exported")
	for _, item := range later.Items {
		assert.NotEqual(t, "short", item.Key)
	}
	assert.Equal(t, clock.Now(), later.Timestamp)
}

func TestCache_ImportRejectsUnknownVersion(t *testing.T) {
	c := newTestCache(t, Config{}, newFakeClock())
	_, err := c.Import(Snapshot{Version: 99})
	assert.Error(t, err)
}

func TestCache_SaveLoadFile(t *testing.T) {
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "nested", "cache.json")

	src := newTestCache(t, Config{}, clock)
	require.NoError(t, src.Set("k", map[string]string{"text": "hello"}))
	require.NoError(t, src.SaveFile(path))

	dst := newTestCache(t, Config{}, clock)
	n, err := dst.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var got map[string]string
	found, err := dst.Decode("k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", got["text"])

	n, err = dst.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache(t, Config{MaxSize: 10}, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i+j)%15)
				_ = c.Set(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 10)
}
