package cache

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(opts Options) (*Cache[string], *clock, *[]string) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string](opts)
	c.now = clk.now
	var evicted []string
	c.SetOnEvicted(func(key string, _ string) { evicted = append(evicted, key) })
	return c, clk, &evicted
}

func TestGetHonoursExpiration(t *testing.T) {
	c, clk, _ := newTestCache(Options{TTL: time.Minute})
	c.Set("a", "1")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	clk.advance(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestGetOrCreateSlidesExpiration(t *testing.T) {
	c, clk, evicted := newTestCache(Options{TTL: time.Minute})
	creates := 0
	create := func() string { creates++; return "view" }

	_, created := c.GetOrCreate("a", create)
	assert.True(t, created)

	for i := 0; i < 3; i++ {
		clk.advance(40 * time.Second)
		_, created = c.GetOrCreate("a", create)
		assert.False(t, created)
	}
	assert.Equal(t, 1, creates)

	clk.advance(2 * time.Minute)
	_, created = c.GetOrCreate("a", create)
	assert.True(t, created)
	assert.Equal(t, []string{"a"}, *evicted)
}

func TestMaxItemsEvictsClosestToExpiry(t *testing.T) {
	c, clk, evicted := newTestCache(Options{TTL: time.Minute, MaxItems: 2})
	c.Set("a", "1")
	clk.advance(time.Second)
	c.Set("b", "2")
	clk.advance(time.Second)
	c.Set("c", "3")

	assert.Equal(t, []string{"a"}, *evicted)
	keys := c.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"b", "c"}, keys)
}

func TestDeleteExpiredAndFlushReportEvictions(t *testing.T) {
	c, clk, evicted := newTestCache(Options{TTL: time.Minute})
	c.SetWithExpiration("short", "1", time.Second)
	c.Set("long", "2")

	clk.advance(2 * time.Second)
	c.DeleteExpired()
	assert.Equal(t, []string{"short"}, *evicted)
	assert.Equal(t, 1, c.Count())

	c.Flush()
	assert.Equal(t, []string{"short", "long"}, *evicted)
	assert.Equal(t, 0, c.Count())
}

func TestDeleteCallsBackOutsideLock(t *testing.T) {
	c := New[int](Options{})
	c.SetOnEvicted(func(key string, _ int) {
		// re-entering the cache must not deadlock
		_, _ = c.Get(key)
	})
	c.Set("a", 1)
	c.Delete("a")
	assert.Equal(t, 0, c.Count())
}

func TestCloseStopsPurgeLoop(t *testing.T) {
	c := New[int](Options{PurgeWindow: time.Millisecond})
	c.Close()
	c.Close()
}
