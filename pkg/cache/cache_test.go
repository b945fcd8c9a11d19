package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string](Options{TTL: time.Minute})
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	c.SetWithExpiration("b", "2", 0)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok, "entries without expiry never expire")

	c.deleteExpired()
	assert.Equal(t, 1, c.Count())
}

func TestCache_EvictsWhenFull(t *testing.T) {
	c := New[int](Options{TTL: time.Hour, MaxItems: 2})
	var evicted []string
	c.SetOnEvicted(func(k string, _ int) { evicted = append(evicted, k) })

	c.SetWithExpiration("short", 1, time.Minute)
	c.Set("long", 2)
	c.Set("new", 3)

	assert.Equal(t, 2, c.Count())
	assert.Equal(t, []string{"short"}, evicted)
	_, ok := c.Get("long")
	assert.True(t, ok)

	c.Set("long", 4)
	assert.Equal(t, 2, c.Count(), "overwriting a key does not evict")
}

func TestCache_DeleteAndFlush(t *testing.T) {
	c := New[int](Options{})
	defer c.Close()
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Flush()
	assert.Zero(t, c.Count())
	c.Close()
}
