package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenSet_MarkIfNew(t *testing.T) {
	s := NewSeenSet(time.Hour)
	defer s.Close()

	assert.True(t, s.MarkIfNew("s1"))
	assert.False(t, s.MarkIfNew("s1"))
	assert.True(t, s.seen("s1"))
	assert.False(t, s.seen("s2"))
}

func TestInMemoryCache_Expiry(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)
	defer c.Close()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.False(t, c.SetIfAbsent("a", 2, 0))

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.True(t, c.SetIfAbsent("a", 3, 0))
	v, _ = c.Get("a")
	assert.Equal(t, 3, v)
}
