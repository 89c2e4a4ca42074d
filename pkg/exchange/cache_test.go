package exchange

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedCache(capacity int) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(capacity)
	c.now = clock.Now
	return c, clock
}

func tok(s string) *oauth2.Token {
	return &oauth2.Token{AccessToken: s, TokenType: "Bearer"}
}

func TestMemoryCache_GetPut(t *testing.T) {
	c, _ := newClockedCache(10)
	ctx := context.Background()
	key := Key{SubjectToken: "s", Audience: "a"}

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	c.Put(ctx, key, tok("T1"), time.Minute)
	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "T1", got.AccessToken)

	c.Put(ctx, key, tok("T2"), time.Minute)
	got, _ = c.Get(ctx, key)
	assert.Equal(t, "T2", got.AccessToken, "latest write wins")
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_KeyEqualityIsExact(t *testing.T) {
	c, _ := newClockedCache(10)
	ctx := context.Background()

	c.Put(ctx, Key{SubjectToken: "s", Audience: "a"}, tok("T1"), time.Minute)

	for _, k := range []Key{
		{SubjectToken: "s ", Audience: "a"},
		{SubjectToken: "S", Audience: "a"},
		{SubjectToken: "s", Audience: "A"},
		{SubjectToken: "s", Audience: ""},
	} {
		_, ok := c.Get(ctx, k)
		assert.False(t, ok, "key %+v must not match", k)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c, clock := newClockedCache(10)
	ctx := context.Background()
	key := Key{SubjectToken: "s", Audience: "a"}

	c.Put(ctx, key, tok("T1"), time.Minute)

	clock.Advance(59 * time.Second)
	_, ok := c.Get(ctx, key)
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get(ctx, key)
	assert.False(t, ok, "entry must not be returned at or after its expiry")
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on read")
}

func TestMemoryCache_NonPositiveTTLNotStored(t *testing.T) {
	c, _ := newClockedCache(10)
	ctx := context.Background()

	c.Put(ctx, Key{SubjectToken: "s", Audience: "a"}, tok("T1"), 0)
	c.Put(ctx, Key{SubjectToken: "s", Audience: "b"}, tok("T1"), -time.Second)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newClockedCache(3)
	ctx := context.Background()

	for i := range 3 {
		c.Put(ctx, Key{SubjectToken: fmt.Sprintf("s%d", i), Audience: "a"}, tok("T"), time.Minute)
	}
	// touch s0 so s1 becomes least recently used
	_, ok := c.Get(ctx, Key{SubjectToken: "s0", Audience: "a"})
	require.True(t, ok)

	c.Put(ctx, Key{SubjectToken: "s3", Audience: "a"}, tok("T"), time.Minute)

	assert.Equal(t, 3, c.Len())
	_, ok = c.Get(ctx, Key{SubjectToken: "s1", Audience: "a"})
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get(ctx, Key{SubjectToken: "s0", Audience: "a"})
	assert.True(t, ok)
}

func TestMemoryCache_CapacityPrefersExpired(t *testing.T) {
	c, clock := newClockedCache(2)
	ctx := context.Background()

	c.Put(ctx, Key{SubjectToken: "long", Audience: "a"}, tok("T"), time.Hour)
	c.Put(ctx, Key{SubjectToken: "short", Audience: "a"}, tok("T"), time.Second)
	_, _ = c.Get(ctx, Key{SubjectToken: "long", Audience: "a"})
	_, _ = c.Get(ctx, Key{SubjectToken: "short", Audience: "a"})

	clock.Advance(2 * time.Second)
	c.Put(ctx, Key{SubjectToken: "new", Audience: "a"}, tok("T"), time.Hour)

	_, ok := c.Get(ctx, Key{SubjectToken: "long", Audience: "a"})
	assert.True(t, ok, "live entry kept when an expired one can go")
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_ManyKeysStayBounded(t *testing.T) {
	c, _ := newClockedCache(50)
	ctx := context.Background()

	for i := range 500 {
		c.Put(ctx, Key{SubjectToken: fmt.Sprintf("s%d", i), Audience: "a"}, tok("T"), time.Minute)
		require.LessOrEqual(t, c.Len(), 50)
	}
}

func TestMemoryCache_Evict(t *testing.T) {
	c, _ := newClockedCache(10)
	ctx := context.Background()
	key := Key{SubjectToken: "s", Audience: "a"}

	c.Put(ctx, key, tok("T1"), time.Minute)
	c.Evict(ctx, key)
	c.Evict(ctx, key)

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
}
