package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGet(t *testing.T) {
	store := NewStore()

	store.Set("dashboard", "snapshot", "value-1", time.Minute)

	v, ok := store.Get("dashboard", "snapshot")
	require.True(t, ok)
	assert.Equal(t, "value-1", v)

	// different namespace, same key
	_, ok = store.Get("trends", "snapshot")
	assert.False(t, ok)
}

func TestStore_EntryNeverExpiresBeforeTTL(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	store.Set("dashboard", "snapshot", "value-1", 100*time.Millisecond)

	// exactly at the TTL boundary the entry is still live
	store.now = func() time.Time { return now.Add(100 * time.Millisecond) }
	_, ok := store.Get("dashboard", "snapshot")
	assert.True(t, ok)

	// strictly after the TTL it is gone
	store.now = func() time.Time { return now.Add(101 * time.Millisecond) }
	_, ok = store.Get("dashboard", "snapshot")
	assert.False(t, ok)
}

func TestStore_Invalidate(t *testing.T) {
	store := NewStore()
	store.Set("fields", "ticket", "mapping", time.Minute)
	store.Set("fields", "other", "mapping", time.Minute)
	store.Set("dashboard", "snapshot", "value", time.Minute)

	t.Run("single key", func(t *testing.T) {
		store.Invalidate("fields", "ticket")
		_, ok := store.Get("fields", "ticket")
		assert.False(t, ok)
		_, ok = store.Get("fields", "other")
		assert.True(t, ok)
	})

	t.Run("whole namespace", func(t *testing.T) {
		store.Invalidate("fields", "")
		_, ok := store.Get("fields", "other")
		assert.False(t, ok)
		_, ok = store.Get("dashboard", "snapshot")
		assert.True(t, ok)
	})
}

func TestStore_Stats(t *testing.T) {
	store := NewStore()
	store.Set("dashboard", "snapshot", "value", time.Minute)

	store.Get("dashboard", "snapshot")
	store.Get("dashboard", "snapshot")
	store.Get("dashboard", "missing")

	stats := store.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestStore_GetOrFetch_CoalescesConcurrentMisses(t *testing.T) {
	store := NewStore()

	var fetches int64
	fetch := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&fetches, 1)
		time.Sleep(20 * time.Millisecond)
		return "fetched", nil
	}

	const workers = 10
	results := make([]interface{}, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := store.GetOrFetch(context.Background(), "ranking", "technicians", time.Minute, fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&fetches))
	for _, v := range results {
		assert.Equal(t, "fetched", v)
	}

	// the fetched value is now served from the cache
	v, ok := store.Get("ranking", "technicians")
	require.True(t, ok)
	assert.Equal(t, "fetched", v)
}
