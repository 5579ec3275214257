package idgen

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeWorkerIDRange(t *testing.T) {
	_, err := NewSnowflake(-1)
	assert.Error(t, err)

	_, err = NewSnowflake(1024)
	assert.Error(t, err)

	_, err = NewSnowflake(1023)
	assert.NoError(t, err)
}

func TestSnowflakeMonotonic(t *testing.T) {
	gen, err := NewSnowflake(1)
	require.NoError(t, err)

	prev := gen.Next()
	for i := 0; i < 10000; i++ {
		id := gen.Next()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestSnowflakeUniqueAcrossGoroutines(t *testing.T) {
	gen, err := NewSnowflake(7)
	require.NoError(t, err)

	const perWorker = 2000
	const workers = 8

	var mu sync.Mutex
	seen := make(map[int64]struct{}, perWorker*workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, gen.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				_, dup := seen[id]
				assert.False(t, dup, "duplicate id %d", id)
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, perWorker*workers)
}

func TestSnowflakeDistinctWorkers(t *testing.T) {
	a, err := NewSnowflake(1)
	require.NoError(t, err)
	b, err := NewSnowflake(2)
	require.NoError(t, err)

	now := time.Now()
	a.nowFunc = func() time.Time { return now }
	b.nowFunc = func() time.Time { return now }

	assert.NotEqual(t, a.Next(), b.Next())
}

func TestSnowflakeClockBackwards(t *testing.T) {
	gen, err := NewSnowflake(3)
	require.NoError(t, err)

	now := time.Now()
	gen.nowFunc = func() time.Time { return now }
	first := gen.Next()

	// clock jumps back one second
	gen.nowFunc = func() time.Time { return now.Add(-time.Second) }
	second := gen.Next()

	assert.Greater(t, second, first)
}

func TestSnowflakeStringForm(t *testing.T) {
	gen, err := NewSnowflake(5)
	require.NoError(t, err)

	s := gen.NextString()
	assert.NotEmpty(t, s)
	for _, r := range s {
		assert.True(t, r >= '0' && r <= '9')
	}
}
