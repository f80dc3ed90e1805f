package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceCacheBuildsOnceConcurrently(t *testing.T) {
	c := NewInstanceCache[int]()
	var builds int32

	var wg sync.WaitGroup
	results := make([]int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.GetOrCreate("k", func() (int, error) {
				atomic.AddInt32(&builds, 1)
				return 7, nil
			})
			require.NoError(t, err)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, builds)
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestInstanceCacheRetriesAfterFailure(t *testing.T) {
	c := NewInstanceCache[int]()
	var calls int32

	_, err := c.GetOrCreate("k", func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, fmt.Errorf("boom")
	})
	require.Error(t, err)

	v, err := c.GetOrCreate("k", func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 9, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.EqualValues(t, 2, calls)
}

func TestInstanceCacheDistinctKeysBuildIndependently(t *testing.T) {
	c := NewInstanceCache[string]()

	a, err := c.GetOrCreate("a", func() (string, error) { return "A", nil })
	require.NoError(t, err)
	b, err := c.GetOrCreate("b", func() (string, error) { return "B", nil })
	require.NoError(t, err)

	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
}
