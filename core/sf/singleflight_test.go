package sf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleflight_Do(t *testing.T) {
	s := New[int]()

	var calls atomic.Int64
	entered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 10)

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := s.Do("k", func() (int, error) {
			calls.Add(1)
			close(entered)
			<-release
			return 42, nil
		})
		require.NoError(t, err)
		results[0] = v
	}()

	// The leader is inside fn, the rest pile up behind it.
	<-entered
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Do("k", func() (int, error) {
				calls.Add(1)
				return -1, nil
			})
			require.NoError(t, err)
			results[i] = v
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestSingleflight_Error(t *testing.T) {
	s := New[string]()

	boom := errors.New("boom")
	v, err := s.Do("k", func() (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, v)
}
