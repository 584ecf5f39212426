package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequence_StartsAtOne(t *testing.T) {
	var s sequence
	assert.Equal(t, int64(0), s.last())
	assert.Equal(t, int64(1), s.next())
	assert.Equal(t, int64(2), s.next())
	assert.Equal(t, int64(2), s.last())
}

func TestSequence_ConcurrentNextIsUnique(t *testing.T) {
	var s sequence
	const receivers, perReceiver = 8, 250

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for i := 0; i < receivers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perReceiver; j++ {
				n := s.next()
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, receivers*perReceiver)
	assert.Equal(t, int64(receivers*perReceiver), s.last())
}
