package testutil

import (
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtEpoch(t *testing.T) {
	clock := NewClock()
	assert.Equal(t, DefaultEpoch, clock.Next())
	assert.Equal(t, DefaultEpoch+1, clock.Next())
	assert.Equal(t, int64(2), clock.Issued())
}

func TestClock_Reset(t *testing.T) {
	clock := NewClock()
	clock.Next()
	clock.Next()

	clock.Reset()
	assert.Equal(t, int64(0), clock.Issued())
	assert.Equal(t, DefaultEpoch, clock.Next())
}

func TestClock_ThreadSafe(t *testing.T) {
	clock := NewClock()
	const goroutines = 50
	const calls = 50

	var mu sync.Mutex
	seen := make(map[nostr.Timestamp]bool)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				ts := clock.Next()
				mu.Lock()
				assert.False(t, seen[ts], "duplicate timestamp %d", ts)
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*calls)
}
