package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresenceTrackerCountsUpAndDown(t *testing.T) {
	req := require.New(t)
	p := NewPresenceTracker()

	req.Equal(0, p.Count())
	req.Equal(1, p.Increment())
	req.Equal(2, p.Increment())
	req.Equal(1, p.Decrement())
	req.Equal(0, p.Decrement())
}

func TestPresenceTrackerClampsAtZero(t *testing.T) {
	req := require.New(t)
	p := NewPresenceTracker()

	req.Equal(0, p.Decrement())
	req.Equal(0, p.Decrement())
	req.Equal(0, p.Count())
	req.Equal(1, p.Increment())
}

func TestPresenceTrackerConcurrentUse(t *testing.T) {
	req := require.New(t)
	p := NewPresenceTracker()

	const goroutines = 16
	const perGoroutine = 100

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				p.Increment()
				p.Decrement()
			}
		}()
	}
	wg.Wait()

	req.Equal(0, p.Count())
}
