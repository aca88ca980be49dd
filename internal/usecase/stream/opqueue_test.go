package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpQueueOrdering(t *testing.T) {
	q := NewOpQueue(newTestLogger())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		q.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	q.Wait()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestOpQueueOneInFlight(t *testing.T) {
	q := NewOpQueue(newTestLogger())

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	for i := 0; i < 20; i++ {
		q.Enqueue(func() {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
		})
	}
	q.Wait()

	assert.Equal(t, 1, maxInFlight)
}

func TestOpQueuePanicDoesNotStall(t *testing.T) {
	q := NewOpQueue(newTestLogger())

	q.Enqueue(func() { panic("boom") })

	ran := false
	q.Enqueue(func() { ran = true })
	q.Wait()

	assert.True(t, ran)
}

func TestOpQueueWaitEmpty(t *testing.T) {
	q := NewOpQueue(newTestLogger())
	// Wait on an empty queue must not block.
	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on empty queue")
	}
}
