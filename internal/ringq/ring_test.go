package ringq

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityRoundsUp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, New[int](0).Cap())
	assert.Equal(t, 2, New[int](2).Cap())
	assert.Equal(t, 4, New[int](3).Cap())
	assert.Equal(t, 8, New[int](8).Cap())
}

func TestFIFOAndBounds(t *testing.T) {
	t.Parallel()

	r := New[int](4)
	for i := range 4 {
		require.True(t, r.Enqueue(i))
	}
	assert.False(t, r.Enqueue(99), "full ring must reject")
	assert.Equal(t, 4, r.Len())

	for i := range 4 {
		v, ok := r.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.Dequeue()
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestWrapAround(t *testing.T) {
	t.Parallel()

	r := New[string](2)
	for round := range 10 {
		require.True(t, r.Enqueue("a"))
		require.True(t, r.Enqueue("b"))
		a, _ := r.Dequeue()
		b, _ := r.Dequeue()
		assert.Equal(t, "a", a, "round %d", round)
		assert.Equal(t, "b", b, "round %d", round)
	}
}

func TestDequeueClearsPointers(t *testing.T) {
	t.Parallel()

	r := New[*int](2)
	v := 7
	require.True(t, r.Enqueue(&v))
	got, ok := r.Dequeue()
	require.True(t, ok)
	assert.Same(t, &v, got)
	assert.Nil(t, r.cells[0].data)
}

func TestConcurrentProducersConsumers(t *testing.T) {
	t.Parallel()

	const (
		producers = 4
		perWorker = 2000
	)
	r := New[int](64)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				for !r.Enqueue(p*perWorker + i) {
					runtime.Gosched()
				}
			}
		}()
	}

	seen := make([]bool, producers*perWorker)
	var mu sync.Mutex
	var cwg sync.WaitGroup
	remaining := producers * perWorker
	for range 2 {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				mu.Lock()
				if remaining == 0 {
					mu.Unlock()
					return
				}
				mu.Unlock()
				v, ok := r.Dequeue()
				if !ok {
					runtime.Gosched()
					continue
				}
				mu.Lock()
				assert.False(t, seen[v], "duplicate %d", v)
				seen[v] = true
				remaining--
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	cwg.Wait()
	for i, s := range seen {
		assert.True(t, s, "lost %d", i)
	}
}
