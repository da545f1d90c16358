package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsInvalidConcurrency(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidConcurrency)
}

func TestExecute_PassesOutcomeThrough(t *testing.T) {
	e, err := New(2)
	require.NoError(t, err)
	defer e.Release()

	boom := errors.New("boom")
	assert.NoError(t, e.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.ErrorIs(t, e.Execute(context.Background(), func(context.Context) error { return boom }), boom)
}

func TestExecute_RecoversPanics(t *testing.T) {
	e, err := New(1)
	require.NoError(t, err)
	defer e.Release()

	err = e.Execute(context.Background(), func(context.Context) error { panic("bad unit") })
	assert.ErrorIs(t, err, ErrUnitPanicked)

	// The slot is usable again.
	assert.NoError(t, e.Execute(context.Background(), func(context.Context) error { return nil }))
}

func TestSubmit_NeverExceedsLimit(t *testing.T) {
	const limit = 3
	e, err := New(limit)
	require.NoError(t, err)
	defer e.Release()

	var inFlight, maxSeen int32
	var results []<-chan error
	for i := 0; i < 20; i++ {
		results = append(results, e.Submit(context.Background(), func(context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		}))
	}
	for _, r := range results {
		require.NoError(t, <-r)
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(limit))
	assert.Equal(t, int32(limit), atomic.LoadInt32(&maxSeen), "limit should be reached with 20 queued units")
}

func TestSubmit_StartsInSubmissionOrder(t *testing.T) {
	e, err := New(1)
	require.NoError(t, err)
	defer e.Release()

	var mu sync.Mutex
	var order []int
	var results []<-chan error
	for i := 0; i < 10; i++ {
		results = append(results, e.Submit(context.Background(), func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, r := range results {
		<-r
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestExecute_ConcurrentCallersStartInArrivalOrder(t *testing.T) {
	e, err := New(1)
	require.NoError(t, err)
	defer e.Release()

	ctx := context.Background()
	gate := make(chan struct{})
	blocker := e.Submit(ctx, func(context.Context) error {
		<-gate
		return nil
	})
	require.Eventually(t, func() bool { return e.Running() == 1 && e.Waiting() == 0 }, time.Second, time.Millisecond)

	var mu sync.Mutex
	var order []int
	record := func(i int) Unit {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}
	}

	const callers = 8
	var wg sync.WaitGroup
	for i := 1; i <= callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Execute(ctx, record(i)))
		}()
		require.Eventually(t, func() bool { return e.Waiting() == i }, time.Second, time.Millisecond)
	}

	// A caller arriving as the slot frees still queues behind the others.
	close(gate)
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, e.Execute(ctx, record(callers+1)))
	}()

	require.NoError(t, <-blocker)
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestRelease_FailsQueuedUnits(t *testing.T) {
	e, err := New(1)
	require.NoError(t, err)

	gate := make(chan struct{})
	running := e.Submit(context.Background(), func(context.Context) error {
		<-gate
		return nil
	})
	require.Eventually(t, func() bool { return e.Running() == 1 }, time.Second, time.Millisecond)

	queued := e.Submit(context.Background(), func(context.Context) error { return nil })
	e.Release()
	assert.ErrorIs(t, <-queued, ErrReleased)

	close(gate)
	assert.NoError(t, <-running)
	assert.ErrorIs(t, e.Execute(context.Background(), func(context.Context) error { return nil }), ErrReleased)
}

func TestSubmit_FailedUnitFreesSlot(t *testing.T) {
	e, err := New(1)
	require.NoError(t, err)
	defer e.Release()

	for i := 0; i < 5; i++ {
		assert.Error(t, e.Execute(context.Background(), func(context.Context) error { return errors.New("x") }))
	}
	assert.NoError(t, e.Execute(context.Background(), func(context.Context) error { return nil }))
}

func TestSubmit_CanceledContextSkipsUnit(t *testing.T) {
	e, err := New(1)
	require.NoError(t, err)
	defer e.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err = e.Execute(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestCap(t *testing.T) {
	e, err := New(4)
	require.NoError(t, err)
	defer e.Release()

	assert.Equal(t, 4, e.Cap())
	assert.Equal(t, 0, e.Running())
}
