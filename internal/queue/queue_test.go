package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ProcessesInArrivalOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	q := New(16, func(_ context.Context, n int) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Submit(i))
	}
	q.Close()
	require.NoError(t, q.Run(context.Background()))

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_OneInFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	q := New(0, func(_ context.Context, _ int) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
	})

	done := make(chan struct{})
	go func() {
		_ = q.Run(context.Background())
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, q.Submit(i))
		}(i)
	}
	wg.Wait()
	q.Close()
	<-done

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	q := New(1, func(context.Context, int) {})
	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Submit(1), ErrClosed)
}

func TestQueue_CancelDrainsWithoutCancellingWork(t *testing.T) {
	var handled []error
	q := New(4, func(ctx context.Context, _ int) {
		handled = append(handled, ctx.Err())
	})
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))

	assert.Equal(t, []error{nil, nil, nil}, handled)
	assert.ErrorIs(t, q.Submit(4), ErrClosed)
}

func TestQueue_PanicDoesNotStopWorker(t *testing.T) {
	var got []int
	q := New(4, func(_ context.Context, n int) {
		if n == 1 {
			panic("boom")
		}
		got = append(got, n)
	})
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit(i))
	}
	q.Close()
	require.NoError(t, q.Run(context.Background()))

	assert.Equal(t, []int{0, 2}, got)
}

func TestQueue_DepthReported(t *testing.T) {
	var depths []int
	q := New(4, func(context.Context, string) {})
	q.OnDepth(func(n int) { depths = append(depths, n) })

	require.NoError(t, q.Submit("a"))
	require.NoError(t, q.Submit("b"))
	assert.Equal(t, 2, q.Len())
	q.Close()
	require.NoError(t, q.Run(context.Background()))

	assert.Equal(t, []int{1, 2, 1, 0}, depths)
}
