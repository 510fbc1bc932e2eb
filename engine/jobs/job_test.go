package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)

	js, err := NewJobSystemFromSettings(core.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 4, js.NumWorkers())
	require.NoError(t, js.Shutdown())
}

func TestCallbacksFollowOutcome(t *testing.T) {
	js, err := NewJobSystem(2, 4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var completed, failed, finished atomic.Int32
	boom := errors.New("boom")

	submit := func(run func(context.Context) error) {
		wg.Add(1)
		require.NoError(t, js.Submit(Task{
			Name:       "t",
			Run:        run,
			OnComplete: func() { completed.Add(1) },
			OnFailure: func(err error) {
				failed.Add(1)
			},
			OnCompletionCallback: func() {
				finished.Add(1)
				wg.Done()
			},
		}))
	}
	submit(func(context.Context) error { return nil })
	submit(func(context.Context) error { return boom })
	submit(func(context.Context) error { panic("kaboom") })
	wg.Wait()

	assert.Equal(t, int32(1), completed.Load())
	assert.Equal(t, int32(2), failed.Load())
	assert.Equal(t, int32(3), finished.Load())
	require.NoError(t, js.Shutdown())
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())
	assert.ErrorIs(t, js.Submit(Task{Run: func(context.Context) error { return nil }}), ErrShutdown)
}

func TestParallelFor(t *testing.T) {
	js, err := NewJobSystem(3, 2)
	require.NoError(t, err)
	defer js.Shutdown()

	seen := make([]int32, 10)
	err = js.ParallelFor(context.Background(), "fill", len(seen), func(_ context.Context, i int) error {
		atomic.AddInt32(&seen[i], 1)
		return nil
	})
	require.NoError(t, err)
	for i, v := range seen {
		assert.Equal(t, int32(1), v, "index %d", i)
	}

	bad := errors.New("bad index")
	err = js.ParallelFor(context.Background(), "fail", 5, func(_ context.Context, i int) error {
		if i == 3 {
			return bad
		}
		return nil
	})
	assert.ErrorIs(t, err, bad)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = js.ParallelFor(ctx, "cancelled", 2, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
