package async

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessorSingleWorkerIsFIFO(t *testing.T) {
	p := NewProcessor("fifo-test", 1)
	p.Start()
	defer p.Stop(time.Second)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, p.Enqueue(TaskFunc(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})))
	}

	require.True(t, p.Flush(2*time.Second))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestProcessorIsolatesFailures(t *testing.T) {
	p := NewProcessor("failure-test", 2)
	p.Start()

	var ran atomic.Int32
	require.NoError(t, p.Enqueue(TaskFunc(func() error { return errors.New("boom") })))
	require.NoError(t, p.Enqueue(TaskFunc(func() error { panic("kaboom") })))
	require.NoError(t, p.Enqueue(TaskFunc(func() error { ran.Add(1); return nil })))

	require.True(t, p.Flush(2*time.Second))
	assert.Equal(t, int32(1), ran.Load())
	assert.NoError(t, p.Stop(time.Second))
}

func TestProcessorStop(t *testing.T) {
	p := NewProcessor("stop-test", 2)
	p.Start()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Enqueue(TaskFunc(func() error { ran.Add(1); return nil })))
	}
	require.NoError(t, p.Stop(2*time.Second))
	assert.Equal(t, int32(10), ran.Load(), "queued tasks are drained on stop")

	assert.ErrorIs(t, p.Enqueue(TaskFunc(func() error { return nil })), ErrProcessorStopped)
	assert.NoError(t, p.Stop(time.Second), "second stop is a no-op")
}

func TestProcessorStopTimeout(t *testing.T) {
	p := NewProcessor("timeout-test", 1)
	p.Start()

	release := make(chan struct{})
	require.NoError(t, p.Enqueue(TaskFunc(func() error { <-release; return nil })))

	err := p.Stop(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	close(release)
}

func TestProcessorStopWithoutStart(t *testing.T) {
	p := NewProcessor("never-started", 1)
	require.NoError(t, p.Enqueue(TaskFunc(func() error { return nil })))
	assert.NoError(t, p.Stop(time.Second))
}
