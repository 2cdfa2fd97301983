package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsJobsAndPublishesResults(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2, QueueSize: 8}, nil, nil)

	for i := 0; i < 4; i++ {
		i := i
		_, err := p.Submit(context.Background(), Job{Type: "square", Run: func(context.Context) (any, error) {
			if i == 3 {
				return nil, errors.New("nope")
			}
			return i * i, nil
		}})
		require.NoError(t, err)
	}
	require.NoError(t, p.Shutdown(context.Background()))

	var ok, failed int
	for res := range p.Results() {
		if res.Err != nil {
			failed++
			continue
		}
		ok++
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 1, failed)
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, nil, nil)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	started := make(chan struct{})
	block := Job{Run: func(context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}}
	_, err := p.Submit(context.Background(), block)
	require.NoError(t, err)
	<-started

	_, err = p.Submit(context.Background(), Job{Run: func(context.Context) (any, error) { return nil, nil }})
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), Job{Run: func(context.Context) (any, error) { return nil, nil }})
	assert.True(t, errors.Is(err, ErrQueueFull))
	close(release)
}

// fullPool returns a pool whose only worker is parked and whose queue holds
// one job, so the next submit finds no space.
func fullPool(t *testing.T) (*Pool, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	started := make(chan struct{})
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, nil, nil)
	_, err := p.Submit(context.Background(), Job{Run: func(context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}})
	require.NoError(t, err)
	<-started
	_, err = p.Submit(context.Background(), Job{Run: func(context.Context) (any, error) { return nil, nil }})
	require.NoError(t, err)
	return p, release
}

func TestPoolSubmitWaitBlocksUntilSpace(t *testing.T) {
	p, release := fullPool(t)

	var ran atomic.Bool
	submitted := make(chan error, 1)
	go func() {
		_, err := p.SubmitWait(context.Background(), Job{Run: func(context.Context) (any, error) {
			ran.Store(true)
			return nil, nil
		}})
		submitted <- err
	}()

	select {
	case <-submitted:
		t.Fatal("SubmitWait returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SubmitWait never got queue space")
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.True(t, ran.Load())
}

func TestPoolSubmitWaitHonoursContext(t *testing.T) {
	p, release := fullPool(t)
	defer func() {
		close(release)
		_ = p.Shutdown(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.SubmitWait(ctx, Job{Run: func(context.Context) (any, error) { return nil, nil }})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolSubmitWaitReleasedByShutdown(t *testing.T) {
	p, release := fullPool(t)

	submitted := make(chan error, 1)
	go func() {
		_, err := p.SubmitWait(context.Background(), Job{Run: func(context.Context) (any, error) { return nil, nil }})
		submitted <- err
	}()
	time.Sleep(10 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- p.Shutdown(context.Background()) }()

	select {
	case err := <-submitted:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("SubmitWait still blocked after Shutdown")
	}
	close(release)
	require.NoError(t, <-stopped)
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	var ran atomic.Int32
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 10}, nil, nil)
	for i := 0; i < 5; i++ {
		_, err := p.Submit(context.Background(), Job{Run: func(context.Context) (any, error) {
			time.Sleep(2 * time.Millisecond)
			ran.Add(1)
			return nil, nil
		}})
		require.NoError(t, err)
	}

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(5), ran.Load())

	_, err := p.Submit(context.Background(), Job{Run: func(context.Context) (any, error) { return nil, nil }})
	assert.True(t, errors.Is(err, ErrPoolClosed))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPoolShutdownTimeoutCancelsJobs(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, nil, nil)
	_, err := p.Submit(context.Background(), Job{Run: func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(p.Shutdown(ctx), context.DeadlineExceeded))
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, nil, nil)
	_, err := p.Submit(context.Background(), Job{Run: func(context.Context) (any, error) { panic("boom") }})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))

	res := <-p.Results()
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "boom")
}
