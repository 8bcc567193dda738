package localmodel

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

type echoModel struct {
	delay   time.Duration
	panicOn int32
	calls   atomic.Int32
}

func (m *echoModel) Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	n := m.calls.Add(1)
	if m.panicOn != 0 && n == m.panicOn {
		panic("synthetic model failure")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "echo: " + prompt, nil
}

func newFactory(models ...*echoModel) ModelFactory {
	var mu sync.Mutex
	i := 0
	return func() (Model, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(models) {
			m := &echoModel{}
			return m, nil
		}
		m := models[i]
		i++
		return m, nil
	}
}

func TestPool_CompleteReturnsResult(t *testing.T) {
	p, err := New(2, 4, newFactory(&echoModel{}, &echoModel{}))
	require.NoError(t, err)
	defer p.Close()

	out, err := p.Complete(context.Background(), "hello", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out)
}

func TestPool_QueueCapacityRejectsExcessWork(t *testing.T) {
	slow := &echoModel{delay: 200 * time.Millisecond}
	p, err := New(1, 1, newFactory(slow))
	require.NoError(t, err)
	defer p.Close()

	// First call occupies the one worker; second fills the 1-slot queue;
	// third should see ErrCapacity immediately.
	go func() { _, _ = p.Complete(context.Background(), "a", 10, 0) }()
	time.Sleep(20 * time.Millisecond)
	go func() { _, _ = p.Complete(context.Background(), "b", 10, 0) }()
	time.Sleep(20 * time.Millisecond)

	_, err = p.Complete(context.Background(), "c", 10, 0)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestPool_ContextCancellationReturnsErrCancelled(t *testing.T) {
	slow := &echoModel{delay: 500 * time.Millisecond}
	p, err := New(1, 2, newFactory(slow))
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = p.Complete(ctx, "slow", 10, 0)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestPool_WorkerRestartsAfterPanic(t *testing.T) {
	flaky := &echoModel{panicOn: 1}
	p, err := New(1, 4, newFactory(flaky))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Complete(context.Background(), "boom", 10, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModel) || errors.Is(err, ErrCancelled))

	// pool should recover and serve subsequent requests.
	require.Eventually(t, func() bool {
		out, err := p.Complete(context.Background(), "after", 10, 0)
		return err == nil && out == "echo: after"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPool_RejectsInvalidSizes(t *testing.T) {
	_, err := New(0, 1, newFactory())
	assert.Error(t, err)

	_, err = New(1, 0, newFactory())
	assert.Error(t, err)
}

func TestPool_ActiveWorkersMatchesSize(t *testing.T) {
	p, err := New(3, 4, newFactory(&echoModel{}, &echoModel{}, &echoModel{}))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 3, p.ActiveWorkers())
}
