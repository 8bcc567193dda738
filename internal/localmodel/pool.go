// Package localmodel implements the Local Model Pool (C2): a fixed pool of
// N warm worker goroutines, each wrapping one pre-loaded local model
// instance, fronted by a bounded FIFO queue of capacity Q. No direct
// teacher analog exists for this component; it is grounded structurally on
// the other_examples worker-pool idiom (select loop on ctx.Done() vs. a
// work channel, one goroutine per worker, per-job timeout) and on the
// teacher's context.WithTimeout/cooperative-cancellation idiom used
// throughout gcpclient and handler/chat.go.
package localmodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCapacity is returned immediately (never blocks the caller) when the
// bounded queue is full (§4.2).
var ErrCapacity = errors.New("localmodel: queue at capacity")

// ErrCancelled is returned when the caller's deadline elapses while the
// request is still queued or generating.
var ErrCancelled = errors.New("localmodel: cancelled")

// ErrModel wraps a worker panic recovered during generation.
var ErrModel = errors.New("localmodel: model error")

// Model is the interface a local model backend must implement. A real
// deployment loads one instance per worker from Config.LocalModelPath;
// tests substitute a fake.
type Model interface {
	// Complete must respect ctx cancellation at token boundaries —
	// streaming implementations should check ctx.Err() between tokens.
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

// ModelFactory constructs one Model instance per worker, so that a worker
// restarting after a panic gets a fresh model load.
type ModelFactory func() (Model, error)

type job struct {
	ctx        context.Context
	prompt     string
	maxTokens  int
	temperature float32
	resultCh   chan result
}

type result struct {
	text string
	err  error
}

// Pool is the bounded, fixed-size local model worker pool.
type Pool struct {
	queue      chan job
	factory    ModelFactory
	n          int
	wg         sync.WaitGroup
	stopCh     chan struct{}
	activeN    atomic.Int32 // workers currently alive (degrades during restart)
	restartMu  sync.Mutex
}

// New creates a Pool with n workers and a queue of capacity q, and starts
// all workers. Each worker loads its own Model via factory.
func New(n, q int, factory ModelFactory) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("localmodel.New: pool size must be >= 1, got %d", n)
	}
	if q < 1 {
		return nil, fmt.Errorf("localmodel.New: queue capacity must be >= 1, got %d", q)
	}

	p := &Pool{
		queue:   make(chan job, q),
		factory: factory,
		n:       n,
		stopCh:  make(chan struct{}),
	}

	for i := 0; i < n; i++ {
		model, err := factory()
		if err != nil {
			return nil, fmt.Errorf("localmodel.New: load worker %d: %w", i, err)
		}
		p.startWorker(i, model)
	}

	return p, nil
}

func (p *Pool) startWorker(id int, model Model) {
	p.activeN.Add(1)
	p.wg.Add(1)
	go p.runWorker(id, model)
}

func (p *Pool) runWorker(id int, model Model) {
	defer p.wg.Done()
	slog.Info("localmodel worker started", "worker_id", id)

	for {
		select {
		case <-p.stopCh:
			slog.Info("localmodel worker shutting down", "worker_id", id)
			return
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			if p.process(id, model, j) {
				return // restart started a replacement worker for id
			}
		}
	}
}

// process runs one job to completion on the given model, recovering from a
// panic by failing the request with ErrModel and restarting the worker —
// the pool degrades to N-1 workers until the restart completes (§4.2,
// bounded to 10s). It reports whether a restart was attempted, in which
// case the calling worker exits.
func (p *Pool) process(id int, model Model, j job) bool {
	if j.ctx.Err() != nil {
		j.resultCh <- result{err: ErrCancelled}
		return false
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrModel, r)}
			}
		}()
		text, err := model.Complete(j.ctx, j.prompt, j.maxTokens, j.temperature)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		restarted := false
		if errors.Is(r.err, ErrModel) || isPanicResult(r) {
			p.restart(id)
			restarted = true
		}
		if r.err != nil && j.ctx.Err() != nil {
			j.resultCh <- result{err: ErrCancelled}
			return restarted
		}
		j.resultCh <- r
		return restarted
	case <-j.ctx.Done():
		j.resultCh <- result{err: ErrCancelled}
		// worker keeps running the stale goroutine until it naturally
		// finishes or panics; next job on this worker proceeds once the
		// queue delivers it, since `done` above is buffered.
	}
	return false
}

func isPanicResult(r result) bool {
	return r.err != nil && errors.Is(r.err, ErrModel)
}

// restart replaces a worker's model instance after a panic. The pool
// degrades to N-1 active workers for the (bounded) duration of the reload.
func (p *Pool) restart(id int) {
	p.restartMu.Lock()
	defer p.restartMu.Unlock()

	p.activeN.Add(-1)
	slog.Warn("localmodel worker restarting after panic", "worker_id", id)

	restartCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resultCh := make(chan Model, 1)
	errCh := make(chan error, 1)
	go func() {
		m, err := p.factory()
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- m
	}()

	select {
	case m := <-resultCh:
		p.startWorker(id, m)
	case err := <-errCh:
		slog.Error("localmodel worker restart failed", "worker_id", id, "error", err)
	case <-restartCtx.Done():
		slog.Error("localmodel worker restart timed out", "worker_id", id)
	}
}

// ActiveWorkers returns the number of workers currently servicing
// requests (may be less than N while a restart is in flight).
func (p *Pool) ActiveWorkers() int {
	return int(p.activeN.Load())
}

// QueueDepth returns the number of jobs currently buffered ahead of a
// worker. Exposed so a process can publish pool saturation to a shared
// gauge (see DepthPublisher) without reaching into the pool's internals.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Complete submits a prompt to the pool. It never blocks the caller beyond
// enqueue time: if the queue is full, it returns ErrCapacity immediately.
// If ctx's deadline elapses before a worker picks up the job, the request
// is dropped with ErrCancelled before entering a worker (§4.2).
func (p *Pool) Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	resultCh := make(chan result, 1)
	j := job{ctx: ctx, prompt: prompt, maxTokens: maxTokens, temperature: temperature, resultCh: resultCh}

	select {
	case p.queue <- j:
	default:
		return "", ErrCapacity
	}

	select {
	case r := <-resultCh:
		return r.text, r.err
	case <-ctx.Done():
		return "", ErrCancelled
	}
}

// Close stops all workers and waits for them to exit. In-flight jobs are
// allowed to finish. Queued jobs are not drained: a worker may still pick
// one up before it sees the stop signal, and any job left in the queue
// never runs.
func (p *Pool) Close() {
	close(p.stopCh)
	p.wg.Wait()
}
