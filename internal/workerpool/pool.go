package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fastgo/internal/config"
	"fastgo/internal/errs"
	"fastgo/internal/logging"
)

// Stats summarizes pool activity for diagnostics.
type Stats struct {
	TotalRequests      int64
	TotalFailures      int64
	MeanResponseTimeUs int64
}

// Pool manages a fixed set of pre-warmed worker processes, restarting
// individual workers after too many requests or too long idle, and
// respawning any that crash mid-request. Acquisition is a bounded
// channel of free indices, the same acquire/release shape as the
// teacher's eventThrottler/session-registry style but over OS
// processes instead of browser sessions.
type Pool struct {
	cfg     config.WorkerPoolConfig
	workers []*worker
	free    chan int

	mu           sync.Mutex
	closed       bool
	stopIdleLoop chan struct{}

	totalRequests int64
	totalFailures int64
	totalRespUs   int64
}

// New spawns cfg.Size workers running cfg.Command and starts the idle
// reaper. Command must implement the stdio RPC protocol in protocol.go.
func New(cfg config.WorkerPoolConfig) (*Pool, error) {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	p := &Pool{
		cfg:          cfg,
		free:         make(chan int, cfg.Size),
		stopIdleLoop: make(chan struct{}),
	}

	for idx := 0; idx < cfg.Size; idx++ {
		w, err := spawnWorker(idx, cfg.Command)
		if err != nil {
			p.shutdownStarted(idx)
			return nil, err
		}
		p.workers = append(p.workers, w)
		p.free <- idx
	}

	if cfg.IdleTimeoutSeconds > 0 {
		go p.idleReaper()
	}

	return p, nil
}

func (p *Pool) shutdownStarted(upTo int) {
	for i := 0; i < upTo; i++ {
		p.workers[i].kill()
	}
}

// Acquire blocks until a worker is free or ctx is done, returning its
// index. Release must be called exactly once per successful Acquire.
func (p *Pool) Acquire(ctx context.Context) (int, error) {
	select {
	case idx := <-p.free:
		return idx, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Release returns a worker to the free pool, restarting it first if it
// crashed or crossed MaxRequestsPerWorker since its last restart.
func (p *Pool) Release(idx int) {
	w := p.workers[idx]
	if !w.isAlive() || (p.cfg.MaxRequestsPerWorker > 0 && w.requestsSoFar() >= p.cfg.MaxRequestsPerWorker) {
		served := w.requestsSoFar()
		if err := w.restart(); err != nil {
			logging.WorkerError("failed to restart worker %d: %v", idx, err)
		} else {
			logging.WorkerDebug("worker %d restarted after %d requests", idx, served)
		}
	}
	p.free <- idx
}

// Execute acquires a worker, runs req through it, and releases the
// worker. A request whose worker crashes is not retried: it fails with
// the worker's error, and Release respawns the dead worker.
func (p *Pool) Execute(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.RequestTimeoutMs > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.RequestTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	idx, err := p.Acquire(reqCtx)
	if err != nil {
		return Response{}, fmt.Errorf("workerpool: acquire: %w", err)
	}

	start := time.Now()
	resp, err := p.workers[idx].execute(reqCtx, req)
	atomic.AddInt64(&p.totalRequests, 1)
	atomic.AddInt64(&p.totalRespUs, time.Since(start).Microseconds())

	if err != nil {
		atomic.AddInt64(&p.totalFailures, 1)
		var crash *errs.WorkerCrashError
		if errors.As(err, &crash) {
			logging.WorkerWarn("worker %d crashed mid-request: %v; respawning", idx, err)
		}
	}
	p.Release(idx)
	return resp, err
}

// idleReaper periodically restarts workers that have sat idle past
// cfg.IdleTimeoutSeconds, freeing any per-process resources the worker
// binary holds between bursts of activity.
func (p *Pool) idleReaper() {
	interval := time.Duration(p.cfg.IdleTimeoutSeconds) * time.Second / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopIdleLoop:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	threshold := time.Duration(p.cfg.IdleTimeoutSeconds) * time.Second
	for idx, w := range p.workers {
		select {
		case gotIdx := <-p.free:
			if gotIdx != idx {
				p.free <- gotIdx
				continue
			}
			if w.idleFor() > threshold {
				if err := w.restart(); err != nil {
					logging.WorkerError("idle restart of worker %d failed: %v", idx, err)
				}
			}
			p.free <- idx
		default:
			// worker currently checked out; skip
		}
	}
}

// Stats returns a snapshot of pool-wide counters.
func (p *Pool) Stats() Stats {
	total := atomic.LoadInt64(&p.totalRequests)
	var mean int64
	if total > 0 {
		mean = atomic.LoadInt64(&p.totalRespUs) / total
	}
	return Stats{
		TotalRequests:      total,
		TotalFailures:      atomic.LoadInt64(&p.totalFailures),
		MeanResponseTimeUs: mean,
	}
}

// Close stops the idle reaper and kills every worker process.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.stopIdleLoop)
	for _, w := range p.workers {
		w.kill()
	}
}
