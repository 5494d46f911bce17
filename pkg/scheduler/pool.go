// Package scheduler implements the background task scheduler: a fixed pool of
// workers that cryptographic operations are offloaded to, with FIFO queueing
// when all workers are busy, a per-task timeout, and aggregate throughput
// statistics.
//
// All queue, worker and statistics state is owned by a single control
// goroutine; submissions, worker responses and timeout events reach it as
// messages. Workers share nothing and communicate only over channels, so the
// cryptographic work itself runs in parallel with the caller and with other
// workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryptolane/cryptolane/pkg/crypto"
)

const defaultTaskTimeout = 30 * time.Second

// Config holds pool construction parameters.
type Config struct {
	// Workers is the number of parallel workers. Non-positive defaults to
	// runtime.NumCPU().
	Workers int

	// TaskTimeout is the per-task deadline, measured from dispatch. A task
	// exceeding it is rejected with ErrTaskTimeout and its computation is
	// cancelled. Non-positive defaults to 30s.
	TaskTimeout time.Duration

	// Provider performs the actual cryptography. Required.
	Provider crypto.Provider

	// Logger receives pool lifecycle and debug events. Nil disables
	// logging.
	Logger *zap.Logger
}

// PoolStats is an aggregate snapshot of pool activity.
type PoolStats struct {
	TotalWorkers    int
	IdleWorkers     int
	BusyWorkers     int
	QueueLength     int
	Completed       int64
	Failed          int64
	AvgTaskDuration time.Duration

	// Workers holds per-worker snapshots, indexed by worker id.
	Workers []WorkerSnapshot
}

// WorkerSnapshot describes one worker at snapshot time.
type WorkerSnapshot struct {
	ID        int
	Busy      bool
	TaskCount int64
}

// workerInstance wraps one background worker. The busy flag and counters are
// the control loop's view; the worker goroutine never touches them.
type workerInstance struct {
	id        int
	tasks     chan *task
	busy      bool
	taskCount int64
}

// response is a worker's completion message. Matching is by task id; the
// control loop silently discards responses for ids no longer in the active
// set (the task timed out or was invalidated while the worker was computing).
type response struct {
	workerID int
	taskID   string
	value    interface{}
	err      error
	panicked bool
	duration time.Duration
}

// Pool schedules encrypt/decrypt tasks onto a fixed set of parallel workers.
// A Pool must be created with New and released with Terminate; it has no
// process-wide instance.
type Pool struct {
	cfg    Config
	logger *zap.Logger

	workers []*workerInstance

	submitCh  chan *task
	respCh    chan response
	timeoutCh chan string
	statsCh   chan chan PoolStats
	resetCh   chan struct{}

	quit          chan struct{}
	done          chan struct{}
	terminateOnce sync.Once

	finalMu sync.RWMutex
	final   PoolStats

	wg sync.WaitGroup
}

// New creates and starts a pool.
func New(cfg Config) (*Pool, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		cfg:       cfg,
		logger:    logger,
		workers:   make([]*workerInstance, cfg.Workers),
		submitCh:  make(chan *task),
		respCh:    make(chan response, cfg.Workers),
		timeoutCh: make(chan string),
		statsCh:   make(chan chan PoolStats),
		resetCh:   make(chan struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	for i := range p.workers {
		w := &workerInstance{
			id: i,
			// Capacity 1 so a dispatch to a worker still draining an
			// abandoned (timed out) task does not block the control
			// loop.
			tasks: make(chan *task, 1),
		}
		p.workers[i] = w
		p.wg.Add(1)
		go p.worker(w)
	}

	p.wg.Add(1)
	go p.run()

	logger.Debug("worker pool started",
		zap.Int("workers", cfg.Workers),
		zap.Duration("task_timeout", cfg.TaskTimeout))
	return p, nil
}

// Encrypt submits an encryption task and returns immediately with a pending
// handle.
func (p *Pool) Encrypt(ctx context.Context, data, key, algorithm string, opts crypto.Options) (*TaskHandle, error) {
	return p.submit(ctx, crypto.OpEncrypt, data, key, algorithm, opts)
}

// Decrypt submits a decryption task and returns immediately with a pending
// handle.
func (p *Pool) Decrypt(ctx context.Context, data, key, algorithm string, opts crypto.Options) (*TaskHandle, error) {
	return p.submit(ctx, crypto.OpDecrypt, data, key, algorithm, opts)
}

// BatchEncrypt submits every request and waits for all of them to settle.
// Results preserve request order; one entry failing fails that entry only.
// The returned error is non-nil only when submission itself fails or ctx is
// done before every task settles.
func (p *Pool) BatchEncrypt(ctx context.Context, reqs []Request) ([]TaskResult, error) {
	return p.batch(ctx, crypto.OpEncrypt, reqs)
}

// BatchDecrypt is the decryption counterpart of BatchEncrypt.
func (p *Pool) BatchDecrypt(ctx context.Context, reqs []Request) ([]TaskResult, error) {
	return p.batch(ctx, crypto.OpDecrypt, reqs)
}

func (p *Pool) batch(ctx context.Context, kind crypto.OpKind, reqs []Request) ([]TaskResult, error) {
	handles := make([]*TaskHandle, len(reqs))
	for i, r := range reqs {
		h, err := p.submit(ctx, kind, r.Data, r.Key, r.Algorithm, r.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to submit batch entry %d: %w", i, err)
		}
		handles[i] = h
	}

	results := make([]TaskResult, len(reqs))
	for i, h := range handles {
		select {
		case <-h.Done():
			results[i] = h.Result()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, nil
}

func (p *Pool) submit(ctx context.Context, kind crypto.OpKind, data, key, algorithm string, opts crypto.Options) (*TaskHandle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts != nil {
		if err := opts.Validate(); err != nil {
			return nil, fmt.Errorf("invalid options: %w", err)
		}
	}

	id := uuid.NewString()
	t := &task{
		id:        id,
		kind:      kind,
		algorithm: algorithm,
		data:      data,
		key:       key,
		opts:      opts,
		handle:    newTaskHandle(id),
		submitCtx: ctx,
	}

	select {
	case p.submitCh <- t:
		return t.handle, nil
	case <-p.done:
		return nil, ErrPoolTerminated
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns an aggregate snapshot. Safe to poll at any time, including
// after Terminate.
func (p *Pool) Stats() PoolStats {
	reply := make(chan PoolStats, 1)
	select {
	case p.statsCh <- reply:
		return <-reply
	case <-p.done:
		p.finalMu.RLock()
		defer p.finalMu.RUnlock()
		return p.final
	}
}

// ResetStats zeroes the completion counters and duration accumulator.
func (p *Pool) ResetStats() {
	select {
	case p.resetCh <- struct{}{}:
	case <-p.done:
	}
}

// Terminate shuts the pool down: queued tasks and tasks in flight are
// rejected with ErrPoolTerminated and further submissions fail. Terminate
// blocks until all workers have exited and is safe to call more than once.
func (p *Pool) Terminate() {
	p.terminateOnce.Do(func() { close(p.quit) })
	<-p.done
	p.wg.Wait()
}

// poolState is the control loop's private state. Nothing else reads or
// writes it.
type poolState struct {
	queue  []*task
	active map[string]*task

	completed     int64
	failed        int64
	totalDuration time.Duration
	measured      int64
}

func (p *Pool) run() {
	defer p.wg.Done()

	st := &poolState{active: make(map[string]*task)}

	for {
		select {
		case t := <-p.submitCh:
			if !p.dispatchIdle(st, t) {
				st.queue = append(st.queue, t)
			}

		case r := <-p.respCh:
			p.handleResponse(st, r)

		case id := <-p.timeoutCh:
			p.handleTimeout(st, id)

		case reply := <-p.statsCh:
			reply <- p.snapshot(st)

		case <-p.resetCh:
			st.completed = 0
			st.failed = 0
			st.totalDuration = 0
			st.measured = 0

		case <-p.quit:
			p.shutdown(st)
			return
		}
	}
}

// dispatch hands a task to a worker: arm the timeout, install the run
// context, send the message, then mark it busy and track it as active. The
// run context and timer must be fully installed on the task before the
// channel send; the send is the only happens-before edge to the worker
// goroutine, which reads them in execute. Returns false when the worker's
// channel is still occupied by an earlier abandoned dispatch; the worker is
// then treated as busy until its next response arrives.
func (p *Pool) dispatch(st *poolState, w *workerInstance, t *task) bool {
	base := t.submitCtx
	if base == nil {
		base = context.Background()
	}
	t.runCtx, t.cancelRun = context.WithCancel(base)

	id := t.id
	t.timer = time.AfterFunc(p.cfg.TaskTimeout, func() {
		select {
		case p.timeoutCh <- id:
		case <-p.done:
		}
	})

	select {
	case w.tasks <- t:
	default:
		t.timer.Stop()
		t.cancelRun()
		t.runCtx, t.cancelRun, t.timer = nil, nil, nil
		w.busy = true
		return false
	}

	w.busy = true
	t.workerID = w.id
	st.active[t.id] = t
	return true
}

// dispatchIdle offers the task to each idle worker in turn. A worker whose
// channel is still occupied by an abandoned dispatch is skipped rather than
// forcing the task onto the queue.
func (p *Pool) dispatchIdle(st *poolState, t *task) bool {
	for _, w := range p.workers {
		if w.busy {
			continue
		}
		if p.dispatch(st, w, t) {
			return true
		}
	}
	return false
}

// pump moves queued tasks onto idle workers, preserving FIFO order.
func (p *Pool) pump(st *poolState) {
	for len(st.queue) > 0 && p.dispatchIdle(st, st.queue[0]) {
		st.queue = st.queue[1:]
	}
}

func (p *Pool) handleResponse(st *poolState, r response) {
	w := p.workers[r.workerID]
	w.taskCount++

	t, ok := st.active[r.taskID]
	if !ok {
		// The task already timed out or was invalidated; the worker was
		// told to stop via context but may have finished anyway. Drop
		// the result.
		p.logger.Debug("discarding stale worker response",
			zap.Int("worker", r.workerID),
			zap.String("task", r.taskID))
		w.busy = p.hasActiveTask(st, w.id)
		p.pump(st)
		return
	}

	delete(st.active, r.taskID)
	t.timer.Stop()
	t.cancelRun()
	w.busy = p.hasActiveTask(st, w.id)

	if r.panicked {
		p.failWorker(st, r, t)
		p.pump(st)
		return
	}

	if r.err != nil {
		st.failed++
	} else {
		st.completed++
	}
	st.totalDuration += r.duration
	st.measured++

	t.handle.settle(TaskResult{
		TaskID:   t.id,
		Value:    r.value,
		Err:      r.err,
		Duration: r.duration,
	})
	p.pump(st)
}

// failWorker applies the pool's broad failure-containment policy: one
// worker's fatal error invalidates every task in flight, not just the tasks
// owned by the failing worker.
func (p *Pool) failWorker(st *poolState, r response, failed *task) {
	werr := &WorkerError{WorkerID: r.workerID, Err: r.err}
	p.logger.Warn("worker failed, rejecting all active tasks",
		zap.Int("worker", r.workerID),
		zap.Int("active", len(st.active)+1),
		zap.Error(r.err))

	// The task the failing worker was running.
	st.failed++
	failed.handle.settle(TaskResult{TaskID: failed.id, Err: werr, Duration: r.duration})

	for id, t := range st.active {
		delete(st.active, id)
		t.timer.Stop()
		t.cancelRun()
		st.failed++
		t.handle.settle(TaskResult{TaskID: t.id, Err: werr})
	}
	for _, w := range p.workers {
		w.busy = false
	}
}

func (p *Pool) handleTimeout(st *poolState, id string) {
	t, ok := st.active[id]
	if !ok {
		// Settled before the timer fired.
		return
	}
	delete(st.active, id)
	t.cancelRun()
	st.failed++
	t.handle.settle(TaskResult{TaskID: t.id, Err: ErrTaskTimeout})

	// Free the worker slot. The worker may still be draining the cancelled
	// computation; its eventual response is discarded by id.
	w := p.workers[t.workerID]
	w.busy = p.hasActiveTask(st, w.id)
	p.pump(st)
}

func (p *Pool) shutdown(st *poolState) {
	for _, t := range st.queue {
		st.failed++
		t.handle.settle(TaskResult{TaskID: t.id, Err: ErrPoolTerminated})
	}
	st.queue = nil
	for id, t := range st.active {
		delete(st.active, id)
		t.timer.Stop()
		t.cancelRun()
		st.failed++
		t.handle.settle(TaskResult{TaskID: t.id, Err: ErrPoolTerminated})
	}

	final := p.snapshot(st)
	p.finalMu.Lock()
	p.final = final
	p.finalMu.Unlock()

	close(p.done)
	for _, w := range p.workers {
		close(w.tasks)
	}
	p.logger.Debug("worker pool terminated",
		zap.Int64("completed", final.Completed),
		zap.Int64("failed", final.Failed))
}

func (p *Pool) snapshot(st *poolState) PoolStats {
	stats := PoolStats{
		TotalWorkers: len(p.workers),
		QueueLength:  len(st.queue),
		Completed:    st.completed,
		Failed:       st.failed,
		Workers:      make([]WorkerSnapshot, len(p.workers)),
	}
	for i, w := range p.workers {
		stats.Workers[i] = WorkerSnapshot{ID: w.id, Busy: w.busy, TaskCount: w.taskCount}
		if w.busy {
			stats.BusyWorkers++
		}
	}
	stats.IdleWorkers = stats.TotalWorkers - stats.BusyWorkers
	if st.measured > 0 {
		stats.AvgTaskDuration = st.totalDuration / time.Duration(st.measured)
	}
	return stats
}

func (p *Pool) hasActiveTask(st *poolState, workerID int) bool {
	for _, t := range st.active {
		if t.workerID == workerID {
			return true
		}
	}
	return false
}

// worker runs one background worker: receive a task, execute it through the
// provider, report the outcome. Panics in the provider are contained and
// reported as worker failures; the goroutine itself survives.
func (p *Pool) worker(w *workerInstance) {
	defer p.wg.Done()

	for t := range w.tasks {
		r := p.execute(w.id, t)
		select {
		case p.respCh <- r:
		case <-p.done:
			return
		}
	}
}

func (p *Pool) execute(workerID int, t *task) (r response) {
	r = response{workerID: workerID, taskID: t.id}
	start := time.Now()
	defer func() {
		r.duration = time.Since(start)
		if rec := recover(); rec != nil {
			r.panicked = true
			r.err = fmt.Errorf("provider panic: %v", rec)
		}
	}()

	switch t.kind {
	case crypto.OpEncrypt:
		out := p.cfg.Provider.Encrypt(t.runCtx, t.data, t.key, t.algorithm, t.opts)
		if !out.Success {
			r.err = taskError(t.runCtx, out.Error)
			return
		}
		r.value = out
	case crypto.OpDecrypt:
		out := p.cfg.Provider.Decrypt(t.runCtx, t.data, t.key, t.algorithm, t.opts)
		if !out.Success {
			r.err = taskError(t.runCtx, out.Error)
			return
		}
		r.value = out
	default:
		r.err = fmt.Errorf("unsupported operation kind %q", t.kind)
	}
	return
}

// taskError prefers the context error so a cancelled computation reports
// cancellation rather than whatever partial failure the provider saw.
func taskError(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New(msg)
}
