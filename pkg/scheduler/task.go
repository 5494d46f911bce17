package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cryptolane/cryptolane/pkg/crypto"
)

var (
	// ErrPoolTerminated is returned for submissions to, and pending tasks
	// invalidated by, a terminated pool.
	ErrPoolTerminated = errors.New("worker pool terminated")

	// ErrTaskTimeout rejects a task that exceeded its deadline. The timed
	// out task's context is cancelled so the worker abandons the
	// computation instead of finishing it for nobody.
	ErrTaskTimeout = errors.New("task timed out")
)

// WorkerError reports a worker-level failure (a panic inside the provider).
// One worker's fatal error invalidates every task in flight pool-wide; each
// of those tasks is rejected with a WorkerError naming the worker that failed.
type WorkerError struct {
	WorkerID int
	Err      error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d failed: %v", e.WorkerID, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// Request describes one entry of a batch submission.
type Request struct {
	Data      string
	Key       string
	Algorithm string
	Options   crypto.Options
}

// TaskResult is the settled outcome of a submitted task.
type TaskResult struct {
	TaskID string
	// Value is a crypto.EncryptResult or crypto.DecryptResult on success.
	Value interface{}
	Err   error
	// Duration is the worker-side execution time. Zero for tasks that were
	// rejected before or instead of running (timeout, termination).
	Duration time.Duration
}

// TaskHandle is the caller's pending handle for a submitted task. It settles
// exactly once; after Done is closed, Result is stable.
type TaskHandle struct {
	id     string
	done   chan struct{}
	result TaskResult
}

func newTaskHandle(id string) *TaskHandle {
	return &TaskHandle{id: id, done: make(chan struct{})}
}

// ID returns the task's unique identifier.
func (h *TaskHandle) ID() string { return h.id }

// Done is closed when the task settles.
func (h *TaskHandle) Done() <-chan struct{} { return h.done }

// Result returns the settled outcome. Only valid after Done is closed.
func (h *TaskHandle) Result() TaskResult { return h.result }

// Wait blocks until the task settles or ctx is done. The returned error is
// the task's own failure, or ctx.Err() if the wait was abandoned first; an
// abandoned wait does not cancel the task.
func (h *TaskHandle) Wait(ctx context.Context) (TaskResult, error) {
	select {
	case <-h.done:
		return h.result, h.result.Err
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	}
}

// settle is called exactly once, by the pool's control loop.
func (h *TaskHandle) settle(res TaskResult) {
	h.result = res
	close(h.done)
}

// task is a pending unit of work, owned exclusively by the control loop from
// submission until it settles.
type task struct {
	id        string
	kind      crypto.OpKind
	algorithm string
	data      string
	key       string
	opts      crypto.Options
	handle    *TaskHandle

	// submitCtx is the caller's context, captured at submission.
	submitCtx context.Context
	// runCtx governs the worker-side computation; cancelled on timeout so
	// the worker abandons the work instead of computing a discarded result.
	runCtx    context.Context
	cancelRun context.CancelFunc
	timer     *time.Timer

	workerID int
}
