// Package loader acquires audio buffers on a pool of worker goroutines and
// reports each outcome on the channel carried by its task.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"segclip/internal/audio"
	"segclip/internal/logger"
)

// ErrStopped is returned by Queue once the loader has been stopped.
var ErrStopped = errors.New("loader stopped")

// Task asks for the buffer of one source reference on behalf of an item.
type Task struct {
	ItemID     uuid.UUID
	Generation uint64
	Src        string
	Result     chan<- Result
}

// Result is the outcome of a Task. Exactly one of Lease and Err is set.
type Result struct {
	Task  Task
	Lease audio.Lease
	Err   error
}

// Loader runs buffer acquisitions with a per-request timeout.
type Loader struct {
	store   audio.BufferStore
	logger  logger.Logger
	timeout time.Duration
	tasks   chan Task

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a loader with the given number of workers. A non-positive
// timeout disables the per-request deadline.
func New(store audio.BufferStore, log logger.Logger, workers int, timeout time.Duration) *Loader {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		store:   store,
		logger:  log,
		timeout: timeout,
		tasks:   make(chan Task, workers*16),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker(i)
	}
	return l
}

// Queue submits a task without blocking the caller.
func (l *Loader) Queue(task Task) error {
	if l.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case l.tasks <- task:
	default:
		// Pool is saturated; hand off so the caller's timeline never waits.
		go func() {
			select {
			case l.tasks <- task:
			case <-l.ctx.Done():
			}
		}()
	}
	return nil
}

// Stop cancels in-flight acquisitions and waits for the workers to exit.
// Results that can no longer be delivered have their leases released.
func (l *Loader) Stop() {
	l.cancel()
	l.wg.Wait()
}

func (l *Loader) worker(id int) {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case task := <-l.tasks:
			l.deliver(task, l.load(id, task))
		}
	}
}

func (l *Loader) load(id int, task Task) Result {
	ctx := l.ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	l.logger.Debugf("Worker %d loading %s for item %s", id, task.Src, task.ItemID)
	lease, err := l.store.Acquire(ctx, task.Src)
	if err != nil {
		return Result{Task: task, Err: fmt.Errorf("failed to load %s: %w", task.Src, err)}
	}
	return Result{Task: task, Lease: lease}
}

func (l *Loader) deliver(task Task, res Result) {
	select {
	case task.Result <- res:
	case <-l.ctx.Done():
		if res.Lease != nil {
			res.Lease.Release()
		}
	}
}
