package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/audittrail/pkg/observability"
)

// Pool runs submitted tasks on a fixed number of workers. Every task gets its
// own timeout and a recovered panic is reported as the task's error.
type Pool struct {
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	ctx    context.Context
	cancel context.CancelFunc
	workCh chan func(context.Context) error
	wg     sync.WaitGroup

	mu     sync.Mutex // guards closed and sends on workCh
	closed bool

	errMu sync.Mutex
	errs  []error
}

// NewPool starts workers goroutines. A zero timeout means tasks only stop
// when ctx is cancelled.
func NewPool(ctx context.Context, workers int, taskName string, timeout time.Duration, logger *observability.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		taskName: taskName,
		timeout:  timeout,
		logger:   logger.WithField("task", taskName),
		ctx:      ctx,
		cancel:   cancel,
		workCh:   make(chan func(context.Context) error, workers*2),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues fn. It blocks while the queue is full and fails once the
// pool is closed or its context is done.
func (p *Pool) Submit(fn func(context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%s: pool closed", p.taskName)
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("%s: %w", p.taskName, p.ctx.Err())
	}
}

// Wait stops intake, waits for queued tasks and returns their errors
func (p *Pool) Wait() []error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.workCh)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return append([]error(nil), p.errs...)
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.workCh {
		if err := p.run(fn); err != nil {
			p.logger.WithError(err).Warn("task failed")
			p.errMu.Lock()
			p.errs = append(p.errs, err)
			p.errMu.Unlock()
		}
	}
}

func (p *Pool) run(fn func(context.Context) error) (err error) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Batch runs fn for every item on a pool of workers and returns all errors
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	logger *observability.Logger, fn func(context.Context, T) error) []error {

	pool := NewPool(ctx, workers, taskName, timeout, logger)
	for _, item := range items {
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			return append(pool.Wait(), err)
		}
	}
	return pool.Wait()
}
