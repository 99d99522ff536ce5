package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
)

const shutdownTimeout = 10 * time.Second

// Pool runs fire-and-forget tasks on a bounded set of goroutines. Tasks get a
// service-lifetime context, so they outlive the request that submitted them but
// still observe shutdown.
type Pool struct {
	pool   *ants.Pool
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPool(size int) (*Pool, error) {
	ctx, cancel := context.WithCancel(context.Background())

	p, err := ants.NewPool(size,
		ants.WithPanicHandler(func(v interface{}) {
			slog.Error("worker: task panic recovered", "panic", v)
		}),
		// Submit fails instead of blocking when every worker is busy.
		ants.WithNonblocking(true),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Pool{pool: p, ctx: ctx, cancel: cancel}, nil
}

// SubmitDetached queues task without waiting for it to run.
func (p *Pool) SubmitDetached(task func(ctx context.Context)) error {
	return p.pool.Submit(func() {
		select {
		case <-p.ctx.Done():
			slog.Debug("worker: detached task skipped, shutting down")
			return
		default:
		}
		task(p.ctx)
	})
}

func (p *Pool) Running() int { return p.pool.Running() }

// Start implements the infrastructure.Server interface. The pool needs no listener, so it
// only waits for shutdown.
func (p *Pool) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Stop waits for running tasks, then cancels the task context.
func (p *Pool) Stop(ctx context.Context) error {
	defer p.cancel()
	if err := p.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		slog.Warn("worker: pool shutdown timeout", "error", err)
		return err
	}
	return nil
}
