// Package executor runs blocking work off the message handling path on a bounded pool.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// DefaultSize is the default number of jobs allowed to run at once.
const DefaultSize = 4

// Pool runs blocking jobs with a fixed upper bound on concurrency.
type Pool struct {
	workers  *pool.Pool
	size     int
	inFlight atomic.Int64
	pending  sync.WaitGroup
}

// JobResult represents the result of one job.
type JobResult struct {
	Value    string
	Err      error
	Duration time.Duration
}

// NewPool creates a pool running at most size jobs concurrently.
func NewPool(size int) *Pool {
	if size < 1 {
		size = DefaultSize
	}
	return &Pool{
		workers: pool.New().WithMaxGoroutines(size),
		size:    size,
	}
}

// Do submits fn and waits for its result or for ctx to be done, whichever comes first.
// A job still queued when its caller stops waiting is skipped. A job already running
// runs to completion and its result is discarded.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	done := make(chan JobResult, 1)
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		// Go blocks while every worker is busy
		p.workers.Go(func() {
			if err := ctx.Err(); err != nil {
				done <- JobResult{Err: err}
				return
			}

			p.inFlight.Add(1)
			defer p.inFlight.Add(-1)

			start := time.Now()
			value, err := run(ctx, fn)
			done <- JobResult{Value: value, Err: err, Duration: time.Since(start)}
		})
	}()

	select {
	case res := <-done:
		return res.Value, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// InFlight returns the number of jobs currently executing.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Size returns the concurrency bound.
func (p *Pool) Size() int {
	return p.size
}

// Close waits for every submitted job to finish or be skipped. Do must not be called
// once Close has started.
func (p *Pool) Close() {
	p.pending.Wait()
	p.workers.Wait()
}

// run converts a panicking job into an error so one bad job cannot take the process down.
func run(ctx context.Context, fn func(ctx context.Context) (string, error)) (value string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}
