// Package workpool provides the bounded pool that runs node computations
// and the fan-out work inside them.
//
// A Pool has a fixed number of slots. Node computations hold one slot for
// their whole run. Fan-out inside a computation borrows free slots when
// available and otherwise runs the work on the calling goroutine, so
// nested use never waits on itself.
package workpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool bounds the number of goroutines doing kernel work at once.
type Pool struct {
	slots chan struct{}
}

// New returns a pool with n slots. n <= 0 selects GOMAXPROCS.
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Pool{slots: make(chan struct{}, n)}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return cap(p.slots) }

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (p *Pool) Release() { <-p.slots }

func (p *Pool) tryAcquire() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Fanout runs fn(ctx, i) for every i in [0, n). Each call runs either on a
// borrowed slot or inline on the caller. The first error cancels the
// remaining calls and is returned. Calls must write disjoint state; their
// completion order is unspecified.
func (p *Pool) Fanout(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if p == nil {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		if err := gctx.Err(); err != nil {
			break
		}
		i := i
		if p.tryAcquire() {
			g.Go(func() error {
				defer p.Release()
				return fn(gctx, i)
			})
			continue
		}
		if err := fn(gctx, i); err != nil {
			g.Go(func() error { return err })
			break
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Split divides [0, n) into at most parts contiguous ranges of nearly
// equal size.
func Split(n, parts int) [][2]int {
	if n <= 0 {
		return nil
	}
	if parts <= 0 || parts > n {
		parts = n
	}
	out := make([][2]int, 0, parts)
	for i := 0; i < parts; i++ {
		lo := i * n / parts
		hi := (i + 1) * n / parts
		out = append(out, [2]int{lo, hi})
	}
	return out
}
