// Package parallel provides the fork-join primitives used by the build
// pipeline: a bounded ParallelFor over an errgroup and an atomic slot
// allocator for pre-sized output arrays.
package parallel

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Workers resolves a configured worker count. Zero or negative means all CPUs.
func Workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// For runs fn(i) for every i in [0, n) on at most workers goroutines.
//
// Every started unit runs to completion. The first error is returned once
// all workers have drained; units not yet started are skipped after an error
// or context cancellation.
func For(ctx context.Context, n, workers int, fn func(i int) error) error {
	if n <= 0 {
		return ctx.Err()
	}
	workers = min(Workers(workers), n)

	if workers == 1 {
		for i := range n {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var next atomic.Int64
	for range workers {
		g.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(i); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// Allocator hands out exclusive index ranges of a pre-sized array.
type Allocator struct {
	next atomic.Int64
	cap  int
}

// NewAllocator returns an allocator whose first claim starts at start.
func NewAllocator(start, capacity int) *Allocator {
	a := &Allocator{cap: capacity}
	a.next.Store(int64(start))
	return a
}

// Claim reserves n consecutive slots and returns the first one.
// It panics when the claim would run past the capacity.
func (a *Allocator) Claim(n int) int {
	end := int(a.next.Add(int64(n)))
	if end > a.cap {
		panic("parallel: allocator capacity exceeded")
	}
	return end - n
}

// Len returns the number of slots claimed so far, including the start offset.
func (a *Allocator) Len() int {
	return int(a.next.Load())
}
