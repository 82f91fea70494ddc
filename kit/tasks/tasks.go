// Package tasks runs bounded groups of context-aware functions concurrently.
// It is used to warm many lazy fields at once, e.g. every document of a
// store, without spawning an unbounded number of goroutines.
package tasks

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type Func = func(ctx context.Context) error

// Go runs fns concurrently, at most limit at a time (limit <= 0 means no
// limit), and returns the first error. The context passed to each fn is
// cancelled as soon as one of them fails or ctx is done.
func Go(ctx context.Context, limit int, fns ...Func) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(fns) == 0 {
		return nil
	}

	// Optimization: bypass errgroup for a single task.
	if len(fns) == 1 {
		return fns[0](ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, fn := range fns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx)
		})
	}
	return g.Wait()
}

// Preloader is anything that can populate its lazy state ahead of use.
type Preloader interface {
	Preload(ctx context.Context) error
}

// Preload calls Preload on every p through Go.
func Preload[P Preloader](ctx context.Context, limit int, ps ...P) error {
	fns := make([]Func, len(ps))
	for i, p := range ps {
		fns[i] = p.Preload
	}
	return Go(ctx, limit, fns...)
}

// Map applies fn to every input concurrently and returns the outputs in
// input order. On error the partial results are discarded.
func Map[I any, O any](ctx context.Context, limit int, in []I, fn func(context.Context, I) (O, error)) ([]O, error) {
	out := make([]O, len(in))
	fns := make([]Func, len(in))
	for i, item := range in {
		fns[i] = func(ctx context.Context) error {
			o, err := fn(ctx, item)
			if err != nil {
				return err
			}
			out[i] = o
			return nil
		}
	}
	if err := Go(ctx, limit, fns...); err != nil {
		return nil, err
	}
	return out, nil
}
