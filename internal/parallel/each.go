package parallel

import (
	"context"
	"errors"
	"iter"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Each calls fn for every element of seq, running at most limit calls at a
// time, and waits for all of them. Unlike an errgroup.WithContext, one
// failing element does not stop the others: every error, including those
// yielded by seq, is joined into the result. A done ctx stops feeding new
// elements and is reported as well.
//
//	err := parallel.Each(ctx, 4, files, process)
func Each[E any](ctx context.Context, limit int, seq iter.Seq2[E, error], fn func(context.Context, E) error) error {
	var g errgroup.Group
	g.SetLimit(max(limit, 1))

	var mx sync.Mutex
	var errs []error
	record := func(err error) {
		mx.Lock()
		errs = append(errs, err)
		mx.Unlock()
	}

	for e, err := range seq {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			record(err)
			continue
		}
		g.Go(func() error {
			if err := fn(ctx, e); err != nil {
				record(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		record(err)
	}
	return errors.Join(errs...)
}
