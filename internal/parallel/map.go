package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Gate is the counting gate shared by every fan-out stage of a run. It bounds
// in-flight remote calls regardless of how many units a stage has.
type Gate struct {
	sem  *semaphore.Weighted
	size int
}

func NewGate(limit int) *Gate {
	return &Gate{
		sem:  semaphore.NewWeighted(int64(limit)),
		size: limit,
	}
}

func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *Gate) Release() {
	g.sem.Release(1)
}

type result[D any] struct {
	d D
	e error
}

// Map is a parallel mapping function, which runs mapFunc over every input
// element and drains the results. All workers are launched immediately but
// acquire the shared gate before calling mapFunc, so the number of
// simultaneously executing mapFuncs never exceeds the gate size.
// Map is context aware, so canceled context ends the processing.
//
//	for result, err := range pmap.Iter(input) {}
//
// Results arrive in completion order, not submission order; callers must not
// rely on input ordering surviving the mapping.
type Map[E, D any] struct {
	parentCtx    context.Context
	cancelParent context.CancelFunc
	g            *errgroup.Group
	gctx         context.Context
	gate         *Gate
	mapped       chan result[D]
	mapFunc      func(context.Context, E) (D, error)
}

func NewMap[E, D any](parentCtx context.Context, gate *Gate, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	parentCtx, cancelParent := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(parentCtx)

	mapped := make(chan result[D], gate.size)

	return &Map[E, D]{
		parentCtx:    parentCtx,
		cancelParent: cancelParent,
		g:            g,
		gctx:         gctx,
		gate:         gate,
		mapped:       mapped,
		mapFunc:      mapFunc,
	}
}

func (s *Map[E, D]) goWorkers(seq iter.Seq2[E, error]) {
	s.g.Go(func() error {
		for entry, nerr := range seq {
			if nerr != nil {
				continue
			}
			s.g.Go(func() error {
				if err := s.gate.Acquire(s.gctx); err != nil {
					return err
				}
				d, mapErr := s.mapFunc(s.gctx, entry)
				s.gate.Release()
				select {
				case <-s.gctx.Done():
					return s.gctx.Err()
				case s.mapped <- result[D]{d: d, e: mapErr}:
					return nil
				}
			})
		}
		return nil
	})
}

func (s *Map[E, D]) Iter(seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		defer s.cancelParent()
		s.goWorkers(seq)

		go func() {
			_ = s.g.Wait()
			close(s.mapped)
		}()

		for r := range s.mapped {
			if s.parentCtx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}

// All adapts a slice to the error-pair sequence Map consumes.
func All[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}
