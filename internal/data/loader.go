package data

import (
	"context"
	"iter"
	"math/rand"
	"sync"

	"github.com/sourcegraph/conc/stream"
)

// Source yields a finite, restartable sequence of batches.
type Source interface {
	Iter(ctx context.Context) iter.Seq[Batch]
}

type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	// Workers > 1 assembles upcoming batches on background goroutines.
	Workers int
	Seed    int64
}

// Loader batches a Dataset. Every call to Iter restarts from the first
// batch. A loader is safe for concurrent use.
type Loader struct {
	dataset Dataset
	cfg     LoaderConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewLoader(dataset Dataset, cfg LoaderConfig) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Loader{
		dataset: dataset,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (l *Loader) Config() LoaderConfig {
	return l.cfg
}

func (l *Loader) Dataset() Dataset {
	return l.dataset
}

// Batches reports the number of batches one pass yields.
func (l *Loader) Batches() int {
	n := l.dataset.Len()
	return (n + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

func (l *Loader) order() []int {
	n := l.dataset.Len()
	if !l.cfg.Shuffle {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Perm(n)
}

func (l *Loader) assemble(order []int, batch int) Batch {
	start := batch * l.cfg.BatchSize
	end := min(start+l.cfg.BatchSize, len(order))
	return l.dataset.Rows(order[start:end])
}

func (l *Loader) Iter(ctx context.Context) iter.Seq[Batch] {
	order := l.order()
	count := l.Batches()
	if l.cfg.Workers <= 1 {
		return func(yield func(Batch) bool) {
			for i := 0; i < count; i++ {
				if ctx.Err() != nil {
					return
				}
				if !yield(l.assemble(order, i)) {
					return
				}
			}
		}
	}

	return func(yield func(Batch) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Up to Workers batches are assembled ahead of the consumer. stream
		// runs the callbacks in submission order, so batches arrive in order.
		out := make(chan Batch)
		go func() {
			defer close(out)
			s := stream.New().WithMaxGoroutines(l.cfg.Workers)
			for i := 0; i < count; i++ {
				if ctx.Err() != nil {
					break
				}
				s.Go(func() stream.Callback {
					batch := l.assemble(order, i)
					return func() {
						select {
						case out <- batch:
						case <-ctx.Done():
						}
					}
				})
			}
			s.Wait()
		}()

		for batch := range out {
			if ctx.Err() != nil {
				return
			}
			if !yield(batch) {
				return
			}
		}
	}
}
