// Package dispatcher fans a page's items out to a bounded pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/queue/memory"
)

// Dispatcher runs batches on up to Workers goroutines.
type Dispatcher struct {
	workers int
	logger  *zap.Logger
}

var _ crawler.BatchRunner = (*Dispatcher)(nil)

type job struct {
	index int
	item  crawler.ItemDescriptor
}

// New creates a Dispatcher. workers below 1 are treated as 1.
func New(workers int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger.Named("dispatcher")}
}

// RunBatch runs task for every item and blocks until all of them finished.
// Items never started because ctx ended are reported as skipped.
func (d *Dispatcher) RunBatch(ctx context.Context, items []crawler.ItemDescriptor, task crawler.Task) []crawler.Outcome {
	outcomes := make([]crawler.Outcome, len(items))
	if len(items) == 0 {
		return outcomes
	}
	started := make([]bool, len(items))

	q := memory.NewQueue[job](len(items))
	for i, item := range items {
		// Capacity equals len(items), so this never blocks.
		if err := q.Enqueue(context.Background(), job{index: i, item: item}); err != nil {
			d.logger.Error("enqueue failed", zap.String("id", item.ID), zap.Error(err))
		}
	}
	q.Close()
	d.logger.Debug("Dispatching page batch", zap.Int("queued", q.Len()), zap.Int("workers", min(d.workers, len(items))))

	var wg sync.WaitGroup
	for range min(d.workers, len(items)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				j, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				started[j.index] = true
				outcomes[j.index] = d.run(ctx, task, j.item)
			}
		}()
	}
	wg.Wait()

	for i, item := range items {
		if !started[i] {
			outcomes[i] = crawler.Outcome{ID: item.ID, URL: item.URL, Status: crawler.StatusSkipped, Err: ctx.Err()}
		}
	}
	return outcomes
}

func (d *Dispatcher) run(ctx context.Context, task crawler.Task, item crawler.ItemDescriptor) (out crawler.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", zap.String("id", item.ID), zap.Any("panic", r))
			out = crawler.Outcome{
				ID:     item.ID,
				URL:    item.URL,
				Status: crawler.StatusError,
				Err:    &crawler.PersistenceError{ID: item.ID, Err: fmt.Errorf("panic: %v", r)},
			}
		}
	}()
	return task(ctx, item)
}
