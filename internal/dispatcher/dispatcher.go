// Package dispatcher manages writer fan-out over the record queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
	"github.com/JakeFAU/dealnews-crawler/internal/worker"
)

// Queue is the record queue shared by the crawl engine and the writers.
type Queue interface {
	crawler.RecordQueue
	Close()
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every worker returns, which happens
// once the queue is closed and drained or the context finishes.
func (d *Dispatcher) Run(ctx context.Context) worker.Counters {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total worker.Counters
	)
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			c := wk.Run(ctx)
			mu.Lock()
			total.Handled += c.Handled
			total.Inserted += c.Inserted
			total.Failed += c.Failed
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return total
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, rec crawler.Record) error {
	if err := d.queue.Enqueue(ctx, rec); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Close stops intake; workers finish what is already queued.
func (d *Dispatcher) Close() {
	d.queue.Close()
}
