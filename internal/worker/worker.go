// Package worker implements the record writer loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
	"github.com/JakeFAU/dealnews-crawler/internal/metrics"
)

// Source is the consuming side of a record queue.
type Source interface {
	Dequeue(ctx context.Context) (crawler.Record, error)
}

// Counters summarize what one worker wrote.
type Counters struct {
	Handled  int
	Inserted int
	Failed   int
}

// Worker consumes records and hands each to the pipeline.
type Worker struct {
	id       int
	queue    Source
	handler  crawler.RecordHandler
	logger   *zap.Logger
	counters Counters
}

// New constructs a Worker.
func New(id int, queue Source, handler crawler.RecordHandler, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		id:      id,
		queue:   queue,
		handler: handler,
		logger:  logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming records until the queue is closed and drained or the
// context finishes.
func (w *Worker) Run(ctx context.Context) Counters {
	for {
		rec, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				w.logger.Debug("worker stopped", zap.Int("handled", w.counters.Handled))
				return w.counters
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, rec)
	}
}

func (w *Worker) process(ctx context.Context, rec crawler.Record) {
	metrics.IncActiveWriters()
	defer metrics.DecActiveWriters()

	res := w.handler.Handle(ctx, rec)
	w.counters.Handled++
	switch res.Outcome {
	case crawler.OutcomeInserted:
		w.counters.Inserted++
	case crawler.OutcomeFailed:
		w.counters.Failed++
	}
}
