package crawler

import (
	"context"
	"errors"
	"io"
)

// ErrQueueClosed is returned by a RecordQueue once it is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// RecordQueue buffers extracted records between the crawl and the writers.
type RecordQueue interface {
	Enqueue(ctx context.Context, rec Record) error
	Dequeue(ctx context.Context) (Record, error)
}

// DealWriter persists deals with natural-key deduplication.
type DealWriter interface {
	InsertDeal(ctx context.Context, deal DealRecord) Result
}

// SatelliteWriter appends image, category, and related-link rows.
type SatelliteWriter interface {
	InsertSatellite(ctx context.Context, rec Record) Result
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Snapshotter keeps a copy of the page a deal was extracted from.
type Snapshotter interface {
	Persist(ctx context.Context, url string, body []byte)
}

// Publisher pushes new-deal announcements to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// FallbackSink keeps records the store could not take.
type FallbackSink interface {
	Write(rec Record, outcome Outcome) error
}

// RecordHandler consumes one extracted record.
type RecordHandler interface {
	Handle(ctx context.Context, rec Record) Result
}
