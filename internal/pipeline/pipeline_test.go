package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
	pubmem "github.com/JakeFAU/dealnews-crawler/internal/publisher/memory"
	"github.com/JakeFAU/dealnews-crawler/internal/storage/fallback"
)

func deal(url string) crawler.DealRecord {
	return crawler.DealRecord{
		DealID:  "21834",
		URL:     url,
		Title:   "Apple AirPods Pro 2nd Gen",
		Price:   "$189",
		PageURL: "https://www.dealnews.com/",
		Source:  []byte("<html>listing</html>"),
	}
}

func TestHandleDealInsertedSnapshotsAndAnnounces(t *testing.T) {
	t.Parallel()

	deals := &fakeDeals{res: crawler.Inserted()}
	snaps := &fakeSnapshots{}
	pub := pubmem.New()
	p := New(deals, &fakeSatellites{}, zap.NewNop(),
		WithSnapshots(snaps), WithPublisher(pub, "deals"), WithRunID("run-1"))
	p.now = func() time.Time { return time.Unix(100, 0) }

	res := p.Handle(context.Background(), deal("https://www.dealnews.com/d/1"))
	require.Equal(t, crawler.OutcomeInserted, res.Outcome)

	assert.Equal(t, []string{"https://www.dealnews.com/d/1"}, snaps.urls)
	require.Len(t, deals.seen, 1)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "deals", msgs[0].Topic)
	ann, ok := msgs[0].Payload.(Announcement)
	require.True(t, ok)
	assert.Equal(t, "run-1", ann.RunID)
	assert.Equal(t, "21834", ann.DealID)
	assert.Equal(t, time.Unix(100, 0).UTC(), ann.Timestamp)
}

func TestHandleDuplicateIsNotAnnounced(t *testing.T) {
	t.Parallel()

	pub := pubmem.New()
	snaps := &fakeSnapshots{}
	p := New(&fakeDeals{res: crawler.Duplicate(false)}, &fakeSatellites{}, zap.NewNop(),
		WithSnapshots(snaps), WithPublisher(pub, "deals"))

	res := p.Handle(context.Background(), deal("https://www.dealnews.com/d/1"))
	assert.Equal(t, crawler.OutcomeDuplicate, res.Outcome)
	assert.Empty(t, pub.Messages())
	assert.Len(t, snaps.urls, 1, "valid deals are snapshotted before the insert")
}

func TestHandleInvalidDealSkipsStoreAndSnapshot(t *testing.T) {
	t.Parallel()

	deals := &fakeDeals{res: crawler.Inserted()}
	snaps := &fakeSnapshots{}
	p := New(deals, &fakeSatellites{}, zap.NewNop(), WithSnapshots(snaps))

	res := p.Handle(context.Background(), crawler.DealRecord{Title: "no url here at all"})
	assert.Equal(t, crawler.OutcomeRejected, res.Outcome)
	assert.Equal(t, crawler.ReasonMissingURL, res.Reason)
	assert.Empty(t, deals.seen)
	assert.Empty(t, snaps.urls)
}

func TestHandleRoutesSatellites(t *testing.T) {
	t.Parallel()

	sats := &fakeSatellites{res: crawler.Inserted()}
	deals := &fakeDeals{}
	p := New(deals, sats, zap.NewNop())

	for _, rec := range []crawler.Record{
		crawler.ImageRecord{DealID: "1", ImageURL: "https://x/1.jpg"},
		crawler.CategoryRecord{DealID: "1", Name: "Electronics"},
		crawler.RelatedRecord{DealID: "1", RelatedURL: "https://x/r"},
	} {
		res := p.Handle(context.Background(), rec)
		assert.Equal(t, crawler.OutcomeInserted, res.Outcome)
	}
	assert.Len(t, sats.seen, 3)
	assert.Empty(t, deals.seen)
}

func TestHandleUnsupportedRecordFails(t *testing.T) {
	t.Parallel()

	p := New(&fakeDeals{}, &fakeSatellites{}, zap.NewNop())
	res := p.Handle(context.Background(), odd{})
	assert.Equal(t, crawler.OutcomeFailed, res.Outcome)
	require.Error(t, res.Err)
}

func TestHandleDivertsSkippedAndFailed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fallback", "deals.jsonl")
	sink, err := fallback.Open(path)
	require.NoError(t, err)

	p := New(
		&fakeDeals{res: crawler.Skipped()},
		&fakeSatellites{res: crawler.Failed(errors.New("connection lost"))},
		zap.NewNop(),
		WithFallback(sink),
	)
	p.Handle(context.Background(), deal("https://www.dealnews.com/d/1"))
	p.Handle(context.Background(), crawler.ImageRecord{DealID: "1", ImageURL: "https://x/1.jpg"})
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var outcomes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		outcomes = append(outcomes, line["kind"].(string)+":"+line["outcome"].(string))
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"deal:skipped", "image:failed"}, outcomes)
}

func TestAnnounceFailureDoesNotChangeOutcome(t *testing.T) {
	t.Parallel()

	pub := pubmem.New()
	pub.FailWith(errors.New("pubsub down"))
	p := New(&fakeDeals{res: crawler.Inserted()}, &fakeSatellites{}, zap.NewNop(), WithPublisher(pub, "deals"))

	res := p.Handle(context.Background(), deal("https://www.dealnews.com/d/1"))
	assert.Equal(t, crawler.OutcomeInserted, res.Outcome)
}

func TestHandleRecordsSpan(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	p := New(&fakeDeals{res: crawler.Failed(errors.New("disk full"))}, &fakeSatellites{}, zap.NewNop())
	p.tracer = tp.Tracer("test")

	p.Handle(context.Background(), deal("https://www.dealnews.com/d/1"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.handle", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("record.outcome", "failed"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("record.kind", "deal"))
}

type odd struct{}

func (odd) Kind() crawler.Kind { return "odd" }

type fakeDeals struct {
	mu   sync.Mutex
	res  crawler.Result
	seen []crawler.DealRecord
}

func (f *fakeDeals) InsertDeal(_ context.Context, d crawler.DealRecord) crawler.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, d)
	return f.res
}

type fakeSatellites struct {
	mu   sync.Mutex
	res  crawler.Result
	seen []crawler.Record
}

func (f *fakeSatellites) InsertSatellite(_ context.Context, rec crawler.Record) crawler.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, rec)
	return f.res
}

type fakeSnapshots struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeSnapshots) Persist(_ context.Context, url string, _ []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
}
