// Package pipeline routes extracted records to the matching insert engine and
// handles what happens around an insert: page snapshots before a deal is
// written, announcements after a new deal lands, and the fallback file for
// records the store could not take.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
	"github.com/JakeFAU/dealnews-crawler/internal/metrics"
)

// Announcement is published for every newly inserted deal.
type Announcement struct {
	RunID     string    `json:"run_id,omitempty"`
	DealID    string    `json:"dealid,omitempty"`
	RecID     string    `json:"recid,omitempty"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Price     string    `json:"price,omitempty"`
	Store     string    `json:"store,omitempty"`
	Category  string    `json:"category,omitempty"`
	PageURL   string    `json:"page_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSnapshots saves the source page of every valid deal.
func WithSnapshots(s crawler.Snapshotter) Option {
	return func(p *Pipeline) { p.snapshots = s }
}

// WithPublisher announces inserted deals on topic.
func WithPublisher(pub crawler.Publisher, topic string) Option {
	return func(p *Pipeline) {
		p.publisher = pub
		p.topic = topic
	}
}

// WithFallback appends skipped and failed records to sink.
func WithFallback(sink crawler.FallbackSink) Option {
	return func(p *Pipeline) { p.fallback = sink }
}

// WithRunID tags announcements with the crawl run id.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

const tracerName = "github.com/JakeFAU/dealnews-crawler/internal/pipeline"

// Pipeline implements crawler.RecordHandler.
type Pipeline struct {
	deals      crawler.DealWriter
	satellites crawler.SatelliteWriter
	snapshots  crawler.Snapshotter
	publisher  crawler.Publisher
	fallback   crawler.FallbackSink
	topic      string
	runID      string
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// New builds a Pipeline over the two insert engines.
func New(deals crawler.DealWriter, satellites crawler.SatelliteWriter, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	p := &Pipeline{
		deals:      deals,
		satellites: satellites,
		logger:     logger.Named("pipeline"),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle writes one record and reports its outcome. It never panics on a
// store failure; failures are logged, counted, and diverted to the fallback.
func (p *Pipeline) Handle(ctx context.Context, rec crawler.Record) crawler.Result {
	kind := "unknown"
	if rec != nil {
		kind = string(rec.Kind())
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.handle")
	defer span.End()

	var res crawler.Result
	switch r := rec.(type) {
	case crawler.DealRecord:
		res = p.handleDeal(ctx, r)
	case crawler.ImageRecord, crawler.CategoryRecord, crawler.RelatedRecord:
		res = p.satellites.InsertSatellite(ctx, r)
	default:
		res = crawler.Failed(fmt.Errorf("unsupported record type %T", rec))
	}

	span.SetAttributes(
		attribute.String("record.kind", kind),
		attribute.String("record.outcome", string(res.Outcome)),
	)
	if res.Outcome == crawler.OutcomeFailed {
		span.SetStatus(codes.Error, "record failed")
		if res.Err != nil {
			span.RecordError(res.Err)
		}
	}
	metrics.ObserveRecord(kind, string(res.Outcome))
	p.log(kind, rec, res)

	if res.Outcome == crawler.OutcomeSkipped || res.Outcome == crawler.OutcomeFailed {
		p.divert(rec, res.Outcome)
	}
	return res
}

func (p *Pipeline) handleDeal(ctx context.Context, d crawler.DealRecord) crawler.Result {
	if reason := d.Validate(); reason != "" {
		return crawler.Rejected(reason)
	}
	if p.snapshots != nil && len(d.Source) > 0 {
		p.snapshots.Persist(ctx, d.URL, d.Source)
	}
	res := p.deals.InsertDeal(ctx, d)
	if res.Outcome == crawler.OutcomeInserted {
		p.announce(ctx, d)
	}
	return res
}

func (p *Pipeline) announce(ctx context.Context, d crawler.DealRecord) {
	if p.publisher == nil || p.topic == "" {
		return
	}
	msg := Announcement{
		RunID:     p.runID,
		DealID:    d.DealID,
		RecID:     d.RecID,
		URL:       d.URL,
		Title:     d.Title,
		Price:     d.Price,
		Store:     d.Store,
		Category:  d.Category,
		PageURL:   d.PageURL,
		Timestamp: p.now().UTC(),
	}
	id, err := p.publisher.Publish(ctx, p.topic, msg)
	if err != nil {
		p.logger.Warn("announce failed", zap.String("url", d.URL), zap.Error(err))
		return
	}
	p.logger.Debug("deal announced", zap.String("url", d.URL), zap.String("message_id", id))
}

func (p *Pipeline) divert(rec crawler.Record, outcome crawler.Outcome) {
	if p.fallback == nil || rec == nil {
		return
	}
	if err := p.fallback.Write(rec, outcome); err != nil {
		p.logger.Error("fallback write failed", zap.String("kind", string(rec.Kind())), zap.Error(err))
	}
}

func (p *Pipeline) log(kind string, rec crawler.Record, res crawler.Result) {
	fields := []zap.Field{
		zap.String("kind", kind),
		zap.String("url", recordURL(rec)),
		zap.String("outcome", string(res.Outcome)),
	}
	switch res.Outcome {
	case crawler.OutcomeInserted, crawler.OutcomeSkipped:
		p.logger.Debug("record handled", fields...)
	case crawler.OutcomeDuplicate:
		p.logger.Info("duplicate record", append(fields, zap.Bool("race", res.Race))...)
	case crawler.OutcomeRejected:
		p.logger.Info("record rejected", append(fields, zap.String("reason", res.Reason))...)
	default:
		p.logger.Error("record failed", append(fields, zap.Error(res.Err))...)
	}
}

func recordURL(rec crawler.Record) string {
	switch r := rec.(type) {
	case crawler.DealRecord:
		return r.URL
	case crawler.ImageRecord:
		return r.ImageURL
	case crawler.CategoryRecord:
		return r.URL
	case crawler.RelatedRecord:
		return r.RelatedURL
	}
	return ""
}
