// Package collyfetcher drives the crawl with gocolly. It wires the proxy
// assignment policy and failure interceptor into the collector callbacks,
// applies generic status retries and hands accepted pages to extraction.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
	"github.com/JakeFAU/dealnews-crawler/internal/metrics"
	"github.com/JakeFAU/dealnews-crawler/internal/proxy"
)

// defaultMaxRetries bounds refetches when Config.MaxRetries is unset.
const defaultMaxRetries = 6

// Config controls collector behavior.
type Config struct {
	StartURLs      []string
	AllowedDomains []string
	Concurrency    int
	PerDomain      int
	Delay          time.Duration
	RandomDelay    time.Duration
	Timeout        time.Duration
	// MaxRetries caps attempts per request across reissues and status
	// retries; values <= 0 fall back to defaultMaxRetries.
	MaxRetries      int
	MaxDepth        int
	PaginationLimit int
	RetryHTTPCodes  []int
	BackoffBase     time.Duration
	BackoffMax      time.Duration

	// RequestsPerSecond caps the request rate per host; zero disables it.
	RequestsPerSecond float64
	Burst             int
}

// Extractor turns an accepted page into records and follow-up links.
type Extractor interface {
	Extract(pageURL string, body []byte) (iter.Seq[crawler.Record], []string, error)
}

// RecordSink receives extracted records.
type RecordSink interface {
	Enqueue(ctx context.Context, rec crawler.Record) error
}

// Stats summarizes a crawl run.
type Stats struct {
	Pages    int64
	Records  int64
	Reissues int64
	Retries  int64
	GaveUp   int64
}

// Engine runs one crawl.
type Engine struct {
	cfg         Config
	policy      *proxy.Policy
	interceptor *proxy.Interceptor
	extractor   Extractor
	sink        RecordSink
	retry       *RetryPolicy
	transport   http.RoundTripper
	logger      *zap.Logger

	pages, records, reissues, retries, gaveUp atomic.Int64
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds an Engine.
func New(
	cfg Config,
	policy *proxy.Policy,
	interceptor *proxy.Interceptor,
	extractor Extractor,
	sink RecordSink,
	logger *zap.Logger,
) (*Engine, error) {
	if len(cfg.StartURLs) == 0 {
		return nil, errors.New("at least one start url is required")
	}
	if policy == nil || interceptor == nil || extractor == nil || sink == nil {
		return nil, errors.New("policy, interceptor, extractor and sink are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	metrics.Init()

	base := proxy.NewTransport(newHTTPTransport(), policy.Pool().AuthHeader())
	return &Engine{
		cfg:         cfg,
		policy:      policy,
		interceptor: interceptor,
		extractor:   extractor,
		sink:        sink,
		retry:       NewRetryPolicy(cfg.RetryHTTPCodes, cfg.BackoffBase, cfg.BackoffMax),
		transport:   newLimitTransport(cfg.Concurrency, newRateTransport(cfg.RequestsPerSecond, cfg.Burst, base)),
		logger:      logger.Named("engine"),
	}, nil
}

// Run visits the start URLs and blocks until every request, reissue and
// followed link has finished.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	collector, err := e.buildCollector(ctx)
	if err != nil {
		return Stats{}, err
	}
	for _, u := range e.cfg.StartURLs {
		if err := collector.Visit(u); err != nil {
			e.logger.Warn("start url rejected", zap.String("url", u), zap.Error(err))
		}
	}
	collector.Wait()

	stats := e.Stats()
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("crawl canceled: %w", err)
	}
	return stats, nil
}

// Stats returns the counters accumulated so far.
func (e *Engine) Stats() Stats {
	return Stats{
		Pages:    e.pages.Load(),
		Records:  e.records.Load(),
		Reissues: e.reissues.Load(),
		Retries:  e.retries.Load(),
		GaveUp:   e.gaveUp.Load(),
	}
}

func (e *Engine) buildCollector(ctx context.Context) (*colly.Collector, error) {
	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	}
	if e.cfg.MaxDepth > 0 {
		opts = append(opts, colly.MaxDepth(e.cfg.MaxDepth))
	}
	if len(e.cfg.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(expandDomains(e.cfg.AllowedDomains)...))
	}
	collector := colly.NewCollector(opts...)

	perDomain := e.cfg.PerDomain
	if perDomain <= 0 {
		perDomain = 1
	}
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: perDomain,
		Delay:       e.cfg.Delay,
		RandomDelay: e.cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure limit rule: %w", err)
	}
	timeout := e.cfg.Timeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(e.transport)

	e.configureCollectorHooks(ctx, collector)
	return collector, nil
}

func (e *Engine) configureCollectorHooks(ctx context.Context, hooks collectorHooks) {
	hooks.OnRequest(func(r *colly.Request) {
		e.policy.Assign(collyRequest{r: r}, false)
	})

	hooks.OnError(func(resp *colly.Response, err error) {
		if resp == nil || resp.Request == nil {
			e.logger.Warn("request failed without request context", zap.Error(err))
			return
		}
		if ctx.Err() != nil {
			return
		}
		req := collyRequest{r: resp.Request}
		v := e.interceptor.OnTransportFailure(req, err)
		e.reissue(req, v)
	})

	hooks.OnResponse(func(resp *colly.Response) {
		e.onResponse(ctx, resp)
	})
}

func (e *Engine) onResponse(ctx context.Context, resp *colly.Response) {
	req := collyRequest{r: resp.Request}
	pageURL := req.URL()
	metrics.ObserveFetch(pageURL, resp.StatusCode, len(resp.Body))

	if v := e.interceptor.OnResponse(req, resp.StatusCode); v.Decision == proxy.Reissue {
		e.reissue(req, v)
		return
	}
	if e.retry.Retryable(resp.StatusCode) {
		e.retryStatus(ctx, req, resp.StatusCode)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Info("response not extracted",
			zap.String("url", pageURL),
			zap.Int("status", resp.StatusCode),
		)
		return
	}
	e.pages.Add(1)
	e.extract(ctx, resp)
}

// reissue refetches the request, bypassing the revisit filter, unless the
// retry ceiling has been reached.
func (e *Engine) reissue(req collyRequest, v proxy.Verdict) {
	if !e.allowRetry(req) {
		return
	}
	e.reissues.Add(1)
	metrics.ObserveReissue(string(v.Reason))
	if err := req.r.Retry(); err != nil {
		e.logger.Warn("reissue failed", zap.String("url", req.URL()), zap.Error(err))
	}
}

func (e *Engine) retryStatus(ctx context.Context, req collyRequest, status int) {
	n := req.retries()
	req.setRetries(n + 1)
	if !e.allowRetry(req) {
		return
	}
	e.retries.Add(1)

	wait := e.retry.Backoff(n)
	e.logger.Debug("retrying status",
		zap.String("url", req.URL()),
		zap.Int("status", status),
		zap.Duration("backoff", wait),
	)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if err := req.r.Retry(); err != nil {
		e.logger.Warn("retry failed", zap.String("url", req.URL()), zap.Error(err))
	}
}

func (e *Engine) allowRetry(req collyRequest) bool {
	if req.attempts() > e.cfg.MaxRetries {
		e.gaveUp.Add(1)
		e.logger.Warn("giving up after retries",
			zap.String("url", req.URL()),
			zap.Int("attempts", req.attempts()),
		)
		return false
	}
	return true
}

func (e *Engine) extract(ctx context.Context, resp *colly.Response) {
	pageURL := resp.Request.URL.String()
	records, links, err := e.extractor.Extract(pageURL, resp.Body)
	if err != nil {
		e.logger.Warn("extraction failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	for rec := range records {
		if err := e.sink.Enqueue(ctx, rec); err != nil {
			e.logger.Warn("record dropped", zap.String("url", pageURL), zap.Error(err))
			return
		}
		e.records.Add(1)
	}

	limit := e.cfg.PaginationLimit
	for i, link := range links {
		if limit > 0 && i >= limit {
			break
		}
		if err := resp.Request.Visit(link); err != nil && !isExpectedVisitError(err) {
			e.logger.Debug("link not followed", zap.String("link", link), zap.Error(err))
		}
	}
}

func isExpectedVisitError(err error) bool {
	if errors.Is(err, colly.ErrMaxDepth) || errors.Is(err, colly.ErrForbiddenDomain) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already visited")
}

// expandDomains adds the "www." host for every bare domain, since colly
// matches allowed domains exactly.
func expandDomains(domains []string) []string {
	out := make([]string, 0, len(domains)*2)
	seen := make(map[string]struct{}, len(domains)*2)
	add := func(d string) {
		if _, ok := seen[d]; ok || d == "" {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		add(d)
		if !strings.HasPrefix(d, "www.") && strings.Count(d, ".") == 1 {
			add("www." + d)
		}
	}
	return out
}
