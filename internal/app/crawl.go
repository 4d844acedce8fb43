package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/api"
	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
	"github.com/JakeFAU/dealnews-crawler/internal/dispatcher"
	"github.com/JakeFAU/dealnews-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/dealnews-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/dealnews-crawler/internal/pipeline"
	"github.com/JakeFAU/dealnews-crawler/internal/proxy"
	"github.com/JakeFAU/dealnews-crawler/internal/queue/memory"
	"github.com/JakeFAU/dealnews-crawler/internal/worker"
)

// Summary reports what one crawl run did.
type Summary struct {
	RunID    string             `json:"run_id"`
	Started  time.Time          `json:"started"`
	Duration time.Duration      `json:"duration"`
	Fetch    collyfetcher.Stats `json:"fetch"`
	Writes   worker.Counters    `json:"writes"`
}

// Crawl runs one crawl to completion: the fetch engine feeds a bounded record
// queue that a pool of writers drains through the pipeline. When ops.port is
// set, the operator server runs for the duration of the crawl.
func (a *App) Crawl(ctx context.Context, runID string) (Summary, error) {
	started := time.Now()
	logger := a.logger.With(zap.String("run_id", runID))

	pool, err := proxy.NewPool(proxy.Config{
		UserAgents:  a.cfg.Proxy.UserAgents,
		Proxies:     proxy.ParseList(a.cfg.Proxy.List),
		GatewayHost: a.cfg.Proxy.Host,
		GatewayPort: a.cfg.Proxy.Port,
		User:        a.cfg.Proxy.User,
		Password:    a.cfg.Proxy.Password,
		Disabled:    a.cfg.Proxy.Disabled,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("build proxy pool: %w", err)
	}

	pipe := pipeline.New(a.deals, a.satellites, logger,
		pipeline.WithSnapshots(a.snapshots),
		pipeline.WithPublisher(a.publisher, a.cfg.Announce.Topic),
		pipeline.WithFallback(a.fallbackSink()),
		pipeline.WithRunID(runID),
	)

	q := memory.NewQueue[crawler.Record](a.cfg.Pipeline.QueueDepth)
	workers := make([]*worker.Worker, a.cfg.Pipeline.Workers)
	for i := range workers {
		workers[i] = worker.New(i+1, q, pipe, logger)
	}
	dispatch := dispatcher.New(q, workers)

	engine, err := collyfetcher.New(
		collyfetcher.Config{
			StartURLs:       a.cfg.Crawler.StartURLs,
			AllowedDomains:  a.cfg.Crawler.AllowedDomains,
			Concurrency:     a.cfg.Crawler.Concurrency,
			PerDomain:       a.cfg.Crawler.PerDomain,
			Delay:           a.cfg.Crawler.Delay,
			RandomDelay:     a.cfg.Crawler.RandomDelay,
			Timeout:         a.cfg.Crawler.Timeout,
			MaxRetries:      a.cfg.Crawler.MaxRetries,
			MaxDepth:        a.cfg.Crawler.MaxDepth,
			PaginationLimit: a.cfg.Crawler.PaginationLimit,
			RetryHTTPCodes:  a.cfg.Crawler.RetryHTTPCodes,
			BackoffBase:     a.cfg.Crawler.BackoffBase,
			BackoffMax:      a.cfg.Crawler.BackoffMax,

			RequestsPerSecond: a.cfg.Crawler.RequestsPerSecond,
			Burst:             a.cfg.Crawler.Burst,
		},
		proxy.NewPolicy(pool, logger),
		proxy.NewInterceptor(logger),
		extract.New(extract.Config{
			DealsPerPage: a.cfg.Crawler.DealsPerPage,
			RawHTMLLimit: a.cfg.Crawler.RawHTMLLimit,
		}),
		dispatch,
		logger,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("build crawl engine: %w", err)
	}

	// Writers outlive a canceled crawl long enough to drain what was queued.
	writeCtx := context.WithoutCancel(ctx)
	writesDone := make(chan worker.Counters, 1)
	go func() { writesDone <- dispatch.Run(writeCtx) }()

	opsCtx, stopOps := context.WithCancel(ctx)
	opsDone := a.startOps(opsCtx, runID, started, engine)

	logger.Info("crawl started",
		zap.Strings("start_urls", a.cfg.Crawler.StartURLs),
		zap.Bool("proxy_disabled", pool.Disabled()),
		zap.Int("proxies", len(pool.Proxies())),
	)
	stats, runErr := engine.Run(ctx)
	dispatch.Close()
	writes := <-writesDone
	stopOps()
	<-opsDone

	summary := Summary{
		RunID:    runID,
		Started:  started,
		Duration: time.Since(started),
		Fetch:    stats,
		Writes:   writes,
	}
	logger.Info("crawl finished",
		zap.Int64("pages", stats.Pages),
		zap.Int64("records", stats.Records),
		zap.Int64("reissues", stats.Reissues),
		zap.Int64("retries", stats.Retries),
		zap.Int64("gave_up", stats.GaveUp),
		zap.Int("inserted", writes.Inserted),
		zap.Int("failed", writes.Failed),
		zap.Duration("duration", summary.Duration),
	)
	if runErr != nil {
		return summary, fmt.Errorf("run crawl: %w", runErr)
	}
	return summary, nil
}

func (a *App) fallbackSink() crawler.FallbackSink {
	if a.fallback == nil {
		return nil
	}
	return a.fallback
}

func (a *App) startOps(ctx context.Context, runID string, started time.Time, engine *collyfetcher.Engine) <-chan struct{} {
	done := make(chan struct{})
	if a.cfg.Ops.Port == 0 {
		close(done)
		return done
	}
	status := func() any {
		return map[string]any{
			"run_id":  runID,
			"started": started,
			"fetch":   engine.Stats(),
		}
	}
	srv := api.NewServer(a.gateway, status, a.logger)
	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Ops.Port))
	go func() {
		defer close(done)
		if err := srv.Serve(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("ops server failed", zap.Error(err))
		}
	}()
	return done
}
