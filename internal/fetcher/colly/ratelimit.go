package collyfetcher

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/dealnews-crawler/internal/metrics"
)

// rateTransport applies a token bucket per host on top of colly's delay
// rules. A non-positive rate disables it.
type rateTransport struct {
	base  http.RoundTripper
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newRateTransport(rps float64, burst int, base http.RoundTripper) http.RoundTripper {
	if rps <= 0 {
		return base
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateTransport{
		base:     base,
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *rateTransport) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[host] = l
	}
	return l
}

func (t *rateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if err := t.limiter(req.URL.Hostname()).Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(req.URL.String(), waited)
	}
	return t.base.RoundTrip(req)
}
