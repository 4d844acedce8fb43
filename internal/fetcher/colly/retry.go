package collyfetcher

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// DefaultRetryHTTPCodes are the statuses retried with backoff.
var DefaultRetryHTTPCodes = []int{500, 503, 504, 400, 403, 404, 408}

// RetryPolicy decides which statuses are retried and how long to wait.
type RetryPolicy struct {
	codes     map[int]bool
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRetryPolicy builds a policy; zero delays fall back to defaults.
func NewRetryPolicy(codes []int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if codes == nil {
		codes = DefaultRetryHTTPCodes
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return &RetryPolicy{codes: set, baseDelay: baseDelay, maxDelay: maxDelay}
}

// Retryable reports whether status should be fetched again.
func (p *RetryPolicy) Retryable(status int) bool {
	return p.codes[status]
}

// Backoff returns the wait before retry number attempt (zero based).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *RetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
