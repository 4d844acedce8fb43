package proxy

import (
	"net/http"

	"go.uber.org/zap"
)

// Decision is the interceptor's verdict on one dispatched attempt.
type Decision int

// Decisions.
const (
	Accept Decision = iota
	// Reissue asks the engine to fetch the same URL again, bypassing its
	// duplicate-request filter. The next Assign rotates identity and proxy.
	Reissue
)

// Reason explains a reissue.
type Reason string

// Reissue reasons.
const (
	ReasonTransport   Reason = "transport"
	ReasonRateLimited Reason = "rate_limited"
)

// Verdict pairs a decision with its reason.
type Verdict struct {
	Decision Decision
	Reason   Reason
}

// Interceptor inspects attempt outcomes. It never counts attempts; the engine's
// retry ceiling bounds reissues.
type Interceptor struct {
	logger *zap.Logger
}

// NewInterceptor builds an Interceptor.
func NewInterceptor(logger *zap.Logger) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interceptor{logger: logger}
}

// OnTransportFailure always reissues with forced rotation.
func (i *Interceptor) OnTransportFailure(req Request, err error) Verdict {
	i.logger.Warn("request failed; rotating proxy and identity",
		zap.String("url", req.URL()),
		zap.Error(err),
	)
	markForRotation(req)
	return Verdict{Decision: Reissue, Reason: ReasonTransport}
}

// OnResponse reissues rate-limited responses and accepts everything else.
func (i *Interceptor) OnResponse(req Request, status int) Verdict {
	if status != http.StatusTooManyRequests {
		return Verdict{Decision: Accept}
	}
	i.logger.Info("rate limited; rotating proxy and retrying", zap.String("url", req.URL()))
	markForRotation(req)
	return Verdict{Decision: Reissue, Reason: ReasonRateLimited}
}

func markForRotation(req Request) {
	a := req.Assignment()
	a.ForceRotate = true
	a.Reissues++
	req.SetAssignment(a)
}
