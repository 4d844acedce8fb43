package proxy

import (
	"math/rand/v2"
	"net/http"

	"go.uber.org/zap"
)

// Header names written by the policy.
const (
	HeaderUserAgent          = "User-Agent"
	HeaderProxyAuthorization = "Proxy-Authorization"
	// HeaderRoute carries the assigned proxy from the request hooks to Transport,
	// which strips it before the request leaves the process.
	HeaderRoute = "X-Proxy-Route"
)

var defaultHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

// Assignment is the rotation metadata a request carries between attempts.
type Assignment struct {
	Proxy       string
	Identity    string
	ForceRotate bool
	Reissues    int
}

// Request is the part of an outgoing request the policy and interceptor touch.
type Request interface {
	URL() string
	Header() http.Header
	Assignment() Assignment
	SetAssignment(Assignment)
}

// Policy attaches an identity and a proxy to each dispatch attempt.
type Policy struct {
	pool   *Pool
	intn   func(int) int
	logger *zap.Logger
}

// NewPolicy builds a Policy over pool.
func NewPolicy(pool *Pool, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{pool: pool, intn: rand.IntN, logger: logger}
}

// Pool returns the identity pool backing the policy.
func (p *Policy) Pool() *Pool { return p.pool }

// Assign rotates the identity unconditionally and (re)attaches a proxy when
// forced, when none is attached yet, or when the fresh pick differs from the
// current one. The force flag on the request is consumed.
func (p *Policy) Assign(req Request, forceRotate bool) {
	h := req.Header()
	a := req.Assignment()

	a.Identity = p.pool.identity(p.intn)
	h.Set(HeaderUserAgent, a.Identity)
	for k, v := range defaultHeaders {
		if h.Get(k) == "" {
			h.Set(k, v)
		}
	}
	forceRotate = forceRotate || a.ForceRotate
	a.ForceRotate = false

	if p.pool.Disabled() {
		req.SetAssignment(a)
		return
	}

	avoid := ""
	if forceRotate {
		avoid = a.Proxy
	}
	next := p.pool.endpoint(p.intn, avoid)
	if forceRotate || a.Proxy == "" || next != a.Proxy {
		a.Proxy = next
		h.Set(HeaderRoute, next)
		if auth := p.pool.AuthHeader(); auth != "" {
			h.Set(HeaderProxyAuthorization, auth)
		}
		p.logger.Debug("proxy assigned", zap.String("proxy", next), zap.Bool("forced", forceRotate))
	}
	req.SetAssignment(a)
}
