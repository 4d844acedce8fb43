package collyfetcher

import (
	"net/http"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/dealnews-crawler/internal/proxy"
)

// colly shares one Context between a page and the links it follows, so
// per-request state is keyed by URL.
const (
	assignmentKeyPrefix = "proxy.assignment:"
	retriesKeyPrefix    = "retry.count:"
)

// collyRequest adapts *colly.Request to proxy.Request.
type collyRequest struct {
	r *colly.Request
}

func (c collyRequest) URL() string { return c.r.URL.String() }

func (c collyRequest) Header() http.Header {
	if c.r.Headers == nil {
		c.r.Headers = &http.Header{}
	}
	return *c.r.Headers
}

func (c collyRequest) Assignment() proxy.Assignment {
	if a, ok := c.r.Ctx.GetAny(assignmentKeyPrefix + c.URL()).(proxy.Assignment); ok {
		return a
	}
	return proxy.Assignment{}
}

func (c collyRequest) SetAssignment(a proxy.Assignment) {
	c.r.Ctx.Put(assignmentKeyPrefix+c.URL(), a)
}

func (c collyRequest) retries() int {
	n, _ := c.r.Ctx.GetAny(retriesKeyPrefix + c.URL()).(int)
	return n
}

func (c collyRequest) setRetries(n int) {
	c.r.Ctx.Put(retriesKeyPrefix+c.URL(), n)
}

// attempts counts every refetch of the request, whatever triggered it.
func (c collyRequest) attempts() int {
	return c.Assignment().Reissues + c.retries()
}
