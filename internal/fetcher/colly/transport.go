package collyfetcher

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// limitTransport caps in-flight requests across all domains. A slot is held
// until the response body is closed.
type limitTransport struct {
	sem  *semaphore.Weighted
	base http.RoundTripper
}

func newLimitTransport(limit int, base http.RoundTripper) *limitTransport {
	if limit <= 0 {
		limit = 1
	}
	return &limitTransport{sem: semaphore.NewWeighted(int64(limit)), base: base}
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.sem.Acquire(req.Context(), 1); err != nil {
		return nil, fmt.Errorf("acquire fetch slot: %w", err)
	}
	release := sync.OnceFunc(func() { t.sem.Release(1) })
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	defer b.release()
	return b.ReadCloser.Close()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
