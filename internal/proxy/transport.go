package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type routeKey struct{}

// Transport routes each request through the proxy named in its HeaderRoute
// header. The header is removed before the request is sent.
type Transport struct {
	base http.RoundTripper
}

// NewTransport wraps base. When base is an *http.Transport its Proxy func is
// replaced by FromContext and, if authHeader is set, CONNECT requests carry it.
func NewTransport(base http.RoundTripper, authHeader string) *Transport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	if t, ok := base.(*http.Transport); ok {
		t.Proxy = FromContext
		if authHeader != "" {
			t.ProxyConnectHeader = http.Header{HeaderProxyAuthorization: {authHeader}}
		}
	}
	return &Transport{base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	route := req.Header.Get(HeaderRoute)
	if route == "" {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("direct round trip: %w", err)
		}
		return resp, nil
	}
	proxyURL, err := url.Parse(route)
	if err != nil {
		return nil, fmt.Errorf("parse proxy route %q: %w", route, err)
	}
	out := req.Clone(context.WithValue(req.Context(), routeKey{}, proxyURL))
	out.Header.Del(HeaderRoute)
	if out.URL.Scheme == "https" {
		// Tunnelled requests reach the origin verbatim; CONNECT carries the credentials.
		out.Header.Del(HeaderProxyAuthorization)
	}
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, fmt.Errorf("proxied round trip via %s: %w", proxyURL.Host, err)
	}
	return resp, nil
}

// FromContext is an http.Transport Proxy func returning the route stored by
// Transport, falling back to the environment.
func FromContext(req *http.Request) (*url.URL, error) {
	if u, ok := req.Context().Value(routeKey{}).(*url.URL); ok {
		return u, nil
	}
	return http.ProxyFromEnvironment(req)
}
