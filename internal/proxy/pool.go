// Package proxy holds the identity and egress-proxy rotation used by the fetch
// engine: the immutable Pool, the assignment Policy that attaches a user agent
// and proxy to each dispatched request, and the Interceptor that turns transport
// failures and rate-limit responses into reissues with forced rotation.
package proxy

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultUserAgents is the identity set used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 16_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 16_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.4 Mobile/15E148 Safari/604.1",
}

// Config captures the rotation settings read from configuration.
type Config struct {
	UserAgents  []string
	Proxies     []string
	GatewayHost string
	GatewayPort int
	User        string
	Password    string
	Disabled    bool
}

// Pool is the set of identities and egress proxies. It is built once and never
// mutated, so it is shared across goroutines without locking.
type Pool struct {
	userAgents []string
	proxies    []string
	gateway    string
	authHeader string
	disabled   bool
}

// NewPool validates cfg and normalizes every proxy endpoint to carry a scheme.
// Endpoints that normalize to the same URL are kept once, in first-seen order.
func NewPool(cfg Config) (*Pool, error) {
	agents := make([]string, 0, len(cfg.UserAgents))
	for _, ua := range cfg.UserAgents {
		if ua = strings.TrimSpace(ua); ua != "" {
			agents = append(agents, ua)
		}
	}
	if len(agents) == 0 {
		agents = append(agents, DefaultUserAgents...)
	}

	p := &Pool{userAgents: agents, disabled: cfg.Disabled}
	seen := make(map[string]struct{}, len(cfg.Proxies))
	for _, raw := range cfg.Proxies {
		endpoint, err := normalizeEndpoint(raw)
		if err != nil {
			return nil, err
		}
		if endpoint == "" {
			continue
		}
		if _, dup := seen[endpoint]; dup {
			continue
		}
		seen[endpoint] = struct{}{}
		p.proxies = append(p.proxies, endpoint)
	}
	if len(p.proxies) == 0 && !cfg.Disabled {
		if strings.TrimSpace(cfg.GatewayHost) == "" {
			return nil, errors.New("proxy gateway host is required when the proxy list is empty")
		}
		if cfg.GatewayPort <= 0 || cfg.GatewayPort > 65535 {
			return nil, fmt.Errorf("invalid proxy gateway port %d", cfg.GatewayPort)
		}
		p.gateway = "http://" + net.JoinHostPort(strings.TrimSpace(cfg.GatewayHost), strconv.Itoa(cfg.GatewayPort))
	}
	if cfg.User != "" && cfg.Password != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(cfg.User + ":" + cfg.Password))
		p.authHeader = "Basic " + creds
	}
	return p, nil
}

// ParseList splits a comma or newline separated proxy list.
func ParseList(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r", "\n")
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == ',' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func normalizeEndpoint(raw string) (string, error) {
	raw = strings.Trim(strings.TrimSpace(raw), ",")
	if raw == "" {
		return "", nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid proxy endpoint %q", raw)
	}
	return u.String(), nil
}

// Disabled reports whether proxying is bypassed.
func (p *Pool) Disabled() bool { return p.disabled }

// UserAgents returns a copy of the identity set.
func (p *Pool) UserAgents() []string { return append([]string(nil), p.userAgents...) }

// Proxies returns a copy of the explicit proxy pool.
func (p *Pool) Proxies() []string { return append([]string(nil), p.proxies...) }

// Gateway returns the single rotating endpoint used when the pool is empty.
func (p *Pool) Gateway() string { return p.gateway }

// AuthHeader returns the Proxy-Authorization value, or "" without credentials.
func (p *Pool) AuthHeader() string { return p.authHeader }

func (p *Pool) identity(intn func(int) int) string {
	return p.userAgents[intn(len(p.userAgents))]
}

// endpoint picks a proxy. When avoid names a pool member and the pool has a
// second entry, the pick is drawn from the remaining members.
func (p *Pool) endpoint(intn func(int) int, avoid string) string {
	n := len(p.proxies)
	switch {
	case n == 0:
		return p.gateway
	case n == 1:
		return p.proxies[0]
	}
	skip := -1
	if avoid != "" {
		for i, candidate := range p.proxies {
			if candidate == avoid {
				skip = i
				break
			}
		}
	}
	if skip < 0 {
		return p.proxies[intn(n)]
	}
	i := intn(n - 1)
	if i >= skip {
		i++
	}
	return p.proxies[i]
}
