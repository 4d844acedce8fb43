// Package postgres persists extracted deals and their satellite records in
// Postgres. Gateway owns the connection pool and its recovery; DealStore and
// SatelliteStore are the insert engines built on top of it.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/dealnews-crawler/internal/metrics"
)

var (
	// ErrNoConnection is returned for writes attempted without a live pool.
	ErrNoConnection = errors.New("no live store connection")
	// ErrClosed is returned once the gateway has been closed.
	ErrClosed = errors.New("gateway closed")
	// ErrDisabled is returned when the gateway runs in disabled mode.
	ErrDisabled = errors.New("store disabled")
)

// Pool is the subset of *pgxpool.Pool used by the gateway.
type Pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Connector opens a pool for a DSN.
type Connector func(ctx context.Context, dsn string) (Pool, error)

// Config holds the store connection parameters.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
	MaxConns       int32
	Disabled       bool
}

// DSN returns the primary connection string.
func (c Config) DSN() string { return c.dsn(true) }

// AlternateDSN omits the port so the driver default applies.
func (c Config) AlternateDSN() string { return c.dsn(false) }

func (c Config) dsn(withPort bool) string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	if withPort && c.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(c.Port))
	}
	u := url.URL{Scheme: "postgres", Host: host, Path: "/" + c.Database}
	switch {
	case c.User != "" && c.Password != "":
		u.User = url.UserPassword(c.User, c.Password)
	case c.User != "":
		u.User = url.User(c.User)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Attempt is the classified result of one write through the gateway.
type Attempt struct {
	Outcome    WriteOutcome
	Err        error
	Generation uint64
	Retried    bool
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithConnector replaces the pgxpool connector.
func WithConnector(c Connector) Option {
	return func(g *Gateway) { g.connect = c }
}

// Gateway owns the store connection: open, schema, reconnect and close.
type Gateway struct {
	cfg     Config
	connect Connector
	logger  *zap.Logger
	group   singleflight.Group

	mu       sync.RWMutex
	pool     Pool
	gen      uint64
	disabled bool
	closed   bool
}

// NewGateway builds a gateway. Call Open before writing.
func NewGateway(cfg Config, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	g := &Gateway{cfg: cfg, logger: logger.Named("gateway")}
	g.connect = g.connectPool
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewGatewayWithPool constructs an open gateway around an existing pool (primarily for testing).
func NewGatewayWithPool(pool Pool, logger *zap.Logger, opts ...Option) *Gateway {
	g := NewGateway(Config{}, logger, opts...)
	g.pool = pool
	g.gen = 1
	return g
}

func (g *Gateway) connectPool(ctx context.Context, dsn string) (Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if g.cfg.MaxConns > 0 {
		poolCfg.MaxConns = g.cfg.MaxConns
	}
	if g.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ConnectTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Open connects with the primary DSN, then the alternate one. When both fail,
// or the store is disabled by configuration, the gateway enters disabled mode
// and every later write is a no-op.
func (g *Gateway) Open(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.pool != nil || g.disabled {
		return
	}
	if g.cfg.Disabled {
		g.disabled = true
		g.logger.Info("store disabled by configuration")
		return
	}

	pool, err := g.connect(ctx, g.cfg.DSN())
	if err != nil {
		g.logger.Warn("primary store connection failed; trying default port",
			zap.String("host", g.cfg.Host),
			zap.Int("port", g.cfg.Port),
			zap.Error(err),
		)
		pool, err = g.connect(ctx, g.cfg.AlternateDSN())
	}
	if err != nil {
		g.disabled = true
		g.logger.Error("store unreachable; continuing with store disabled", zap.Error(err))
		return
	}
	g.pool = pool
	g.gen++
	g.logger.Info("store connected", zap.String("host", g.cfg.Host), zap.String("database", g.cfg.Database))
}

// Disabled reports whether writes are no-ops.
func (g *Gateway) Disabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.disabled
}

// Disable switches the gateway to disabled mode and releases the pool.
func (g *Gateway) Disable(reason string) {
	g.mu.Lock()
	pool := g.pool
	g.pool = nil
	g.disabled = true
	g.mu.Unlock()
	if pool != nil {
		pool.Close()
	}
	g.logger.Warn("store disabled", zap.String("reason", reason))
}

// EnsureSchema creates the four record tables and their indices if absent.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	if g.Disabled() {
		return nil
	}
	for _, stmt := range schemaStatements {
		a := g.Exec(ctx, func(ctx context.Context, p Pool) error {
			_, err := p.Exec(ctx, stmt)
			return err
		})
		if a.Err != nil {
			return fmt.Errorf("ensure schema: %w", a.Err)
		}
	}
	g.logger.Info("schema ready")
	return nil
}

// Ping checks the live pool.
func (g *Gateway) Ping(ctx context.Context) error {
	pool, _, err := g.current()
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

func (g *Gateway) current() (Pool, uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	switch {
	case g.closed:
		return nil, g.gen, ErrClosed
	case g.disabled:
		return nil, g.gen, ErrDisabled
	case g.pool == nil:
		return nil, g.gen, ErrNoConnection
	}
	return g.pool, g.gen, nil
}

// Exec runs fn against the live pool and classifies its error.
func (g *Gateway) Exec(ctx context.Context, fn func(context.Context, Pool) error) Attempt {
	pool, gen, err := g.current()
	if err != nil {
		outcome := WriteOther
		if errors.Is(err, ErrNoConnection) {
			outcome = WriteConnectionLost
		}
		return Attempt{Outcome: outcome, Err: err, Generation: gen}
	}
	err = fn(ctx, pool)
	return Attempt{Outcome: Classify(err), Err: err, Generation: gen}
}

// ExecWithRecovery runs fn and, when the connection was lost, reconnects once
// and runs fn exactly once more.
func (g *Gateway) ExecWithRecovery(ctx context.Context, fn func(context.Context, Pool) error) Attempt {
	a := g.Exec(ctx, fn)
	if a.Outcome != WriteConnectionLost {
		return a
	}
	g.logger.Warn("store connection lost; reconnecting", zap.Error(a.Err))
	if err := g.Reconnect(ctx, a.Generation); err != nil {
		g.logger.Error("store reconnect failed", zap.Error(err))
	}
	retry := g.Exec(ctx, fn)
	retry.Retried = true
	return retry
}

// Reconnect replaces the pool observed at generation seen. Concurrent callers
// share one attempt, and a caller whose generation is already stale returns
// without reconnecting.
func (g *Gateway) Reconnect(ctx context.Context, seen uint64) error {
	_, err, _ := g.group.Do("reconnect", func() (any, error) {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return nil, ErrClosed
		}
		if g.gen != seen {
			g.mu.Unlock()
			return nil, nil
		}
		stale := g.pool
		g.pool = nil
		g.mu.Unlock()

		if stale != nil {
			stale.Close()
		}
		pool, err := g.connect(ctx, g.cfg.DSN())

		g.mu.Lock()
		defer g.mu.Unlock()
		g.gen++
		if err != nil {
			metrics.ObserveReconnect(false)
			return nil, fmt.Errorf("reconnect store: %w", err)
		}
		if g.closed {
			pool.Close()
			return nil, ErrClosed
		}
		g.pool = pool
		metrics.ObserveReconnect(true)
		g.logger.Info("store reconnected", zap.Uint64("generation", g.gen))
		return nil, nil
	})
	return err
}

// Close releases the pool. It is idempotent and safe before Open.
func (g *Gateway) Close() {
	g.mu.Lock()
	pool := g.pool
	g.pool = nil
	g.closed = true
	g.mu.Unlock()
	if pool != nil {
		pool.Close()
	}
}
