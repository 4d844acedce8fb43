package postgres

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakePool emulates the deals unique constraint in memory.
type fakePool struct {
	mu       sync.Mutex
	rows     map[string]bool
	inserts  int
	execErrs []error
	lookErrs []error
	closed   bool

	// barrier, when set, holds every lookup until want lookups have arrived.
	barrier chan struct{}
	want    int
	arrived int
}

func newFakePool() *fakePool { return &fakePool{rows: map[string]bool{}} }

func (p *fakePool) pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.pop(&p.execErrs); err != nil {
		return pgconn.CommandTag{}, err
	}
	if strings.HasPrefix(sql, "INSERT INTO deals ") {
		url := args[2].(string)
		if p.rows[url] {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: codeUniqueViolation, Message: "duplicate key value violates unique constraint"}
		}
		p.rows[url] = true
	}
	p.inserts++
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (p *fakePool) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	p.mu.Lock()
	if err := p.pop(&p.lookErrs); err != nil {
		p.mu.Unlock()
		return fakeRow{err: err}
	}
	exists := p.rows[args[0].(string)]
	barrier := p.barrier
	if barrier != nil {
		p.arrived++
		if p.arrived == p.want {
			close(barrier)
		}
	}
	p.mu.Unlock()
	if barrier != nil {
		<-barrier
	}
	if !exists {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{id: 1}
}

func (p *fakePool) Ping(context.Context) error { return nil }

func (p *fakePool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.id
	return nil
}

// countingConnector hands out pools in order and records every DSN it saw.
type countingConnector struct {
	mu    sync.Mutex
	pools []Pool
	errs  []error
	dsns  []string
}

func (c *countingConnector) connect(_ context.Context, dsn string) (Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.dsns)
	c.dsns = append(c.dsns, dsn)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.pools) {
		return c.pools[i], nil
	}
	return newFakePool(), nil
}

func (c *countingConnector) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dsns)
}
