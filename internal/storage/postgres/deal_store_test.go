package postgres

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
)

func validDeal(url string) crawler.DealRecord {
	return crawler.DealRecord{
		DealID:   "21834",
		URL:      url,
		Title:    "Widget 50% off",
		Price:    "$9.99",
		Store:    "Amazon",
		Category: "Electronics",
	}
}

func TestInsertDealSequentialIdempotence(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	deal := validDeal("https://x/d/1")
	mock.ExpectQuery("SELECT id FROM deals WHERE url").
		WithArgs(deal.URL).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO deals").
		WithArgs(dealArgs(deal)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id FROM deals WHERE url").
		WithArgs(deal.URL).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	store := NewDealStore(NewGatewayWithPool(mock, nil), nil)
	assert.Equal(t, crawler.Inserted(), store.InsertDeal(context.Background(), deal))
	assert.Equal(t, crawler.Duplicate(false), store.InsertDeal(context.Background(), deal))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDealRejectsWithoutStoreCall(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewDealStore(NewGatewayWithPool(mock, nil), nil)

	got := store.InsertDeal(context.Background(), crawler.DealRecord{Title: "X"})
	assert.Equal(t, crawler.Rejected(crawler.ReasonMissingURL), got)

	got = store.InsertDeal(context.Background(), crawler.DealRecord{URL: "https://x/d/2"})
	assert.Equal(t, crawler.Rejected(crawler.ReasonMissingTitlePrice), got)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDealUniqueViolationIsRaceDuplicate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	deal := validDeal("https://x/d/3")
	mock.ExpectQuery("SELECT id FROM deals WHERE url").
		WithArgs(deal.URL).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO deals").
		WithArgs(dealArgs(deal)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	got := NewDealStore(NewGatewayWithPool(mock, nil), nil).InsertDeal(context.Background(), deal)
	assert.Equal(t, crawler.Duplicate(true), got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDealOtherErrorFails(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	deal := validDeal("https://x/d/4")
	mock.ExpectQuery("SELECT id FROM deals WHERE url").
		WithArgs(deal.URL).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation \"deals\" does not exist"})

	got := NewDealStore(NewGatewayWithPool(mock, nil), nil).InsertDeal(context.Background(), deal)
	assert.Equal(t, crawler.OutcomeFailed, got.Outcome)
	require.Error(t, got.Err)
	assert.Contains(t, got.Err.Error(), "lookup deal")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDealConcurrentWritersInsertOnce(t *testing.T) {
	t.Parallel()

	pool := newFakePool()
	pool.barrier = make(chan struct{})
	pool.want = 2
	store := NewDealStore(NewGatewayWithPool(pool, nil), nil)
	deal := validDeal("https://x/d/5")

	results := make([]crawler.Result, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = store.InsertDeal(context.Background(), deal)
		}()
	}
	wg.Wait()

	var inserted, duplicates int
	for _, r := range results {
		switch r.Outcome {
		case crawler.OutcomeInserted:
			inserted++
		case crawler.OutcomeDuplicate:
			duplicates++
			assert.True(t, r.Race)
		}
	}
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, duplicates)
	assert.Equal(t, 1, pool.inserts)
}

func TestInsertDealReconnectsOnceAndRetries(t *testing.T) {
	t.Parallel()

	stale := newFakePool()
	stale.lookErrs = []error{&pgconn.PgError{Code: "57P01"}}
	fresh := newFakePool()
	conn := &countingConnector{pools: []Pool{fresh}}
	gw := NewGatewayWithPool(stale, nil, WithConnector(conn.connect))

	got := NewDealStore(gw, nil).InsertDeal(context.Background(), validDeal("https://x/d/6"))
	assert.Equal(t, crawler.Inserted(), got)
	assert.Equal(t, 1, conn.calls())
	assert.True(t, stale.isClosed())
	assert.Equal(t, 1, fresh.inserts)
}

func TestInsertDealFailsWhenRetryAlsoLosesConnection(t *testing.T) {
	t.Parallel()

	stale := newFakePool()
	stale.execErrs = []error{io.EOF}
	fresh := newFakePool()
	fresh.execErrs = []error{io.ErrUnexpectedEOF}
	conn := &countingConnector{pools: []Pool{fresh}}
	gw := NewGatewayWithPool(stale, nil, WithConnector(conn.connect))

	got := NewDealStore(gw, nil).InsertDeal(context.Background(), validDeal("https://x/d/7"))
	assert.Equal(t, crawler.OutcomeFailed, got.Outcome)
	assert.ErrorIs(t, got.Err, io.ErrUnexpectedEOF)
	assert.Equal(t, 1, conn.calls())
}

func TestInsertDealFailsWhenReconnectFails(t *testing.T) {
	t.Parallel()

	stale := newFakePool()
	stale.lookErrs = []error{io.EOF}
	conn := &countingConnector{errs: []error{errors.New("connection refused")}}
	gw := NewGatewayWithPool(stale, nil, WithConnector(conn.connect))
	store := NewDealStore(gw, nil)

	got := store.InsertDeal(context.Background(), validDeal("https://x/d/8"))
	assert.Equal(t, crawler.OutcomeFailed, got.Outcome)
	assert.ErrorIs(t, got.Err, ErrNoConnection)
	assert.Equal(t, 1, conn.calls())

	// A later write finds no pool and recovers with a fresh connection.
	got = store.InsertDeal(context.Background(), validDeal("https://x/d/8"))
	assert.Equal(t, crawler.Inserted(), got)
	assert.Equal(t, 2, conn.calls())
}
