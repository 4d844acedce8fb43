package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
)

func TestInsertSatelliteAppendsEveryKind(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO deal_images").
		WithArgs("21834", "https://c.dlnws.com/image/upload/x.jpg").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO deal_images").
		WithArgs("21834", "https://c.dlnws.com/image/upload/x.jpg").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO deal_categories").
		WithArgs("21834", "Electronics", "https://www.dealnews.com/c142/Electronics/", "Electronics Deals").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO related_deals").
		WithArgs("", "https://www.dealnews.com/d/2").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewSatelliteStore(NewGatewayWithPool(mock, nil), nil)
	img := crawler.ImageRecord{DealID: "21834", ImageURL: "https://c.dlnws.com/image/upload/x.jpg"}
	records := []crawler.Record{
		img,
		img,
		crawler.CategoryRecord{
			DealID: "21834",
			Name:   "Electronics",
			URL:    "https://www.dealnews.com/c142/Electronics/",
			Title:  "Electronics Deals",
		},
		crawler.RelatedRecord{RelatedURL: "https://www.dealnews.com/d/2"},
	}
	for _, rec := range records {
		assert.Equal(t, crawler.Inserted(), store.InsertSatellite(context.Background(), rec))
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSatelliteRejectsDeals(t *testing.T) {
	t.Parallel()

	store := NewSatelliteStore(NewGatewayWithPool(newFakePool(), nil), nil)
	got := store.InsertSatellite(context.Background(), validDeal("https://x/d/1"))
	assert.Equal(t, crawler.OutcomeFailed, got.Outcome)
	require.Error(t, got.Err)
}

func TestInsertSatelliteRecoversFromConnectionLoss(t *testing.T) {
	t.Parallel()

	stale := newFakePool()
	stale.execErrs = []error{&pgconn.PgError{Code: "08003"}}
	conn := &countingConnector{}
	gw := NewGatewayWithPool(stale, nil, WithConnector(conn.connect))

	got := NewSatelliteStore(gw, nil).InsertSatellite(context.Background(), crawler.ImageRecord{ImageURL: "u"})
	assert.Equal(t, crawler.Inserted(), got)
	assert.Equal(t, 1, conn.calls())
}

func TestInsertSatelliteDisabled(t *testing.T) {
	t.Parallel()

	gw := NewGateway(Config{Disabled: true}, nil)
	gw.Open(context.Background())
	got := NewSatelliteStore(gw, nil).InsertSatellite(context.Background(), crawler.RelatedRecord{RelatedURL: "u"})
	assert.Equal(t, crawler.Skipped(), got)
}
