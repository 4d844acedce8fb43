package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
)

const lookupDealSQL = `SELECT id FROM deals WHERE url = $1`

const insertDealSQL = `INSERT INTO deals (
	dealid, recid, url, title, price, promo, category, store, deal, dealplus,
	deallink, dealtext, dealhover, published, popularity, staffpick, detail, raw_html
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

// DealStore inserts deals at most once per URL.
type DealStore struct {
	gw     *Gateway
	logger *zap.Logger
}

// NewDealStore builds a DealStore on gw.
func NewDealStore(gw *Gateway, logger *zap.Logger) *DealStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DealStore{gw: gw, logger: logger.Named("deals")}
}

// InsertDeal validates the deal, looks it up by URL and inserts it when absent.
// A unique violation on insert means a concurrent writer won and is reported
// as a duplicate with Race set.
func (s *DealStore) InsertDeal(ctx context.Context, deal crawler.DealRecord) crawler.Result {
	if reason := deal.Validate(); reason != "" {
		return crawler.Rejected(reason)
	}
	if s.gw.Disabled() {
		return crawler.Skipped()
	}

	var found bool
	a := s.gw.ExecWithRecovery(ctx, func(ctx context.Context, p Pool) error {
		found = false
		var id int64
		err := p.QueryRow(ctx, lookupDealSQL, deal.URL).Scan(&id)
		switch {
		case err == nil:
			found = true
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("lookup deal: %w", err)
		}
		if _, err := p.Exec(ctx, insertDealSQL, dealArgs(deal)...); err != nil {
			return fmt.Errorf("insert deal: %w", err)
		}
		return nil
	})

	switch a.Outcome {
	case WriteOK:
		if found {
			return crawler.Duplicate(false)
		}
		return crawler.Inserted()
	case WriteDuplicateKey:
		return crawler.Duplicate(true)
	default:
		return crawler.Failed(a.Err)
	}
}

func dealArgs(d crawler.DealRecord) []any {
	return []any{
		d.DealID, d.RecID, d.URL, d.Title, d.Price, d.Promo, d.Category, d.Store,
		d.Deal, d.DealPlus, d.DealLink, d.DealText, d.DealHover, d.Published,
		d.Popularity, d.StaffPick, d.Detail, d.RawHTML,
	}
}
