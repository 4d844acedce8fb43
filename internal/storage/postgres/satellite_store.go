package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
)

const (
	insertImageSQL    = `INSERT INTO deal_images (dealid, imageurl) VALUES ($1, $2)`
	insertCategorySQL = `INSERT INTO deal_categories (dealid, category_name, category_url, category_title) VALUES ($1, $2, $3, $4)`
	insertRelatedSQL  = `INSERT INTO related_deals (dealid, relatedurl) VALUES ($1, $2)`
)

// SatelliteStore appends image, category and related-link rows. Rows are
// never deduplicated.
type SatelliteStore struct {
	gw     *Gateway
	logger *zap.Logger
}

// NewSatelliteStore builds a SatelliteStore on gw.
func NewSatelliteStore(gw *Gateway, logger *zap.Logger) *SatelliteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SatelliteStore{gw: gw, logger: logger.Named("satellites")}
}

// InsertSatellite appends rec to the table for its kind.
func (s *SatelliteStore) InsertSatellite(ctx context.Context, rec crawler.Record) crawler.Result {
	query, args, err := satelliteStatement(rec)
	if err != nil {
		return crawler.Failed(err)
	}
	if s.gw.Disabled() {
		return crawler.Skipped()
	}
	a := s.gw.ExecWithRecovery(ctx, func(ctx context.Context, p Pool) error {
		if _, err := p.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s: %w", rec.Kind(), err)
		}
		return nil
	})
	if a.Outcome != WriteOK {
		return crawler.Failed(a.Err)
	}
	return crawler.Inserted()
}

func satelliteStatement(rec crawler.Record) (string, []any, error) {
	switch r := rec.(type) {
	case crawler.ImageRecord:
		return insertImageSQL, []any{r.DealID, r.ImageURL}, nil
	case crawler.CategoryRecord:
		return insertCategorySQL, []any{r.DealID, r.Name, r.URL, r.Title}, nil
	case crawler.RelatedRecord:
		return insertRelatedSQL, []any{r.DealID, r.RelatedURL}, nil
	default:
		return "", nil, fmt.Errorf("unsupported satellite record %T", rec)
	}
}
