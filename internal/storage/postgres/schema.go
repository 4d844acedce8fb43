package postgres

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS deals (
		id BIGSERIAL PRIMARY KEY,
		dealid TEXT,
		recid TEXT,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		price TEXT,
		promo TEXT,
		category TEXT,
		store TEXT,
		deal TEXT,
		dealplus TEXT,
		deallink TEXT,
		dealtext TEXT,
		dealhover TEXT,
		published TEXT,
		popularity TEXT,
		staffpick TEXT,
		detail TEXT,
		raw_html TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_dealid ON deals (dealid)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_category ON deals (category)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_store ON deals (store)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_created_at ON deals (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_price ON deals (left(price, 20))`,
	`CREATE TABLE IF NOT EXISTS deal_images (
		id BIGSERIAL PRIMARY KEY,
		dealid TEXT,
		imageurl TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deal_images_dealid ON deal_images (dealid)`,
	`CREATE TABLE IF NOT EXISTS deal_categories (
		id BIGSERIAL PRIMARY KEY,
		dealid TEXT,
		category_name TEXT,
		category_url TEXT,
		category_title TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deal_categories_dealid ON deal_categories (dealid)`,
	`CREATE TABLE IF NOT EXISTS related_deals (
		id BIGSERIAL PRIMARY KEY,
		dealid TEXT,
		relatedurl TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_related_deals_dealid ON related_deals (dealid)`,
}
