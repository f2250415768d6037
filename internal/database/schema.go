package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		site          TEXT NOT NULL,
		product_id    TEXT NOT NULL,
		url           TEXT NOT NULL,
		title         TEXT NOT NULL,
		brand         TEXT,
		description   TEXT,
		price         NUMERIC(12, 2),
		currency      TEXT,
		rating        REAL,
		review_count  INTEGER,
		review_url    TEXT,
		data          JSONB NOT NULL,
		scraped_at    TIMESTAMPTZ NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (site, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		site          TEXT NOT NULL,
		product_id    TEXT NOT NULL,
		review_key    TEXT NOT NULL,
		author        TEXT,
		title         TEXT,
		body          TEXT,
		rating        REAL,
		review_date   TEXT,
		location      TEXT,
		verified      BOOLEAN NOT NULL DEFAULT FALSE,
		page          INTEGER,
		data          JSONB NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (site, product_id, review_key),
		FOREIGN KEY (site, product_id) REFERENCES products (site, product_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id              UUID PRIMARY KEY,
		aggregate_type  TEXT NOT NULL,
		aggregate_id    TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		payload         JSONB NOT NULL,
		target_stream   TEXT NOT NULL,
		status          TEXT NOT NULL,
		retry_count     INTEGER NOT NULL DEFAULT 0,
		error_message   TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		processed_at    TIMESTAMPTZ,
		next_retry_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending
		ON outbox_event (status, next_retry_at, created_at)`,
}

// Migrate creates the tables used by the scraper if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
