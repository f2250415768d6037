package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/storefront-scraper/internal/models"
)

var ErrProductNotFound = errors.New("product not found")

// ProductRepository stores products and their reviews.
type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// UpsertWithTx inserts the product or refreshes the stored copy.
func (r *ProductRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, p *models.Product) error {
	if p.Site == "" || p.Key() == "" {
		return fmt.Errorf("failed to upsert product: site and id are required")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}

	var amount *float64
	var currency *string
	if p.Price != nil {
		amount = &p.Price.Amount
		if p.Price.Currency != "" {
			currency = &p.Price.Currency
		}
	}

	scrapedAt := p.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO products (
			site, product_id, url, title, brand, description,
			price, currency, rating, review_count, review_url, data, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (site, product_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			brand = EXCLUDED.brand,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			rating = EXCLUDED.rating,
			review_count = EXCLUDED.review_count,
			review_url = EXCLUDED.review_url,
			data = EXCLUDED.data,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = CURRENT_TIMESTAMP`

	_, err = tx.Exec(ctx, query,
		p.Site, p.Key(), p.URL, p.Title, nullString(p.Brand), nullString(p.Description),
		amount, currency, p.Rating, p.ReviewCount, nullString(p.ReviewURL), data, scrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

// InsertReviewsWithTx batch-inserts reviews of one product. Reviews already
// stored under the same key are updated in place.
func (r *ProductRepository) InsertReviewsWithTx(ctx context.Context, tx pgx.Tx, p *models.Product, reviews []models.Review) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO reviews (
			site, product_id, review_key, author, title, body,
			rating, review_date, location, verified, page, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (site, product_id, review_key) DO UPDATE SET
			author = EXCLUDED.author,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			rating = EXCLUDED.rating,
			review_date = EXCLUDED.review_date,
			location = EXCLUDED.location,
			verified = EXCLUDED.verified,
			page = EXCLUDED.page,
			data = EXCLUDED.data`

	batch := &pgx.Batch{}
	for i := range reviews {
		rv := &reviews[i]
		data, err := json.Marshal(rv)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal review: %w", err)
		}
		batch.Queue(query,
			p.Site, p.Key(), ReviewKey(rv), nullString(rv.Author), nullString(rv.Title), rv.Text,
			rv.Rating, nullString(rv.Date), nullString(rv.Location), rv.Verified, rv.Page, data,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range reviews {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return 0, fmt.Errorf("failed to insert review: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to insert reviews: %w", err)
	}

	return len(reviews), nil
}

// GetProduct returns the stored product document.
func (r *ProductRepository) GetProduct(ctx context.Context, site, id string) (*models.Product, error) {
	var data []byte
	err := r.db.pool.QueryRow(ctx,
		`SELECT data FROM products WHERE site = $1 AND product_id = $2`, site, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrProductNotFound, site, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	p := &models.Product{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product: %w", err)
	}
	return p, nil
}

// ListReviews returns up to limit stored reviews of a product ordered by
// page.
func (r *ProductRepository) ListReviews(ctx context.Context, site, id string, limit int) ([]models.Review, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT data FROM reviews
		WHERE site = $1 AND product_id = $2
		ORDER BY page ASC, created_at ASC
		LIMIT $3`, site, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		var rv models.Review
		if err := json.Unmarshal(data, &rv); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review: %w", err)
		}
		reviews = append(reviews, rv)
	}
	return reviews, rows.Err()
}

// CountBySite returns the number of stored products per site.
func (r *ProductRepository) CountBySite(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT site, COUNT(*) FROM products GROUP BY site`)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			site  string
			count int
		)
		if err := rows.Scan(&site, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[site] = count
	}
	return counts, rows.Err()
}

// ReviewKey identifies a review within its product. Sites without review
// ids fall back to author, date and a text prefix.
func ReviewKey(r *models.Review) string {
	if r.ID != "" {
		return r.ID
	}
	text := r.Text
	if len(text) > 64 {
		text = text[:64]
	}
	return r.Author + "|" + r.Date + "|" + text
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
