// Package events records crawl output in Postgres and queues matching
// events in the transactional outbox for the Redis relay.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/storefront-scraper/internal/database"
	"github.com/maltedev/storefront-scraper/internal/models"
)

type EventType string

const (
	EventTypeSearchCompleted EventType = "SEARCH_COMPLETED"
	EventTypeProductScraped  EventType = "PRODUCT_SCRAPED"
	EventTypeReviewsScraped  EventType = "REVIEWS_SCRAPED"
	EventTypeCrawlCompleted  EventType = "CRAWL_COMPLETED"
)

const source = "storefront-scraper"

// Envelope fields shared by every payload.
type Envelope struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Site      string    `json:"site"`
	Source    string    `json:"source"`
}

type SearchCompletedPayload struct {
	Envelope
	Query      string   `json:"query"`
	Count      int      `json:"count"`
	ProductIDs []string `json:"product_ids"`
}

type ProductScrapedPayload struct {
	Envelope
	Product *models.Product `json:"product"`
}

type ReviewsScrapedPayload struct {
	Envelope
	ProductID     string   `json:"product_id"`
	ProductURL    string   `json:"product_url"`
	Count         int      `json:"count"`
	AverageRating *float64 `json:"average_rating,omitempty"`
}

type CrawlCompletedPayload struct {
	Envelope
	Query       string    `json:"query"`
	Previews    int       `json:"previews"`
	Products    int       `json:"products"`
	Reviews     int       `json:"reviews"`
	SearchPages int       `json:"search_pages"`
	ReviewPages int       `json:"review_pages"`
	Errors      []string  `json:"errors,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

type ProductWriter interface {
	UpsertWithTx(ctx context.Context, tx pgx.Tx, p *models.Product) error
	InsertReviewsWithTx(ctx context.Context, tx pgx.Tx, p *models.Product, reviews []models.Review) (int, error)
}

// Publisher stores products and reviews and writes the matching outbox
// event in the same transaction. It is a crawl sink.
type Publisher struct {
	tx       TxRunner
	outbox   OutboxWriter
	products ProductWriter
	stream   string
	logger   *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewOutboxRepository(db), database.NewProductRepository(db), stream, logger)
}

func newPublisher(tx TxRunner, outbox OutboxWriter, products ProductWriter, stream string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		tx:       tx,
		outbox:   outbox,
		products: products,
		stream:   stream,
		logger:   logger.With("component", "event_publisher"),
	}
}

func envelope(t EventType, run models.Run) Envelope {
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: string(t),
		Timestamp: time.Now().UTC(),
		RunID:     run.ID,
		Site:      run.Site,
		Source:    source,
	}
}

func (p *Publisher) SaveSearch(ctx context.Context, run models.Run, previews []models.Preview) error {
	payload := SearchCompletedPayload{
		Envelope: envelope(EventTypeSearchCompleted, run),
		Query:    run.Query,
		Count:    len(previews),
	}
	for _, pv := range previews {
		id := pv.ID
		if id == "" {
			id = pv.URL
		}
		payload.ProductIDs = append(payload.ProductIDs, id)
	}

	return p.publish(ctx, "search", run.ID, payload.Envelope, payload, nil)
}

func (p *Publisher) SaveProduct(ctx context.Context, run models.Run, product *models.Product) error {
	payload := ProductScrapedPayload{
		Envelope: envelope(EventTypeProductScraped, run),
		Product:  product,
	}

	return p.publish(ctx, "product", aggregateID(product), payload.Envelope, payload, func(tx pgx.Tx) error {
		return p.products.UpsertWithTx(ctx, tx, product)
	})
}

func (p *Publisher) SaveReviews(ctx context.Context, run models.Run, product *models.Product, reviews []models.Review) error {
	payload := ReviewsScrapedPayload{
		Envelope:      envelope(EventTypeReviewsScraped, run),
		ProductID:     product.ID,
		ProductURL:    product.URL,
		Count:         len(reviews),
		AverageRating: averageRating(reviews),
	}

	return p.publish(ctx, "product", aggregateID(product), payload.Envelope, payload, func(tx pgx.Tx) error {
		if err := p.products.UpsertWithTx(ctx, tx, product); err != nil {
			return err
		}
		_, err := p.products.InsertReviewsWithTx(ctx, tx, product, reviews)
		return err
	})
}

func (p *Publisher) Finish(ctx context.Context, result *models.CrawlResult) error {
	payload := CrawlCompletedPayload{
		Envelope:    envelope(EventTypeCrawlCompleted, result.Run),
		Query:       result.Run.Query,
		Previews:    len(result.Previews),
		Products:    len(result.Products),
		Reviews:     result.ReviewCount(),
		SearchPages: result.SearchPages,
		ReviewPages: result.ReviewPages,
		Errors:      result.Errors,
		StartedAt:   result.Run.StartedAt,
		FinishedAt:  result.FinishedAt,
	}

	return p.publish(ctx, "crawl", result.Run.ID, payload.Envelope, payload, nil)
}

// publish runs write, if any, and inserts the outbox event in one
// transaction.
func (p *Publisher) publish(ctx context.Context, aggregateType, aggregateID string, env Envelope, payload any, write func(pgx.Tx) error) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     env.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if write != nil {
			if err := write(tx); err != nil {
				return err
			}
		}
		if err := p.outbox.InsertWithTx(ctx, tx, outboxEvent); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", env.EventType, err)
	}

	p.logger.Info("event published to outbox",
		"type", env.EventType,
		"event_id", env.EventID,
		"aggregate_id", aggregateID,
		"outbox_id", outboxEvent.ID,
	)
	return nil
}

func aggregateID(p *models.Product) string {
	id := p.ID
	if id == "" {
		id = p.URL
	}
	return p.Site + ":" + id
}

func averageRating(reviews []models.Review) *float64 {
	var sum float64
	n := 0
	for _, r := range reviews {
		if r.Rating != nil {
			sum += *r.Rating
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
