package storage

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/storefront-scraper/internal/models"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"Wireless Earbuds", "wireless-earbuds"},
		{"  kids' shoes / size 5 ", "kids-shoes-size-5"},
		{"https://www.amazon.com/s?k=coffee+mug", "amazon-com-s-coffee-mug"},
		{"https://www.etsy.com/listing/123/handmade-mug", "etsy-com-listing-123-handmade-mug"},
		{"???", "query"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.query))
		})
	}

	assert.LessOrEqual(t, len(Slug(strings.Repeat("coffee ", 20))), maxSlugLen)
}

func testRun() models.Run {
	return models.Run{ID: "run-1", Site: "amazon", Query: "coffee mug", StartedAt: time.Now()}
}

func TestResultWriter_SearchAndProducts(t *testing.T) {
	w, err := NewResultWriter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	run := testRun()

	previews := []models.Preview{{Site: "amazon", ID: "B01", Title: "Mug"}}
	require.NoError(t, w.SaveSearch(ctx, run, previews))

	data, err := os.ReadFile(filepath.Join(w.Dir(), "amazon", "search_coffee-mug.json"))
	require.NoError(t, err)
	var gotPreviews []models.Preview
	require.NoError(t, json.Unmarshal(data, &gotPreviews))
	assert.Equal(t, previews, gotPreviews)

	require.NoError(t, w.SaveProduct(ctx, run, &models.Product{Site: "amazon", ID: "B01", Title: "Mug"}))
	require.NoError(t, w.SaveProduct(ctx, run, &models.Product{Site: "amazon", ID: "B02", Title: "Cup"}))

	data, err = os.ReadFile(w.Path(run, "products", ".json"))
	require.NoError(t, err)
	var products []models.Product
	require.NoError(t, json.Unmarshal(data, &products))
	require.Len(t, products, 2)
	assert.Equal(t, "B02", products[1].ID)

	_, err = os.Stat(w.Path(run, "products", ".json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestResultWriter_ReviewsAppend(t *testing.T) {
	w, err := NewResultWriter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	run := testRun()
	product := &models.Product{
		Site:        "amazon",
		ID:          "B01",
		Brand:       "Acme",
		Title:       "Mug",
		Features:    []string{"ceramic"},
		Rating:      models.Float(4.5),
		ReviewCount: models.Int(120),
	}

	require.NoError(t, w.SaveReviews(ctx, run, product, []models.Review{{ProductID: "B01", Text: "great"}}))
	require.NoError(t, w.SaveReviews(ctx, run, product, []models.Review{{ProductID: "B01", Text: "ok"}, {ProductID: "B01", Text: "bad"}}))

	f, err := os.Open(w.Path(run, "reviews", ".jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var texts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r reviewRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		texts = append(texts, r.Text)

		assert.Equal(t, "B01", r.ProductID)
		assert.Equal(t, "Acme", r.Product.Brand)
		assert.Equal(t, "Mug", r.Product.Name)
		assert.Equal(t, []string{"ceramic"}, r.Product.Features)
		assert.Equal(t, 4.5, *r.Product.Stars)
		assert.Equal(t, 120, *r.Product.RatingCount)
	}
	assert.Equal(t, []string{"great", "ok", "bad"}, texts)
}

func TestResultWriter_CSVProductWithoutID(t *testing.T) {
	w, err := NewResultWriter(t.TempDir())
	require.NoError(t, err)
	run := testRun()

	product := &models.Product{Site: "tripadvisor", URL: "https://www.tripadvisor.com/Attraction_Review-g1-d2", Title: "Park"}
	result := &models.CrawlResult{
		Run:      run,
		Products: []*models.Product{product},
		Reviews:  map[string][]models.Review{product.Key(): {{Text: "Lovely walk"}}},
	}
	require.NoError(t, w.Finish(context.Background(), result))

	f, err := os.Open(w.Path(run, "reviews", ".csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Park", rows[1][3])
	assert.Equal(t, "Lovely walk", rows[1][10])
}

func TestResultWriter_Finish(t *testing.T) {
	w, err := NewResultWriter(t.TempDir())
	require.NoError(t, err)
	run := testRun()

	result := &models.CrawlResult{
		Run: run,
		Products: []*models.Product{{
			Site:        "amazon",
			ID:          "B01",
			Brand:       "Acme",
			Title:       "Mug",
			Features:    []string{"ceramic", "12oz"},
			Rating:      models.Float(4.5),
			ReviewCount: models.Int(120),
		}},
		Reviews: map[string][]models.Review{
			"B01": {{ID: "R1", ProductID: "B01", Title: "Nice", Text: "Holds coffee, well", Rating: models.Float(5), Verified: true}},
		},
		SearchPages: 1,
		ReviewPages: 1,
		FinishedAt:  time.Now(),
	}
	require.NoError(t, w.Finish(context.Background(), result))

	f, err := os.Open(w.Path(run, "reviews", ".csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "Acme", rows[1][2])
	assert.Equal(t, "ceramic | 12oz", rows[1][5])
	assert.Equal(t, "4.5", rows[1][6])
	assert.Equal(t, "120", rows[1][7])
	assert.Equal(t, "Holds coffee, well", rows[1][10])
	assert.Equal(t, "true", rows[1][14])

	data, err := os.ReadFile(w.Path(run, "crawl", ".json"))
	require.NoError(t, err)
	var summary map[string]any
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.EqualValues(t, 1, summary["reviews"])
}
