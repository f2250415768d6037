package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProduct_MergePreview(t *testing.T) {
	p := NewProduct("amazon", "", "")
	p.Title = "From page"

	p.MergePreview(Preview{
		Site:        "amazon",
		ID:          "B000TEST01",
		URL:         "https://www.amazon.com/dp/B000TEST01",
		Title:       "From search",
		Brand:       "Acme",
		Rating:      Float(4.2),
		ReviewCount: Int(17),
		Image:       "https://img/1.jpg",
	})

	assert.Equal(t, "B000TEST01", p.ID)
	assert.Equal(t, "From page", p.Title)
	assert.Equal(t, "Acme", p.Brand)
	assert.Equal(t, 4.2, *p.Rating)
	assert.Equal(t, 17, *p.ReviewCount)
	assert.Equal(t, []string{"https://img/1.jpg"}, p.Images)
}

func TestProduct_Validate(t *testing.T) {
	tests := []struct {
		name    string
		product *Product
		want    int
	}{
		{"valid", &Product{Site: "ebay", ID: "1", Title: "Phone"}, 0},
		{"missing everything", &Product{}, 3},
		{"bad rating", &Product{Site: "etsy", URL: "u", Title: "Mug", Rating: Float(7)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.product.Validate(), tt.want)
		})
	}
}

func TestPreview_Key(t *testing.T) {
	assert.Equal(t, "walmart:42", Preview{Site: "walmart", ID: "42", URL: "x"}.Key())
	assert.Equal(t, "etsy:https://e/1", Preview{Site: "etsy", URL: "https://e/1"}.Key())
}

func TestProduct_Key(t *testing.T) {
	assert.Equal(t, "42", (&Product{ID: "42", URL: "https://w/ip/42"}).Key())
	assert.Equal(t, "https://e/1", (&Product{URL: "https://e/1"}).Key())
}

func TestCrawlResult_ReviewCount(t *testing.T) {
	r := &CrawlResult{Reviews: map[string][]Review{"a": make([]Review, 3), "b": make([]Review, 2)}}
	assert.Equal(t, 5, r.ReviewCount())
}
