package etsy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/models"
)

const searchHTML = `<html><head>
<script type="application/ld+json">{"@type":"ItemList","numberOfItems":100}</script>
</head><body>
<div data-search-pagination></div>
<div data-search-results-lg><ul>
  <li><div data-appears-component-name="card">
    <a class="listing-link wt-display-inline-block" href="https://www.etsy.com/listing/111/ceramic-mug?ref=search"></a>
    <h3 class="v2-listing-card__title" title=" Ceramic Mug "></h3>
    <span class="review_stars"><span>4.8</span></span>
    <div aria-label="4.8 star rating with 1.2k reviews"><p>(1.2k)</p></div>
    <span class="currency-symbol">$</span><span class="currency-value">1,024.50</span>
    <span>From shop ClayWorks</span>
    <span>Free shipping</span>
    <span data-ad-label="Ad by Etsy seller"></span>
  </div></li>
  <li><div data-appears-component-name="card">
    <a class="listing-link" href="https://www.etsy.com/listing/222/plate"></a>
    <h3 class="v2-listing-card__title">Plate</h3>
  </div></li>
  <li><div>not a listing</div></li>
</ul></div>
</body></html>`

const productHTML = `<html><head>
<script type="application/ld+json">{
  "@type": "Product",
  "url": "https://www.etsy.com/listing/111/ceramic-mug",
  "name": "Ceramic Mug",
  "sku": "111",
  "brand": {"@type": "Brand", "name": "ClayWorks"},
  "description": "Handmade mug",
  "material": "Stoneware",
  "image": [{"contentURL": "https://i.etsystatic.com/1.jpg"}, {"contentURL": "https://i.etsystatic.com/2.jpg"}],
  "offers": {"@type": "AggregateOffer", "lowPrice": "24.00", "priceCurrency": "USD", "availability": "https://schema.org/InStock"},
  "aggregateRating": {"ratingValue": "4.9", "reviewCount": 10},
  "review": [
    {"author": {"name": "Ann"}, "datePublished": "2024-03-01", "reviewBody": "Lovely", "reviewRating": {"ratingValue": 5}},
    {"author": {"name": "Ben"}, "reviewBody": "Chipped", "reviewRating": {"ratingValue": "2"}}
  ]
}</script>
</head><body>
<button id="same-listing-reviews-tab"><span> 10 </span></button>
</body></html>`

func page(url, tag, html string) *fetcher.Page {
	return fetcher.NewPage(fetcher.Request{URL: url, Tag: tag}, url, 200, html)
}

func TestSearchRequests(t *testing.T) {
	s := New()
	req := s.SearchRequest("mug", 2)
	assert.Equal(t, "https://www.etsy.com/search?page=2&q=mug", req.URL)
	assert.True(t, req.RenderJS)
	assert.Equal(t, searchReady, req.WaitForSelector)

	next := s.PageRequest(page("https://www.etsy.com/search?q=mug", "1", ""), 3)
	assert.Equal(t, "https://www.etsy.com/search?page=3&q=mug", next.URL)
}

func TestParseSearch(t *testing.T) {
	result, err := New().ParseSearch(page("https://www.etsy.com/search?q=mug", "1", searchHTML))
	require.NoError(t, err)

	assert.Equal(t, 100, result.TotalItems)
	assert.Equal(t, SearchPageSize, result.PerPage)
	require.Len(t, result.Previews, 2)

	first := result.Previews[0]
	assert.Equal(t, "111", first.ID)
	assert.Equal(t, "https://www.etsy.com/listing/111", first.URL)
	assert.Equal(t, "Ceramic Mug", first.Title)
	assert.Equal(t, "ClayWorks", first.Brand)
	assert.Equal(t, 4.8, *first.Rating)
	assert.Equal(t, 1200, *first.ReviewCount)
	assert.Equal(t, 1024.5, first.Price.Amount)
	assert.Equal(t, "USD", first.Price.Currency)
	assert.True(t, first.Sponsored)
	assert.Equal(t, true, first.Attributes["free_shipping"])

	second := result.Previews[1]
	assert.Equal(t, "Plate", second.Title)
	assert.False(t, second.Sponsored)
	assert.Nil(t, second.Price)
}

func TestParseProduct(t *testing.T) {
	product, err := New().ParseProduct(page("https://www.etsy.com/listing/111", "1", productHTML))
	require.NoError(t, err)

	assert.Equal(t, "111", product.ID)
	assert.Equal(t, "https://www.etsy.com/listing/111", product.URL)
	assert.Equal(t, "Ceramic Mug", product.Title)
	assert.Equal(t, "ClayWorks", product.Brand)
	assert.Equal(t, 24.0, product.Price.Amount)
	assert.Equal(t, "USD", product.Price.Currency)
	assert.Equal(t, 4.9, *product.Rating)
	assert.Equal(t, 10, *product.ReviewCount)
	assert.Len(t, product.Images, 2)
	assert.Equal(t, "Stoneware", product.Specs["material"])
	assert.Len(t, product.Reviews, 2)
}

func TestReviewRequests(t *testing.T) {
	s := New()
	product := models.NewProduct(Name, "111", "https://www.etsy.com/listing/111")

	first, ok := s.ReviewRequest(product, 1)
	require.True(t, ok)
	assert.Equal(t, reviewsReady, first.WaitForSelector)
	assert.Empty(t, first.JSScenario)

	third, ok := s.ReviewRequest(product, 3)
	require.True(t, ok)
	require.Len(t, third.JSScenario, 4)
	assert.Contains(t, third.JSScenario[0].Click, `page=3`)
	assert.Equal(t, 2000, third.JSScenario[1].Wait)
	assert.Equal(t, "3", third.Tag)

	_, ok = s.ReviewRequest(models.NewProduct(Name, "x", ""), 1)
	assert.False(t, ok)
}

func TestParseReviews(t *testing.T) {
	result, err := New().ParseReviews(page("https://www.etsy.com/listing/111", "2", productHTML))
	require.NoError(t, err)

	assert.Equal(t, 10, result.TotalReviews)
	assert.Equal(t, ReviewsPerPage, result.PerPage)
	require.Len(t, result.Reviews, 2)
	assert.Equal(t, "Ann", result.Reviews[0].Author)
	assert.Equal(t, "111", result.Reviews[0].ProductID)
	assert.Equal(t, 2, result.Reviews[0].Page)
	assert.Equal(t, 2.0, *result.Reviews[1].Rating)
}
