package tripadvisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/models"
)

const centralPark = "https://www.tripadvisor.com/Attraction_Review-g60763-d105127-Reviews-Central_Park-New_York_City_New_York.html"

const searchHTML = `<html><body>
<div data-test-attribute="search-results-count">1,234 results</div>
<div data-test-attribute="location-results-card">
  <a href="/Tourism-g190311-Malta.html">Malta</a>
  <a href="/Hotel_Review-g190327-d264936-Reviews-Hotel_Phoenicia-Valletta.html?m=1"><h3>The Phoenicia Malta</h3></a>
  <svg aria-label="4.5 of 5 bubbles"></svg>
  <span class="review_count">2,517 reviews</span>
</div>
<div data-test-attribute="location-results-card">
  <a href="/Hotel_Review-g190327-d264936-Reviews-Hotel_Phoenicia-Valletta.html"><h3>Duplicate</h3></a>
</div>
<div data-test-attribute="location-results-card"><a href="/Tourism-g1.html">No review link</a></div>
</body></html>`

const locationHTML = `<html><head>
<script type="application/ld+json">{"@type":"TouristAttraction","name":"Central Park","description":"Urban park",
"image":"https://media.tacdn.com/cp.jpg","aggregateRating":{"ratingValue":"4.5","reviewCount":"132,841"},
"address":{"streetAddress":"59th to 110th Street","addressLocality":"New York City","addressCountry":{"name":"United States"}},
"geo":{"latitude":40.78,"longitude":-73.96}}</script>
</head><body>
<div data-automation="reviewCard" data-reviewid="900">
  <a href="/Profile/walker">Walker</a>
  <svg aria-label="5.0 of 5 bubbles"></svg>
  <div data-test-target="review-title">A must</div>
  <div data-test-target="review-body"><span>Beautiful   in spring.</span></div>
  <div data-automation="tripType">Family</div>
  <div>Written May 3, 2024</div>
</div>
<div data-automation="reviewCard" data-reviewid="901">
  <div data-test-target="review-body">Crowded.</div>
</div>
</body></html>`

func page(url, tag, html string) *fetcher.Page {
	return fetcher.NewPage(fetcher.Request{URL: url, Tag: tag}, url, 200, html)
}

func TestReviewURL(t *testing.T) {
	assert.Equal(t, centralPark, ReviewURL(centralPark, 1))
	assert.Equal(t,
		"https://www.tripadvisor.com/Attraction_Review-g60763-d105127-Reviews-or20-Central_Park-New_York_City_New_York.html",
		ReviewURL(centralPark, 3))
	paged := ReviewURL(centralPark, 3)
	assert.Equal(t, ReviewURL(centralPark, 2), ReviewURL(paged, 2))
}

func TestLocationID(t *testing.T) {
	assert.Equal(t, "d105127", LocationID(centralPark))
	assert.Empty(t, LocationID("https://www.tripadvisor.com/Search?q=x"))
}

func TestSearch(t *testing.T) {
	s := New()
	req := s.SearchRequest("Malta", 2)
	assert.Equal(t, "https://www.tripadvisor.com/Search?offset=30&q=Malta", req.URL)

	result, err := s.ParseSearch(page(req.URL, req.Tag, searchHTML))
	require.NoError(t, err)

	assert.Equal(t, 1234, result.TotalItems)
	require.Len(t, result.Previews, 1)
	pv := result.Previews[0]
	assert.Equal(t, "d264936", pv.ID)
	assert.Equal(t, "https://www.tripadvisor.com/Hotel_Review-g190327-d264936-Reviews-Hotel_Phoenicia-Valletta.html", pv.URL)
	assert.Equal(t, "The Phoenicia Malta", pv.Title)
	assert.Equal(t, 4.5, *pv.Rating)
	assert.Equal(t, 2517, *pv.ReviewCount)
	assert.Equal(t, "hotel", pv.Attributes["type"])
	assert.Equal(t, 2, pv.Page)
}

func TestParseProduct(t *testing.T) {
	product, err := New().ParseProduct(page(centralPark, "1", locationHTML))
	require.NoError(t, err)

	assert.Equal(t, "d105127", product.ID)
	assert.Equal(t, "Central Park", product.Title)
	assert.Equal(t, "attraction", product.Attributes["type"])
	assert.Equal(t, 4.5, *product.Rating)
	assert.Equal(t, 132841, *product.ReviewCount)
	assert.Equal(t, []string{"https://media.tacdn.com/cp.jpg"}, product.Images)
	assert.Equal(t, "New York City", product.Specs["city"])
	assert.Equal(t, "United States", product.Specs["country"])
	assert.Equal(t, map[string]float64{"lat": 40.78, "lng": -73.96}, product.Attributes["geo"])
	assert.Equal(t, centralPark, product.ReviewURL)
}

func TestReviews(t *testing.T) {
	s := New()
	product := models.NewProduct(Name, "d105127", centralPark)

	req, ok := s.ReviewRequest(product, 2)
	require.True(t, ok)
	assert.Contains(t, req.URL, "-Reviews-or10-")

	_, ok = s.ReviewRequest(models.NewProduct(Name, "x", "https://www.tripadvisor.com/Search?q=x"), 1)
	assert.False(t, ok)

	result, err := s.ParseReviews(page(req.URL, req.Tag, locationHTML))
	require.NoError(t, err)

	assert.Equal(t, 132841, result.TotalReviews)
	require.Len(t, result.Reviews, 2)
	r := result.Reviews[0]
	assert.Equal(t, "900", r.ID)
	assert.Equal(t, "d105127", r.ProductID)
	assert.Equal(t, "Walker", r.Author)
	assert.Equal(t, "A must", r.Title)
	assert.Equal(t, "Beautiful in spring.", r.Text)
	assert.Equal(t, 5.0, *r.Rating)
	assert.Equal(t, "May 3, 2024", r.Date)
	assert.Equal(t, "Family", r.Attributes["trip"])
	assert.Equal(t, 2, r.Page)
	assert.Nil(t, result.Reviews[1].Rating)
}
