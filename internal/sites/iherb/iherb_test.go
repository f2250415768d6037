package iherb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

const searchHTML = `<html><body>
<span id="product-count">1-48 of 300 results</span>
<div class="product-cell-container col-xs-12">
  <a href="https://www.iherb.com/pr/herb-pharm-california-poppy/12345">x</a>
  <div class="product-title"><bdi>Herb Pharm, California Poppy, 1 fl oz</bdi></div>
  <meta itemprop="ratingValue" content="4.7">
  <meta itemprop="reviewCount" content="1520">
  <div class="rating"><a class="stars scroll-to" href="/r/herb-pharm-california-poppy/12345">stars</a></div>
  <div class="product-price text-nowrap"><span class="price discount-red"><bdi>$12.49</bdi></span></div>
  <div itemprop="sku" content="HBP-01234"></div>
</div>
<div class="product-cell-container"><span>no link</span></div>
</body></html>`

const plainProductHTML = `<html><body>
<h1 id="name">California Poppy</h1>
<div id="brand"><a href="/c/herb-pharm"><bdi>Herb Pharm</bdi></a></div>
<meta itemprop="ratingValue" content="4.7">
<meta itemprop="reviewCount" content="1,520">
<div id="product-overview">
  <div class="col-xs-24 col-md-14">
    <h3><strong>Description</strong></h3>
    <div><ul><li>Dietary supplement</li></ul><p>Traditional herb.</p></div>
    <h3><strong>Suggested use</strong></h3>
    <div><p>Take 30 drops.</p></div>
    <h3><strong>Warnings</strong></h3>
    <div><p>Not for children.</p></div>
  </div>
  <div class="col-xs-24 col-md-10">
    <div class="supplement-facts-container"><table>
      <tr><td>Serving Size: 0.7 ml</td></tr>
      <tr><td>Servings Per Container: 43</td></tr>
      <tr><td></td><td>Amount Per Serving</td><td>%DV</td></tr>
      <tr><td>California Poppy</td><td>700 mg</td><td>**</td></tr>
    </table></div>
  </div>
</div>
</body></html>`

const collapsedProductHTML = `<html><body>
<div class="product-collapse-container"></div>
<h1 id="name">Poppy Extract</h1>
<div class="switch-language-content ">
  <div id="overview"><div class="overview-info"><ul><li>Calming</li></ul><p>Extract.</p></div></div>
  <div id="product-supplement-facts"><div class="supplement-facts-container"><table>
    <tr><td>Zinc</td><td>5 mg</td><td>45%</td></tr>
  </table></div></div>
</div>
</body></html>`

const reviewsHTML = `<html><body>
<script id="__NEXT_DATA__" type="application/json">{"props":{"rating":{"calculatedRating":4.7,"count":95,"other":1}}}</script>
<div class="MuiBox-root css-1" id="reviews">
  <div id="rev-1">
    <span data-testid="review-posted-date">Posted on Mar 3, 2024</span>
    <ul data-testid="review-rating"><li><svg><path fill="#f90"></path></svg></li><li><svg><path fill="#f90"></path></svg></li><li><svg><path fill="#f90"></path></svg></li><li><svg><path fill="#f90"></path></svg></li></ul>
    <span data-testid="review-title">Helps me sleep</span>
    <div data-testid="review-badge-info"><div>Verified Purchase</div><div>Rewarded Review</div></div>
    <div data-testid="review-text"><div><p>Works well.</p></div></div>
  </div>
  <div id="rev-2"><span>empty</span></div>
</div>
</body></html>`

func page(url, tag, html string) *fetcher.Page {
	return fetcher.NewPage(fetcher.Request{URL: url, Tag: tag}, url, 200, html)
}

func TestStrictReviewCap(t *testing.T) {
	var s sites.Site = New()
	strict, ok := s.(sites.StrictReviewCap)
	require.True(t, ok)
	assert.True(t, strict.StrictReviewCap())
	assert.Equal(t, 10, s.MaxReviewPages())
}

func TestSearch(t *testing.T) {
	s := New()
	req := s.SearchRequest("california poppy", 2)
	assert.Equal(t, "https://www.iherb.com/search?kw=california+poppy&p=2", req.URL)

	result, err := s.ParseSearch(page(req.URL, req.Tag, searchHTML))
	require.NoError(t, err)

	assert.Equal(t, 300, result.TotalItems)
	assert.Equal(t, 48, result.PerPage)
	require.Len(t, result.Previews, 1)

	pv := result.Previews[0]
	assert.Equal(t, "12345", pv.ID)
	assert.Equal(t, "Herb Pharm, California Poppy, 1 fl oz", pv.Title)
	assert.Equal(t, 4.7, *pv.Rating)
	assert.Equal(t, 1520, *pv.ReviewCount)
	assert.Equal(t, 12.49, pv.Price.Amount)
	assert.Equal(t, "HBP-01234", pv.Attributes["sku"])
	assert.Equal(t, "https://www.iherb.com/r/herb-pharm-california-poppy/12345", pv.Attributes["review_url"])
	assert.Equal(t, 2, pv.Page)
}

func TestParsePlainProduct(t *testing.T) {
	product, err := New().ParseProduct(page("https://www.iherb.com/pr/herb-pharm-california-poppy/12345?rcode=x", "1", plainProductHTML))
	require.NoError(t, err)

	assert.Equal(t, "12345", product.ID)
	assert.Equal(t, "California Poppy", product.Title)
	assert.Equal(t, "Herb Pharm", product.Brand)
	assert.Equal(t, "Dietary supplement\nTraditional herb.", product.Description)
	assert.Equal(t, "plain", product.Attributes["layout"])
	assert.Equal(t, []string{"Take 30 drops."}, product.Attributes["directions"])
	assert.Equal(t, []string{"Not for children."}, product.Attributes["warnings"])
	assert.NotContains(t, product.Attributes, "disclaimer")
	assert.Equal(t, "0.7 ml", product.Specs["Serving Size"])
	assert.Equal(t, "43", product.Specs["Servings Per Container"])
	assert.Equal(t, []map[string]string{{"name": "California Poppy", "amount": "700 mg", "dv": "**"}}, product.Attributes["supplement_facts"])
	assert.Equal(t, "https://www.iherb.com/r/herb-pharm-california-poppy/12345", product.ReviewURL)
}

func TestParseCollapsedProduct(t *testing.T) {
	product, err := New().ParseProduct(page("https://www.iherb.com/pr/poppy/999", "1", collapsedProductHTML))
	require.NoError(t, err)

	assert.Equal(t, "collapsed", product.Attributes["layout"])
	assert.Equal(t, "Calming\nExtract.", product.Description)
	assert.Equal(t, []map[string]string{{"name": "Zinc", "amount": "5 mg", "dv": "45%"}}, product.Attributes["supplement_facts"])
}

func TestReviews(t *testing.T) {
	s := New()
	product := models.NewProduct(Name, "12345", "https://www.iherb.com/pr/herb-pharm-california-poppy/12345")

	req, ok := s.ReviewRequest(product, 3)
	require.True(t, ok)
	assert.Equal(t, "https://www.iherb.com/r/herb-pharm-california-poppy/12345?isshowtranslated=true&p=3&sort=6", req.URL)

	result, err := s.ParseReviews(page(req.URL, req.Tag, reviewsHTML))
	require.NoError(t, err)
	assert.Equal(t, 95, result.TotalReviews)
	require.NotNil(t, result.AverageRating)
	assert.Equal(t, 4.7, *result.AverageRating)
	require.Len(t, result.Reviews, 1)

	r := result.Reviews[0]
	assert.Equal(t, "12345", r.ProductID)
	assert.Equal(t, "rev-1", r.ID)
	assert.Equal(t, "Helps me sleep", r.Title)
	assert.Equal(t, "Works well.", r.Text)
	assert.Equal(t, "Mar 3, 2024", r.Date)
	assert.Equal(t, 4.0, *r.Rating)
	assert.True(t, r.Verified)
	assert.Equal(t, true, r.Attributes["rewarded"])
	assert.Equal(t, 3, r.Page)
}
