// Package etsy scrapes etsy.com. Search and review pages are rendered by
// the scraping API; review pagination is driven by clicking through the
// review pager in a JS scenario.
package etsy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/parser"
	"github.com/maltedev/storefront-scraper/internal/selector"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

const (
	Name           = "etsy"
	BaseURL        = "https://www.etsy.com"
	SearchPageSize = 48
	ReviewsPerPage = 4

	searchReady  = `//div[@data-search-pagination]`
	reviewsReady = `//div[@data-reviews-pagination]`
)

var listingPattern = regexp.MustCompile(`/listing/(\d+)`)

func init() {
	sites.Register(New())
}

type Site struct{}

func New() *Site {
	return &Site{}
}

func (s *Site) Name() string        { return Name }
func (s *Site) MaxSearchPages() int { return 0 }
func (s *Site) MaxReviewPages() int { return 0 }

func request(url string, page int) fetcher.Request {
	return fetcher.Request{URL: url, ASP: true, Country: "US", Tag: sites.PageTag(page)}
}

func searchRequest(url string, page int) fetcher.Request {
	req := request(url, page)
	req.RenderJS = true
	req.WaitForSelector = searchReady
	return req
}

func (s *Site) SearchRequest(query string, page int) fetcher.Request {
	url := sites.SearchURL(query, BaseURL+"/search?q=")
	if page > 1 {
		url = parser.UpdateQuery(url, "page", strconv.Itoa(page))
	}
	return searchRequest(url, page)
}

func (s *Site) PageRequest(first *fetcher.Page, page int) fetcher.Request {
	return searchRequest(parser.UpdateQuery(first.Request.URL, "page", strconv.Itoa(page)), page)
}

// ListingURL trims a listing link to /listing/{id}, dropping the slug and
// tracking parameters.
func ListingURL(link string) string {
	link = parser.StripQuery(link)
	parts := strings.Split(link, "/")
	if len(parts) > 5 {
		parts = parts[:5]
	}
	return strings.Join(parts, "/")
}

func ListingID(url string) string {
	if m := listingPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

func (s *Site) ParseSearch(p *fetcher.Page) (*sites.SearchPage, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	page := sites.PageOf(p)
	result := &sites.SearchPage{PerPage: SearchPageSize}
	for _, obj := range parser.LDJSON(sel) {
		if n, ok := parser.JSONInt(obj, "numberOfItems"); ok {
			result.TotalItems = n
			break
		}
	}

	sel.XPath(`//div[@data-search-results-lg]/ul/li[div[@data-appears-component-name]]`).Each(func(_ int, card selector.Nodes) {
		link := card.XPath(`.//a[contains(@class, 'listing-link')]`).Attr("href")
		if link == "" {
			return
		}
		link = ListingURL(link)
		pv := models.Preview{
			Site:        Name,
			ID:          ListingID(link),
			URL:         link,
			Title:       strings.TrimSpace(card.XPath(`.//h3[contains(@class, 'v2-listing-card__titl')]`).Attr("title")),
			Rating:      parser.ParseRating(card.XPath(`.//span[contains(@class, 'review_stars')]/span`).Get()),
			ReviewCount: parser.CountPtr(card.XPath(`.//div[contains(@aria-label,'star rating')]/p`).Get()),
			Sponsored:   card.XPath(`.//span[@data-ad-label='Ad by Etsy seller']`).Len() > 0,
			Image:       card.XPath(`.//img[@data-listing-card-listing-image]`).Attr("src"),
			Page:        page,
			Attributes: map[string]any{
				"free_shipping": card.XPath(`.//span[contains(text(),'Free shipping')]`).Len() > 0,
			},
		}
		if pv.Title == "" {
			pv.Title = card.XPath(`.//h3`).Get()
		}
		if price := card.XPath(`.//span[@class='currency-value']`).Get(); price != "" {
			pv.Price = parser.ParsePrice(price)
			if pv.Price != nil {
				pv.Price.Currency = card.XPath(`.//span[@class='currency-symbol']`).Get()
				if pv.Price.Currency == "$" {
					pv.Price.Currency = "USD"
				}
			}
		}
		if seller := card.XPath(`.//span[contains(text(),'From shop')]`).Get(); seller != "" {
			pv.Brand = strings.TrimSpace(strings.TrimPrefix(seller, "From shop "))
		}
		result.Previews = append(result.Previews, pv)
	})

	return result, nil
}

func (s *Site) ProductRequest(pv models.Preview) (fetcher.Request, bool) {
	switch {
	case pv.URL != "":
		return request(ListingURL(pv.URL), 1), true
	case pv.ID != "":
		return request(BaseURL+"/listing/"+pv.ID, 1), true
	}
	return fetcher.Request{}, false
}

func (s *Site) ParseProduct(p *fetcher.Page) (*models.Product, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	data, ok := parser.FindLDJSON(sel, "Product")
	if !ok {
		return nil, fmt.Errorf("%w: no product ld+json on %s", sites.ErrNoData, p.URL)
	}

	url := parser.JSONString(data, "url")
	if url == "" {
		url = p.URL
	}
	url = ListingURL(url)
	id := parser.JSONString(data, "sku")
	if id == "" {
		id = ListingID(url)
	}

	product := models.NewProduct(Name, id, url)
	product.Title = parser.JSONString(data, "name")
	product.Brand = parser.JSONString(data, "brand.name")
	product.Description = parser.JSONString(data, "description")
	product.Price = offerPrice(data)
	if rating, ok := parser.JSONFloat(data, "aggregateRating.ratingValue"); ok {
		product.Rating = models.Float(rating)
	}
	if count, ok := parser.JSONInt(data, "aggregateRating.reviewCount"); ok {
		product.ReviewCount = models.Int(count)
	}
	for _, img := range parser.JSONSlice(data, "image") {
		if u := parser.JSONString(img, "contentURL"); u != "" {
			product.Images = append(product.Images, u)
		} else if u, ok := img.(string); ok {
			product.Images = append(product.Images, u)
		}
	}
	if material := parser.JSONString(data, "material"); material != "" {
		product.Specs["material"] = material
	}
	product.Attributes["availability"] = parser.JSONString(data, "offers.availability")
	product.Reviews = ldReviews(data, id, 1)
	product.ReviewURL = url
	return product, nil
}

func offerPrice(data map[string]any) *models.Price {
	currency := parser.JSONString(data, "offers.priceCurrency")
	for _, key := range []string{"offers.price", "offers.lowPrice"} {
		if amount, ok := parser.JSONFloat(data, key); ok {
			return &models.Price{Amount: amount, Currency: currency, Raw: parser.JSONString(data, key)}
		}
	}
	return nil
}

func ldReviews(data map[string]any, productID string, page int) []models.Review {
	var out []models.Review
	for _, r := range parser.JSONSlice(data, "review") {
		review := models.Review{
			Site:      Name,
			ProductID: productID,
			Author:    parser.JSONString(r, "author.name"),
			Text:      parser.JSONString(r, "reviewBody"),
			Date:      parser.JSONString(r, "datePublished"),
			Page:      page,
		}
		if rating, ok := parser.JSONFloat(r, "reviewRating.ratingValue"); ok {
			review.Rating = models.Float(rating)
		}
		out = append(out, review)
	}
	return out
}

// ReviewRequest renders the listing page; pages after the first are reached
// by clicking the matching link in the review pager.
func (s *Site) ReviewRequest(product *models.Product, page int) (fetcher.Request, bool) {
	url := product.ReviewURL
	if url == "" {
		url = product.URL
	}
	if url == "" {
		return fetcher.Request{}, false
	}

	req := request(url, page)
	req.RenderJS = true
	if page <= 1 {
		req.WaitForSelector = reviewsReady
		return req, true
	}

	pageLink := fmt.Sprintf(`//a[contains(@href, "page=%d") and contains(@class, "wt-action-group__item wt-btn")]`, page)
	current := fmt.Sprintf(`//a[contains(@href, "page=%d") and @aria-current="true"]`, page)
	req.JSScenario = []fetcher.ScenarioStep{
		fetcher.Click(pageLink),
		fetcher.Wait(2000),
		fetcher.WaitFor(current, 2000),
		fetcher.WaitFor(reviewsReady, 1000),
	}
	return req, true
}

func (s *Site) ParseReviews(p *fetcher.Page) (*sites.ReviewPage, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	data, ok := parser.FindLDJSON(sel, "Product")
	if !ok {
		return nil, fmt.Errorf("%w: no product ld+json on %s", sites.ErrNoData, p.URL)
	}
	id := parser.JSONString(data, "sku")
	if id == "" {
		id = ListingID(p.URL)
	}

	return &sites.ReviewPage{
		Reviews:      ldReviews(data, id, sites.PageOf(p)),
		TotalReviews: parser.ParseCount(sel.XPath(`//button[@id="same-listing-reviews-tab"]/span`).Get()),
		PerPage:      ReviewsPerPage,
	}, nil
}
