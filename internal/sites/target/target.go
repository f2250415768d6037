// Package target scrapes target.com. Listing and product pages are rendered
// with JS scenarios that scroll the grid into view and expand the
// specifications panel.
package target

import (
	"fmt"
	"net/url"
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
	Name           = "target"
	BaseURL        = "https://www.target.com"
	SearchPageSize = 24
	ReviewsPerPage = 10
	maxSearchPages = 25
	proxyPool      = "public_residential_pool"

	productCard = `//div[@data-testid='product-description']`
	specsPanel  = `//div[@data-test="@web/site-top-of-funnel/ProductDetailCollapsible-Specifications"]`
	specsList   = `//div[@data-test='item-details-specifications']`
)

var tcinPattern = regexp.MustCompile(`/A-(\d+)`)

func init() {
	sites.Register(New())
}

type Site struct{}

func New() *Site {
	return &Site{}
}

func (s *Site) Name() string        { return Name }
func (s *Site) MaxSearchPages() int { return maxSearchPages }
func (s *Site) MaxReviewPages() int { return 0 }

func request(u string, page int) fetcher.Request {
	return fetcher.Request{
		URL:       u,
		ASP:       true,
		Country:   "US",
		ProxyPool: proxyPool,
		Tag:       sites.PageTag(page),
	}
}

// searchRequest renders a listing page, scrolling so the lazy product grid
// loads, and exits early when the grid is absent.
func searchRequest(u string, page int) fetcher.Request {
	req := request(u, page)
	req.RenderJS = true
	req.JSScenario = []fetcher.ScenarioStep{
		fetcher.Wait(1000),
		fetcher.Scroll(fetcher.ScrollBottom),
		fetcher.Wait(1000),
		fetcher.ExitIfMissing(productCard),
		fetcher.WaitFor(productCard, 500),
	}
	return req
}

func offset(page int) string {
	return strconv.Itoa((page - 1) * SearchPageSize)
}

func (s *Site) SearchRequest(query string, page int) fetcher.Request {
	if page < 1 {
		page = 1
	}
	if sites.IsURL(query) {
		return searchRequest(parser.UpdateQuery(query, "Nao", offset(page)), page)
	}
	q := url.Values{}
	q.Set("searchTerm", strings.TrimSpace(query))
	q.Set("Nao", offset(page))
	q.Set("moveTo", "product-list-grid")
	return searchRequest(BaseURL+"/s?"+q.Encode(), page)
}

func (s *Site) PageRequest(first *fetcher.Page, page int) fetcher.Request {
	return searchRequest(parser.UpdateQuery(first.Request.URL, "Nao", offset(page)), page)
}

// TCIN extracts Target's item number from a product URL.
func TCIN(u string) string {
	if m := tcinPattern.FindStringSubmatch(u); m != nil {
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
	result := &sites.SearchPage{
		PerPage:    SearchPageSize,
		TotalItems: parser.ParseCount(sel.XPath(`//div[@data-test="lp-resultsCount"]/h2/span`).Get()),
	}

	sel.XPath(`//div[@data-test="product-details"]`).Each(func(_ int, details selector.Nodes) {
		title := details.XPath(`.//a[@data-test="product-title"]`)
		href := title.Attr("href")
		if href == "" {
			return
		}
		link := parser.StripQuery(parser.AbsoluteURL(BaseURL, href))
		name := title.Attr("aria-label")
		if name == "" {
			name = title.Get()
		}
		result.Previews = append(result.Previews, models.Preview{
			Site:        Name,
			ID:          TCIN(link),
			URL:         link,
			Title:       name,
			Brand:       details.XPath(`.//a[contains(@data-test, "brand")]`).Get(),
			Rating:      parser.ParseRating(details.XPath(`.//span[@data-test="ratings"]/span`).Get()),
			ReviewCount: parser.CountPtr(details.XPath(`.//span[@data-test="rating-count"]`).Get()),
			Price:       parser.ParsePrice(details.XPath(`.//span[@data-test="current-price"]/span`).Get()),
			Page:        page,
		})
	})
	return result, nil
}

func (s *Site) ProductRequest(pv models.Preview) (fetcher.Request, bool) {
	u := pv.URL
	if u == "" && pv.ID != "" {
		u = BaseURL + "/p/-/A-" + pv.ID
	}
	if u == "" {
		return fetcher.Request{}, false
	}

	req := request(u, 1)
	req.RenderJS = true
	req.JSScenario = []fetcher.ScenarioStep{
		fetcher.Scroll(specsPanel),
		fetcher.Click(specsPanel + "/button"),
		fetcher.ExitIfMissing(specsList),
		fetcher.WaitFor(specsList, 500),
	}
	return req, true
}

func (s *Site) ParseProduct(p *fetcher.Page) (*models.Product, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	u := parser.StripQuery(p.URL)
	product := models.NewProduct(Name, TCIN(u), u)

	if data, ok := parser.FindLDJSON(sel, "Product"); ok {
		if sku := parser.JSONString(data, "sku"); sku != "" {
			product.ID = sku
		}
		product.Title = parser.JSONString(data, "name")
		product.Brand = parser.JSONString(data, "brand.name")
		product.Description = parser.JSONString(data, "description")
		product.Images = parser.JSONStrings(data, "image")
		if amount, ok := parser.JSONFloat(data, "offers.price"); ok {
			product.Price = &models.Price{Amount: amount, Currency: parser.JSONString(data, "offers.priceCurrency")}
		}
		if rating, ok := parser.JSONFloat(data, "aggregateRating.ratingValue"); ok {
			product.Rating = models.Float(rating)
		}
		if count, ok := parser.JSONInt(data, "aggregateRating.reviewCount"); ok {
			product.ReviewCount = models.Int(count)
		}
	}
	if product.Title == "" {
		product.Title = sel.CSS(`h1[data-test="product-title"]`).Get()
	}
	if product.Price == nil {
		product.Price = parser.ParsePrice(sel.CSS(`span[data-test="product-price"]`).Get())
	}

	sel.XPath(specsList + `/div`).Each(func(_ int, spec selector.Nodes) {
		key := strings.TrimSuffix(spec.XPath(`.//b`).Get(), ":")
		val := spec.XPath(`.//b/following-sibling::text()[2]`).Get()
		if val == "" {
			val = spec.XPath(`.//b/following-sibling::text()[1]`).Get()
		}
		val = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(val), ":"))
		if key != "" && val != "" {
			product.Specs[strings.TrimSpace(key)] = val
		}
	})

	if product.ID == "" || product.Title == "" {
		return nil, fmt.Errorf("%w: no item id or title on %s", sites.ErrNoData, p.URL)
	}
	product.ReviewURL = BaseURL + "/reviews/product/" + product.ID
	return product, nil
}

func (s *Site) ReviewRequest(product *models.Product, page int) (fetcher.Request, bool) {
	base := product.ReviewURL
	if base == "" && product.ID != "" {
		base = BaseURL + "/reviews/product/" + product.ID
	}
	if base == "" {
		return fetcher.Request{}, false
	}

	req := request(parser.UpdateQuery(base, "page", strconv.Itoa(page)), page)
	req.RenderJS = true
	req.JSScenario = []fetcher.ScenarioStep{
		fetcher.Scroll(fetcher.ScrollBottom),
		fetcher.Wait(500),
	}
	return req, true
}

func (s *Site) ParseReviews(p *fetcher.Page) (*sites.ReviewPage, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	productID := parser.LastPathSegment(p.URL)
	page := sites.PageOf(p)
	result := &sites.ReviewPage{
		PerPage:      ReviewsPerPage,
		TotalReviews: parser.ParseCount(sel.CSS(`[data-test="ratings-count"], [data-test="rating-count"]`).Get()),
	}

	sel.CSS(`[data-test="review-card"]`).Each(func(_ int, card selector.Selection) {
		result.Reviews = append(result.Reviews, models.Review{
			Site:      Name,
			ProductID: productID,
			ID:        card.Attr("id"),
			Author:    card.CSS(`[data-test="review-card--username"]`).Get(),
			Date:      card.CSS(`[data-test="review-card--reviewTime"]`).Get(),
			Title:     card.CSS(`[data-test="review-card--title"]`).Get(),
			Text:      card.CSS(`[data-test="review-card--text"]`).Join(),
			Rating:    parser.ParseRating(card.CSS(`[data-test="ratings"] span`).Get()),
			Verified:  card.CSS(`[data-test="review-card--verified-purchaser"]`).Length() > 0,
			Page:      page,
		})
	})
	return result, nil
}
