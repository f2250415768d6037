// Package tripadvisor scrapes tripadvisor.com location search, location
// pages (hotels, attractions, restaurants) and their reviews. A location
// plays the role of a product.
package tripadvisor

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
	Name           = "tripadvisor"
	BaseURL        = "https://www.tripadvisor.com"
	ReviewsPerPage = 10
	SearchPageSize = 30
)

var (
	locationPattern = regexp.MustCompile(`-g(\d+)-d(\d+)-`)
	offsetPattern   = regexp.MustCompile(`-or\d+-`)
	locationTypes   = []string{"Hotel", "TouristAttraction", "LocalBusiness", "Restaurant", "LodgingBusiness", "Place"}
)

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

func request(u string, page int) fetcher.Request {
	return fetcher.Request{URL: u, ASP: true, Country: "US", Tag: sites.PageTag(page)}
}

func searchOffset(u string, page int) string {
	if page <= 1 {
		return u
	}
	return parser.UpdateQuery(u, "offset", strconv.Itoa((page-1)*SearchPageSize))
}

func (s *Site) SearchRequest(query string, page int) fetcher.Request {
	return request(searchOffset(sites.SearchURL(query, BaseURL+"/Search?q="), page), page)
}

func (s *Site) PageRequest(first *fetcher.Page, page int) fetcher.Request {
	return request(searchOffset(first.Request.URL, page), page)
}

// LocationID returns the "d" identifier of a location URL, e.g. "d105127"
// for .../Attraction_Review-g60763-d105127-Reviews-Central_Park....
func LocationID(u string) string {
	if m := locationPattern.FindStringSubmatch(u); m != nil {
		return "d" + m[2]
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
	seen := map[string]bool{}

	sel.CSS(`[data-test-attribute="location-results-card"], div.result-card`).Each(func(_ int, card selector.Selection) {
		var href string
		for _, h := range card.CSS("a").Attrs("href") {
			if strings.Contains(h, "_Review-") {
				href = h
				break
			}
		}
		if href == "" {
			return
		}
		link := parser.StripQuery(parser.AbsoluteURL(BaseURL, href))
		id := LocationID(link)
		if seen[id] {
			return
		}
		seen[id] = true

		title := card.CSS("h3").Get()
		if title == "" {
			title = card.CSS(".result-title").Get()
		}
		pv := models.Preview{
			Site:        Name,
			ID:          id,
			URL:         link,
			Title:       title,
			Rating:      parser.ParseRating(card.CSS(`svg[aria-label*="bubbles"]`).Attr("aria-label")),
			ReviewCount: parser.CountPtr(card.CSS(`.review_count, [data-automation="reviewCount"]`).Get()),
			Image:       card.CSS("img").Attr("src"),
			Page:        page,
		}
		if kind := locationKind(link); kind != "" {
			pv.Attributes = map[string]any{"type": kind}
		}
		result.Previews = append(result.Previews, pv)
	})

	result.TotalItems = parser.ParseCount(sel.CSS(`[data-test-attribute="search-results-count"], .search-results-count`).Get())
	return result, nil
}

// locationKind derives hotel/attraction/restaurant from the URL prefix.
func locationKind(u string) string {
	for prefix, kind := range map[string]string{
		"/Hotel_Review-":      "hotel",
		"/Attraction_Review-": "attraction",
		"/Restaurant_Review-": "restaurant",
	} {
		if strings.Contains(u, prefix) {
			return kind
		}
	}
	return ""
}

func (s *Site) ProductRequest(pv models.Preview) (fetcher.Request, bool) {
	if pv.URL == "" {
		return fetcher.Request{}, false
	}
	return request(pv.URL, 1), true
}

func findLocation(sel *selector.Selector) map[string]any {
	for _, typ := range locationTypes {
		if data, ok := parser.FindLDJSON(sel, typ); ok {
			return data
		}
	}
	return nil
}

func (s *Site) ParseProduct(p *fetcher.Page) (*models.Product, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	u := parser.StripQuery(offsetPattern.ReplaceAllString(p.URL, "-"))
	product := models.NewProduct(Name, LocationID(u), u)
	product.Attributes["type"] = locationKind(u)

	data := findLocation(sel)
	if data != nil {
		product.Title = parser.JSONString(data, "name")
		product.Description = parser.JSONString(data, "description")
		product.Images = parser.JSONStrings(data, "image")
		if rating, ok := parser.JSONFloat(data, "aggregateRating.ratingValue"); ok {
			product.Rating = models.Float(rating)
		}
		if count, ok := parser.JSONInt(data, "aggregateRating.reviewCount"); ok {
			product.ReviewCount = models.Int(count)
		}
		for key, path := range map[string]string{
			"street":    "address.streetAddress",
			"city":      "address.addressLocality",
			"region":    "address.addressRegion",
			"country":   "address.addressCountry.name",
			"postcode":  "address.postalCode",
			"telephone": "telephone",
			"price":     "priceRange",
		} {
			if v := parser.JSONString(data, path); v != "" {
				product.Specs[key] = v
			}
		}
		if lat, ok := parser.JSONFloat(data, "geo.latitude"); ok {
			lng, _ := parser.JSONFloat(data, "geo.longitude")
			product.Attributes["geo"] = map[string]float64{"lat": lat, "lng": lng}
		}
	}
	if product.Title == "" {
		product.Title = sel.CSS("h1").Get()
	}
	if product.ID == "" || product.Title == "" {
		return nil, fmt.Errorf("%w: no location data on %s", sites.ErrNoData, p.URL)
	}

	sel.CSS(`[data-automation="WebPresentation_PoiAboutWeb"] li, #ABOUT_TAB .ui_column li`).Each(func(_ int, li selector.Selection) {
		if text := parser.Squash(li.Text()); text != "" {
			product.Features = append(product.Features, text)
		}
	})
	product.ReviewURL = u
	return product, nil
}

// ReviewURL inserts the -or{offset}- segment that TripAdvisor uses to page
// through reviews, 10 at a time.
func ReviewURL(locationURL string, page int) string {
	u := offsetPattern.ReplaceAllString(locationURL, "-")
	if page <= 1 {
		return u
	}
	return strings.Replace(u, "-Reviews-", fmt.Sprintf("-Reviews-or%d-", (page-1)*ReviewsPerPage), 1)
}

func (s *Site) ReviewRequest(product *models.Product, page int) (fetcher.Request, bool) {
	u := product.ReviewURL
	if u == "" {
		u = product.URL
	}
	if !strings.Contains(u, "-Reviews-") {
		return fetcher.Request{}, false
	}
	return request(ReviewURL(u, page), page), true
}

func (s *Site) ParseReviews(p *fetcher.Page) (*sites.ReviewPage, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	locationID := LocationID(p.URL)
	page := sites.PageOf(p)
	result := &sites.ReviewPage{PerPage: ReviewsPerPage}
	if data := findLocation(sel); data != nil {
		result.TotalReviews, _ = parser.JSONInt(data, "aggregateRating.reviewCount")
	}
	if result.TotalReviews == 0 {
		result.TotalReviews = parser.ParseCount(sel.CSS(`[data-automation="reviewCount"]`).Get())
	}

	sel.CSS(`div[data-automation="reviewCard"]`).Each(func(_ int, card selector.Selection) {
		written := card.XPath(`.//div[starts-with(normalize-space(text()), "Written ")]`).Get()
		review := models.Review{
			Site:      Name,
			ProductID: locationID,
			ID:        card.Attr("data-reviewid"),
			Author:    card.CSS(`a[href^="/Profile/"]`).Get(),
			Title:     card.CSS(`[data-test-target="review-title"]`).Get(),
			Text:      card.CSS(`[data-test-target="review-body"]`).Join(),
			Rating:    parser.ParseRating(card.CSS(`svg[aria-label*="bubbles"]`).Attr("aria-label")),
			Date:      strings.TrimSpace(strings.TrimPrefix(written, "Written ")),
			Page:      page,
		}
		if trip := card.CSS(`[data-automation="tripType"], .RpeCd`).Get(); trip != "" {
			review.Attributes = map[string]any{"trip": trip}
		}
		result.Reviews = append(result.Reviews, review)
	})
	return result, nil
}
