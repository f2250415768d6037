// Package trustpilot scrapes trustpilot.com category listings, company
// pages and company reviews from the embedded Next.js data. A company
// plays the role of a product.
package trustpilot

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/parser"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

const (
	Name           = "trustpilot"
	BaseURL        = "https://www.trustpilot.com"
	ReviewsPerPage = 20
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

func withPage(u string, page int) string {
	if page <= 1 {
		return u
	}
	return parser.UpdateQuery(u, "page", strconv.Itoa(page))
}

// SearchRequest lists a category. query is a category slug such as
// "electronics_technology" or a full category URL.
func (s *Site) SearchRequest(query string, page int) fetcher.Request {
	u := query
	if !sites.IsURL(query) {
		slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(query)), " ", "_")
		u = BaseURL + "/categories/" + url.PathEscape(slug)
	}
	return request(withPage(u, page), page)
}

func (s *Site) PageRequest(first *fetcher.Page, page int) fetcher.Request {
	return request(withPage(first.Request.URL, page), page)
}

func nextData(p *fetcher.Page) (map[string]any, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}
	data, err := parser.NextData(sel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sites.ErrNoData, p.URL, err)
	}
	return parser.JSONMap(data, "props.pageProps"), nil
}

func (s *Site) ParseSearch(p *fetcher.Page) (*sites.SearchPage, error) {
	props, err := nextData(p)
	if err != nil {
		return nil, err
	}

	units := parser.JSONMap(props, "businessUnits")
	if units == nil {
		return nil, fmt.Errorf("%w: no business units on %s", sites.ErrNoData, p.URL)
	}

	page := sites.PageOf(p)
	result := &sites.SearchPage{}
	result.TotalPages, _ = parser.JSONInt(units, "totalPages")
	result.TotalItems, _ = parser.JSONInt(units, "totalHits")

	for _, b := range parser.JSONSlice(units, "businesses") {
		domain := parser.JSONString(b, "identifyingName")
		if domain == "" {
			continue
		}
		pv := models.Preview{
			Site:  Name,
			ID:    domain,
			URL:   BaseURL + "/review/" + domain,
			Title: parser.JSONString(b, "displayName"),
			Image: parser.JSONString(b, "logoUrl"),
			Page:  page,
			Attributes: map[string]any{
				"business_unit_id": parser.JSONString(b, "businessUnitId"),
			},
		}
		if score, ok := parser.JSONFloat(b, "trustScore"); ok {
			pv.Rating = models.Float(score)
		}
		if n, ok := parser.JSONInt(b, "numberOfReviews"); ok {
			pv.ReviewCount = models.Int(n)
		}
		if city := parser.JSONString(b, "location.city"); city != "" {
			pv.Attributes["location"] = strings.TrimSpace(city + ", " + parser.JSONString(b, "location.country"))
		}
		result.Previews = append(result.Previews, pv)
	}
	return result, nil
}

func (s *Site) ProductRequest(pv models.Preview) (fetcher.Request, bool) {
	switch {
	case pv.URL != "":
		return request(pv.URL, 1), true
	case pv.ID != "":
		return request(BaseURL+"/review/"+pv.ID, 1), true
	}
	return fetcher.Request{}, false
}

func (s *Site) ParseProduct(p *fetcher.Page) (*models.Product, error) {
	props, err := nextData(p)
	if err != nil {
		return nil, err
	}

	unit := parser.JSONMap(props, "businessUnit")
	domain := parser.JSONString(unit, "identifyingName")
	if domain == "" {
		return nil, fmt.Errorf("%w: no business unit on %s", sites.ErrNoData, p.URL)
	}

	product := models.NewProduct(Name, domain, BaseURL+"/review/"+domain)
	product.Title = parser.JSONString(unit, "displayName")
	product.Description = parser.JSONString(unit, "companyDetails.description")
	if score, ok := parser.JSONFloat(unit, "trustScore"); ok {
		product.Rating = models.Float(score)
	}
	if n, ok := parser.JSONInt(unit, "numberOfReviews"); ok {
		product.ReviewCount = models.Int(n)
	}
	if logo := parser.JSONString(unit, "profileImageUrl"); logo != "" {
		product.Images = []string{parser.AbsoluteURL("https:", logo)}
	}
	for _, c := range parser.JSONSlice(unit, "categories") {
		if name := parser.JSONString(c, "name"); name != "" {
			product.Features = append(product.Features, name)
		}
	}
	for key, path := range map[string]string{
		"website": "websiteUrl",
		"email":   "contactInfo.email",
		"phone":   "contactInfo.phone",
		"city":    "contactInfo.city",
		"country": "contactInfo.country",
	} {
		if v := parser.JSONString(unit, path); v != "" {
			product.Specs[key] = v
		}
	}
	product.Attributes["business_unit_id"] = parser.JSONString(unit, "id")
	if stars, ok := parser.JSONFloat(unit, "stars"); ok {
		product.Attributes["stars"] = stars
	}
	product.Attributes["claimed"] = parser.JSONString(unit, "isClaimed") == "true"
	product.Reviews = reviews(props, domain, 1)
	product.ReviewURL = product.URL
	return product, nil
}

func reviews(props map[string]any, domain string, page int) []models.Review {
	var out []models.Review
	for _, r := range parser.JSONSlice(props, "reviews") {
		review := models.Review{
			Site:      Name,
			ProductID: domain,
			ID:        parser.JSONString(r, "id"),
			Author:    parser.JSONString(r, "consumer.displayName"),
			Title:     parser.JSONString(r, "title"),
			Text:      parser.JSONString(r, "text"),
			Date:      parser.JSONString(r, "dates.publishedDate"),
			Location:  parser.JSONString(r, "consumer.countryCode"),
			Verified:  parser.JSONString(r, "labels.verification.isVerified") == "true",
			Page:      page,
		}
		if rating, ok := parser.JSONFloat(r, "rating"); ok {
			review.Rating = models.Float(rating)
		}
		if likes, ok := parser.JSONInt(r, "likes"); ok {
			review.Attributes = map[string]any{"likes": likes}
		}
		if reply := parser.JSONString(r, "reply.message"); reply != "" {
			if review.Attributes == nil {
				review.Attributes = map[string]any{}
			}
			review.Attributes["reply"] = reply
		}
		out = append(out, review)
	}
	return out
}

func (s *Site) ReviewRequest(product *models.Product, page int) (fetcher.Request, bool) {
	u := product.ReviewURL
	if u == "" {
		u = product.URL
	}
	if u == "" && product.ID != "" {
		u = BaseURL + "/review/" + product.ID
	}
	if u == "" {
		return fetcher.Request{}, false
	}
	return request(withPage(u, page), page), true
}

func (s *Site) ParseReviews(p *fetcher.Page) (*sites.ReviewPage, error) {
	props, err := nextData(p)
	if err != nil {
		return nil, err
	}

	domain := parser.JSONString(props, "businessUnit.identifyingName")
	if domain == "" {
		domain = parser.LastPathSegment(p.URL)
	}

	result := &sites.ReviewPage{
		Reviews: reviews(props, domain, sites.PageOf(p)),
		PerPage: ReviewsPerPage,
	}
	result.TotalPages, _ = parser.JSONInt(props, "filters.pagination.totalPages")
	result.TotalReviews, _ = parser.JSONInt(props, "filters.pagination.totalCount")
	if result.TotalReviews == 0 {
		result.TotalReviews, _ = parser.JSONInt(props, "businessUnit.numberOfReviews")
	}
	return result, nil
}
