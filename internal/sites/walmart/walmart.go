// Package walmart scrapes walmart.com from the Next.js hydration data
// embedded in search, product and review pages.
package walmart

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
	Name           = "walmart"
	BaseURL        = "https://www.walmart.com"
	SearchPageSize = 40
	maxSearchPages = 25
	DefaultSort    = "best_match"
)

// productKeys are the fields of the product payload kept as attributes;
// the rest is tracking and page-layout data.
var productKeys = []string{
	"availabilityStatus",
	"averageRating",
	"brand",
	"id",
	"imageInfo",
	"manufacturerName",
	"name",
	"orderLimit",
	"orderMinLimit",
	"priceInfo",
	"shortDescription",
	"type",
}

func init() {
	sites.Register(New(DefaultSort))
}

type Site struct {
	sort string
}

// New returns the walmart scraper using the given search sort
// (best_match, best_seller, price_low or price_high).
func New(sort string) *Site {
	if sort == "" {
		sort = DefaultSort
	}
	return &Site{sort: sort}
}

func (s *Site) Name() string        { return Name }
func (s *Site) MaxSearchPages() int { return maxSearchPages }
func (s *Site) MaxReviewPages() int { return 0 }

func request(u string, page int) fetcher.Request {
	return fetcher.Request{URL: u, ASP: true, Country: "US", Tag: sites.PageTag(page)}
}

func (s *Site) SearchRequest(query string, page int) fetcher.Request {
	if page < 1 {
		page = 1
	}
	if sites.IsURL(query) {
		return request(parser.UpdateQuery(query, "page", strconv.Itoa(page)), page)
	}
	q := url.Values{}
	q.Set("q", strings.TrimSpace(query))
	q.Set("page", strconv.Itoa(page))
	q.Set("sort", s.sort)
	q.Set("affinityOverride", "default")
	return request(BaseURL+"/search?"+q.Encode(), page)
}

func (s *Site) PageRequest(first *fetcher.Page, page int) fetcher.Request {
	return request(parser.UpdateQuery(first.Request.URL, "page", strconv.Itoa(page)), page)
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
	return data, nil
}

func (s *Site) ParseSearch(p *fetcher.Page) (*sites.SearchPage, error) {
	data, err := nextData(p)
	if err != nil {
		return nil, err
	}

	stack := parser.JSONMap(data, "props.pageProps.initialData.searchResult.itemStacks.0")
	if stack == nil {
		return nil, fmt.Errorf("%w: no search item stack on %s", sites.ErrNoData, p.URL)
	}

	page := sites.PageOf(p)
	result := &sites.SearchPage{PerPage: SearchPageSize}
	result.TotalItems, _ = parser.JSONInt(stack, "count")

	for _, item := range parser.JSONSlice(stack, "items") {
		if typename := parser.JSONString(item, "__typename"); typename != "" && typename != "Product" {
			continue
		}
		id := parser.JSONString(item, "usItemId")
		link := parser.JSONString(item, "canonicalUrl")
		if id == "" && link == "" {
			continue
		}
		pv := models.Preview{
			Site:      Name,
			ID:        id,
			URL:       parser.StripQuery(parser.AbsoluteURL(BaseURL, link)),
			Title:     parser.JSONString(item, "name"),
			Brand:     parser.JSONString(item, "brand"),
			Image:     parser.JSONString(item, "imageInfo.thumbnailUrl"),
			Sponsored: parser.JSONString(item, "isSponsoredFlag") == "true",
			Page:      page,
		}
		if pv.URL == "" {
			pv.URL = BaseURL + "/ip/" + id
		}
		if rating, ok := parser.JSONFloat(item, "averageRating"); ok {
			pv.Rating = models.Float(rating)
		}
		if count, ok := parser.JSONInt(item, "numberOfReviews"); ok {
			pv.ReviewCount = models.Int(count)
		}
		pv.Price = itemPrice(item)
		result.Previews = append(result.Previews, pv)
	}
	return result, nil
}

func itemPrice(item any) *models.Price {
	for _, path := range []string{"priceInfo.currentPrice", "priceInfo.linePrice"} {
		if price := parser.JSONMap(item, path); price != nil {
			amount, ok := parser.JSONFloat(price, "price")
			if !ok {
				continue
			}
			currency := parser.JSONString(price, "currencyUnit")
			if currency == "" {
				currency = "USD"
			}
			return &models.Price{Amount: amount, Currency: currency, Raw: parser.JSONString(price, "priceString")}
		}
	}
	if raw := parser.JSONString(item, "priceInfo.linePrice"); raw != "" {
		return parser.ParsePrice(raw)
	}
	return nil
}

func (s *Site) ProductRequest(pv models.Preview) (fetcher.Request, bool) {
	switch {
	case pv.URL != "":
		return request(pv.URL, 1), true
	case pv.ID != "":
		return request(BaseURL+"/ip/"+pv.ID, 1), true
	}
	return fetcher.Request{}, false
}

func (s *Site) ParseProduct(p *fetcher.Page) (*models.Product, error) {
	data, err := nextData(p)
	if err != nil {
		return nil, err
	}

	raw := parser.JSONMap(data, "props.pageProps.initialData.data.product")
	if raw == nil {
		return nil, fmt.Errorf("%w: no product payload on %s", sites.ErrNoData, p.URL)
	}

	id := parser.JSONString(raw, "usItemId")
	if id == "" {
		id = parser.LastPathSegment(p.URL)
	}
	product := models.NewProduct(Name, id, parser.StripQuery(p.URL))
	product.Title = parser.JSONString(raw, "name")
	product.Brand = parser.JSONString(raw, "brand")
	product.Description = parser.CleanText(parser.JSONString(raw, "shortDescription"))
	product.Price = itemPrice(raw)
	if rating, ok := parser.JSONFloat(raw, "averageRating"); ok {
		product.Rating = models.Float(rating)
	}
	if count, ok := parser.JSONInt(raw, "numberOfReviews"); ok {
		product.ReviewCount = models.Int(count)
	}
	for _, img := range parser.JSONSlice(raw, "imageInfo.allImages") {
		if u := parser.JSONString(img, "url"); u != "" {
			product.Images = append(product.Images, u)
		}
	}
	for _, key := range productKeys {
		if v, ok := raw[key]; ok {
			product.Attributes[key] = v
		}
	}

	reviews := parser.JSONMap(data, "props.pageProps.initialData.data.reviews")
	product.Reviews = customerReviews(reviews, id, 1)
	if product.ReviewCount == nil {
		if total, ok := parser.JSONInt(reviews, "totalReviewCount"); ok {
			product.ReviewCount = models.Int(total)
		}
	}
	product.ReviewURL = BaseURL + "/reviews/product/" + id
	return product, nil
}

func customerReviews(reviews map[string]any, productID string, page int) []models.Review {
	var out []models.Review
	for _, r := range parser.JSONSlice(reviews, "customerReviews") {
		review := models.Review{
			Site:      Name,
			ProductID: productID,
			ID:        parser.JSONString(r, "reviewId"),
			Author:    parser.JSONString(r, "userNickname"),
			Title:     parser.JSONString(r, "reviewTitle"),
			Text:      parser.JSONString(r, "reviewText"),
			Date:      parser.JSONString(r, "reviewSubmissionTime"),
			Page:      page,
		}
		if rating, ok := parser.JSONFloat(r, "rating"); ok {
			review.Rating = models.Float(rating)
		}
		for _, badge := range parser.JSONSlice(r, "badges") {
			if parser.JSONString(badge, "id") == "VerifiedPurchaser" {
				review.Verified = true
			}
		}
		for _, photo := range parser.JSONSlice(r, "media") {
			if u := parser.JSONString(photo, "normalUrl"); u != "" {
				review.Images = append(review.Images, u)
			}
		}
		out = append(out, review)
	}
	return out
}

func (s *Site) ReviewRequest(product *models.Product, page int) (fetcher.Request, bool) {
	if product.ID == "" {
		return fetcher.Request{}, false
	}
	u := BaseURL + "/reviews/product/" + product.ID
	if page > 1 {
		u += "?page=" + strconv.Itoa(page)
	}
	return request(u, page), true
}

func (s *Site) ParseReviews(p *fetcher.Page) (*sites.ReviewPage, error) {
	data, err := nextData(p)
	if err != nil {
		return nil, err
	}

	reviews := parser.JSONMap(data, "props.pageProps.initialData.data.reviews")
	if reviews == nil {
		return nil, fmt.Errorf("%w: no review payload on %s", sites.ErrNoData, p.URL)
	}

	result := &sites.ReviewPage{
		Reviews: customerReviews(reviews, parser.LastPathSegment(p.URL), sites.PageOf(p)),
	}
	result.TotalReviews, _ = parser.JSONInt(reviews, "totalReviewCount")
	return result, nil
}
