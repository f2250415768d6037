// Package amazon scrapes amazon.com search results, product detail pages
// and the paginated customer review listing.
package amazon

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
	Name           = "amazon"
	BaseURL        = "https://www.amazon.com"
	ReviewsPerPage = 10
	maxSearchPages = 20
	maxReviewPages = 10
)

var asinPattern = regexp.MustCompile(`/(?:dp|gp/product|product-reviews)/([A-Z0-9]{10})`)

func init() {
	sites.Register(New())
}

type Site struct{}

func New() *Site {
	return &Site{}
}

func (s *Site) Name() string        { return Name }
func (s *Site) MaxSearchPages() int { return maxSearchPages }
func (s *Site) MaxReviewPages() int { return maxReviewPages }

func request(url string, page int) fetcher.Request {
	return fetcher.Request{URL: url, ASP: true, Country: "US", Tag: sites.PageTag(page)}
}

func (s *Site) SearchRequest(query string, page int) fetcher.Request {
	url := sites.SearchURL(query, BaseURL+"/s?k=")
	if page > 1 {
		url = parser.UpdateQuery(url, "page", strconv.Itoa(page))
	}
	return request(url, page)
}

func (s *Site) PageRequest(first *fetcher.Page, page int) fetcher.Request {
	return request(parser.UpdateQuery(first.Request.URL, "page", strconv.Itoa(page)), page)
}

func blocked(sel *selector.Selector) bool {
	return sel.CSS(`form[action="/errors/validateCaptcha"]`).Length() > 0
}

func (s *Site) ParseSearch(p *fetcher.Page) (*sites.SearchPage, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}
	if blocked(sel) {
		return nil, fmt.Errorf("%w: captcha on %s", fetcher.ErrBlocked, p.URL)
	}

	page := sites.PageOf(p)
	result := &sites.SearchPage{}
	sel.CSS(`div.s-result-item[data-component-type="s-search-result"]`).Each(func(_ int, item selector.Selection) {
		asin := item.Attr("data-asin")
		if asin == "" {
			return
		}
		pv := models.Preview{
			Site:        Name,
			ID:          asin,
			URL:         BaseURL + "/dp/" + asin,
			Title:       searchTitle(item),
			Brand:       item.CSS(`div[data-cy="title-recipe"] h2.a-size-mini span`).Get(),
			Price:       parser.ParsePrice(item.CSS(".a-price .a-offscreen").Get()),
			Rating:      parser.ParseRating(item.CSS("span.a-icon-alt").Get()),
			ReviewCount: parser.CountPtr(item.CSS(`a[href*="customerReviews"] span`).Get()),
			Image:       item.CSS("img.s-image").Attr("src"),
			Sponsored:   item.CSS(".puis-sponsored-label-text").Length() > 0,
			Page:        page,
		}
		if pv.Brand == pv.Title {
			pv.Brand = ""
		}
		result.Previews = append(result.Previews, pv)
	})

	// The last numbered pagination item is the page count.
	last := 0
	sel.CSS(".s-pagination-item").Each(func(_ int, item selector.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(item.Text())); err == nil && n > last {
			last = n
		}
	})
	result.TotalPages = last
	return result, nil
}

func searchTitle(item selector.Selection) string {
	if title := item.CSS("h2 a span").Get(); title != "" {
		return title
	}
	return item.CSS("h2:not(.a-size-mini) span").Get()
}

func (s *Site) ProductRequest(pv models.Preview) (fetcher.Request, bool) {
	if pv.ID != "" {
		return request(BaseURL+"/dp/"+pv.ID, 1), true
	}
	if pv.URL == "" {
		return fetcher.Request{}, false
	}
	return request(canonicalURL(pv.URL), 1), true
}

// canonicalURL drops the tracking suffix amazon appends after /ref=.
func canonicalURL(url string) string {
	if i := strings.Index(url, "/ref="); i > 0 {
		url = url[:i]
	}
	return parser.StripQuery(url)
}

// ASIN extracts the product identifier from an amazon URL.
func ASIN(url string) string {
	if m := asinPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

func (s *Site) ParseProduct(p *fetcher.Page) (*models.Product, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}
	if blocked(sel) {
		return nil, fmt.Errorf("%w: captcha on %s", fetcher.ErrBlocked, p.URL)
	}

	title := sel.CSS("#productTitle").Get()
	if title == "" {
		return nil, fmt.Errorf("%w: no product title on %s", sites.ErrNoData, p.URL)
	}

	asin := sel.CSS("input#ASIN").Attr("value")
	if asin == "" {
		asin = ASIN(p.URL)
	}

	product := models.NewProduct(Name, asin, BaseURL+"/dp/"+asin)
	product.Title = title
	product.Brand = brand(sel.CSS("a#bylineInfo").Get())
	product.Description = parser.Squash(sel.CSS("#productDescription").Text())
	product.Price = productPrice(sel)
	product.Rating = parser.ParseRating(sel.CSS("#acrPopover span.a-icon-alt").Get())
	product.ReviewCount = parser.CountPtr(sel.CSS("#acrCustomerReviewText").Get())
	product.ReviewURL = reviewURL(asin)

	sel.CSS("#feature-bullets li span.a-list-item").Each(func(_ int, item selector.Selection) {
		if text := parser.Squash(item.Text()); text != "" {
			product.Features = append(product.Features, text)
		}
	})

	for _, src := range sel.CSS("#altImages img").Attrs("src") {
		if strings.Contains(src, "sprite") || strings.HasSuffix(src, ".gif") {
			continue
		}
		src = strings.Replace(src, "_AC_US40_", "_AC_SL1500_", 1)
		src = strings.Replace(src, "_AC_SR38,50_", "_AC_SL1500_", 1)
		product.Images = append(product.Images, src)
	}
	if len(product.Images) == 0 {
		if src := sel.CSS("#landingImage").Attr("src"); src != "" {
			product.Images = []string{src}
		}
	}

	sel.CSS("#productDetails_techSpec_section_1 tr, #productDetails_detailBullets_sections1 tr").Each(func(_ int, row selector.Selection) {
		key := parser.Squash(row.CSS("th").Text())
		if key != "" {
			product.Specs[key] = parser.Squash(row.CSS("td").Text())
		}
	})
	sel.CSS("#detailBullets_feature_div li span.a-list-item").Each(func(_ int, item selector.Selection) {
		spans := item.CSS("span").GetAll()
		if len(spans) >= 2 {
			key := strings.Trim(parser.Squash(spans[0]), " :\u200e\u200f")
			product.Specs[key] = parser.Squash(spans[1])
		}
	})

	if crumbs := sel.CSS("#wayfinding-breadcrumbs_feature_div a").GetAll(); len(crumbs) > 0 {
		product.Attributes["category"] = crumbs[len(crumbs)-1]
	}
	var sizes []string
	sel.CSS("select#native_dropdown_selected_size_name option").Each(func(i int, opt selector.Selection) {
		if text := opt.Get(); i > 0 && text != "" {
			sizes = append(sizes, text)
		}
	})
	if len(sizes) > 0 {
		product.Attributes["sizes"] = sizes
	}

	return product, nil
}

func brand(byline string) string {
	byline = strings.TrimPrefix(byline, "Brand: ")
	byline = strings.TrimPrefix(byline, "Visit the ")
	return strings.TrimSpace(strings.TrimSuffix(byline, " Store"))
}

func productPrice(sel *selector.Selector) *models.Price {
	for _, css := range []string{
		"#corePrice_feature_div span.a-offscreen",
		"#corePriceDisplay_desktop_feature_div span.a-offscreen",
		"span.a-price span.a-offscreen",
		"#priceblock_ourprice",
		"#priceblock_dealprice",
	} {
		if price := parser.ParsePrice(sel.CSS(css).Get()); price != nil {
			return price
		}
	}
	return nil
}

func reviewURL(asin string) string {
	if asin == "" {
		return ""
	}
	return BaseURL + "/product-reviews/" + asin + "/ref=cm_cr_dp_d_show_all_btm?ie=UTF8&reviewerType=all_reviews"
}

func (s *Site) ReviewRequest(product *models.Product, page int) (fetcher.Request, bool) {
	url := product.ReviewURL
	if url == "" {
		url = reviewURL(product.ID)
	}
	if url == "" {
		return fetcher.Request{}, false
	}
	return request(parser.UpdateQuery(url, "pageNumber", strconv.Itoa(page)), page), true
}

func (s *Site) ParseReviews(p *fetcher.Page) (*sites.ReviewPage, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}
	if blocked(sel) {
		return nil, fmt.Errorf("%w: captcha on %s", fetcher.ErrBlocked, p.URL)
	}

	asin := ASIN(p.URL)
	page := sites.PageOf(p)
	result := &sites.ReviewPage{PerPage: ReviewsPerPage}

	sel.CSS(`div[data-hook="review"]`).Each(func(_ int, box selector.Selection) {
		location, date := splitReviewDate(box.CSS(`span[data-hook="review-date"]`).Get())
		review := models.Review{
			Site:      Name,
			ProductID: asin,
			ID:        box.Attr("id"),
			Author:    box.CSS("span.a-profile-name").Get(),
			Title:     box.CSS(`[data-hook="review-title"] > span:not(.a-letter-space)`).Get(),
			Text:      box.CSS(`span[data-hook="review-body"]`).Join(),
			Rating:    parser.ParseRating(box.CSS(`i[data-hook="review-star-rating"] span, i[data-hook="cmps-review-star-rating"] span`).Get()),
			Date:      date,
			Location:  location,
			Verified:  box.CSS(`span[data-hook="avp-badge"]`).Length() > 0,
			Images:    box.CSS("img.review-image-tile").Attrs("src"),
			Page:      page,
		}
		result.Reviews = append(result.Reviews, review)
	})

	info := sel.CSS(`div[data-hook="cr-filter-info-review-rating-count"]`).Get()
	if n := selector.ReFirst(info, `([\d,.]+) with review`); n != "" {
		result.TotalReviews = parser.ParseCount(n)
	} else {
		result.TotalReviews = parser.ParseCount(info)
	}
	return result, nil
}

// splitReviewDate parses "Reviewed in the United States on May 2, 2024".
func splitReviewDate(text string) (location, date string) {
	text = strings.TrimPrefix(text, "Reviewed in ")
	if i := strings.LastIndex(text, " on "); i >= 0 {
		return strings.TrimPrefix(text[:i], "the "), text[i+4:]
	}
	return "", text
}
