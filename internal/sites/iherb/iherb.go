// Package iherb scrapes iherb.com search, product and review pages. iHerb
// stops paginating reviews after ten pages, so review crawls asking for
// more are rejected rather than clamped.
package iherb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maltedev/storefront-scraper/internal/fetcher"
	"github.com/maltedev/storefront-scraper/internal/models"
	"github.com/maltedev/storefront-scraper/internal/parser"
	"github.com/maltedev/storefront-scraper/internal/selector"
	"github.com/maltedev/storefront-scraper/internal/sites"
)

const (
	Name           = "iherb"
	BaseURL        = "https://www.iherb.com"
	maxReviewPages = 10
)

func init() {
	sites.Register(New())
}

type Site struct{}

func New() *Site {
	return &Site{}
}

func (s *Site) Name() string          { return Name }
func (s *Site) MaxSearchPages() int   { return 0 }
func (s *Site) MaxReviewPages() int   { return maxReviewPages }
func (s *Site) StrictReviewCap() bool { return true }

func request(url string, page int) fetcher.Request {
	return fetcher.Request{URL: url, ASP: true, Country: "US", Tag: sites.PageTag(page)}
}

func (s *Site) SearchRequest(query string, page int) fetcher.Request {
	url := sites.SearchURL(query, BaseURL+"/search?kw=")
	if page > 1 {
		url = parser.UpdateQuery(url, "p", strconv.Itoa(page))
	}
	return request(url, page)
}

func (s *Site) PageRequest(first *fetcher.Page, page int) fetcher.Request {
	return request(parser.UpdateQuery(first.Request.URL, "p", strconv.Itoa(page)), page)
}

func (s *Site) ParseSearch(p *fetcher.Page) (*sites.SearchPage, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	page := sites.PageOf(p)
	result := &sites.SearchPage{}
	sel.XPath(`//div[contains(@class, "product-cell-container")]`).Each(func(_ int, box selector.Nodes) {
		link := box.XPath(`.//a[@href]`).Attr("href")
		if link == "" {
			return
		}
		link = parser.AbsoluteURL(BaseURL, link)
		pv := models.Preview{
			Site:        Name,
			ID:          parser.LastPathSegment(link),
			URL:         link,
			Title:       box.XPath(`.//div[@class="product-title"]/bdi`).Get(),
			Rating:      parser.ParseRating(box.XPath(`.//meta[@itemprop="ratingValue"]`).Attr("content")),
			ReviewCount: parser.CountPtr(box.XPath(`.//meta[@itemprop="reviewCount"]`).Attr("content")),
			Price:       parser.ParsePrice(box.XPath(`.//div[contains(@class, "product-price") and contains(@class, "text-nowrap")]//span[contains(@class, "price")]/bdi`).Get()),
			Page:        page,
			Attributes:  map[string]any{},
		}
		if sku := box.XPath(`.//div[@itemprop="sku"]`).Attr("content"); sku != "" {
			pv.Attributes["sku"] = sku
		}
		if reviews := box.XPath(`.//div[@class="rating"]/a[contains(@class, "stars") and contains(@class, "scroll-to")]`).Attr("href"); reviews != "" {
			pv.Attributes["review_url"] = parser.AbsoluteURL(BaseURL, reviews)
		}
		result.Previews = append(result.Previews, pv)
	})

	// "1-48 of 300 results"
	meta := sel.XPath(`//span[@id="product-count"]`).Get()
	if before, after, ok := strings.Cut(meta, " of "); ok {
		fields := strings.Split(before, "-")
		result.PerPage = parser.ParseCount(fields[len(fields)-1])
		result.TotalItems = parser.ParseCount(after)
	}
	return result, nil
}

func (s *Site) ProductRequest(pv models.Preview) (fetcher.Request, bool) {
	if pv.URL == "" {
		return fetcher.Request{}, false
	}
	req := request(pv.URL, 1)
	req.RenderJS = true
	return req, true
}

// ReviewURL maps a product URL (/pr/{slug}/{id}) to its review listing (/r/{slug}/{id}).
func ReviewURL(productURL string) string {
	u := parser.StripQuery(productURL)
	if strings.Contains(u, "/pr/") {
		return strings.Replace(u, "/pr/", "/r/", 1)
	}
	return ""
}

func (s *Site) ParseProduct(p *fetcher.Page) (*models.Product, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	url := parser.StripQuery(p.URL)
	product := models.NewProduct(Name, parser.LastPathSegment(url), url)
	product.Title = sel.CSS("h1#name").Get()
	product.Brand = sel.CSS("#brand a bdi, #brand a").Get()
	product.Price = parser.ParsePrice(sel.CSS("#price, .price-inner-text").Get())
	product.Rating = parser.ParseRating(sel.XPath(`//meta[@itemprop="ratingValue"]`).Attr("content"))
	product.ReviewCount = parser.CountPtr(sel.XPath(`//meta[@itemprop="reviewCount"]`).Attr("content"))
	product.ReviewURL = ReviewURL(url)
	product.Images = sel.CSS("#product-image img, .thumbnail-item img").Attrs("src")

	var facts selector.Nodes
	if sel.XPath(`//div[@class="product-collapse-container"]`).Len() > 0 {
		product.Attributes["layout"] = "collapsed"
		overview := sel.XPath(`//div[@id="overview"]/div[@class="overview-info"]`)
		product.Description = describe(overview)
		facts = sel.XPath(`//div[@id="product-supplement-facts"]`)
	} else {
		product.Attributes["layout"] = "plain"
		product.Description = describe(sel.XPath(`//h3[strong[text()="Description"]]/following-sibling::div[1]`))
		facts = sel.XPath(`//div[@id="product-overview"]//div[contains(@class, "col-md-10")]`)
		if facts.Len() == 0 {
			facts = sel.XPath(`//div[@id="product-overview"]`)
		}
	}

	sections := map[string]string{
		"directions":  `//h3[strong[contains(text(), "Suggested")]]/following-sibling::div[1]/p`,
		"ingredients": `//h3[strong[contains(text(), "Other")]]/following-sibling::div[1]/p`,
		"warnings":    `//h3[strong[text()="Warnings"]]/following-sibling::div[1]/p`,
		"disclaimer":  `//h3[strong[text()="Disclaimer"]]/following-sibling::div[1]/p`,
	}
	for key, expr := range sections {
		if lines := sel.XPath(expr).GetAll(); len(lines) > 0 {
			product.Attributes[key] = lines
		}
	}

	if product.Title == "" && product.Description == "" {
		return nil, fmt.Errorf("%w: no product content on %s", sites.ErrNoData, p.URL)
	}

	servings, nutrition := factsTable(facts)
	for k, v := range servings {
		product.Specs[k] = v
	}
	if len(nutrition) > 0 {
		product.Attributes["supplement_facts"] = nutrition
	}
	return product, nil
}

func describe(container selector.Nodes) string {
	lines := container.XPath(`.//ul/li`).GetAll()
	lines = append(lines, container.XPath(`.//p`).GetAll()...)
	return strings.Join(lines, "\n")
}

// factsTable reads the supplement facts table: single-cell rows carry
// serving information, three-cell rows are nutrient/amount/%DV.
func factsTable(panel selector.Nodes) (map[string]string, []map[string]string) {
	servings := map[string]string{}
	var nutrition []map[string]string

	panel.XPath(`.//div[@class="supplement-facts-container"]//tr`).Each(func(_ int, row selector.Nodes) {
		tds := row.XPath(`./td`)
		switch tds.Len() {
		case 1:
			text := tds.Get()
			if !strings.Contains(text, "Serving Size") && !strings.Contains(text, "Servings Per Container") {
				return
			}
			if key, value, ok := strings.Cut(text, ":"); ok {
				servings[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
		case 3:
			amount := tds[1:2].Get()
			if strings.Contains(amount, "Amount Per Serving") {
				return
			}
			nutrition = append(nutrition, map[string]string{
				"name":   parser.Squash(tds[0:1].Get()),
				"amount": parser.Squash(amount),
				"dv":     parser.Squash(tds[2:3].Get()),
			})
		}
	})
	return servings, nutrition
}

func (s *Site) ReviewRequest(product *models.Product, page int) (fetcher.Request, bool) {
	url := product.ReviewURL
	if url == "" {
		url = ReviewURL(product.URL)
	}
	if url == "" {
		return fetcher.Request{}, false
	}
	url = parser.UpdateQuery(url, "sort", "6")
	url = parser.UpdateQuery(url, "isshowtranslated", "true")
	url = parser.UpdateQuery(url, "p", strconv.Itoa(page))
	return request(url, page), true
}

func (s *Site) ParseReviews(p *fetcher.Page) (*sites.ReviewPage, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	result := &sites.ReviewPage{}
	raw := sel.CSS("script#__NEXT_DATA__").Text()
	if total := selector.ReFirst(raw, `"calculatedRating":[^,]*,"count":(\d+)`); total != "" {
		result.TotalReviews, _ = strconv.Atoi(total)
	}
	if avg, ok := parser.ParseFloat(selector.ReFirst(raw, `"calculatedRating":"?([\d.]+)`)); ok {
		result.AverageRating = models.Float(avg)
	}

	productID := parser.LastPathSegment(p.URL)
	page := sites.PageOf(p)
	sel.XPath(`//div[contains(@class, "MuiBox-root") and @id="reviews"]/div`).Each(func(_ int, box selector.Nodes) {
		posted := box.XPath(`.//span[@data-testid="review-posted-date"]`).Get()
		if i := strings.LastIndex(posted, " on "); i >= 0 {
			posted = posted[i+4:]
		}

		badges := box.XPath(`.//div[@data-testid="review-badge-info"]/div`).Join()
		stars := box.XPath(`.//ul[@data-testid="review-rating"]//path[@fill]`).Len()
		if stars > 5 {
			stars = 5
		}

		review := models.Review{
			Site:      Name,
			ProductID: productID,
			ID:        box.Attr("id"),
			Title:     box.XPath(`.//span[@data-testid="review-title"]`).Get(),
			Text:      box.XPath(`.//div[@data-testid="review-text"]//p`).Join(),
			Date:      strings.TrimSpace(posted),
			Verified:  strings.Contains(badges, "Verified"),
			Page:      page,
			Attributes: map[string]any{
				"rewarded": strings.Contains(badges, "Rewarded"),
			},
		}
		if stars > 0 {
			review.Rating = models.Float(float64(stars))
		}
		if review.Title == "" && review.Text == "" {
			return
		}
		result.Reviews = append(result.Reviews, review)
	})
	return result, nil
}
