// Package ebay scrapes ebay.com search listings, item pages and the
// seller feedback pages used as reviews.
package ebay

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
	Name            = "ebay"
	BaseURL         = "https://www.ebay.com"
	DefaultPageSize = 60
)

var itemIDPattern = regexp.MustCompile(`/itm/(?:[^/?]+/)?(\d+)`)

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
	return fetcher.Request{
		URL:     u,
		ASP:     true,
		Country: "US",
		Lang:    []string{"en-US"},
		Tag:     sites.PageTag(page),
	}
}

func (s *Site) SearchRequest(query string, page int) fetcher.Request {
	u := sites.SearchURL(query, BaseURL+"/sch/i.html?_nkw=")
	if page > 1 {
		u = parser.UpdateQuery(u, "_pgn", strconv.Itoa(page))
	}
	return request(u, page)
}

func (s *Site) PageRequest(first *fetcher.Page, page int) fetcher.Request {
	return request(parser.UpdateQuery(first.URL, "_pgn", strconv.Itoa(page)), page)
}

// ItemID extracts the numeric listing id from an item URL.
func ItemID(u string) string {
	if m := itemIDPattern.FindStringSubmatch(u); m != nil {
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
	result := &sites.SearchPage{}
	sel.CSS(".srp-results li.s-item").Each(func(_ int, box selector.Selection) {
		link := parser.StripQuery(box.CSS("a.s-item__link").Attr("href"))
		if link == "" {
			return
		}
		pv := models.Preview{
			Site:       Name,
			ID:         ItemID(link),
			URL:        link,
			Title:      box.CSS(".s-item__title span").Get(),
			Price:      parser.ParsePrice(box.CSS(".s-item__price").Get()),
			Image:      box.CSS("img").Attr("data-src"),
			Page:       page,
			Attributes: map[string]any{},
		}
		if pv.Image == "" {
			pv.Image = box.CSS("img").Attr("src")
		}
		if rating := box.CSS(".s-item__reviews .clipped"); rating.Length() > 0 {
			pv.Rating = parser.ParseRating(rating.Get())
		}
		if count := box.CSS(".s-item__reviews-count span"); count.Length() > 0 {
			pv.ReviewCount = parser.CountPtr(count.Get())
		}

		if shipping := box.CSS(".s-item__shipping"); shipping.Length() > 0 {
			if f, ok := parser.ParseFloat(shipping.Get()); ok {
				pv.Attributes["shipping"] = f
			} else {
				pv.Attributes["shipping"] = 0.0
			}
		}
		if bids := box.CSS(".s-item__bidCount"); bids.Length() > 0 {
			pv.Attributes["bids"] = parser.ParseCount(bids.Get())
		}
		if end := selector.ReFirst(box.CSS(".s-item__time-end").Get(), `\((.+?)\)`); end != "" {
			pv.Attributes["auction_end"] = strings.TrimSpace(strings.Replace(end, "Today", "", 1))
		}
		setIf(pv.Attributes, "location", box.CSS(".s-item__itemLocation").Get())
		setIf(pv.Attributes, "condition", box.CSS(".SECONDARY_INFO").Get())
		if subtitles := box.CSS(".s-item__subtitle").GetAll(); len(subtitles) > 0 {
			pv.Attributes["subtitles"] = subtitles
		}
		result.Previews = append(result.Previews, pv)
	})

	result.TotalItems = parser.ParseCount(sel.CSS(".srp-controls__count-heading > span").Get())
	result.PerPage, _ = strconv.Atoi(parser.QueryParam(p.URL, "_ipg", strconv.Itoa(DefaultPageSize)))
	return result, nil
}

func setIf(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func (s *Site) ProductRequest(pv models.Preview) (fetcher.Request, bool) {
	if pv.URL != "" {
		return request(pv.URL, 1), true
	}
	if pv.ID != "" {
		return request(BaseURL+"/itm/"+pv.ID, 1), true
	}
	return fetcher.Request{}, false
}

func (s *Site) ParseProduct(p *fetcher.Page) (*models.Product, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	canonical := sel.CSS(`link[rel="canonical"]`).Attr("href")
	if canonical == "" {
		canonical = p.URL
	}
	id := ItemID(canonical)
	title := sel.CSS("h1 span").Join()
	if id == "" || title == "" {
		return nil, fmt.Errorf("%w: no item id or title on %s", sites.ErrNoData, p.URL)
	}

	product := models.NewProduct(Name, id, parser.StripQuery(canonical))
	product.Title = title
	product.Price = parser.ParsePrice(sel.CSS(".x-price-primary > span").Get())
	if converted := sel.CSS(".x-price-approx__price").Join(); converted != "" {
		product.Attributes["price_converted"] = converted
	}

	seller := sel.XPath(`//div[contains(@class,'info__about-seller')]/a`)
	sellerName := seller.XPath(`./span`).Get()
	setIf(product.Attributes, "seller_name", sellerName)
	setIf(product.Attributes, "seller_url", parser.StripQuery(seller.Attr("href")))
	setIf(product.Attributes, "description_url", sel.CSS("iframe#desc_ifr").Attr("src"))

	product.Images = append(product.Images, sel.CSS(".ux-image-filmstrip-carousel-item.image img").Attrs("src")...)
	product.Images = append(product.Images, sel.CSS(".ux-image-carousel-item.image img").Attrs("src")...)

	sel.CSS("div.ux-layout-section--features dl.ux-labels-values").Each(func(_ int, feature selector.Selection) {
		label := strings.Trim(feature.CSS(".ux-labels-values__labels-content > div > span").Join(), ":\n ")
		value := strings.Trim(feature.CSS(".ux-labels-values__values-content > div > span").Join(), ":\n ")
		if label != "" {
			product.Specs[label] = value
		}
	})

	var variants []string
	sel.CSS(".x-msku__select-box option").Each(func(_ int, opt selector.Selection) {
		if v := opt.Get(); v != "" && !strings.HasPrefix(v, "- Select") {
			variants = append(variants, v)
		}
	})
	if len(variants) > 0 {
		product.Attributes["variants"] = variants
	}

	if sellerName != "" {
		product.ReviewURL = feedbackURL(id, sellerName)
	}
	return product, nil
}

func feedbackURL(itemID, seller string) string {
	q := url.Values{}
	q.Set("fdbkType", "FeedbackReceivedAsSeller")
	q.Set("item_id", itemID)
	q.Set("username", seller)
	q.Set("filter", "feedback_page:RECEIVED_AS_SELLER")
	q.Set("page_id", "1")
	return BaseURL + "/fdbk/mweb_profile?" + q.Encode()
}

func (s *Site) ReviewRequest(product *models.Product, page int) (fetcher.Request, bool) {
	if product.ReviewURL == "" {
		return fetcher.Request{}, false
	}
	return request(parser.UpdateQuery(product.ReviewURL, "page_id", strconv.Itoa(page)), page), true
}

var feedbackRatings = map[string]float64{
	"positive": 5,
	"neutral":  3,
	"negative": 1,
}

func (s *Site) ParseReviews(p *fetcher.Page) (*sites.ReviewPage, error) {
	sel, err := sites.Selector(p)
	if err != nil {
		return nil, err
	}

	itemID := parser.QueryParam(p.URL, "item_id", "")
	page := sites.PageOf(p)
	result := &sites.ReviewPage{}

	sel.XPath(`//li[contains(@class,"fdbk-container")]`).Each(func(_ int, box selector.Nodes) {
		label := box.XPath(`.//div[contains(@class,"fdbk-container__details__info__icon")]//*[@aria-label]`).Attr("aria-label")
		review := models.Review{
			Site:      Name,
			ProductID: itemID,
			Author:    box.XPath(`.//div[contains(@class,"fdbk-container__details__info__username")]/span`).Get(),
			Text:      box.XPath(`.//div[contains(@class,"fdbk-container__details__comment")]/span`).Get(),
			Date:      box.XPath(`.//span[contains(@class,"fdbk-container__details__info__divide__time")]`).Get(),
			Verified:  box.XPath(`.//*[contains(text(),"Verified purchase")]`).Len() > 0,
			Page:      page,
		}
		if label != "" {
			review.Attributes = map[string]any{"feedback": label}
			for kind, stars := range feedbackRatings {
				if strings.Contains(strings.ToLower(label), kind) {
					review.Rating = models.Float(stars)
				}
			}
		}
		result.Reviews = append(result.Reviews, review)
	})

	// "All ratings (1,234)"
	if labels := sel.XPath(`//div[contains(@class,"fdbk-filter")]//span/label`).GetAll(); len(labels) > 0 {
		if n := selector.ReFirst(labels[0], `\(([\d,.]+)\)`); n != "" {
			result.TotalReviews = parser.ParseCount(n)
		}
	}
	return result, nil
}
