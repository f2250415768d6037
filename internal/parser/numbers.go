package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/maltedev/storefront-scraper/internal/models"
)

var (
	countPattern  = regexp.MustCompile(`(\d[\d,.]*)\s*([kKmM])?\b`)
	numberPattern = regexp.MustCompile(`\d[\d,.]*`)
	ratingPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US $", "USD"},
	{"C $", "CAD"},
	{"AU $", "AUD"},
	{"$", "USD"},
	{"£", "GBP"},
	{"€", "EUR"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"USD", "USD"},
	{"EUR", "EUR"},
	{"GBP", "GBP"},
}

// ParseCount extracts the first integer in s, honoring thousands separators
// and k/m suffixes ("1,234 results" -> 1234, "1.2k" -> 1200). Returns 0 when
// s holds no number.
func ParseCount(s string) int {
	m := countPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}

	digits := strings.TrimRight(m[1], ".,")
	multiplier := 1.0
	switch strings.ToLower(m[2]) {
	case "k":
		multiplier = 1_000
	case "m":
		multiplier = 1_000_000
	}

	if multiplier > 1 {
		f, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", "."), 64)
		if err != nil {
			return 0
		}
		return int(math.Round(f * multiplier))
	}

	n, err := strconv.Atoi(strings.NewReplacer(",", "", ".", "").Replace(digits))
	if err != nil {
		return 0
	}
	return n
}

// ParseFloat extracts the first decimal number in s. Both "1,299.99" and
// "1.299,99" are understood.
func ParseFloat(s string) (float64, bool) {
	raw := numberPattern.FindString(s)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(normalizeDecimal(strings.TrimRight(raw, ".,")), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func normalizeDecimal(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	if lastComma > lastDot && len(s)-lastComma-1 <= 2 {
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	}
	return strings.ReplaceAll(s, ",", "")
}

// ParsePrice parses a display price such as "$1,299.99". Returns nil when no
// amount is present.
func ParsePrice(s string) *models.Price {
	s = strings.TrimSpace(s)
	amount, ok := ParseFloat(s)
	if !ok {
		return nil
	}

	price := &models.Price{Amount: amount, Raw: s}
	for _, c := range currencySymbols {
		if strings.Contains(s, c.symbol) {
			price.Currency = c.code
			break
		}
	}
	return price
}

// ParseRating reads the leading number of strings like "4.5 out of 5 stars".
func ParseRating(s string) *float64 {
	raw := ratingPattern.FindString(s)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &f
}

// CountPtr is ParseCount returning nil for strings without digits.
func CountPtr(s string) *int {
	if !numberPattern.MatchString(s) {
		return nil
	}
	n := ParseCount(s)
	return &n
}

// TotalPages computes how many pages a crawl should visit: the ceiling of
// totalItems/perPage, bounded by the site cap and by maxPages when set.
// At least one page is always reported since the first page was fetched.
func TotalPages(totalItems, perPage, siteCap, maxPages int) int {
	pages := 1
	if perPage > 0 && totalItems > 0 {
		pages = (totalItems + perPage - 1) / perPage
	}
	if siteCap > 0 && pages > siteCap {
		pages = siteCap
	}
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}
	if pages < 1 {
		pages = 1
	}
	return pages
}
