// Package all registers every supported site with the sites registry.
package all

import (
	_ "github.com/maltedev/storefront-scraper/internal/sites/amazon"
	_ "github.com/maltedev/storefront-scraper/internal/sites/ebay"
	_ "github.com/maltedev/storefront-scraper/internal/sites/etsy"
	_ "github.com/maltedev/storefront-scraper/internal/sites/iherb"
	_ "github.com/maltedev/storefront-scraper/internal/sites/target"
	_ "github.com/maltedev/storefront-scraper/internal/sites/tripadvisor"
	_ "github.com/maltedev/storefront-scraper/internal/sites/trustpilot"
	_ "github.com/maltedev/storefront-scraper/internal/sites/walmart"
)
