package all

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/storefront-scraper/internal/sites"
)

func TestAllSitesRegistered(t *testing.T) {
	assert.Equal(t, []string{
		"amazon", "ebay", "etsy", "iherb", "target", "tripadvisor", "trustpilot", "walmart",
	}, sites.Names())

	for _, name := range sites.Names() {
		s, err := sites.Get(name)
		require.NoError(t, err)
		req := s.SearchRequest("test", 1)
		assert.NotEmpty(t, req.URL, name)
		assert.True(t, req.ASP, name)
		assert.Equal(t, "1", req.Tag, name)
	}
}

func TestUnknownSite(t *testing.T) {
	_, err := sites.Get("craigslist")
	assert.ErrorIs(t, err, sites.ErrUnknownSite)
}
