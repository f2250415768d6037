package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/storefront-scraper/internal/models"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "$12.99", price(&models.Price{Amount: 12.99, Raw: "$12.99"}))
	assert.Equal(t, "12.50 EUR", price(&models.Price{Amount: 12.5, Currency: "EUR"}))
	assert.Empty(t, price(nil))
	assert.Equal(t, "4.5", float(models.Float(4.5)))
	assert.Equal(t, "120", count(models.Int(120)))
	assert.Equal(t, "-", limit(0))
}

func TestSitesCommand(t *testing.T) {
	out := captureStdout(t)
	sitesCmd.Run(sitesCmd, nil)

	for _, name := range []string{"amazon", "ebay", "etsy", "iherb", "target", "tripadvisor", "trustpilot", "walmart"} {
		assert.Contains(t, out.String(), name)
	}
}

func TestEmit(t *testing.T) {
	out := captureStdout(t)
	require.NoError(t, emit("-", map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n":1}`, out.String())

	path := filepath.Join(t.TempDir(), "nested", "out.json")
	require.NoError(t, emit(path, []string{"a"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []string{"a"}, got)

	assert.NoError(t, emit("", nil))
}

func TestReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("# products\nhttps://a.example/1\n\n  https://a.example/2  \n"), 0o644))

	lines, err := readLines(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/1", "https://a.example/2"}, lines)

	_, err = readLines(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestSummaryTable(t *testing.T) {
	out := captureStdout(t)
	summaryTable(&models.CrawlResult{
		Run:      models.Run{ID: "r1", Site: "etsy", Query: "mugs"},
		Previews: make([]models.Preview, 4),
		Reviews:  map[string][]models.Review{"1": make([]models.Review, 7)},
	})
	assert.Contains(t, out.String(), "etsy: mugs")
	assert.Contains(t, out.String(), "7")
}
