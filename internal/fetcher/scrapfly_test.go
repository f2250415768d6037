package fetcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrapeOK(w http.ResponseWriter, content string, status int, url string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"result": map[string]any{
			"content":     content,
			"status_code": status,
			"url":         url,
			"success":     true,
		},
		"config": map[string]any{"url": url},
	})
}

func TestScrapflyClient_Fetch(t *testing.T) {
	var got map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scrape", r.URL.Path)
		got = r.URL.Query()
		scrapeOK(w, "<html><h1>Hi</h1></html>", 200, "https://www.etsy.com/final")
	}))
	defer srv.Close()

	client, err := NewScrapflyClient(ScrapflyOptions{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	page, err := client.Fetch(context.Background(), Request{
		URL:        "https://www.etsy.com/search?q=mug",
		ASP:        true,
		Country:    "US",
		Lang:       []string{"en-US", "en"},
		Cache:      true,
		ProxyPool:  "public_residential_pool",
		JSScenario: []ScenarioStep{Wait(500), Click("button.next")},
		Headers:    map[string]string{"Referer": "https://www.etsy.com/"},
		Tag:        "2",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://www.etsy.com/final", page.URL)
	assert.Equal(t, 200, page.StatusCode)
	assert.Equal(t, "2", page.Request.Tag)

	sel, err := page.Selector()
	require.NoError(t, err)
	assert.Equal(t, "Hi", sel.CSS("h1").Get())

	assert.Equal(t, "secret", got["key"][0])
	assert.Equal(t, "true", got["asp"][0])
	assert.Equal(t, "US", got["country"][0])
	assert.Equal(t, "en-US,en", got["lang"][0])
	assert.Equal(t, "true", got["cache"][0])
	assert.Equal(t, "true", got["render_js"][0])
	assert.Equal(t, "public_residential_pool", got["proxy_pool"][0])
	assert.Equal(t, "https://www.etsy.com/", got["headers[referer]"][0])

	decoded, err := base64.URLEncoding.DecodeString(got["js_scenario"][0])
	require.NoError(t, err)
	assert.JSONEq(t, `[{"wait":500},{"click":{"selector":"button.next","ignore_if_not_visible":true}}]`, string(decoded))
}

func TestScrapflyClient_MissingKey(t *testing.T) {
	_, err := NewScrapflyClient(ScrapflyOptions{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestScrapflyClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"code":"ERR::ASP::SHIELD_PROTECTION_FAILED","message":"blocked","retryable":false,"http_code":422}`))
	}))
	defer srv.Close()

	client, err := NewScrapflyClient(ScrapflyOptions{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), Request{URL: "https://www.walmart.com/"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 422, apiErr.HTTPStatus)
	assert.False(t, apiErr.Retryable)
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestScrapflyClient_RetriesOnThrottle(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"code":"ERR::THROTTLE::MAX_REQUEST_RATE_EXCEEDED","message":"slow down","retryable":true}`))
			return
		}
		scrapeOK(w, "<html></html>", 200, "https://www.target.com/")
	}))
	defer srv.Close()

	client, err := NewScrapflyClient(ScrapflyOptions{BaseURL: srv.URL, APIKey: "k", MaxRetries: 2, RetryWait: 1})
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), Request{URL: "https://www.target.com/"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestScrapflyClient_TargetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scrapeOK(w, "gone", 404, "https://www.ebay.com/itm/1")
	}))
	defer srv.Close()

	client, err := NewScrapflyClient(ScrapflyOptions{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), Request{URL: "https://www.ebay.com/itm/1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScrapflyClient_UnsuccessfulScrape(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		code      string
		retryable bool
	}{
		{
			name: "without error details",
			body: `{"result":{"success":false,"content":"<html/>","status_code":200}}`,
		},
		{
			name:      "with error details",
			body:      `{"result":{"success":false,"content":"","error":{"code":"ERR::SCRAPE::OPERATION_TIMEOUT","message":"timed out","retryable":true}}}`,
			code:      "ERR::SCRAPE::OPERATION_TIMEOUT",
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := NewScrapflyClient(ScrapflyOptions{BaseURL: srv.URL, APIKey: "k"})
			require.NoError(t, err)

			page, err := client.Fetch(context.Background(), Request{URL: "https://www.iherb.com/"})
			assert.Nil(t, page)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusOK, apiErr.HTTPStatus)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.retryable, apiErr.Retryable)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}
