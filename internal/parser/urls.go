package parser

import (
	"net/url"
	"strings"
)

// UpdateQuery sets key=value on rawURL's query string. Unparseable URLs are
// returned unchanged.
func UpdateQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func QueryParam(rawURL, key, def string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return def
	}
	if v := u.Query().Get(key); v != "" {
		return v
	}
	return def
}

func StripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// AbsoluteURL resolves href against base. Empty hrefs stay empty.
func AbsoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// LastPathSegment returns the final non-empty path element of rawURL.
func LastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	return parts[len(parts)-1]
}
