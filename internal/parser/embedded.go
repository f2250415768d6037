package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/maltedev/storefront-scraper/internal/selector"
)

var ErrNoEmbeddedData = errors.New("embedded json not found")

// FindJSONObjects returns every JSON object that decodes cleanly from text,
// scanning left to right and skipping over objects already consumed.
func FindJSONObjects(text string) []map[string]any {
	var out []map[string]any
	pos := 0
	for {
		i := strings.IndexByte(text[pos:], '{')
		if i < 0 {
			return out
		}
		start := pos + i

		dec := json.NewDecoder(strings.NewReader(text[start:]))
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			pos = start + 1
			continue
		}
		out = append(out, obj)
		pos = start + int(dec.InputOffset())
	}
}

// NextData decodes the Next.js hydration payload embedded in the page.
func NextData(sel *selector.Selector) (map[string]any, error) {
	raw := sel.CSS(`script#__NEXT_DATA__`).Text()
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: __NEXT_DATA__", ErrNoEmbeddedData)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to decode __NEXT_DATA__: %w", err)
	}
	return data, nil
}

// LDJSON decodes all application/ld+json blocks, flattening arrays and @graph
// containers. Blocks that fail to decode are skipped.
func LDJSON(sel *selector.Selector) []map[string]any {
	var out []map[string]any
	sel.CSS(`script[type="application/ld+json"]`).Each(func(_ int, s selector.Selection) {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		out = append(out, flattenLD(v)...)
	})
	return out
}

func flattenLD(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, flattenLD(item)...)
		}
		return out
	case map[string]any:
		if graph, ok := t["@graph"].([]any); ok {
			return flattenLD(graph)
		}
		return []map[string]any{t}
	}
	return nil
}

// FindLDJSON returns the first ld+json object of the given @type.
func FindLDJSON(sel *selector.Selector, typ string) (map[string]any, bool) {
	for _, obj := range LDJSON(sel) {
		switch t := obj["@type"].(type) {
		case string:
			if t == typ {
				return obj, true
			}
		case []any:
			for _, v := range t {
				if s, ok := v.(string); ok && s == typ {
					return obj, true
				}
			}
		}
	}
	return nil, false
}

// JSONPath walks decoded JSON with a dotted path; numeric segments index
// into arrays. Returns nil when any segment is missing.
func JSONPath(v any, path string) any {
	if path == "" {
		return v
	}
	cur := v
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}

func JSONString(v any, path string) string {
	switch t := JSONPath(v, path).(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func JSONFloat(v any, path string) (float64, bool) {
	switch t := JSONPath(v, path).(type) {
	case float64:
		return t, true
	case string:
		return ParseFloat(t)
	}
	return 0, false
}

func JSONInt(v any, path string) (int, bool) {
	f, ok := JSONFloat(v, path)
	return int(f), ok
}

func JSONMap(v any, path string) map[string]any {
	m, _ := JSONPath(v, path).(map[string]any)
	return m
}

func JSONSlice(v any, path string) []any {
	s, _ := JSONPath(v, path).([]any)
	return s
}

// JSONStrings collects the string elements of an array, or wraps a single
// string value.
func JSONStrings(v any, path string) []string {
	switch t := JSONPath(v, path).(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
