package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

var ErrNoTargets = errors.New("no crawl targets configured")

// Target is one crawl in a target file.
type Target struct {
	Site           string `json:"site"`
	Query          string `json:"query"`
	Priority       int    `json:"priority,omitempty"`
	MaxSearchPages int    `json:"max_search_pages,omitempty"`
	MaxReviewPages int    `json:"max_review_pages,omitempty"`
	MaxProducts    int    `json:"max_products,omitempty"`
	SkipReviews    bool   `json:"skip_reviews,omitempty"`
}

// TargetFile is the json5 crawl list. Defaults fill fields a target leaves
// unset.
type TargetFile struct {
	Defaults Target   `json:"defaults"`
	Targets  []Target `json:"targets"`
}

// LoadTargets reads name and merges name.local.<ext> over it when present.
// Local targets are appended; local defaults override.
func LoadTargets(name string) ([]Target, error) {
	file, err := readMerged(name)
	if err != nil {
		return nil, err
	}

	targets := make([]Target, 0, len(file.Targets))
	for i, t := range file.Targets {
		if err := mergo.Merge(&t, file.Defaults); err != nil {
			return nil, fmt.Errorf("failed to apply defaults to target %d: %w", i, err)
		}
		if t.Site == "" || t.Query == "" {
			return nil, fmt.Errorf("target %d: site and query are required", i)
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoTargets)
	}
	return targets, nil
}

func readMerged(name string) (*TargetFile, error) {
	var out TargetFile
	found := false

	base, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(base) > 0 {
		if err := json5.Unmarshal(base, &out); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		found = true
	}

	local := localName(name)
	overrides, err := os.ReadFile(local)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", local, err)
	}
	if len(overrides) > 0 {
		var override TargetFile
		if err := json5.Unmarshal(overrides, &override); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", local, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", local, err)
		}
		slog.Info("merging targets with local overrides", "local", local)
		found = true
	}

	if !found {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	return &out, nil
}

// localName maps targets.json5 to targets.local.json5.
func localName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}
