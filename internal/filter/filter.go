// Package filter narrows a target list by tags and hostname patterns.
package filter

import (
	"fmt"
	"path"
	"strings"

	"ssh-commander/internal/target"
)

// Filter represents a host filter condition
type Filter interface {
	// Match returns true if the target matches the filter condition
	Match(t target.Target) bool
	// String returns a human-readable description of the filter
	String() string
}

// TagFilter keeps targets whose tag set intersects Tags and carries none of Exclude.
// Untagged targets count as carrying the "default" tag.
type TagFilter struct {
	Tags    []string
	Exclude []string
}

// NewTagFilter creates a new tag-based filter
func NewTagFilter(tags, exclude []string) *TagFilter {
	return &TagFilter{
		Tags:    cleanTags(tags),
		Exclude: cleanTags(exclude),
	}
}

func cleanTags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// Match checks if target has one of the wanted tags and none of the excluded ones
func (f *TagFilter) Match(t target.Target) bool {
	if len(f.Exclude) > 0 && t.HasAnyTag(f.Exclude...) {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	return t.HasAnyTag(f.Tags...)
}

// String returns a description of the tag filter
func (f *TagFilter) String() string {
	var parts []string
	if len(f.Tags) > 0 {
		parts = append(parts, fmt.Sprintf("tags: %s", strings.Join(f.Tags, ",")))
	}
	if len(f.Exclude) > 0 {
		parts = append(parts, fmt.Sprintf("!tags: %s", strings.Join(f.Exclude, ",")))
	}
	return strings.Join(parts, " AND ")
}

// HostFilter filters hosts by a shell-style hostname pattern (e.g. "web*.example.com")
type HostFilter struct {
	Pattern string
}

// NewHostFilter creates a new hostname-based filter
func NewHostFilter(pattern string) (*HostFilter, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid host pattern %q: %w", pattern, err)
	}
	return &HostFilter{Pattern: pattern}, nil
}

// Match checks if target hostname matches the pattern
func (f *HostFilter) Match(t target.Target) bool {
	matched, err := path.Match(strings.ToLower(f.Pattern), strings.ToLower(t.Host))
	return err == nil && matched
}

// String returns a description of the host filter
func (f *HostFilter) String() string {
	return fmt.Sprintf("host pattern: %s", f.Pattern)
}

// FilterTargets applies filters to a list of targets and returns matching ones,
// preserving order
func FilterTargets(targets []target.Target, filters ...Filter) []target.Target {
	if len(filters) == 0 {
		return targets
	}

	var filtered []target.Target
	for _, t := range targets {
		match := true
		for _, f := range filters {
			if f == nil {
				continue
			}
			if !f.Match(t) {
				match = false
				break
			}
		}
		if match {
			filtered = append(filtered, t)
		}
	}

	return filtered
}

// ByTags is a convenience for FilterTargets with a single TagFilter.
// An empty tag list keeps every target.
func ByTags(targets []target.Target, tags ...string) []target.Target {
	f := NewTagFilter(tags, nil)
	if len(f.Tags) == 0 {
		return targets
	}
	return FilterTargets(targets, f)
}

// Describe joins filter descriptions for log and report lines.
func Describe(filters ...Filter) string {
	var descriptions []string
	for _, f := range filters {
		if f != nil {
			descriptions = append(descriptions, f.String())
		}
	}
	if len(descriptions) == 0 {
		return "no filters"
	}
	return strings.Join(descriptions, " AND ")
}
