// Package filter narrows a parsed target list before probing.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nashen-netdev/server-ping-test/internal/target"
)

// Filter represents one target selection condition
type Filter interface {
	// Match returns true if the target matches the filter condition
	Match(t target.Target) bool
	// String returns a human-readable description of the filter
	String() string
}

// LabelFilter selects targets by label
type LabelFilter struct {
	Labels  []string
	Exclude bool
}

// NewLabelFilter creates a label-based filter; excluded inverts the match.
func NewLabelFilter(labels []string, excluded bool) *LabelFilter {
	return &LabelFilter{Labels: labels, Exclude: excluded}
}

// Match checks the target's label against the filter set
func (f *LabelFilter) Match(t target.Target) bool {
	matched := false
	for _, l := range f.Labels {
		if strings.EqualFold(t.Label, l) {
			matched = true
			break
		}
	}
	if f.Exclude {
		return !matched
	}
	return matched
}

// String returns a description of the label filter
func (f *LabelFilter) String() string {
	if f.Exclude {
		return fmt.Sprintf("!label: %s", strings.Join(f.Labels, ","))
	}
	return fmt.Sprintf("label: %s", strings.Join(f.Labels, ","))
}

// HostFilter selects targets by hostname pattern
type HostFilter struct {
	Pattern string
	IsRegex bool
}

// NewHostFilter creates a hostname-based filter
func NewHostFilter(pattern string, isRegex bool) *HostFilter {
	return &HostFilter{Pattern: pattern, IsRegex: isRegex}
}

// Match checks if the target hostname matches the pattern
func (f *HostFilter) Match(t target.Target) bool {
	if f.IsRegex {
		matched, err := regexp.MatchString(f.Pattern, t.Host)
		return err == nil && matched
	}

	// Simple wildcard matching
	pattern := strings.ReplaceAll(regexp.QuoteMeta(f.Pattern), `\*`, ".*")
	matched, err := regexp.MatchString("^"+pattern+"$", t.Host)
	return err == nil && matched
}

// String returns a description of the host filter
func (f *HostFilter) String() string {
	if f.IsRegex {
		return fmt.Sprintf("host regex: %s", f.Pattern)
	}
	return fmt.Sprintf("host pattern: %s", f.Pattern)
}

// DestinationFilter selects targets probing a given destination and trims
// their destination lists to the matching entries.
type DestinationFilter struct {
	Destination string
}

// NewDestinationFilter creates a destination-based filter
func NewDestinationFilter(destination string) *DestinationFilter {
	return &DestinationFilter{Destination: destination}
}

// Match checks whether the target probes the destination
func (f *DestinationFilter) Match(t target.Target) bool {
	for _, d := range t.Destinations {
		if d == f.Destination {
			return true
		}
	}
	return false
}

// String returns a description of the destination filter
func (f *DestinationFilter) String() string {
	return fmt.Sprintf("destination: %s", f.Destination)
}

// FilterTargets applies filters to a list of targets and returns matching ones
func FilterTargets(targets []target.Target, filters ...Filter) []target.Target {
	if len(filters) == 0 {
		return targets
	}

	var filtered []target.Target
	for _, t := range targets {
		match := true
		for _, f := range filters {
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

// ParseFilterExpression parses a filter expression string
// Format: "label:core,edge !label:staging host:10.20.* dest:8.8.8.8"
func ParseFilterExpression(expression string) ([]Filter, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}

	var filters []Filter
	for _, part := range strings.Fields(expression) {
		switch {
		case strings.HasPrefix(part, "label:"):
			labels := strings.Split(strings.TrimPrefix(part, "label:"), ",")
			filters = append(filters, NewLabelFilter(labels, false))
		case strings.HasPrefix(part, "!label:"):
			labels := strings.Split(strings.TrimPrefix(part, "!label:"), ",")
			filters = append(filters, NewLabelFilter(labels, true))
		case strings.HasPrefix(part, "host:"):
			pattern := strings.TrimPrefix(part, "host:")
			isRegex := strings.HasPrefix(pattern, "regex:")
			if isRegex {
				pattern = strings.TrimPrefix(pattern, "regex:")
			}
			filters = append(filters, NewHostFilter(pattern, isRegex))
		case strings.HasPrefix(part, "dest:"):
			filters = append(filters, NewDestinationFilter(strings.TrimPrefix(part, "dest:")))
		default:
			return nil, fmt.Errorf("unrecognized filter term: %s", part)
		}
	}

	return filters, nil
}
