// Package pathresolve looks up values in rule trees by slash-delimited match location.
package pathresolve

import (
	"strconv"
	"strings"

	"github.com/hyperjump/bulksearch/internal/searcherr"
)

// Separator delimits path segments.
const Separator = "/"

// Segments strips leading and trailing separators and splits path into segments.
// An empty path has no segments.
func Segments(path string) []string {
	trimmed := strings.Trim(path, Separator)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, Separator)
}

// Resolve returns the value at path inside doc.
//
// A segment made only of decimal digits is a 0-based index into a sequence;
// any other segment is a map key. Digit-only segments are never tried as map
// keys, so a map keyed by decimal strings cannot be addressed: the lookup fails
// with PathNotFound at that segment.
func Resolve(doc any, path string) (any, error) {
	current := doc
	for _, seg := range Segments(path) {
		next, ok := step(current, seg)
		if !ok {
			return nil, &searcherr.PathNotFoundError{Path: path, Segment: seg}
		}
		current = next
	}
	return current, nil
}

func step(node any, seg string) (any, bool) {
	if isIndex(seg) {
		list, ok := node.([]any)
		if !ok {
			return nil, false
		}
		i, err := strconv.Atoi(seg)
		if err != nil || i >= len(list) {
			return nil, false
		}
		return list[i], true
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[seg]
	return v, ok
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return false
		}
	}
	return true
}
