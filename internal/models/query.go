// Package models defines core data structures for search queries, jobs, and extraction results.
package models

import (
	"encoding/json"
	"fmt"
)

// QuerySyntax is the expression language of a bulk search match.
type QuerySyntax string

// SyntaxJSONPath is the only syntax the rules-search service accepts.
const SyntaxJSONPath QuerySyntax = "JSONPATH"

// SearchQuery is a structured bulk search query. Built once per run and never mutated.
//
// Raw holds a query object supplied by the user. When set it is submitted
// as is, so fields other than syntax and match (bulkSearchQualifiers, for one)
// reach the service.
type SearchQuery struct {
	Syntax QuerySyntax     `json:"syntax"`
	Match  string          `json:"match"`
	Raw    json.RawMessage `json:"-"`
}

// SearchRequest is the body posted to the rules-search endpoint.
type SearchRequest struct {
	BulkSearchQuery SearchQuery `json:"bulkSearchQuery"`
}

// MarshalJSON sends the raw query object when there is one.
func (r SearchRequest) MarshalJSON() ([]byte, error) {
	if len(r.BulkSearchQuery.Raw) > 0 {
		return json.Marshal(struct {
			BulkSearchQuery json.RawMessage `json:"bulkSearchQuery"`
		}{r.BulkSearchQuery.Raw})
	}
	type plain SearchRequest
	return json.Marshal(plain(r))
}

// Validate reports whether the query can be submitted.
// An empty syntax is normalized to JSONPATH.
func (q *SearchQuery) Validate() error {
	if q.Match == "" {
		return fmt.Errorf("match expression cannot be empty")
	}
	if q.Syntax == "" {
		q.Syntax = SyntaxJSONPath
	}
	if q.Syntax != SyntaxJSONPath {
		return fmt.Errorf("unsupported query syntax %q", q.Syntax)
	}
	return nil
}
