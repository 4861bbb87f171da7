package models

import "strconv"

// EntityKind distinguishes the configuration objects a search can match.
type EntityKind string

const (
	KindProperty EntityKind = "property"
	KindInclude  EntityKind = "include"
)

// EntityRef points at one version of one entity's rule tree.
type EntityRef struct {
	Kind    EntityKind
	ID      string
	Version int
}

// String returns kind:id@version for logs and diagnostics.
func (r EntityRef) String() string {
	return string(r.Kind) + ":" + r.ID + "@v" + strconv.Itoa(r.Version)
}

// MatchSummary is one entity version that matched a search, with every location
// of the match inside its rule tree in the order the service returned them.
type MatchSummary struct {
	Kind           EntityKind
	EntityID       string
	EntityVersion  int
	EntityName     string
	MatchLocations []string
}

// Ref returns the document reference for the summary.
func (m MatchSummary) Ref() EntityRef {
	return EntityRef{Kind: m.Kind, ID: m.EntityID, Version: m.EntityVersion}
}

// Identifiable reports whether the summary names an entity that can be fetched.
func (m MatchSummary) Identifiable() bool {
	return m.EntityID != "" && m.EntityName != ""
}

// Document is an entity's rule tree: nested map[string]any and []any with scalar leaves.
type Document = any
