// Package query builds bulk search queries from behavior templates or raw JSON.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/hyperjump/bulksearch/internal/searcherr"
	"github.com/ohler55/ojg/jp"
)

// Template placeholders. Substitution is single pass, so a name that happens to
// contain one of these tokens is inserted verbatim and never re-expanded.
const (
	tokenBehavior  = "BEHAVIOR"
	tokenParameter = "PARAMETER"
	tokenValue     = "VALUE"
)

const (
	behaviorTemplate  = "$..behaviors[?(@.name == 'BEHAVIOR')]"
	parameterTemplate = "$..behaviors[?(@.name == 'BEHAVIOR')].options.PARAMETER"
	valueTemplate     = "$..behaviors[?(@.name == 'BEHAVIOR')].options[?(@.PARAMETER == 'VALUE')].PARAMETER"
)

// Params selects how a query is built. When Raw is set the template fields are ignored.
type Params struct {
	Behavior  string
	Parameter string
	Value     string
	Raw       []byte
}

// Build returns the search query described by p.
func Build(p Params) (models.SearchQuery, error) {
	if len(bytes.TrimSpace(p.Raw)) > 0 {
		return parseRaw(p.Raw)
	}
	behavior := strings.TrimSpace(p.Behavior)
	parameter := strings.TrimSpace(p.Parameter)
	if p.Value != "" && parameter == "" {
		return models.SearchQuery{}, &searcherr.InvalidCombinationError{
			Reason: "a value needs a parameter to match against",
		}
	}
	if behavior == "" {
		return models.SearchQuery{}, &searcherr.MalformedQueryError{
			Reason: "a behavior or a raw query is required",
		}
	}

	tmpl := behaviorTemplate
	switch {
	case p.Value != "":
		tmpl = valueTemplate
	case parameter != "":
		tmpl = parameterTemplate
	}
	r := strings.NewReplacer(
		tokenBehavior, behavior,
		tokenParameter, parameter,
		tokenValue, p.Value,
	)
	q := models.SearchQuery{Syntax: models.SyntaxJSONPath, Match: r.Replace(tmpl)}
	if err := checkExpression(q.Match); err != nil {
		return models.SearchQuery{}, err
	}
	return q, nil
}

// LoadFile reads a raw query from a JSON file and parses it.
func LoadFile(path string) (models.SearchQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.SearchQuery{}, fmt.Errorf("cannot read query file %s: %w", path, err)
	}
	return Build(Params{Raw: data})
}

// parseRaw accepts either the request envelope {"bulkSearchQuery": {...}} or a bare
// {"syntax": ..., "match": ...} object. The query object is kept verbatim in Raw.
func parseRaw(raw []byte) (models.SearchQuery, error) {
	text := strings.TrimSpace(string(raw))
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.SearchQuery{}, &searcherr.MalformedQueryError{Query: text, Reason: "not a JSON object: " + err.Error()}
	}
	body := raw
	if inner, ok := fields["bulkSearchQuery"]; ok {
		body = inner
	}
	var q models.SearchQuery
	if err := json.Unmarshal(body, &q); err != nil {
		return models.SearchQuery{}, &searcherr.MalformedQueryError{Query: text, Reason: err.Error()}
	}
	q.Match = strings.TrimSpace(q.Match)
	if err := q.Validate(); err != nil {
		return models.SearchQuery{}, &searcherr.MalformedQueryError{Query: text, Reason: err.Error()}
	}
	if err := checkExpression(q.Match); err != nil {
		return models.SearchQuery{}, err
	}
	q.Raw = json.RawMessage(bytes.TrimSpace(body))
	return q, nil
}

func checkExpression(match string) error {
	if _, err := jp.ParseString(match); err != nil {
		return &searcherr.MalformedQueryError{Query: match, Reason: "invalid JSONPath: " + err.Error()}
	}
	return nil
}
