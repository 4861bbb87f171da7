package search

import (
	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/hyperjump/bulksearch/internal/query"
	"github.com/hyperjump/bulksearch/internal/searcherr"
)

// ProcessQuery builds the search query described by p and validates it.
func ProcessQuery(p query.Params) (models.SearchQuery, error) {
	q, err := query.Build(p)
	if err != nil {
		return models.SearchQuery{}, err
	}
	if err := q.Validate(); err != nil {
		return models.SearchQuery{}, &searcherr.MalformedQueryError{Query: q.Match, Reason: err.Error()}
	}
	return q, nil
}
