package models

// ExtractionResult is the value found at one match location of one entity.
// Summary is the position of the match summary the result came from; two
// summaries for the same entity keep distinct positions.
type ExtractionResult struct {
	Summary    int    `json:"summary"`
	EntityName string `json:"entity_name"`
	Location   string `json:"location"`
	Value      any    `json:"value"`
}
