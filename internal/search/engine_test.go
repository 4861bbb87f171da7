package search

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/bulksearch/internal/extract"
	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/hyperjump/bulksearch/internal/query"
	"github.com/hyperjump/bulksearch/internal/searcherr"
)

type fakeSubmitter struct {
	got models.SearchQuery
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, q models.SearchQuery) (models.JobHandle, error) {
	f.got = q
	if f.err != nil {
		return models.JobHandle{}, f.err
	}
	return models.JobHandle{StatusLocation: "/papi/v1/bulk/rules-search-requests/1"}, nil
}

type fakeWaiter struct {
	summaries []models.MatchSummary
	err       error
	handle    models.JobHandle
}

func (f *fakeWaiter) Poll(ctx context.Context, h models.JobHandle) ([]models.MatchSummary, error) {
	f.handle = h
	return f.summaries, f.err
}

type docFetcher map[string]models.Document

func (d docFetcher) FetchDocument(ctx context.Context, ref models.EntityRef) (models.Document, error) {
	doc, ok := d[ref.ID]
	if !ok {
		return nil, &searcherr.ProtocolError{Status: 404, Reason: "unknown " + ref.ID}
	}
	return doc, nil
}

type collectSink struct {
	results []models.ExtractionResult
}

func (c *collectSink) Write(r models.ExtractionResult) error {
	c.results = append(c.results, r)
	return nil
}

func originDoc(host string) models.Document {
	return map[string]any{
		"rules": map[string]any{
			"behaviors": []any{
				map[string]any{"name": "origin", "options": map[string]any{"hostname": host}},
			},
		},
	}
}

func TestEngine_Search(t *testing.T) {
	q, err := ProcessQuery(query.Params{Behavior: "origin", Parameter: "hostname"})
	if err != nil {
		t.Fatal(err)
	}
	sub := &fakeSubmitter{}
	waiter := &fakeWaiter{summaries: []models.MatchSummary{{
		Kind:           models.KindProperty,
		EntityID:       "prp_1",
		EntityVersion:  3,
		EntityName:     "www.example.com",
		MatchLocations: []string{"/rules/behaviors/0/options/hostname"},
	}}}
	ex := extract.NewExtractor(docFetcher{"prp_1": originDoc("origin.example.com")})
	engine := NewEngine(sub, waiter, ex)

	sink := &collectSink{}
	report, err := engine.Search(context.Background(), q, sink)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if sub.got.Syntax != q.Syntax || sub.got.Match != q.Match {
		t.Errorf("submitted %+v, want %+v", sub.got, q)
	}
	if waiter.handle.StatusLocation == "" {
		t.Error("poller did not receive the job handle")
	}
	want := models.ExtractionResult{EntityName: "www.example.com", Location: "/rules/behaviors/0/options/hostname", Value: "origin.example.com"}
	if len(sink.results) != 1 || sink.results[0] != want {
		t.Errorf("results = %+v", sink.results)
	}
	if report.Summaries != 1 || report.Stats.Results != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestEngine_Search_NoMatches(t *testing.T) {
	engine := NewEngine(&fakeSubmitter{}, &fakeWaiter{}, extract.NewExtractor(docFetcher{}))
	sink := &collectSink{}
	report, err := engine.Search(context.Background(), models.SearchQuery{Syntax: models.SyntaxJSONPath, Match: "$..x"}, sink)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(sink.results) != 0 || report.Summaries != 0 {
		t.Errorf("expected no output, got %+v", sink.results)
	}
}

func TestEngine_Search_Errors(t *testing.T) {
	tests := []struct {
		name   string
		sub    *fakeSubmitter
		waiter *fakeWaiter
		want   searcherr.Kind
	}{
		{
			name:   "submission rejected",
			sub:    &fakeSubmitter{err: &searcherr.SubmissionError{Status: 400}},
			waiter: &fakeWaiter{},
			want:   searcherr.KindSubmission,
		},
		{
			name:   "job failed",
			sub:    &fakeSubmitter{},
			waiter: &fakeWaiter{err: &searcherr.JobFailedError{Reason: searcherr.ReasonTimeout}},
			want:   searcherr.KindJobFailed,
		},
		{
			name: "document missing",
			sub:  &fakeSubmitter{},
			waiter: &fakeWaiter{summaries: []models.MatchSummary{{
				Kind: models.KindProperty, EntityID: "prp_404", EntityVersion: 1, EntityName: "gone", MatchLocations: []string{"/rules"},
			}}},
			want: searcherr.KindProtocol,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(tt.sub, tt.waiter, extract.NewExtractor(docFetcher{}))
			sink := &collectSink{}
			_, err := engine.Search(context.Background(), models.SearchQuery{Syntax: models.SyntaxJSONPath, Match: "$..x"}, sink)
			if got := searcherr.KindOf(err); got != tt.want {
				t.Errorf("kind = %s, want %s (err: %v)", got, tt.want, err)
			}
			if len(sink.results) != 0 {
				t.Errorf("sink received %d results on failure", len(sink.results))
			}
		})
	}
}

func TestProcessQuery(t *testing.T) {
	if _, err := ProcessQuery(query.Params{Value: "x"}); !errors.As(err, new(*searcherr.InvalidCombinationError)) {
		t.Errorf("err = %v, want InvalidCombination", err)
	}
	q, err := ProcessQuery(query.Params{Raw: []byte(`{"match": "$..behaviors"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if q.Syntax != models.SyntaxJSONPath {
		t.Errorf("syntax = %q", q.Syntax)
	}
}
