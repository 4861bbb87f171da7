// Package search runs a bulk search end to end: submit the query, wait for the
// job, then extract the value at every match location.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/bulksearch/internal/extract"
	"github.com/hyperjump/bulksearch/internal/models"
	"go.uber.org/zap"
)

// Submitter starts bulk search jobs.
type Submitter interface {
	Submit(ctx context.Context, q models.SearchQuery) (models.JobHandle, error)
}

// JobWaiter blocks until a job is terminal and returns its match summaries.
type JobWaiter interface {
	Poll(ctx context.Context, h models.JobHandle) ([]models.MatchSummary, error)
}

// Report describes a finished search.
type Report struct {
	Query     models.SearchQuery
	Summaries int
	Stats     extract.Stats
	Elapsed   time.Duration
}

// Engine wires the job client, poller and extractor together.
type Engine struct {
	submitter Submitter
	waiter    JobWaiter
	extractor *extract.Extractor
	logger    *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(submitter Submitter, waiter JobWaiter, extractor *extract.Extractor, opts ...EngineOption) *Engine {
	e := &Engine{
		submitter: submitter,
		waiter:    waiter,
		extractor: extractor,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search submits q, waits for the job and writes every extracted value to sink
// in match order. Nothing reaches sink unless the job completed.
func (e *Engine) Search(ctx context.Context, q models.SearchQuery, sink extract.Sink) (*Report, error) {
	start := time.Now()
	e.logger.Debug("Submitting bulk search", zap.String("match", q.Match))

	handle, err := e.submitter.Submit(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("submit search: %w", err)
	}
	summaries, err := e.waiter.Poll(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("wait for search %s: %w", handle.StatusLocation, err)
	}
	e.logger.Info("Bulk search matched", zap.Int("entities", len(summaries)))

	stats, err := e.extractor.Run(ctx, summaries, sink)
	report := &Report{Query: q, Summaries: len(summaries), Stats: stats, Elapsed: time.Since(start)}
	if err != nil {
		return report, err
	}
	return report, nil
}
