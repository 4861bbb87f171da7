// Package extract fetches the rule tree behind each match summary and pulls out
// the value at every match location.
package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/hyperjump/bulksearch/internal/pathresolve"
	"github.com/hyperjump/bulksearch/internal/searcherr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of rule trees fetched at once.
const DefaultWorkers = 4

// DocumentFetcher downloads the rule tree of one entity version.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, ref models.EntityRef) (models.Document, error)
}

// Sink receives extraction results in order.
type Sink interface {
	Write(r models.ExtractionResult) error
}

// Stats summarizes an extraction run.
type Stats struct {
	Entities int // summaries whose rule tree was fetched
	Results  int
	Skipped  int
}

// Extractor turns match summaries into extraction results.
type Extractor struct {
	fetcher DocumentFetcher
	workers int
	logger  *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithWorkers bounds the number of concurrent fetches. Values below one mean one.
func WithWorkers(n int) ExtractorOption {
	return func(e *Extractor) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

// WithLogger sets the logger used for skipped entities and fetch progress.
func WithLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor returns an extractor that fetches documents with fetcher.
func NewExtractor(fetcher DocumentFetcher, opts ...ExtractorOption) *Extractor {
	e := &Extractor{fetcher: fetcher, workers: DefaultWorkers, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type fetch struct {
	index   int
	summary models.MatchSummary
	skip    string // reason the summary is not fetched; empty when it is
	done    chan struct{}
	doc     models.Document
	err     error
}

// Results yields one result per match location, in summary order and, within a
// summary, in location order. Rule trees are fetched ahead of the consumer by up
// to the configured number of workers.
//
// A *searcherr.SkippedEntityError is yielded for each summary that names no
// entity; iteration continues after it. Any other error is the last value yielded.
// Stopping the loop early cancels outstanding fetches.
func (e *Extractor) Results(ctx context.Context, summaries []models.MatchSummary) iter.Seq2[models.ExtractionResult, error] {
	return func(yield func(models.ExtractionResult, error) bool) {
		fetchCtx, cancel := context.WithCancel(ctx)
		queue := make(chan *fetch, e.workers)
		var g errgroup.Group
		g.SetLimit(e.workers)

		go e.schedule(fetchCtx, summaries, queue, &g)
		defer func() {
			cancel()
			for range queue {
			}
			g.Wait()
		}()

		for f := range queue {
			if f.skip != "" {
				skipped := &searcherr.SkippedEntityError{Index: f.index, Reason: f.skip}
				e.logger.Warn("Skipping result", zap.Int("index", f.index), zap.String("reason", f.skip))
				if !yield(models.ExtractionResult{}, skipped) {
					return
				}
				continue
			}
			if f.done == nil {
				continue
			}

			select {
			case <-f.done:
			case <-ctx.Done():
				yield(models.ExtractionResult{}, ctx.Err())
				return
			}
			ref := f.summary.Ref()
			if f.err != nil {
				if ctx.Err() != nil {
					yield(models.ExtractionResult{}, ctx.Err())
					return
				}
				yield(models.ExtractionResult{}, fmt.Errorf("fetch rule tree of %s: %w", ref, f.err))
				return
			}

			for _, loc := range f.summary.MatchLocations {
				v, err := pathresolve.Resolve(f.doc, loc)
				if err != nil {
					var nf *searcherr.PathNotFoundError
					if errors.As(err, &nf) {
						nf.Entity = ref.String()
					}
					yield(models.ExtractionResult{}, err)
					return
				}
				if !yield(models.ExtractionResult{Summary: f.index, EntityName: f.summary.EntityName, Location: loc, Value: v}, nil) {
					return
				}
			}
			f.doc = nil
		}
		if err := ctx.Err(); err != nil {
			yield(models.ExtractionResult{}, err)
		}
	}
}

// schedule queues every summary in order and starts its fetch. The queue's
// capacity bounds how far fetching runs ahead of the consumer.
func (e *Extractor) schedule(ctx context.Context, summaries []models.MatchSummary, queue chan<- *fetch, g *errgroup.Group) {
	defer close(queue)
	for i, s := range summaries {
		f := &fetch{index: i, summary: s}
		switch {
		case s.EntityID == "":
			f.skip = "no entity id"
		case s.EntityName == "":
			f.skip = "no entity name"
		case len(s.MatchLocations) > 0:
			f.done = make(chan struct{})
		}

		select {
		case queue <- f:
		case <-ctx.Done():
			return
		}
		if f.done == nil {
			continue
		}
		ref := s.Ref()
		g.Go(func() error {
			defer close(f.done)
			if ctx.Err() != nil {
				f.err = ctx.Err()
				return nil
			}
			e.logger.Debug("Fetching rule tree", zap.Stringer("entity", ref))
			f.doc, f.err = e.fetcher.FetchDocument(ctx, ref)
			return nil
		})
	}
}

// Run drives Results into sink and reports what happened.
func (e *Extractor) Run(ctx context.Context, summaries []models.MatchSummary, sink Sink) (Stats, error) {
	var st Stats
	for r, err := range e.Results(ctx, summaries) {
		if err != nil {
			var skipped *searcherr.SkippedEntityError
			if errors.As(err, &skipped) {
				st.Skipped++
				continue
			}
			return st, err
		}
		if err := sink.Write(r); err != nil {
			return st, fmt.Errorf("write result: %w", err)
		}
		st.Results++
	}
	for _, s := range summaries {
		if s.Identifiable() && len(s.MatchLocations) > 0 {
			st.Entities++
		}
	}
	e.logger.Info("Extraction finished",
		zap.Int("entities", st.Entities),
		zap.Int("results", st.Results),
		zap.Int("skipped", st.Skipped))
	return st, nil
}
