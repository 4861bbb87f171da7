// Package poller waits for a bulk search job to reach a terminal state.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/hyperjump/bulksearch/internal/searcherr"
	"go.uber.org/zap"
)

const (
	DefaultInterval         = 5 * time.Second
	DefaultMaxDuration      = 30 * time.Minute
	DefaultTransientRetries = 3
)

// StatusChecker reports the current state of a job.
type StatusChecker interface {
	CheckStatus(ctx context.Context, h models.JobHandle) (models.JobStatus, error)
}

// Options bound a poll loop. At least one of MaxAttempts and MaxDuration must be set.
type Options struct {
	Interval         time.Duration
	MaxAttempts      int           // 0 means no attempt limit
	MaxDuration      time.Duration // 0 means no time limit
	TransientRetries int           // consecutive transient failures tolerated
}

// DefaultOptions polls every five seconds for up to thirty minutes.
func DefaultOptions() Options {
	return Options{
		Interval:         DefaultInterval,
		MaxDuration:      DefaultMaxDuration,
		TransientRetries: DefaultTransientRetries,
	}
}

// Poller repeatedly checks a job until it completes, fails or runs out of time.
type Poller struct {
	checker StatusChecker
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a poller. It fails when the options leave the loop unbounded.
func New(checker StatusChecker, opts Options, options ...Option) (*Poller, error) {
	if checker == nil {
		return nil, errors.New("poller: nil status checker")
	}
	if opts.MaxAttempts <= 0 && opts.MaxDuration <= 0 {
		return nil, errors.New("poller: either max attempts or max duration must be set")
	}
	if opts.Interval < 0 || opts.TransientRetries < 0 {
		return nil, errors.New("poller: interval and transient retries must not be negative")
	}
	p := &Poller{checker: checker, opts: opts, logger: zap.NewNop(), now: time.Now}
	for _, o := range options {
		o(p)
	}
	return p, nil
}

// Poll blocks until the job behind h is terminal and returns its match
// summaries in the order the service reported them.
func (p *Poller) Poll(ctx context.Context, h models.JobHandle) ([]models.MatchSummary, error) {
	start := p.now()
	var deadline time.Time
	if p.opts.MaxDuration > 0 {
		deadline = start.Add(p.opts.MaxDuration)
	}
	transient := 0

	for attempt := 1; ; attempt++ {
		st, err := p.checker.CheckStatus(ctx, h)
		switch {
		case err == nil:
			transient = 0
			p.logger.Debug("Polled bulk search", zap.Int("attempt", attempt), zap.String("state", string(st.State)))
			switch st.State {
			case models.JobComplete:
				p.logger.Info("Bulk search complete",
					zap.Int("attempts", attempt),
					zap.Int("matches", len(st.Results)),
					zap.Duration("elapsed", p.now().Sub(start)))
				return st.Results, nil
			case models.JobFailed:
				return nil, &searcherr.JobFailedError{Reason: st.Reason}
			}
		case searcherr.IsRetryable(err) && ctx.Err() == nil:
			transient++
			if transient > p.opts.TransientRetries {
				return nil, err
			}
			p.logger.Warn("Transient error while polling, retrying",
				zap.Int("attempt", attempt),
				zap.Int("consecutive", transient),
				zap.Error(err))
		default:
			return nil, err
		}

		if p.opts.MaxAttempts > 0 && attempt >= p.opts.MaxAttempts {
			return nil, &searcherr.JobFailedError{Reason: searcherr.ReasonTimeout}
		}
		wait := p.opts.Interval
		if !deadline.IsZero() {
			remaining := deadline.Sub(p.now())
			if remaining <= 0 {
				return nil, &searcherr.JobFailedError{Reason: searcherr.ReasonTimeout}
			}
			if wait > remaining {
				wait = remaining
			}
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
