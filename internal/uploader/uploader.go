// Package uploader submits deduplicated records to Garmin Connect with
// bounded concurrency, retrying rate-limited and transient failures, and
// reports an independent outcome per record.
package uploader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/amariano/bodysync/internal/client/garmin"
	"github.com/amariano/bodysync/internal/measurement"
	"github.com/amariano/bodysync/internal/xslog"
	"golang.org/x/sync/errgroup"
)

// Outcome classifies what happened to one record.
type Outcome string

const (
	// OutcomeUploaded is a successful new entry.
	OutcomeUploaded Outcome = "uploaded"
	// OutcomeDuplicate means the remote already had the entry; counts as
	// success for exit-code purposes.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeFailed means retries were exhausted or the payload was
	// rejected outright.
	OutcomeFailed Outcome = "failed"
	// OutcomeAborted means the run stopped (auth failure or cancellation)
	// before this record got a final answer.
	OutcomeAborted Outcome = "aborted"
)

// Reason refines a failure for the report.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonRateLimited Reason = "rate_limited"
	ReasonTransient   Reason = "transient"
	ReasonFatal       Reason = "fatal"
	ReasonAuth        Reason = "auth"
	ReasonCanceled    Reason = "canceled"
)

type Result struct {
	Record   measurement.Record
	Outcome  Outcome
	Reason   Reason
	Attempts int
	Err      error
}

type Report struct {
	Results []Result
}

func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

func (r *Report) Failures() []Result {
	var failures []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed || res.Outcome == OutcomeAborted {
			failures = append(failures, res)
		}
	}
	return failures
}

// Ok reports whether every record reached the remote (uploaded or already
// present).
func (r *Report) Ok() bool {
	for _, res := range r.Results {
		if res.Outcome != OutcomeUploaded && res.Outcome != OutcomeDuplicate {
			return false
		}
	}
	return true
}

// Submitter is the slice of the Garmin client the engine needs.
type Submitter interface {
	AddBodyComposition(ctx context.Context, rec measurement.Record) error
}

type Engine struct {
	submitter   Submitter
	logger      *slog.Logger
	backoff     Backoff
	concurrency int
}

type EngineOption func(*Engine)

func WithBackoff(b Backoff) EngineOption {
	return func(e *Engine) { e.backoff = b }
}

func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

const defaultConcurrency = 3

func NewEngine(submitter Submitter, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		submitter:   submitter,
		logger:      logger,
		backoff:     DefaultBackoff,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Upload submits every record and always returns a complete report, one
// result per input record in input order. A terminal session failure aborts
// the records still in flight or queued; everything else is per-record.
func (e *Engine) Upload(ctx context.Context, records []measurement.Record) *Report {
	report := &Report{Results: make([]Result, len(records))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, rec := range records {
		g.Go(func() error {
			res := e.uploadOne(gctx, rec)
			report.Results[i] = res
			if res.Reason == ReasonAuth {
				// no upload can proceed without a session; stop the batch.
				return garmin.ErrAuthFailed
			}
			return nil
		})
	}
	_ = g.Wait()

	// records never dispatched (or cut off mid-retry) still get a result.
	for i, rec := range records {
		if report.Results[i].Outcome == "" {
			report.Results[i] = Result{Record: rec, Outcome: OutcomeAborted, Reason: ReasonCanceled}
		}
	}

	return report
}

func (e *Engine) uploadOne(ctx context.Context, rec measurement.Record) Result {
	res := Result{Record: rec}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Outcome = OutcomeAborted
			res.Reason = ReasonCanceled
			res.Err = err
			return res
		}

		res.Attempts = attempt
		err := e.submitter.AddBodyComposition(ctx, rec)
		if err == nil {
			res.Outcome = OutcomeUploaded
			e.logger.InfoContext(ctx, "uploaded body composition",
				xslog.Timestamp(rec.Timestamp),
				xslog.WeightKG(rec.WeightKG),
				xslog.Attempt(attempt))
			return res
		}

		reason, retryAfter := classify(ctx, err)
		switch reason {
		case ReasonNone:
			// remote says the entry already exists.
			res.Outcome = OutcomeDuplicate
			e.logger.DebugContext(ctx, "remote reported duplicate", xslog.Timestamp(rec.Timestamp))
			return res
		case ReasonAuth:
			res.Outcome = OutcomeAborted
			res.Reason = ReasonAuth
			res.Err = err
			return res
		case ReasonFatal:
			res.Outcome = OutcomeFailed
			res.Reason = ReasonFatal
			res.Err = err
			e.logger.ErrorContext(ctx, "upload rejected",
				xslog.Timestamp(rec.Timestamp),
				xslog.Error(err))
			return res
		case ReasonCanceled:
			res.Outcome = OutcomeAborted
			res.Reason = ReasonCanceled
			res.Err = err
			return res
		}

		// rate-limited or transient: retry with backoff.
		if attempt >= e.backoff.MaxAttempts {
			res.Outcome = OutcomeFailed
			res.Reason = reason
			res.Err = err
			e.logger.WarnContext(ctx, "upload retries exhausted",
				xslog.Timestamp(rec.Timestamp),
				xslog.Attempt(attempt),
				xslog.Error(err))
			return res
		}

		delay := e.backoff.Delay(attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		e.logger.DebugContext(ctx, "retrying upload",
			xslog.Timestamp(rec.Timestamp),
			xslog.Attempt(attempt),
			xslog.Duration(delay),
			xslog.Error(err))
		if err := sleep(ctx, delay); err != nil {
			res.Outcome = OutcomeAborted
			res.Reason = ReasonCanceled
			res.Err = err
			return res
		}
	}
}

// classify maps an upload error onto the retry taxonomy. ReasonNone with a
// non-nil error means the remote rejected the entry as already present.
// The run context disambiguates deadline errors: a per-request timeout with
// a live run context is transient, a dead run context is cancellation.
func classify(ctx context.Context, err error) (Reason, time.Duration) {
	if ctx.Err() != nil {
		return ReasonCanceled, 0
	}
	if errors.Is(err, garmin.ErrAuthFailed) {
		return ReasonAuth, 0
	}

	apiErr := garmin.AsAPIError(err)
	if apiErr == nil {
		// connection resets, DNS failures, per-request timeouts: retry.
		return ReasonTransient, 0
	}

	switch {
	case apiErr.IsDuplicate():
		return ReasonNone, 0
	case apiErr.IsRateLimit():
		return ReasonRateLimited, apiErr.RetryAfter
	case apiErr.IsTransient():
		return ReasonTransient, 0
	case apiErr.IsAuth():
		return ReasonAuth, 0
	default:
		return ReasonFatal, 0
	}
}
