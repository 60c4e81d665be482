// Package syncer drives one synchronization run end to end: fetch input,
// normalize, query the remote state, dedup, upload, and summarize.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amariano/bodysync/internal/adapter"
	"github.com/amariano/bodysync/internal/client/garmin"
	"github.com/amariano/bodysync/internal/dedup"
	"github.com/amariano/bodysync/internal/measurement"
	"github.com/amariano/bodysync/internal/state"
	"github.com/amariano/bodysync/internal/uploader"
	"github.com/amariano/bodysync/internal/xslog"
	"github.com/google/uuid"
)

// ErrNoConnectivity marks a run aborted before any upload because the
// remote state could not be queried.
var ErrNoConnectivity = errors.New("syncer: remote state query failed")

// MailFetcher is the optional pre-stage that pulls new export files into
// the input directory before the adapter reads it.
type MailFetcher interface {
	Fetch(ctx context.Context) ([]string, error)
}

type Syncer struct {
	source     adapter.Adapter
	normalizer *measurement.Normalizer
	weight     garmin.WeightService
	engine     *uploader.Engine
	logger     *slog.Logger

	store          *state.Store
	mail           MailFetcher
	toleranceKG    float64
	lookback       time.Duration
	dryRun         bool
	deleteExisting bool
}

type Option func(*Syncer)

// WithStateStore enables the watermark optimization. The syncer works
// identically without it, just with a wider remote query.
func WithStateStore(store *state.Store) Option {
	return func(s *Syncer) { s.store = store }
}

func WithMailFetcher(mail MailFetcher) Option {
	return func(s *Syncer) { s.mail = mail }
}

func WithTolerance(kg float64) Option {
	return func(s *Syncer) { s.toleranceKG = kg }
}

func WithLookback(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.lookback = d
		}
	}
}

func WithDryRun(dryRun bool) Option {
	return func(s *Syncer) { s.dryRun = dryRun }
}

// WithDeleteExisting wipes remote weigh-ins on every day the batch touches
// before uploading, replacing them with the batch's entries.
func WithDeleteExisting(deleteExisting bool) Option {
	return func(s *Syncer) { s.deleteExisting = deleteExisting }
}

const defaultLookback = 30 * 24 * time.Hour

func New(source adapter.Adapter, normalizer *measurement.Normalizer, weight garmin.WeightService, engine *uploader.Engine, logger *slog.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		source:      source,
		normalizer:  normalizer,
		weight:      weight,
		engine:      engine,
		logger:      logger,
		toleranceKG: dedup.DefaultToleranceKG,
		lookback:    defaultLookback,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one sync. It always returns a summary, even on abort; the
// error is non-nil only for run-level failures (authentication, no
// connectivity, unreadable input). Record-level failures live in the
// summary.
func (s *Syncer) Run(ctx context.Context) (*Summary, error) {
	startedAt := time.Now()
	summary := &Summary{RunID: uuid.NewString(), DryRun: s.dryRun}
	logger := s.logger.With(xslog.RunID(summary.RunID))

	defer func() { summary.Duration = time.Since(startedAt) }()

	if s.mail != nil {
		saved, err := s.mail.Fetch(ctx)
		if err != nil {
			// stale input files are still worth syncing.
			logger.WarnContext(ctx, "mailbox fetch failed, proceeding with existing files", xslog.Error(err))
		} else {
			summary.MailAttachments = len(saved)
		}
	}

	raws, err := s.source.NextBatch(ctx)
	if err != nil {
		return summary, fmt.Errorf("reading input batch: %w", err)
	}

	records, malformed := s.normalizer.Normalize(raws)
	summary.Malformed = len(malformed)
	for _, diag := range malformed {
		logger.WarnContext(ctx, "dropping malformed record",
			xslog.SourceID(diag.SourceID),
			xslog.Error(diag))
	}

	records = s.applyWatermark(ctx, logger, records, startedAt)
	summary.Input = len(records)

	if len(records) == 0 {
		logger.InfoContext(ctx, "nothing to sync")
		return summary, nil
	}

	snapshot, weighIns, err := s.fetchSnapshot(ctx, records, startedAt)
	if err != nil {
		if errors.Is(err, garmin.ErrAuthFailed) || isAuthError(err) {
			return summary, err
		}
		return summary, fmt.Errorf("%w: %w", ErrNoConnectivity, err)
	}
	logger.InfoContext(ctx, "fetched remote snapshot", xslog.Count(snapshot.Len()))

	if s.deleteExisting && !s.dryRun {
		deleted, err := s.deleteOnBatchDays(ctx, logger, records, weighIns)
		if err != nil {
			return summary, err
		}
		summary.Deleted = deleted
		// deleted entries are gone; rebuild the snapshot without them.
		snapshot = dedup.NewSnapshot(s.remainingWeighIns(records, weighIns))
	}

	fresh, mismatched := dedup.Filter(records, snapshot, s.toleranceKG)
	summary.SkippedExisting = len(records) - len(fresh)
	summary.Mismatched = len(mismatched)
	for _, rec := range mismatched {
		logger.WarnContext(ctx, "skipping correction: remote entry is authoritative",
			xslog.Timestamp(rec.Timestamp),
			xslog.WeightKG(rec.WeightKG))
	}

	if s.dryRun {
		summary.WouldUpload = len(fresh)
		logger.InfoContext(ctx, "dry run, skipping upload", xslog.Count(len(fresh)))
		return summary, nil
	}

	report := s.engine.Upload(ctx, fresh)
	summary.apply(report)

	s.advanceWatermark(ctx, logger, report)

	logger.InfoContext(ctx, "sync finished",
		xslog.Count(summary.Uploaded),
		xslog.Duration(time.Since(startedAt)))

	return summary, nil
}

// applyWatermark drops records already covered by a previous run. The
// watermark is rounded down to the start of its day so late readings from
// the same day still sync; dedup catches genuine duplicates among them.
func (s *Syncer) applyWatermark(ctx context.Context, logger *slog.Logger, records []measurement.Record, now time.Time) []measurement.Record {
	cutoff := now.Add(-s.lookback)

	if s.store != nil {
		watermark, err := s.store.LastSynced(ctx)
		if err != nil {
			logger.WarnContext(ctx, "ignoring unreadable sync state", xslog.Error(err))
		} else if watermark != nil {
			day := watermark.UTC().Truncate(24 * time.Hour)
			if day.After(cutoff) {
				cutoff = day
			}
		}
	}

	kept := records[:0]
	for _, rec := range records {
		if rec.Timestamp.Before(cutoff) {
			logger.DebugContext(ctx, "skipping record before sync window", xslog.Timestamp(rec.Timestamp))
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

func (s *Syncer) fetchSnapshot(ctx context.Context, records []measurement.Record, now time.Time) (*dedup.Snapshot, []garmin.WeighIn, error) {
	// records are sorted; the window opens at the earliest record's minute
	// so a remote entry earlier in the same minute is still fetched.
	start := records[0].Timestamp.Truncate(time.Minute)
	weighIns, err := s.weight.Range(ctx, start, now)
	if err != nil {
		return nil, nil, err
	}
	return dedup.NewSnapshot(weighIns), weighIns, nil
}

func (s *Syncer) deleteOnBatchDays(ctx context.Context, logger *slog.Logger, records []measurement.Record, weighIns []garmin.WeighIn) (int, error) {
	days := batchDays(records)

	deleted := 0
	for _, w := range weighIns {
		if !days[dayOf(w.Timestamp)] {
			continue
		}
		if err := s.weight.Delete(ctx, w); err != nil {
			return deleted, fmt.Errorf("deleting remote weigh-in at %s: %w", w.Timestamp, err)
		}
		logger.InfoContext(ctx, "deleted remote weigh-in", xslog.Timestamp(w.Timestamp))
		deleted++
	}
	return deleted, nil
}

func (s *Syncer) remainingWeighIns(records []measurement.Record, weighIns []garmin.WeighIn) []garmin.WeighIn {
	days := batchDays(records)
	var remaining []garmin.WeighIn
	for _, w := range weighIns {
		if !days[dayOf(w.Timestamp)] {
			remaining = append(remaining, w)
		}
	}
	return remaining
}

func (s *Syncer) advanceWatermark(ctx context.Context, logger *slog.Logger, report *uploader.Report) {
	if s.store == nil {
		return
	}

	var latest time.Time
	for _, res := range report.Results {
		if res.Outcome != uploader.OutcomeUploaded && res.Outcome != uploader.OutcomeDuplicate {
			continue
		}
		if res.Record.Timestamp.After(latest) {
			latest = res.Record.Timestamp
		}
	}
	if latest.IsZero() {
		return
	}

	if err := s.store.SetLastSynced(ctx, latest); err != nil {
		logger.WarnContext(ctx, "failed to persist sync watermark", xslog.Error(err))
	}
}

func batchDays(records []measurement.Record) map[time.Time]bool {
	days := make(map[time.Time]bool)
	for _, rec := range records {
		days[dayOf(rec.Timestamp)] = true
	}
	return days
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func isAuthError(err error) bool {
	apiErr := garmin.AsAPIError(err)
	return apiErr != nil && apiErr.IsAuth()
}
