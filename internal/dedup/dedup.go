// Package dedup decides which normalized records are already present in
// Garmin Connect and must not be uploaded again.
package dedup

import (
	"time"

	"github.com/amariano/bodysync/internal/client/garmin"
	"github.com/amariano/bodysync/internal/measurement"
)

// Garmin stores weigh-ins at minute granularity; finer-grained local
// timestamps collapse onto the same remote slot.
const remoteGranularity = time.Minute

// DefaultToleranceKG absorbs floating-point and unit-rounding drift when
// comparing a local weight against the remote entry at the same instant.
const DefaultToleranceKG = 0.05

// Snapshot is the set of weigh-ins already recorded remotely for the queried
// window. It lives for one sync run and is never persisted.
type Snapshot struct {
	byMinute map[time.Time]float64
}

func NewSnapshot(weighIns []garmin.WeighIn) *Snapshot {
	byMinute := make(map[time.Time]float64, len(weighIns))
	for _, w := range weighIns {
		byMinute[w.Timestamp.Truncate(remoteGranularity)] = w.WeightKG
	}
	return &Snapshot{byMinute: byMinute}
}

func (s *Snapshot) Len() int {
	return len(s.byMinute)
}

// Contains reports whether a weigh-in exists at the minute of t.
func (s *Snapshot) Contains(t time.Time) bool {
	_, ok := s.byMinute[t.Truncate(remoteGranularity)]
	return ok
}

// Filter returns the records absent from the snapshot, preserving order.
//
// A record whose minute matches a remote entry is a duplicate even when the
// weights disagree beyond the tolerance: once written, the remote entry is
// authoritative and this sync never updates or merges. Records skipped for a
// weight mismatch are reported separately so the caller can log that a
// correction was dropped.
func Filter(records []measurement.Record, snapshot *Snapshot, toleranceKG float64) (fresh []measurement.Record, mismatched []measurement.Record) {
	fresh = make([]measurement.Record, 0, len(records))
	for _, rec := range records {
		remoteWeight, ok := snapshot.byMinute[rec.Timestamp.Truncate(remoteGranularity)]
		if !ok {
			fresh = append(fresh, rec)
			continue
		}
		if diff := rec.WeightKG - remoteWeight; diff > toleranceKG || diff < -toleranceKG {
			mismatched = append(mismatched, rec)
		}
	}
	return fresh, mismatched
}
