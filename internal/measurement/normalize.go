package measurement

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/amariano/bodysync/internal/adapter"
)

const (
	kgPerPound = 0.45359237
	kgPerStone = 6.35029318
)

// MalformedRecordError describes a record dropped during normalization
// because a required field was missing or unparseable. It is a diagnostic;
// the batch continues without the record.
type MalformedRecordError struct {
	SourceID string
	Field    string
	Value    string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %q: field %s has invalid value %q", e.SourceID, e.Field, e.Value)
}

// Normalizer converts adapter-native measurements into canonical Records:
// UTC timestamps, kilograms, 0-100 percent scales.
type Normalizer struct {
	timeFormat string
	loc        *time.Location
	unit       adapter.WeightUnit
}

func NewNormalizer(timeFormat string, loc *time.Location, unit adapter.WeightUnit) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{
		timeFormat: timeFormat,
		loc:        loc,
		unit:       unit,
	}
}

// Normalize is a pure transform. It returns the canonical records sorted by
// timestamp ascending, plus a diagnostic for every record it dropped.
// Duplicate timestamps within one batch collapse to the record appearing
// later in input order.
func (n *Normalizer) Normalize(raws []adapter.RawMeasurement) ([]Record, []*MalformedRecordError) {
	var malformed []*MalformedRecordError

	byInstant := make(map[time.Time]Record, len(raws))
	for _, raw := range raws {
		rec, err := n.normalizeOne(raw)
		if err != nil {
			malformed = append(malformed, err)
			continue
		}
		// last write wins on timestamp collisions.
		byInstant[rec.Timestamp] = rec
	}

	records := make([]Record, 0, len(byInstant))
	for _, rec := range byInstant {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	return records, malformed
}

func (n *Normalizer) normalizeOne(raw adapter.RawMeasurement) (Record, *MalformedRecordError) {
	ts := strings.TrimSpace(raw.Timestamp)
	if ts == "" {
		return Record{}, &MalformedRecordError{SourceID: raw.SourceID, Field: "timestamp", Value: raw.Timestamp}
	}
	parsed, err := time.ParseInLocation(n.timeFormat, ts, n.loc)
	if err != nil {
		return Record{}, &MalformedRecordError{SourceID: raw.SourceID, Field: "timestamp", Value: raw.Timestamp}
	}

	weight, ok := parseFloat(raw.Weight)
	if !ok || weight <= 0 {
		return Record{}, &MalformedRecordError{SourceID: raw.SourceID, Field: "weight", Value: raw.Weight}
	}

	rec := Record{
		Timestamp:         parsed.UTC(),
		WeightKG:          n.toKilograms(weight),
		BodyFatPct:        optionalPercent(raw.BodyFat),
		WaterPct:          optionalPercent(raw.Water),
		MuscleMassKG:      scaleOptional(optionalFloat(raw.MuscleMass), n.massFactor()),
		BoneMassKG:        scaleOptional(optionalFloat(raw.BoneMass), n.massFactor()),
		BMI:               optionalFloat(raw.BMI),
		VisceralFatIndex:  optionalFloat(raw.VisceralFat),
		VisceralFatMassKG: scaleOptional(optionalFloat(raw.VisceralFatMass), n.massFactor()),
		BasalMet:          optionalFloat(raw.BasalMet),
		ActiveMet:         optionalFloat(raw.ActiveMet),
		PhysiqueRating:    optionalFloat(raw.PhysiqueRating),
		MetabolicAge:      optionalFloat(raw.MetabolicAge),
		SourceID:          raw.SourceID,
	}
	return rec, nil
}

func (n *Normalizer) massFactor() float64 {
	switch n.unit {
	case adapter.UnitPounds:
		return kgPerPound
	case adapter.UnitStones:
		return kgPerStone
	default:
		return 1
	}
}

func (n *Normalizer) toKilograms(v float64) float64 {
	return v * n.massFactor()
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// optionalFloat parses an optional field. Empty or unparseable values map to
// nil, never to zero.
func optionalFloat(s string) *float64 {
	v, ok := parseFloat(s)
	if !ok {
		return nil
	}
	return &v
}

// optionalPercent is optionalFloat restricted to the 0-100 scale; values
// outside it are treated as not measured.
func optionalPercent(s string) *float64 {
	v := optionalFloat(s)
	if v == nil || *v < 0 || *v > 100 {
		return nil
	}
	return v
}

func scaleOptional(v *float64, factor float64) *float64 {
	if v == nil || factor == 1 {
		return v
	}
	scaled := *v * factor
	return &scaled
}
