// Package measurement holds the canonical body-composition record and the
// normalizer that produces it from adapter output.
package measurement

import "time"

// Record is one canonical body-composition reading. Timestamps are UTC,
// weights kilograms, percentages on a 0-100 scale. Optional fields are nil
// when the device did not measure them; absence is meaningful and is never
// coerced to zero.
type Record struct {
	Timestamp time.Time
	WeightKG  float64

	BodyFatPct        *float64
	WaterPct          *float64
	MuscleMassKG      *float64
	BoneMassKG        *float64
	BMI               *float64
	VisceralFatIndex  *float64
	VisceralFatMassKG *float64
	BasalMet          *float64
	ActiveMet         *float64
	PhysiqueRating    *float64
	MetabolicAge      *float64

	// SourceID is carried through for diagnostics only. Dedup keys on
	// timestamp and weight, never on this.
	SourceID string
}
