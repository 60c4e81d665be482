// Package adapter defines the contract between vendor-specific measurement
// sources and the synchronization core. An Adapter turns whatever shape a
// vendor exports (CSV file, feed, API response) into RawMeasurements; the
// core never sees the vendor format itself.
package adapter

import "context"

// WeightUnit is the unit the adapter's weight values are expressed in.
type WeightUnit string

const (
	UnitKilograms WeightUnit = "kg"
	UnitPounds    WeightUnit = "lb"
	UnitStones    WeightUnit = "st"
)

// RawMeasurement is one reading in the adapter's native representation.
// All values are strings as extracted from the source; parsing and unit
// conversion happen downstream in the normalizer. Empty string means the
// device did not report the field.
type RawMeasurement struct {
	// SourceID is an opaque vendor identifier carried for diagnostics only.
	SourceID string

	Timestamp string

	Weight          string
	BodyFat         string
	Water           string
	MuscleMass      string
	BoneMass        string
	BMI             string
	VisceralFat     string
	VisceralFatMass string
	BasalMet        string
	ActiveMet       string
	PhysiqueRating  string
	MetabolicAge    string
}

type Adapter interface {
	// NextBatch returns the measurements currently available from the
	// source, in source order. An empty batch is not an error.
	NextBatch(ctx context.Context) ([]RawMeasurement, error)
}
