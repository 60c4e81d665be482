package measurement

import (
	"testing"
	"time"

	"github.com/amariano/bodysync/internal/adapter"
	"github.com/google/go-cmp/cmp"
)

func ptr(v float64) *float64 { return &v }

func TestNormalize(t *testing.T) {
	t.Parallel()

	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("loading location: %v", err)
	}

	tests := []struct {
		name          string
		format        string
		loc           *time.Location
		unit          adapter.WeightUnit
		raws          []adapter.RawMeasurement
		want          []Record
		wantMalformed int
	}{
		{
			name:   "kilograms pass through",
			format: "2006-01-02 15:04:05",
			loc:    time.UTC,
			unit:   adapter.UnitKilograms,
			raws: []adapter.RawMeasurement{
				{SourceID: "r1", Timestamp: "2024-03-21 08:00:00", Weight: "70.5", BodyFat: "21.3"},
			},
			want: []Record{
				{
					Timestamp:  time.Date(2024, 3, 21, 8, 0, 0, 0, time.UTC),
					WeightKG:   70.5,
					BodyFatPct: ptr(21.3),
					SourceID:   "r1",
				},
			},
		},
		{
			name:   "pounds convert to kilograms",
			format: "2006-01-02 15:04:05",
			loc:    time.UTC,
			unit:   adapter.UnitPounds,
			raws: []adapter.RawMeasurement{
				{
					SourceID:        "r1",
					Timestamp:       "2024-03-21 08:00:00",
					Weight:          "155.0",
					BoneMass:        "7.1",
					VisceralFat:     "10",
					VisceralFatMass: "5.5",
				},
			},
			want: []Record{
				{
					Timestamp: time.Date(2024, 3, 21, 8, 0, 0, 0, time.UTC),
					WeightKG:  155.0 * 0.45359237,
					// masses convert with the weight unit; the rating does not.
					BoneMassKG:        ptr(7.1 * 0.45359237),
					VisceralFatIndex:  ptr(10.0),
					VisceralFatMassKG: ptr(5.5 * 0.45359237),
					SourceID:          "r1",
				},
			},
		},
		{
			name:   "local timezone converts to UTC",
			format: "2006-01-02 15:04:05",
			loc:    berlin,
			unit:   adapter.UnitKilograms,
			raws: []adapter.RawMeasurement{
				{SourceID: "r1", Timestamp: "2024-03-21 09:00:00", Weight: "70.5"},
			},
			want: []Record{
				{
					Timestamp: time.Date(2024, 3, 21, 8, 0, 0, 0, time.UTC),
					WeightKG:  70.5,
					SourceID:  "r1",
				},
			},
		},
		{
			name:   "missing weight is dropped with diagnostic",
			format: "2006-01-02 15:04:05",
			loc:    time.UTC,
			unit:   adapter.UnitKilograms,
			raws: []adapter.RawMeasurement{
				{SourceID: "bad", Timestamp: "2024-03-21 08:00:00"},
				{SourceID: "ok", Timestamp: "2024-03-21 09:00:00", Weight: "71.0"},
			},
			want: []Record{
				{
					Timestamp: time.Date(2024, 3, 21, 9, 0, 0, 0, time.UTC),
					WeightKG:  71.0,
					SourceID:  "ok",
				},
			},
			wantMalformed: 1,
		},
		{
			name:   "non-numeric timestamp is dropped with diagnostic",
			format: "2006-01-02 15:04:05",
			loc:    time.UTC,
			unit:   adapter.UnitKilograms,
			raws: []adapter.RawMeasurement{
				{SourceID: "bad", Timestamp: "yesterday", Weight: "70.5"},
			},
			want:          []Record{},
			wantMalformed: 1,
		},
		{
			name:   "duplicate timestamps collapse to the later record",
			format: "2006-01-02 15:04:05",
			loc:    time.UTC,
			unit:   adapter.UnitKilograms,
			raws: []adapter.RawMeasurement{
				{SourceID: "first", Timestamp: "2024-03-21 08:00:00", Weight: "70.0"},
				{SourceID: "second", Timestamp: "2024-03-21 08:00:00", Weight: "70.4"},
			},
			want: []Record{
				{
					Timestamp: time.Date(2024, 3, 21, 8, 0, 0, 0, time.UTC),
					WeightKG:  70.4,
					SourceID:  "second",
				},
			},
		},
		{
			name:   "optional fields absent stay nil",
			format: "2006-01-02 15:04:05",
			loc:    time.UTC,
			unit:   adapter.UnitKilograms,
			raws: []adapter.RawMeasurement{
				{SourceID: "r1", Timestamp: "2024-03-21 08:00:00", Weight: "70.5", BodyFat: "", Water: "not-a-number"},
			},
			want: []Record{
				{
					Timestamp: time.Date(2024, 3, 21, 8, 0, 0, 0, time.UTC),
					WeightKG:  70.5,
					SourceID:  "r1",
				},
			},
		},
		{
			name:   "out of range percent is not measured",
			format: "2006-01-02 15:04:05",
			loc:    time.UTC,
			unit:   adapter.UnitKilograms,
			raws: []adapter.RawMeasurement{
				{SourceID: "r1", Timestamp: "2024-03-21 08:00:00", Weight: "70.5", BodyFat: "213.0"},
			},
			want: []Record{
				{
					Timestamp: time.Date(2024, 3, 21, 8, 0, 0, 0, time.UTC),
					WeightKG:  70.5,
					SourceID:  "r1",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := NewNormalizer(tt.format, tt.loc, tt.unit)
			got, malformed := n.Normalize(tt.raws)

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
			if len(malformed) != tt.wantMalformed {
				t.Errorf("Normalize() malformed = %d, want %d", len(malformed), tt.wantMalformed)
			}
		})
	}
}

func TestNormalizeOutputIsSortedAndUnique(t *testing.T) {
	t.Parallel()

	raws := []adapter.RawMeasurement{
		{SourceID: "c", Timestamp: "2024-03-23 08:00:00", Weight: "70.9"},
		{SourceID: "a", Timestamp: "2024-03-21 08:00:00", Weight: "70.1"},
		{SourceID: "b", Timestamp: "2024-03-22 08:00:00", Weight: "70.5"},
		{SourceID: "a2", Timestamp: "2024-03-21 08:00:00", Weight: "70.2"},
	}

	n := NewNormalizer("2006-01-02 15:04:05", time.UTC, adapter.UnitKilograms)
	got, malformed := n.Normalize(raws)

	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed records: %d", len(malformed))
	}

	seen := make(map[time.Time]bool)
	for i, rec := range got {
		if rec.WeightKG <= 0 {
			t.Errorf("record %d has non-positive weight %g", i, rec.WeightKG)
		}
		if seen[rec.Timestamp] {
			t.Errorf("duplicate timestamp %s in output", rec.Timestamp)
		}
		seen[rec.Timestamp] = true
		if i > 0 && !got[i-1].Timestamp.Before(rec.Timestamp) {
			t.Errorf("output not sorted at index %d", i)
		}
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
}
