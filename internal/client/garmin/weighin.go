package garmin

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amariano/bodysync/internal/measurement"
)

// WeighIn is one entry already recorded in Garmin Connect.
type WeighIn struct {
	Timestamp time.Time
	WeightKG  float64
	SamplePK  int64
}

type WeightService interface {
	// Range lists the weigh-ins recorded between start and end inclusive.
	Range(ctx context.Context, start, end time.Time) ([]WeighIn, error)

	// AddBodyComposition uploads one canonical record as a weigh-in.
	AddBodyComposition(ctx context.Context, rec measurement.Record) error

	// Delete removes a previously recorded weigh-in.
	Delete(ctx context.Context, w WeighIn) error
}

type weightService struct {
	client *Client
}

var _ WeightService = (*weightService)(nil)

const dateOnly = "2006-01-02"

// weighInEntry is the wire shape Garmin returns for a recorded weigh-in:
// epoch milliseconds and grams.
type weighInEntry struct {
	Date     int64   `json:"date"`
	Weight   float64 `json:"weight"`
	SamplePK int64   `json:"samplePk"`
}

type weightRangeResponse struct {
	DailyWeightSummaries []struct {
		SummaryDate      string         `json:"summaryDate"`
		AllWeightMetrics []weighInEntry `json:"allWeightMetrics"`
	} `json:"dailyWeightSummaries"`
}

func (s *weightService) Range(ctx context.Context, start, end time.Time) ([]WeighIn, error) {
	path := "/weight-service/weight/range/" + start.UTC().Format(dateOnly) + "/" + end.UTC().Format(dateOnly)
	query := url.Values{"includeAll": {"true"}}

	var resp weightRangeResponse
	if err := s.client.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}

	var weighIns []WeighIn
	for _, day := range resp.DailyWeightSummaries {
		for _, entry := range day.AllWeightMetrics {
			weighIns = append(weighIns, WeighIn{
				Timestamp: time.UnixMilli(entry.Date).UTC(),
				WeightKG:  entry.Weight / 1000,
				SamplePK:  entry.SamplePK,
			})
		}
	}
	return weighIns, nil
}

// bodyCompositionPayload is the upload shape for a manual weigh-in. Optional
// metrics are omitted entirely when not measured; Garmin treats an explicit
// zero as a real value.
type bodyCompositionPayload struct {
	DateTimestamp    string   `json:"dateTimestamp"`
	GMTTimestamp     string   `json:"gmtTimestamp"`
	UnitKey          string   `json:"unitKey"`
	SourceType       string   `json:"sourceType"`
	Weight           float64  `json:"weight"`
	PercentFat       *float64 `json:"percentFat,omitempty"`
	PercentHydration *float64 `json:"percentHydration,omitempty"`
	MuscleMass       *float64 `json:"muscleMass,omitempty"`
	BoneMass         *float64 `json:"boneMass,omitempty"`
	BMI              *float64 `json:"bmi,omitempty"`
	VisceralFat      *float64 `json:"visceralFat,omitempty"`
	VisceralFatMass  *float64 `json:"visceralFatMass,omitempty"`
	BasalMet         *float64 `json:"basalMet,omitempty"`
	ActiveMet        *float64 `json:"activeMet,omitempty"`
	PhysiqueRating   *float64 `json:"physiqueRating,omitempty"`
	MetabolicAge     *float64 `json:"metabolicAge,omitempty"`
}

const timestampLayout = "2006-01-02T15:04:05.0"

func (s *weightService) AddBodyComposition(ctx context.Context, rec measurement.Record) error {
	ts := rec.Timestamp.UTC()
	payload := bodyCompositionPayload{
		DateTimestamp:    ts.Format(timestampLayout),
		GMTTimestamp:     ts.Format(timestampLayout),
		UnitKey:          "kg",
		SourceType:       "MANUAL",
		Weight:           rec.WeightKG * 1000,
		PercentFat:       rec.BodyFatPct,
		PercentHydration: rec.WaterPct,
		MuscleMass:       scaleToGrams(rec.MuscleMassKG),
		BoneMass:         scaleToGrams(rec.BoneMassKG),
		BMI:              rec.BMI,
		VisceralFat:      rec.VisceralFatIndex,
		VisceralFatMass:  scaleToGrams(rec.VisceralFatMassKG),
		BasalMet:         rec.BasalMet,
		ActiveMet:        rec.ActiveMet,
		PhysiqueRating:   rec.PhysiqueRating,
		MetabolicAge:     rec.MetabolicAge,
	}

	return s.client.do(ctx, http.MethodPost, "/weight-service/user-weight", nil, payload, nil)
}

func (s *weightService) Delete(ctx context.Context, w WeighIn) error {
	path := "/weight-service/weight/" + w.Timestamp.UTC().Format(dateOnly) + "/byversion/" + strconv.FormatInt(w.SamplePK, 10)
	return s.client.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func scaleToGrams(kg *float64) *float64 {
	if kg == nil {
		return nil
	}
	g := *kg * 1000
	return &g
}
