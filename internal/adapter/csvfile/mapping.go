package csvfile

import (
	"fmt"
	"os"
	"regexp"

	go_json "github.com/goccy/go-json"
)

// FieldType selects how a raw cell value is cleaned before it reaches the
// normalizer. Scale exports frequently embed units ("70.5 kg", "21.3 %"),
// so typed columns extract the leading numeric part.
type FieldType string

const (
	TypeWeight  FieldType = "weight"
	TypePercent FieldType = "percent"
	TypeKcal    FieldType = "kcal"
	TypeValue   FieldType = "value"
	TypeText    FieldType = "text"
)

// ColumnMapping binds one canonical field to a column of the vendor's CSV.
// Mandatory discards the whole row when the mapped column is empty or
// absent; timestamp and weight need no flag, the normalizer requires them
// unconditionally.
type ColumnMapping struct {
	Name      string    `json:"name"`
	Type      FieldType `json:"type"`
	Mandatory bool      `json:"mandatory"`
}

// Mapping is keyed by canonical field name (timestamp, weight, bodyFat,
// water, muscleMass, boneMass, bmi, visceralFat, visceralFatMass, basalMet,
// activeMet, physiqueRating, metabolicAge, user).
type Mapping map[string]ColumnMapping

// DefaultMapping assumes the CSV already uses canonical column names.
func DefaultMapping() Mapping {
	return Mapping{
		"timestamp":       {Name: "timestamp", Type: TypeText},
		"weight":          {Name: "weight", Type: TypeWeight},
		"bodyFat":         {Name: "bodyFat", Type: TypePercent},
		"water":           {Name: "water", Type: TypePercent},
		"muscleMass":      {Name: "muscleMass", Type: TypeWeight},
		"boneMass":        {Name: "boneMass", Type: TypeWeight},
		"bmi":             {Name: "bmi", Type: TypeValue},
		"visceralFat":     {Name: "visceralFat", Type: TypeValue},
		"visceralFatMass": {Name: "visceralFatMass", Type: TypeWeight},
		"basalMet":        {Name: "basalMet", Type: TypeKcal},
		"activeMet":       {Name: "activeMet", Type: TypeKcal},
		"physiqueRating":  {Name: "physiqueRating", Type: TypeValue},
		"metabolicAge":    {Name: "metabolicAge", Type: TypeValue},
	}
}

// LoadMapping reads a mapping file. An empty path yields the default.
func LoadMapping(path string) (Mapping, error) {
	if path == "" {
		return DefaultMapping(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}
	var m Mapping
	if err := go_json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling mapping file: %w", err)
	}
	if _, ok := m["timestamp"]; !ok {
		return nil, fmt.Errorf("mapping file %s has no timestamp column", path)
	}
	if _, ok := m["weight"]; !ok {
		return nil, fmt.Errorf("mapping file %s has no weight column", path)
	}
	return m, nil
}

var (
	weightPattern  = regexp.MustCompile(`^([\d.]+)`)
	percentPattern = regexp.MustCompile(`(\d+\.?\d*)`)
	kcalPattern    = regexp.MustCompile(`(\d+\.?\d*)`)
)

// extract cleans one cell per its column type. When a typed pattern does not
// match, the raw value is passed through so the normalizer can flag it.
func extract(value string, fieldType FieldType) string {
	var pattern *regexp.Regexp
	switch fieldType {
	case TypeWeight:
		pattern = weightPattern
	case TypePercent:
		pattern = percentPattern
	case TypeKcal:
		pattern = kcalPattern
	default:
		return value
	}

	if match := pattern.FindStringSubmatch(value); match != nil {
		return match[1]
	}
	return value
}
