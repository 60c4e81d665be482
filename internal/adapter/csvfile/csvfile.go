// Package csvfile adapts a directory of scale CSV exports into raw
// measurements. Column names, value cleaning, and an optional per-user
// filter are driven by a Mapping, so one binary handles different vendors'
// export shapes.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/amariano/bodysync/internal/adapter"
	"github.com/amariano/bodysync/internal/xslog"
)

type Adapter struct {
	dir        string
	mask       string
	mapping    Mapping
	filterUser string
	logger     *slog.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

// WithUserFilter keeps only rows whose mapped user column equals user.
// Multi-user scales export everyone's readings into one file.
func WithUserFilter(user string) Option {
	return func(a *Adapter) { a.filterUser = user }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

func New(dir, mask string, mapping Mapping, opts ...Option) *Adapter {
	a := &Adapter{
		dir:     dir,
		mask:    mask,
		mapping: mapping,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) NextBatch(ctx context.Context) ([]adapter.RawMeasurement, error) {
	files, err := filepath.Glob(filepath.Join(a.dir, a.mask))
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", a.mask, err)
	}

	var batch []adapter.RawMeasurement
	for _, file := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rows, err := a.readFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filepath.Base(file), err)
		}
		a.logger.InfoContext(ctx, "read weight file",
			xslog.File(filepath.Base(file)),
			xslog.Count(len(rows)))
		batch = append(batch, rows...)
	}

	return batch, nil
}

func (a *Adapter) readFile(path string) ([]adapter.RawMeasurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[name] = i
	}

	var rows []adapter.RawMeasurement
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		if a.filterUser != "" {
			if user := a.mappedCell(record, colIndex, "user"); user != a.filterUser {
				continue
			}
		}

		sourceID := filepath.Base(path) + ":" + strconv.Itoa(line)
		if field := a.missingMandatory(record, colIndex); field != "" {
			a.logger.Warn("dropping row missing mandatory column",
				xslog.SourceID(sourceID),
				slog.String("column", field))
			continue
		}

		rows = append(rows, adapter.RawMeasurement{
			SourceID:        sourceID,
			Timestamp:       a.mappedCell(record, colIndex, "timestamp"),
			Weight:          a.mappedCell(record, colIndex, "weight"),
			BodyFat:         a.mappedCell(record, colIndex, "bodyFat"),
			Water:           a.mappedCell(record, colIndex, "water"),
			MuscleMass:      a.mappedCell(record, colIndex, "muscleMass"),
			BoneMass:        a.mappedCell(record, colIndex, "boneMass"),
			BMI:             a.mappedCell(record, colIndex, "bmi"),
			VisceralFat:     a.mappedCell(record, colIndex, "visceralFat"),
			VisceralFatMass: a.mappedCell(record, colIndex, "visceralFatMass"),
			BasalMet:        a.mappedCell(record, colIndex, "basalMet"),
			ActiveMet:       a.mappedCell(record, colIndex, "activeMet"),
			PhysiqueRating:  a.mappedCell(record, colIndex, "physiqueRating"),
			MetabolicAge:    a.mappedCell(record, colIndex, "metabolicAge"),
		})
	}

	return rows, nil
}

// missingMandatory returns the first canonical field whose column is marked
// mandatory but empty or absent in this row.
func (a *Adapter) missingMandatory(record []string, colIndex map[string]int) string {
	for field, col := range a.mapping {
		if !col.Mandatory {
			continue
		}
		if a.mappedCell(record, colIndex, field) == "" {
			return field
		}
	}
	return ""
}

// mappedCell resolves a canonical field through the mapping and cleans the
// raw value per its column type. Unmapped fields and missing columns yield
// an empty string, which downstream treats as not measured.
func (a *Adapter) mappedCell(record []string, colIndex map[string]int, field string) string {
	col, ok := a.mapping[field]
	if !ok {
		return ""
	}
	idx, ok := colIndex[col.Name]
	if !ok || idx >= len(record) {
		return ""
	}
	return extract(record[idx], col.Type)
}
