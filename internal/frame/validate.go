package frame

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/m3w/pointloom/internal/geo"
)

// ErrValidation is returned when a frame violates the shared output
// contract. It indicates an adapter bug, not a transient condition.
var ErrValidation = errors.New("observation frame failed validation")

// baselineColumns are accounted for outside the value/units pairing rule.
// measurementDate and quality_code are optional but accepted when present.
var baselineColumns = map[string]bool{
	ColGeometry:        true,
	ColSite:            true,
	ColDataSource:      true,
	ColMeasurementDate: true,
	ColQualityCode:     true,
}

// Validate checks a frame against the shared output contract: a nil frame
// (no data) passes, otherwise rows must carry the (datetime, site) index,
// the geometry and datasource columns must exist, geometry cells must be
// points, and every variable column must be paired with its units column.
// Every adapter calls this as the final gate before returning a frame.
func Validate(f *Frame) error {
	if f == nil {
		return nil
	}
	if err := validate(f); err != nil {
		log.Printf("ERROR: %v", err)
		return err
	}
	return nil
}

func validate(f *Frame) error {
	for i, r := range f.rows {
		if r.Time.IsZero() {
			return fmt.Errorf("%w: row %d is missing the datetime index level", ErrValidation, i)
		}
		if r.Site == "" {
			return fmt.Errorf("%w: row %d is missing the site index level", ErrValidation, i)
		}
	}

	for _, required := range []string{ColGeometry, ColDataSource} {
		if !f.HasColumn(required) {
			return fmt.Errorf("%w: missing column %q", ErrValidation, required)
		}
	}

	for i, r := range f.rows {
		v, ok := r.Value(ColGeometry)
		if !ok {
			return fmt.Errorf("%w: row %d has no geometry", ErrValidation, i)
		}
		if _, ok := v.(geo.Point); !ok {
			return fmt.Errorf("%w: row %d geometry is %T, not a point", ErrValidation, i, v)
		}
	}

	declared := make(map[string]bool, len(f.columns))
	for _, c := range f.columns {
		declared[c] = true
	}
	for _, c := range f.columns {
		if baselineColumns[c] {
			continue
		}
		if strings.HasSuffix(c, UnitsSuffix) {
			base := strings.TrimSuffix(c, UnitsSuffix)
			if !declared[base] {
				return fmt.Errorf("%w: units column %q has no value column %q", ErrValidation, c, base)
			}
			continue
		}
		if !declared[c+UnitsSuffix] {
			return fmt.Errorf("%w: column %q has no paired %q column", ErrValidation, c, c+UnitsSuffix)
		}
	}
	return nil
}
