// Package variables describes the measurable quantities each datasource
// knows about. Sensors with the same physical meaning across datasources
// share the same Name so that merged frames line up on column identity.
package variables

import (
	"errors"
	"fmt"
)

// Default field values mark a sensor that was never filled in. A description
// carrying both is the "no such sensor" sentinel and must never be returned
// from a registry lookup.
const (
	DefaultCode = "-1"
	DefaultName = "basename"
)

// ErrNotFound is returned when a registry has no sensor for a code.
var ErrNotFound = errors.New("sensor not found")

// SensorDescription describes one variable as understood by one datasource.
type SensorDescription struct {
	// Code is the identifier used within the datasource API.
	Code string
	// Name is the canonical display name and the output column name.
	Name string
	// Description is free text about the sensor.
	Description string
	// Accumulated marks a running total. Accumulated series are summed on
	// resample instead of averaged.
	Accumulated bool
	// Units is a static unit string for datasources that do not return
	// units in-band.
	Units string
	// Extra carries datasource-specific side-channel data, e.g. the
	// instrument name for CUES. Excluded from equality.
	Extra map[string]string
}

// IsDefault reports whether s is the unset sentinel.
func (s SensorDescription) IsDefault() bool {
	return s.Code == DefaultCode && s.Name == DefaultName
}

// Equal compares code and name, the fields that define sensor identity.
func (s SensorDescription) Equal(other SensorDescription) bool {
	return s.Code == other.Code && s.Name == other.Name
}

// StrictEqual compares all fields except Extra.
func (s SensorDescription) StrictEqual(other SensorDescription) bool {
	return s.Code == other.Code && s.Name == other.Name &&
		s.Description == other.Description &&
		s.Accumulated == other.Accumulated &&
		s.Units == other.Units
}

// UnitsColumn is the name of the units column paired with this sensor's
// value column.
func (s SensorDescription) UnitsColumn() string {
	return s.Name + "_units"
}

func (s SensorDescription) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.Code)
}

// Registry is the fixed set of sensors one datasource declares.
type Registry struct {
	source  string
	sensors []SensorDescription
}

// NewRegistry builds a registry for the named datasource. Declaration order
// is preserved; FromCode returns the first match.
func NewRegistry(source string, sensors ...SensorDescription) Registry {
	return Registry{source: source, sensors: sensors}
}

// Source returns the datasource tag the registry belongs to.
func (r Registry) Source() string { return r.source }

// Sensors returns the declared sensors in declaration order.
func (r Registry) Sensors() []SensorDescription {
	out := make([]SensorDescription, len(r.sensors))
	copy(out, r.sensors)
	return out
}

// Contains reports whether the registry declares a sensor equal to s.
func (r Registry) Contains(s SensorDescription) bool {
	for _, v := range r.sensors {
		if v.Equal(s) {
			return true
		}
	}
	return false
}

// FromCode finds the first declared sensor whose code matches. The code may
// be any value with a string representation; integers compare against the
// string form. Matching the unset sentinel is an error, not a hit.
func (r Registry) FromCode(code any) (SensorDescription, error) {
	want := fmt.Sprint(code)
	for _, v := range r.sensors {
		if v.Code == want {
			if v.IsDefault() {
				return SensorDescription{}, fmt.Errorf(
					"%w: %q only matches the default sensor in %s", ErrNotFound, want, r.source)
			}
			return v, nil
		}
	}
	return SensorDescription{}, fmt.Errorf("%w: no sensor for code %q in %s", ErrNotFound, want, r.source)
}

// FromName finds the first declared sensor with the given canonical name.
// Matching the unset sentinel is an error, not a hit.
func (r Registry) FromName(name string) (SensorDescription, error) {
	for _, v := range r.sensors {
		if v.Name == name {
			if v.IsDefault() {
				return SensorDescription{}, fmt.Errorf(
					"%w: %q only matches the default sensor in %s", ErrNotFound, name, r.source)
			}
			return v, nil
		}
	}
	return SensorDescription{}, fmt.Errorf("%w: no sensor named %q in %s", ErrNotFound, name, r.source)
}
