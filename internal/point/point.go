// Package point defines the contract every datasource adapter satisfies:
// identity, lazily resolved geolocation and timezone, per-duration data
// retrieval, and geometric station search.
package point

import (
	"context"
	"errors"
	"time"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/variables"
)

// ErrUnsupported is returned when a datasource has no concept of the
// requested capability, e.g. snow course data from an automated-only network.
var ErrUnsupported = errors.New("operation not supported by datasource")

// Station is one observation location for one datasource.
//
// Data methods return a frame indexed on (datetime UTC, site) with the
// baseline columns plus a value/units column pair per requested variable
// that yielded data. A nil frame with a nil error means the request was
// well-formed but the datasource has nothing for it.
type Station interface {
	ID() string
	Name() string
	Source() string

	// Metadata resolves the station location on first call and caches it.
	Metadata(ctx context.Context) (geo.Point, error)
	// Timezone resolves the station's local timezone on first call and
	// caches it. Raw datasource timestamps arrive in this zone and are
	// converted to UTC before frames are returned.
	Timezone(ctx context.Context) (*time.Location, error)

	DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error)
	HourlyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error)
	// SnowCourseData returns manually collected, typically monthly series.
	// Datasources without the concept return ErrUnsupported.
	SnowCourseData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error)
}

// SearchOptions tune a geometric station search.
type SearchOptions struct {
	// SnowCourses restricts results to stations sampling the requested
	// variables on a manual/monthly cadence; when false, such stations
	// are excluded.
	SnowCourses bool
	// WithinGeometry requires exact polygon containment instead of the
	// bounding-box overlap default.
	WithinGeometry bool
	// BufferDegrees expands the search bounding box on every side.
	BufferDegrees float64
}

// Searcher finds stations inside a boundary that measure at least one of
// the requested variables.
type Searcher interface {
	PointsFromGeometry(ctx context.Context, boundary geo.Polygon, vars []variables.SensorDescription, opts SearchOptions) (*Collection, error)
}
