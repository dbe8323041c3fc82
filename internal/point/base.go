package point

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/variables"
)

// Resolver supplies the datasource-specific lookups behind the lazy
// Metadata and Timezone accessors. Adapters pass themselves in.
type Resolver interface {
	ResolveMetadata(ctx context.Context) (geo.Point, error)
	ResolveTimezone(ctx context.Context) (*time.Location, error)
}

// Base carries station identity and the lazy metadata/timezone caches
// shared by every adapter. A resolve failure leaves the cache empty so the
// next access retries; there is no negative caching. Successful resolution
// is cached for the lifetime of the station.
type Base struct {
	id     string
	name   string
	source string

	resolver Resolver

	mu   sync.Mutex
	meta *geo.Point
	tz   *time.Location
}

// NewBase builds the shared station state. resolver may be nil when
// metadata and timezone are set statically.
func NewBase(id, name, source string, resolver Resolver) Base {
	return Base{id: id, name: name, source: source, resolver: resolver}
}

func (b *Base) ID() string     { return b.id }
func (b *Base) Name() string   { return b.name }
func (b *Base) Source() string { return b.source }

// SetName fills in a name discovered after construction, e.g. from a
// station info table keyed by id.
func (b *Base) SetName(name string) { b.name = name }

// SetMetadata seeds the location cache, bypassing resolution. Used when a
// station is built from a search-result row that already carries geometry.
func (b *Base) SetMetadata(p geo.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta = &p
}

// SetTimezone seeds the timezone cache for datasources with a fixed zone.
func (b *Base) SetTimezone(loc *time.Location) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tz = loc
}

// Metadata returns the cached station location, resolving it on first use.
func (b *Base) Metadata(ctx context.Context) (geo.Point, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meta != nil {
		return *b.meta, nil
	}
	if b.resolver == nil {
		return geo.Point{}, fmt.Errorf("station %s has no metadata resolver", b.id)
	}
	p, err := b.resolver.ResolveMetadata(ctx)
	if err != nil {
		return geo.Point{}, err
	}
	b.meta = &p
	return p, nil
}

// Timezone returns the cached station timezone, resolving it on first use.
func (b *Base) Timezone(ctx context.Context) (*time.Location, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tz != nil {
		return b.tz, nil
	}
	if b.resolver == nil {
		return nil, fmt.Errorf("station %s has no timezone resolver", b.id)
	}
	loc, err := b.resolver.ResolveTimezone(ctx)
	if err != nil {
		return nil, err
	}
	b.tz = loc
	return loc, nil
}

// Default data methods. Adapters override the durations they support.

func (b *Base) DailyData(context.Context, time.Time, time.Time, []variables.SensorDescription) (*frame.Frame, error) {
	return nil, fmt.Errorf("%w: %s daily data", ErrUnsupported, b.source)
}

func (b *Base) HourlyData(context.Context, time.Time, time.Time, []variables.SensorDescription) (*frame.Frame, error) {
	return nil, fmt.Errorf("%w: %s hourly data", ErrUnsupported, b.source)
}

func (b *Base) SnowCourseData(context.Context, time.Time, time.Time, []variables.SensorDescription) (*frame.Frame, error) {
	return nil, fmt.Errorf("%w: %s snow course data", ErrUnsupported, b.source)
}

// LocalizeToUTC interprets a naive timestamp in the station's zone and
// converts it to UTC.
func LocalizeToUTC(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc).UTC()
}
