// Package service orchestrates fetching station data across datasources
// and persisting the resulting frames.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/variables"
)

// Duration selects the sampling interval of a data request.
type Duration string

const (
	DurationDaily      Duration = "daily"
	DurationHourly     Duration = "hourly"
	DurationSnowCourse Duration = "snow_course"
)

// ParseDuration validates a duration string from the outside.
func ParseDuration(s string) (Duration, error) {
	switch Duration(s) {
	case DurationDaily, DurationHourly, DurationSnowCourse:
		return Duration(s), nil
	}
	return "", fmt.Errorf("unknown duration %q", s)
}

// StationRef identifies one station of one datasource.
type StationRef struct {
	Source string `json:"source"`
	ID     string `json:"id"`
}

// Source bundles what the service knows about one datasource: its sensor
// registry, how to build a station, and optionally how to search for
// stations geographically.
type Source struct {
	Name       string
	Registry   variables.Registry
	NewStation func(id, name string) (point.Station, error)
	// Searcher is nil for datasources without geographic discovery.
	Searcher point.Searcher
}

// Store persists fetched frames per station and duration.
type Store interface {
	Save(ref StationRef, duration Duration, df *frame.Frame)
	Latest(ref StationRef, duration Duration) (*frame.Frame, error)
}

// Service fans data requests out across datasources.
type Service struct {
	store   Store
	sources map[string]Source
}

// New builds a Service over the given sources.
func New(store Store, sources []Source) *Service {
	m := make(map[string]Source, len(sources))
	for _, src := range sources {
		m[src.Name] = src
	}
	return &Service{store: store, sources: m}
}

// SourceNames returns the configured datasource names, sorted.
func (s *Service) SourceNames() []string {
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// source resolves a datasource by name.
func (s *Service) source(name string) (Source, error) {
	src, ok := s.sources[name]
	if !ok {
		return Source{}, fmt.Errorf("unknown datasource %q", name)
	}
	return src, nil
}

// resolveSensors translates canonical variable names through a source's
// registry. Names the source does not declare are an error; data requests
// are explicit about what they want.
func resolveSensors(src Source, varNames []string) ([]variables.SensorDescription, error) {
	sensors := make([]variables.SensorDescription, 0, len(varNames))
	for _, name := range varNames {
		sensor, err := src.Registry.FromName(name)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}
	return sensors, nil
}

// Fetch pulls one station's data at the given duration. A nil frame with
// nil error means the station had no data for the window.
func (s *Service) Fetch(ctx context.Context, ref StationRef, d Duration, start, end time.Time, varNames []string) (*frame.Frame, error) {
	src, err := s.source(ref.Source)
	if err != nil {
		return nil, err
	}
	sensors, err := resolveSensors(src, varNames)
	if err != nil {
		return nil, err
	}
	station, err := src.NewStation(ref.ID, "")
	if err != nil {
		return nil, err
	}
	switch d {
	case DurationDaily:
		return station.DailyData(ctx, start, end, sensors)
	case DurationHourly:
		return station.HourlyData(ctx, start, end, sensors)
	case DurationSnowCourse:
		return station.SnowCourseData(ctx, start, end, sensors)
	}
	return nil, fmt.Errorf("unknown duration %q", d)
}

// Sample fetches the same window from several stations concurrently and
// appends the results into one frame. Station failures are logged and
// skipped; the call fails only when every station fails.
func (s *Service) Sample(ctx context.Context, refs []StationRef, d Duration, start, end time.Time, varNames []string) (*frame.Frame, error) {
	if len(refs) == 0 {
		return nil, errors.New("no stations requested")
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		frames []*frame.Frame
		errs   []error
	)
	for _, ref := range refs {
		wg.Add(1)
		go func(ref StationRef) {
			defer wg.Done()
			df, err := s.Fetch(ctx, ref, d, start, end, varNames)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("service: fetch failed for %s %s: %v", ref.Source, ref.ID, err)
				errs = append(errs, err)
				return
			}
			if df != nil {
				frames = append(frames, df)
			}
		}(ref)
	}
	wg.Wait()

	if len(frames) == 0 {
		if len(errs) == len(refs) && len(errs) > 0 {
			return nil, fmt.Errorf("all %d station fetches failed: %w", len(refs), errs[0])
		}
		return nil, nil
	}
	out := frames[0]
	for _, df := range frames[1:] {
		out = frame.Append(out, df)
	}
	out.Sort()
	return out, nil
}

// FetchAndStore fetches the trailing window for each station and saves
// the successful frames. Partial success is fine; the error reports only
// a total failure.
func (s *Service) FetchAndStore(ctx context.Context, refs []StationRef, d Duration, window time.Duration, varNames []string) error {
	if len(refs) == 0 {
		return errors.New("no stations configured")
	}
	end := time.Now().UTC()
	start := end.Add(-window)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, ref := range refs {
		wg.Add(1)
		go func(ref StationRef) {
			defer wg.Done()
			df, err := s.Fetch(ctx, ref, d, start, end, varNames)
			if err != nil {
				log.Printf("service: fetch failed for %s %s: %v", ref.Source, ref.ID, err)
				return
			}
			if df == nil {
				log.Printf("service: no data for %s %s; keeping last snapshot if any", ref.Source, ref.ID)
				return
			}
			s.store.Save(ref, d, df)
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(ref)
	}
	wg.Wait()

	if succeeded == 0 {
		return fmt.Errorf("no station data stored for any of %d stations", len(refs))
	}
	return nil
}

// Latest returns the most recently stored frame for a station.
func (s *Service) Latest(ref StationRef, d Duration) (*frame.Frame, error) {
	return s.store.Latest(ref, d)
}

// Search fans geographic station discovery out across datasources.
// sourceNames narrows the search; empty means every source that supports
// discovery. Variable names unknown to a source simply exclude that
// source, mirroring how a multi-network search naturally partitions.
func (s *Service) Search(ctx context.Context, boundary geo.Polygon, varNames []string, opts point.SearchOptions, sourceNames []string) (*point.Collection, error) {
	if len(sourceNames) == 0 {
		sourceNames = s.SourceNames()
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		combined = point.NewCollection()
		errs     []error
		searched int
	)
	for _, name := range sourceNames {
		src, err := s.source(name)
		if err != nil {
			return nil, err
		}
		if src.Searcher == nil {
			continue
		}
		sensors := make([]variables.SensorDescription, 0, len(varNames))
		for _, vn := range varNames {
			if sensor, err := src.Registry.FromName(vn); err == nil {
				sensors = append(sensors, sensor)
			}
		}
		if len(varNames) > 0 && len(sensors) == 0 {
			continue
		}
		searched++

		wg.Add(1)
		go func(src Source, sensors []variables.SensorDescription) {
			defer wg.Done()
			col, err := src.Searcher.PointsFromGeometry(ctx, boundary, sensors, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("service: station search failed for %s: %v", src.Name, err)
				errs = append(errs, err)
				return
			}
			for _, st := range col.Stations() {
				combined.Add(st)
			}
		}(src, sensors)
	}
	wg.Wait()

	if searched > 0 && len(errs) == searched {
		return nil, fmt.Errorf("station search failed on every datasource: %w", errs[0])
	}
	return combined, nil
}
