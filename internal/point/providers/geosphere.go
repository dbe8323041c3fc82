package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/variables"
)

const metersToFeet = 3.28084

const (
	geoSphereBaseURL     = "https://dataset.api.hub.geosphere.at"
	geoSphereCurrentPath = "/v1/station/historical/tawes-v1-10min"
	geoSphereCurrentMeta = "/v1/station/current/tawes-v1-10min/metadata"
	geoSphereHistPath    = "/v1/station/historical/klima-v1-1d"
	geoSphereHistMeta    = "/v1/station/historical/klima-v1-1d/metadata"
)

// geoSphereStation is the shared base for the two GeoSphere Austria
// datasets. https://dataset.api.hub.geosphere.at/v1/docs/index.html
type geoSphereStation struct {
	point.Base

	dataURL  string
	metaURL  string
	registry variables.Registry

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// GeoSphereCurrentStation serves the tawes-v1-10min dataset: 10 minute
// data covering roughly the last three months, resampled on the client.
type GeoSphereCurrentStation struct {
	geoSphereStation
}

// GeoSphereHistStation serves the klima-v1-1d dataset: historical daily
// data. Hourly data exists upstream under different parameter names and is
// not covered.
type GeoSphereHistStation struct {
	geoSphereStation
}

// NewGeoSphereCurrentStation builds a station over the recent 10 minute
// dataset.
func NewGeoSphereCurrentStation(client *http.Client, id, name string) *GeoSphereCurrentStation {
	s := &GeoSphereCurrentStation{geoSphereStation{
		dataURL:  geoSphereBaseURL + geoSphereCurrentPath,
		metaURL:  geoSphereBaseURL + geoSphereCurrentMeta,
		registry: variables.GeoSphereCurrent,
		httpCfg:  defaultHTTPConfig(client),
		circuit:  newCircuit("geosphere"),
	}}
	s.Base = point.NewBase(id, name, variables.SourceGeoSphere, s)
	return s
}

// NewGeoSphereHistStation builds a station over the historical daily
// dataset.
func NewGeoSphereHistStation(client *http.Client, id, name string) *GeoSphereHistStation {
	s := &GeoSphereHistStation{geoSphereStation{
		dataURL:  geoSphereBaseURL + geoSphereHistPath,
		metaURL:  geoSphereBaseURL + geoSphereHistMeta,
		registry: variables.GeoSphereHist,
		httpCfg:  defaultHTTPConfig(client),
		circuit:  newCircuit("geosphere"),
	}}
	s.Base = point.NewBase(id, name, variables.SourceGeoSphere, s)
	return s
}

type geoSphereStationMeta struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Altitude float64 `json:"altitude"`
	IsActive string  `json:"is_active"`
}

func (m geoSphereStationMeta) geoPoint() geo.Point {
	return geo.Point{Lon: m.Lon, Lat: m.Lat, Elevation: m.Altitude * metersToFeet}
}

// stationList fetches the dataset's full station metadata table.
func (s *geoSphereStation) stationList(ctx context.Context) ([]geoSphereStationMeta, error) {
	var payload struct {
		Stations []geoSphereStationMeta `json:"stations"`
	}
	err := getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, s.metaURL, nil)
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("geosphere: fetching station list: %w", err)
	}
	return payload.Stations, nil
}

// ResolveMetadata scans the dataset station table for this id. Altitude is
// reported in meters and converted to feet.
func (s *geoSphereStation) ResolveMetadata(ctx context.Context) (geo.Point, error) {
	stations, err := s.stationList(ctx)
	if err != nil {
		return geo.Point{}, err
	}
	for _, meta := range stations {
		if meta.ID == s.ID() {
			return meta.geoPoint(), nil
		}
	}
	return geo.Point{}, fmt.Errorf("geosphere: no matching metadata for %s", s.ID())
}

func (s *geoSphereStation) ResolveTimezone(context.Context) (*time.Location, error) {
	return time.UTC, nil
}

type geoSphereResponse struct {
	Timestamps []string `json:"timestamps"`
	Features   []struct {
		Properties struct {
			Parameters map[string]struct {
				Unit string     `json:"unit"`
				Data []*float64 `json:"data"`
			} `json:"parameters"`
		} `json:"properties"`
	} `json:"features"`
}

// getData requests all sensors in one call and merges per-sensor frames,
// resampling when the dataset grain is finer than the requested duration.
func (s *geoSphereStation) getData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription, resampleTo time.Duration) (*frame.Frame, error) {
	geom, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	requested := make([]variables.SensorDescription, 0, len(vars))
	codes := make([]string, 0, len(vars))
	for _, v := range vars {
		if !s.registry.Contains(v) {
			logSkippedVariable(variables.SourceGeoSphere, s.ID(), v.Name, "not in this dataset")
			continue
		}
		requested = append(requested, v)
		codes = append(codes, v.Code)
	}
	if len(requested) == 0 {
		return nil, nil
	}

	var payload geoSphereResponse
	err = getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		q := url.Values{
			"parameters":  {strings.Join(codes, ",")},
			"station_ids": {s.ID()},
			"start":       {start.UTC().Format("2006-01-02T15:04:05")},
			"end":         {end.UTC().Format("2006-01-02T15:04:05")},
		}
		return http.NewRequest(http.MethodGet, s.dataURL+"?"+q.Encode(), nil)
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("geosphere: fetching data for %s: %w", s.ID(), err)
	}
	if len(payload.Features) == 0 {
		return nil, nil
	}

	times := make([]time.Time, 0, len(payload.Timestamps))
	for _, stamp := range payload.Timestamps {
		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			return nil, fmt.Errorf("geosphere: parsing timestamp %q: %w", stamp, err)
		}
		times = append(times, t.UTC())
	}
	params := payload.Features[0].Properties.Parameters

	var df *frame.Frame
	for _, sensor := range requested {
		param, ok := params[sensor.Code]
		if !ok {
			logSkippedVariable(variables.SourceGeoSphere, s.ID(), sensor.Name, "no data returned")
			continue
		}
		sdf := frame.New(sensor.Name)
		for i, t := range times {
			if i >= len(param.Data) || param.Data[i] == nil {
				continue
			}
			sdf.Append(t, s.ID(), frame.C(sensor.Name, *param.Data[i]))
		}
		if resampleTo > 0 {
			sdf = frame.ResampleSeries(sdf, sensor, resampleTo)
		}
		if sdf.Len() == 0 {
			logSkippedVariable(variables.SourceGeoSphere, s.ID(), sensor.Name, "no data returned")
			continue
		}
		sdf.SetConst(sensor.UnitsColumn(), param.Unit)
		df, err = frame.Merge(df, sdf)
		if err != nil {
			return nil, err
		}
	}
	if df != nil {
		df = df.DropNulls()
	}
	return finalize(df, s.ID(), variables.SourceGeoSphere, geom)
}

// validateRecentWindow rejects requests older than the roughly three
// months the 10 minute dataset keeps.
func validateRecentWindow(end time.Time) error {
	oldest := time.Now().AddDate(0, -3, 0)
	if end.Before(oldest) {
		return fmt.Errorf("geosphere: no 10 minute data older than %s", oldest.Format("2006-01-02"))
	}
	return nil
}

func (s *GeoSphereCurrentStation) DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	if err := validateRecentWindow(end); err != nil {
		return nil, err
	}
	return s.getData(ctx, start, end, vars, 24*time.Hour)
}

func (s *GeoSphereCurrentStation) HourlyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	if err := validateRecentWindow(end); err != nil {
		return nil, err
	}
	return s.getData(ctx, start, end, vars, time.Hour)
}

func (s *GeoSphereHistStation) DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, 0)
}

// geoSphereSearcher implements geometric station search over a dataset's
// metadata table. The API cannot filter stations by variable, so the
// requested variables do not narrow the search.
type geoSphereSearcher struct {
	client *http.Client
	hist   bool

	// FilterToActive drops stations the dataset marks inactive.
	FilterToActive bool
}

// NewGeoSphereCurrentSearcher searches the recent 10 minute dataset.
func NewGeoSphereCurrentSearcher(client *http.Client) point.Searcher {
	return &geoSphereSearcher{client: client}
}

// NewGeoSphereHistSearcher searches the historical daily dataset.
func NewGeoSphereHistSearcher(client *http.Client) point.Searcher {
	return &geoSphereSearcher{client: client, hist: true}
}

func (g *geoSphereSearcher) PointsFromGeometry(ctx context.Context, boundary geo.Polygon, _ []variables.SensorDescription, opts point.SearchOptions) (*point.Collection, error) {
	if opts.SnowCourses {
		return point.NewCollection(), nil
	}

	var base *geoSphereStation
	if g.hist {
		base = &NewGeoSphereHistStation(g.client, "", "").geoSphereStation
	} else {
		base = &NewGeoSphereCurrentStation(g.client, "", "").geoSphereStation
	}
	stations, err := base.stationList(ctx)
	if err != nil {
		return nil, err
	}

	bounds := boundary.Bounds().Buffer(opts.BufferDegrees)
	collection := point.NewCollection()
	for _, meta := range stations {
		p := meta.geoPoint()
		if opts.WithinGeometry {
			if !boundary.Contains(p) {
				continue
			}
		} else if !bounds.Contains(p) {
			continue
		}
		if g.FilterToActive && meta.IsActive != "true" {
			continue
		}
		if g.hist {
			st := NewGeoSphereHistStation(g.client, meta.ID, meta.Name)
			st.SetMetadata(p)
			collection.Add(st)
		} else {
			st := NewGeoSphereCurrentStation(g.client, meta.ID, meta.Name)
			st.SetMetadata(p)
			collection.Add(st)
		}
	}
	return collection, nil
}
