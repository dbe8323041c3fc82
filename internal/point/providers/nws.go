package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/variables"
)

// NWSStation implements point.Station for the National Weather Service
// forecast API. Data comes from the raw forecastGridData endpoint, so the
// station geometry is the CENTER of the forecast grid cell, not the point
// the station was built with.
// https://www.weather.gov/documentation/services-web-api
type NWSStation struct {
	point.Base

	baseURL string
	// initial is the point used to look up the forecast grid cell.
	initial geo.Point

	office string
	gridX  int
	gridY  int

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewNWSStation builds a forecast station for the grid cell covering
// initial.
func NewNWSStation(client *http.Client, id, name string, initial geo.Point) *NWSStation {
	s := &NWSStation{
		baseURL: "https://api.weather.gov",
		initial: initial,
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuit("nws"),
	}
	s.Base = point.NewBase(id, name, variables.SourceNWS, s)
	return s
}

type nwsGridParameter struct {
	UOM    string `json:"uom"`
	Values []struct {
		ValidTime string   `json:"validTime"`
		Value     *float64 `json:"value"`
	} `json:"values"`
}

// ResolveMetadata looks up the grid cell for the initial point and returns
// the cell centroid with the grid elevation converted to feet.
func (s *NWSStation) ResolveMetadata(ctx context.Context) (geo.Point, error) {
	if err := s.resolveGrid(ctx); err != nil {
		return geo.Point{}, err
	}
	var payload struct {
		Geometry struct {
			Coordinates [][][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Elevation struct {
				Value float64 `json:"value"`
			} `json:"elevation"`
		} `json:"properties"`
	}
	err := getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, s.gridURL(), nil)
	}, &payload)
	if err != nil {
		return geo.Point{}, fmt.Errorf("nws: fetching grid cell: %w", err)
	}
	if len(payload.Geometry.Coordinates) == 0 || len(payload.Geometry.Coordinates[0]) == 0 {
		return geo.Point{}, fmt.Errorf("nws: grid cell %s has no geometry", s.ID())
	}
	ring := payload.Geometry.Coordinates[0]
	var lon, lat float64
	// The first vertex repeats at the end of the ring.
	n := len(ring) - 1
	if n < 1 {
		n = len(ring)
	}
	for _, c := range ring[:n] {
		lon += c[0]
		lat += c[1]
	}
	return geo.Point{
		Lon:       lon / float64(n),
		Lat:       lat / float64(n),
		Elevation: payload.Properties.Elevation.Value * metersToFeet,
	}, nil
}

// ResolveTimezone returns UTC; grid data valid times are UTC.
func (s *NWSStation) ResolveTimezone(context.Context) (*time.Location, error) {
	return time.UTC, nil
}

// resolveGrid fills in the forecast office and grid coordinates from the
// points endpoint.
func (s *NWSStation) resolveGrid(ctx context.Context) error {
	if s.office != "" {
		return nil
	}
	var payload struct {
		Properties struct {
			GridID string `json:"gridId"`
			GridX  int    `json:"gridX"`
			GridY  int    `json:"gridY"`
		} `json:"properties"`
	}
	err := getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		url := fmt.Sprintf("%s/points/%.4f,%.4f", s.baseURL, s.initial.Lat, s.initial.Lon)
		return http.NewRequest(http.MethodGet, url, nil)
	}, &payload)
	if err != nil {
		return fmt.Errorf("nws: resolving grid cell for %s: %w", s.ID(), err)
	}
	s.office = payload.Properties.GridID
	s.gridX = payload.Properties.GridX
	s.gridY = payload.Properties.GridY
	return nil
}

func (s *NWSStation) gridURL() string {
	return fmt.Sprintf("%s/gridpoints/%s/%d,%d", s.baseURL, s.office, s.gridX, s.gridY)
}

// DailyForecast returns the roughly 7 day forecast resampled to daily
// values.
func (s *NWSStation) DailyForecast(ctx context.Context, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, vars, 24*time.Hour)
}

// HourlyForecast returns the roughly 7 day forecast at its native hourly
// grain.
func (s *NWSStation) HourlyForecast(ctx context.Context, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, vars, time.Hour)
}

// DailyData returns the daily forecast clipped to [start, end]. The API
// only serves the forecast window; historical ranges come back empty.
func (s *NWSStation) DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	df, err := s.DailyForecast(ctx, vars)
	return clipWindow(df, start, end), err
}

func (s *NWSStation) HourlyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	df, err := s.HourlyForecast(ctx, vars)
	return clipWindow(df, start, end), err
}

func (s *NWSStation) getData(ctx context.Context, vars []variables.SensorDescription, interval time.Duration) (*frame.Frame, error) {
	geom, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	err = getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, s.gridURL(), nil)
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("nws: fetching grid data: %w", err)
	}

	var df *frame.Frame
	for _, sensor := range vars {
		if !variables.NWS.Contains(sensor) {
			logSkippedVariable(variables.SourceNWS, s.ID(), sensor.Name, "not a forecast element")
			continue
		}
		raw, ok := payload.Properties[sensor.Code]
		if !ok {
			logSkippedVariable(variables.SourceNWS, s.ID(), sensor.Name, "no data returned")
			continue
		}
		var param nwsGridParameter
		if err := json.Unmarshal(raw, &param); err != nil {
			return nil, fmt.Errorf("nws: parsing %s grid data: %w", sensor.Code, err)
		}
		sdf := s.sensorFrame(param, sensor, interval)
		if sdf == nil {
			logSkippedVariable(variables.SourceNWS, s.ID(), sensor.Name, "no data returned")
			continue
		}
		df, err = frame.Merge(df, sdf)
		if err != nil {
			return nil, err
		}
	}
	if df != nil {
		df = df.DropNulls()
	}
	return finalize(df, s.ID(), variables.SourceNWS, geom)
}

// sensorFrame expands the grid parameter's valid-time periods into hourly
// samples and resamples to the requested interval. A grid value holds for
// its whole period, e.g. "2023-01-01T06:00:00+00:00/PT3H" yields three
// hourly rows.
func (s *NWSStation) sensorFrame(param nwsGridParameter, sensor variables.SensorDescription, interval time.Duration) *frame.Frame {
	unit := strings.TrimPrefix(param.UOM, "wmoUnit:")

	df := frame.New(sensor.Name)
	for _, v := range param.Values {
		if v.Value == nil {
			continue
		}
		start, span, ok := parseValidTime(v.ValidTime)
		if !ok {
			continue
		}
		value := *v.Value
		hours := int(span / time.Hour)
		if hours < 1 {
			hours = 1
		}
		// Accumulated amounts are spread so the period sum is preserved.
		if sensor.Accumulated && hours > 1 {
			value /= float64(hours)
		}
		for h := 0; h < hours; h++ {
			df.Append(start.Add(time.Duration(h)*time.Hour).UTC(), s.ID(), frame.C(sensor.Name, value))
		}
	}
	df = frame.ResampleSeries(df, sensor, interval)
	if df == nil {
		return nil
	}
	df.SetConst(sensor.UnitsColumn(), unit)
	return df
}

// parseValidTime splits an ISO8601 interval such as
// "2023-01-01T06:00:00+00:00/PT3H" into its start and duration.
func parseValidTime(value string) (time.Time, time.Duration, bool) {
	stamp, period, found := strings.Cut(value, "/")
	if !found {
		return time.Time{}, 0, false
	}
	start, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return time.Time{}, 0, false
	}
	return start, parseISODuration(period), true
}

// parseISODuration handles the PnDTnHnM durations the grid data uses.
func parseISODuration(period string) time.Duration {
	rest, ok := strings.CutPrefix(period, "P")
	if !ok {
		return 0
	}
	var total time.Duration
	datePart, timePart, _ := strings.Cut(rest, "T")
	var n int
	for len(datePart) > 0 {
		if _, err := fmt.Sscanf(datePart, "%d", &n); err != nil {
			break
		}
		digits := len(fmt.Sprint(n))
		unit := datePart[digits]
		switch unit {
		case 'D':
			total += time.Duration(n) * 24 * time.Hour
		case 'W':
			total += time.Duration(n) * 7 * 24 * time.Hour
		}
		datePart = datePart[digits+1:]
	}
	for len(timePart) > 0 {
		if _, err := fmt.Sscanf(timePart, "%d", &n); err != nil {
			break
		}
		digits := len(fmt.Sprint(n))
		unit := timePart[digits]
		switch unit {
		case 'H':
			total += time.Duration(n) * time.Hour
		case 'M':
			total += time.Duration(n) * time.Minute
		case 'S':
			total += time.Duration(n) * time.Second
		}
		timePart = timePart[digits+1:]
	}
	return total
}

// clipWindow drops rows outside [start, end]. A nil frame stays nil.
func clipWindow(df *frame.Frame, start, end time.Time) *frame.Frame {
	if df == nil {
		return nil
	}
	out := frame.New(df.Columns()...)
	for _, r := range df.Rows() {
		if r.Time.Before(start) || r.Time.After(end) {
			continue
		}
		out.AppendRow(r)
	}
	if out.Len() == 0 {
		return nil
	}
	return out
}
