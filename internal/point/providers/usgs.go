package providers

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/variables"
)

// USGS service durations. "dv" is daily values, "iv" instantaneous values.
const (
	usgsDurationDaily   = "dv"
	usgsDurationInstant = "iv"
)

// DefaultUSGSFallback is the duration preference for daily requests: daily
// values first, instantaneous values resampled to daily as the fallback.
// Kept as data rather than logic so the policy can be corrected per station.
var DefaultUSGSFallback = []string{usgsDurationDaily, usgsDurationInstant}

// USGSStation implements point.Station for USGS water services.
// https://waterservices.usgs.gov/rest/DV-Service.html
type USGSStation struct {
	point.Base

	baseURL string
	siteURL string

	// DurationFallback is tried in order for daily requests.
	DurationFallback []string

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewUSGSStation builds a USGS station.
func NewUSGSStation(client *http.Client, id, name string) *USGSStation {
	s := &USGSStation{
		baseURL:          "https://waterservices.usgs.gov/nwis/",
		siteURL:          "https://waterservices.usgs.gov/nwis/site/",
		DurationFallback: append([]string(nil), DefaultUSGSFallback...),
		httpCfg:          defaultHTTPConfig(client),
		circuit:          newCircuit("usgs"),
	}
	s.Base = point.NewBase(id, name, variables.SourceUSGS, s)
	return s
}

// ResolveMetadata reads the site service (rdb format) for the station
// coordinates and altitude.
func (s *USGSStation) ResolveMetadata(ctx context.Context) (geo.Point, error) {
	rows, err := s.siteSearch(ctx, url.Values{"sites": {s.ID()}})
	if err != nil {
		return geo.Point{}, err
	}
	for _, r := range rows {
		if r.id == s.ID() {
			return r.point, nil
		}
	}
	return geo.Point{}, fmt.Errorf("usgs: no site metadata for %s", s.ID())
}

// ResolveTimezone returns UTC: USGS responses carry their own zone offset
// in sourceInfo, and timestamps are converted during parsing.
func (s *USGSStation) ResolveTimezone(context.Context) (*time.Location, error) {
	return time.UTC, nil
}

type usgsTimeSeries struct {
	SourceInfo struct {
		GeoLocation struct {
			GeogLocation struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"geogLocation"`
		} `json:"geoLocation"`
		TimeZoneInfo struct {
			DefaultTimeZone struct {
				ZoneOffset string `json:"zoneOffset"`
			} `json:"defaultTimeZone"`
		} `json:"timeZoneInfo"`
	} `json:"sourceInfo"`
	Variable struct {
		Unit struct {
			UnitCode string `json:"unitCode"`
		} `json:"unit"`
	} `json:"variable"`
	Values []struct {
		Value []struct {
			Value      string   `json:"value"`
			Qualifiers []string `json:"qualifiers"`
			DateTime   string   `json:"dateTime"`
		} `json:"value"`
	} `json:"values"`
}

func (s *USGSStation) DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, s.DurationFallback)
}

func (s *USGSStation) HourlyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, []string{usgsDurationInstant})
}

// getData fetches each sensor with the duration fallback order, resamples
// finer-grained fallback data to the desired duration, and merges the
// per-sensor series.
func (s *USGSStation) getData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription, durations []string) (*frame.Frame, error) {
	if len(durations) == 0 {
		return nil, fmt.Errorf("usgs: duration list cannot be empty")
	}
	geom, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	desired := durations[0]

	var df *frame.Frame
	for _, sensor := range vars {
		if !variables.USGS.Contains(sensor) {
			logSkippedVariable(variables.SourceUSGS, s.ID(), sensor.Name, "not a USGS parameter")
			continue
		}
		series, gotDuration, err := s.fetchWithFallback(ctx, start, end, sensor, durations)
		if err != nil {
			return nil, err
		}
		if series == nil {
			logSkippedVariable(variables.SourceUSGS, s.ID(), sensor.Name, "no data returned")
			continue
		}
		sdf := s.sensorFrame(series, sensor)
		if gotDuration != desired {
			units := firstUnits(sdf, sensor)
			sdf = frame.ResampleSeries(sdf, sensor, durationInterval(desired))
			if sdf != nil && units != "" {
				sdf.SetConst(sensor.UnitsColumn(), units)
			}
		}
		df, err = frame.Merge(df, sdf)
		if err != nil {
			return nil, err
		}
	}
	if df != nil {
		df = df.DropNulls()
	}
	return finalize(df, s.ID(), variables.SourceUSGS, geom)
}

// fetchWithFallback walks the duration preference list until one returns
// data. The duration that answered is reported so callers know whether a
// resample is needed.
func (s *USGSStation) fetchWithFallback(ctx context.Context, start, end time.Time, sensor variables.SensorDescription, durations []string) (*usgsTimeSeries, string, error) {
	for _, duration := range durations {
		var payload struct {
			Value struct {
				TimeSeries []usgsTimeSeries `json:"timeSeries"`
			} `json:"value"`
		}
		duration := duration
		err := getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
			q := url.Values{}
			if duration == usgsDurationDaily {
				q.Set("startDT", start.Format("2006-01-02"))
				q.Set("endDT", end.Format("2006-01-02"))
			} else {
				q.Set("startDT", start.Format(time.RFC3339))
				q.Set("endDT", end.Format(time.RFC3339))
			}
			q.Set("sites", s.ID())
			q.Set("parameterCd", sensor.Code)
			q.Set("format", "json")
			q.Set("siteStatus", "all")
			return http.NewRequest(http.MethodGet, s.baseURL+duration+"/?"+q.Encode(), nil)
		}, &payload)
		if err != nil {
			return nil, "", fmt.Errorf("usgs: fetching %s for %s: %w", sensor.Name, s.ID(), err)
		}
		if len(payload.Value.TimeSeries) > 0 && len(payload.Value.TimeSeries[0].Values) > 0 &&
			len(payload.Value.TimeSeries[0].Values[0].Value) > 0 {
			return &payload.Value.TimeSeries[0], duration, nil
		}
	}
	return nil, "", nil
}

// sensorFrame reshapes one time series into the per-variable frame shape.
// Naive timestamps are interpreted in the response's default zone offset.
func (s *USGSStation) sensorFrame(series *usgsTimeSeries, sensor variables.SensorDescription) *frame.Frame {
	zone := parseZoneOffset(series.SourceInfo.TimeZoneInfo.DefaultTimeZone.ZoneOffset)
	units := series.Variable.Unit.UnitCode

	df := frame.New(sensor.Name, sensor.UnitsColumn(), frame.ColQualityCode)
	for _, v := range series.Values[0].Value {
		t, ok := parseUSGSTime(v.DateTime, zone)
		if !ok {
			continue
		}
		val, err := strconv.ParseFloat(v.Value, 64)
		if err != nil || val == cdecNoDataValue {
			continue
		}
		cells := []frame.Cell{
			frame.C(sensor.Name, val),
			frame.C(sensor.UnitsColumn(), units),
		}
		if len(v.Qualifiers) > 0 {
			cells = append(cells, frame.C(frame.ColQualityCode, strings.Join(v.Qualifiers, ",")))
		}
		df.Append(t, s.ID(), cells...)
	}
	return df
}

func parseUSGSTime(value string, zone *time.Location) (time.Time, bool) {
	if t, err := time.Parse("2006-01-02T15:04:05.000-07:00", value); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02T15:04:05.000", value); err == nil {
		return point.LocalizeToUTC(t, zone), true
	}
	return time.Time{}, false
}

// parseZoneOffset converts offsets like "-08:00" into a fixed zone.
func parseZoneOffset(offset string) *time.Location {
	if offset == "" {
		return time.UTC
	}
	sign := 1
	trimmed := offset
	if strings.HasPrefix(offset, "-") {
		sign = -1
		trimmed = offset[1:]
	} else if strings.HasPrefix(offset, "+") {
		trimmed = offset[1:]
	}
	parts := strings.SplitN(trimmed, ":", 2)
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.UTC
	}
	minutes := 0
	if len(parts) == 2 {
		minutes, _ = strconv.Atoi(parts[1])
	}
	return time.FixedZone(offset, sign*(hours*3600+minutes*60))
}

func firstUnits(df *frame.Frame, sensor variables.SensorDescription) string {
	for _, r := range df.Rows() {
		if v, ok := r.Value(sensor.UnitsColumn()); ok {
			if u, ok := v.(string); ok {
				return u
			}
		}
	}
	return ""
}

func durationInterval(duration string) time.Duration {
	if duration == usgsDurationDaily {
		return 24 * time.Hour
	}
	return time.Hour
}

// usgsSearcher implements geometric station search over the USGS site
// service.
type usgsSearcher struct {
	client *http.Client
}

// NewUSGSSearcher returns the USGS station search.
func NewUSGSSearcher(client *http.Client) point.Searcher {
	return &usgsSearcher{client: client}
}

// PointsFromGeometry queries the site service for stations inside the
// bounding box measuring any of the requested parameters. USGS has no
// snow course concept.
func (u *usgsSearcher) PointsFromGeometry(ctx context.Context, boundary geo.Polygon, vars []variables.SensorDescription, opts point.SearchOptions) (*point.Collection, error) {
	if opts.SnowCourses {
		return point.NewCollection(), nil
	}
	bounds := boundary.Bounds().Buffer(opts.BufferDegrees)
	tmpl := NewUSGSStation(u.client, "", "")

	codes := make([]string, 0, len(vars))
	for _, v := range vars {
		if variables.USGS.Contains(v) {
			codes = append(codes, v.Code)
		}
	}
	if len(codes) == 0 {
		return point.NewCollection(), nil
	}

	q := url.Values{}
	q.Set("bBox", fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY))
	q.Set("parameterCd", strings.Join(codes, ","))
	q.Set("siteStatus", "active")
	rows, err := tmpl.siteSearch(ctx, q)
	if err != nil {
		return nil, err
	}

	collection := point.NewCollection()
	seen := make(map[string]bool)
	for _, row := range rows {
		if seen[row.id] {
			continue
		}
		seen[row.id] = true
		if opts.WithinGeometry && !boundary.Contains(row.point) {
			continue
		}
		st := NewUSGSStation(u.client, row.id, row.name)
		st.SetMetadata(row.point)
		collection.Add(st)
	}
	return collection, nil
}

type usgsSiteRow struct {
	id    string
	name  string
	point geo.Point
}

// siteSearch queries the site service in rdb (tab-delimited) format.
func (s *USGSStation) siteSearch(ctx context.Context, query url.Values) ([]usgsSiteRow, error) {
	resp, err := doRequestWithResilience(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		q := url.Values{}
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		q.Set("format", "rdb")
		return http.NewRequest(http.MethodGet, s.siteURL+"?"+q.Encode(), nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rows []usgsSiteRow
	var header map[string]int
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if header == nil {
			header = make(map[string]int, len(fields))
			for i, h := range fields {
				header[h] = i
			}
			continue
		}
		// rdb column-size row, e.g. "5s	15s	...".
		if strings.HasSuffix(fields[0], "s") || strings.HasSuffix(fields[0], "d") {
			if _, err := strconv.Atoi(strings.TrimRight(fields[0], "sd")); err == nil {
				continue
			}
		}
		row := usgsSiteRow{
			id:   tabField(fields, header, "site_no"),
			name: tabField(fields, header, "station_nm"),
		}
		lat, _ := strconv.ParseFloat(tabField(fields, header, "dec_lat_va"), 64)
		lon, _ := strconv.ParseFloat(tabField(fields, header, "dec_long_va"), 64)
		elev, _ := strconv.ParseFloat(tabField(fields, header, "alt_va"), 64)
		row.point = geo.Point{Lon: lon, Lat: lat, Elevation: elev}
		if row.id != "" {
			rows = append(rows, row)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("usgs: reading site search: %w", err)
	}
	return rows, nil
}

func tabField(fields []string, header map[string]int, name string) string {
	if i, ok := header[name]; ok && i < len(fields) {
		return fields[i]
	}
	return ""
}
