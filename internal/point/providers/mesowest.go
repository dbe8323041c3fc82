package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/variables"
)

const (
	mesowestNoDataMessage = "No stations found for this request."
	mesowestNoDataValue   = -9999.0

	// EnvMesowestToken overrides the token file when set.
	EnvMesowestToken = "M3W_MESOWEST_TOKEN"
)

// MesowestToken loads the Synoptic Labs API token, preferring the
// environment variable over the token file (default ~/.synoptic_token.json,
// a JSON object with a "token" key).
func MesowestToken(tokenPath string) (string, error) {
	if tok := os.Getenv(EnvMesowestToken); tok != "" {
		return tok, nil
	}
	if tokenPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("mesowest: locating token file: %w", err)
		}
		tokenPath = filepath.Join(home, ".synoptic_token.json")
	}
	raw, err := os.ReadFile(tokenPath)
	if err != nil {
		return "", fmt.Errorf("mesowest: token file missing, sign up with Synoptic Labs and store it at %s: %w", tokenPath, err)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("mesowest: parsing token file: %w", err)
	}
	return payload.Token, nil
}

// MesowestStation implements point.Station for the Synoptic Labs
// (Mesowest) timeseries API. https://developers.synopticdata.com/mesonet/
type MesowestStation struct {
	point.Base

	dataURL string
	metaURL string
	token   string

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewMesowestStation builds a Mesowest station with the given API token.
func NewMesowestStation(client *http.Client, id, name, token string) *MesowestStation {
	s := &MesowestStation{
		dataURL: "https://api.synopticdata.com/v2/stations/timeseries",
		metaURL: "https://api.synopticdata.com/v2/stations/metadata",
		token:   token,
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuit("mesowest"),
	}
	s.Base = point.NewBase(id, name, variables.SourceMesowest, s)
	return s
}

type mesowestStationMeta struct {
	STID      string `json:"STID"`
	Name      string `json:"NAME"`
	Latitude  string `json:"LATITUDE"`
	Longitude string `json:"LONGITUDE"`
	Elevation string `json:"ELEVATION"`
}

func (m mesowestStationMeta) geoPoint() geo.Point {
	var p geo.Point
	fmt.Sscanf(m.Longitude, "%f", &p.Lon)
	fmt.Sscanf(m.Latitude, "%f", &p.Lat)
	fmt.Sscanf(m.Elevation, "%f", &p.Elevation)
	return p
}

// ResolveMetadata reads the station coordinates from the metadata endpoint.
func (s *MesowestStation) ResolveMetadata(ctx context.Context) (geo.Point, error) {
	var payload struct {
		Station []mesowestStationMeta `json:"STATION"`
	}
	err := getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		q := url.Values{"token": {s.token}, "stid": {s.ID()}}
		return http.NewRequest(http.MethodGet, s.metaURL+"?"+q.Encode(), nil)
	}, &payload)
	if err != nil {
		return geo.Point{}, fmt.Errorf("mesowest: fetching metadata for %s: %w", s.ID(), err)
	}
	if len(payload.Station) == 0 {
		return geo.Point{}, fmt.Errorf("mesowest: no metadata for station %s", s.ID())
	}
	return payload.Station[0].geoPoint(), nil
}

// ResolveTimezone returns UTC; the API is asked for UTC observation times.
func (s *MesowestStation) ResolveTimezone(context.Context) (*time.Location, error) {
	return time.UTC, nil
}

type mesowestResponse struct {
	Summary struct {
		ResponseMessage string `json:"RESPONSE_MESSAGE"`
	} `json:"SUMMARY"`
	Units   map[string]string `json:"UNITS"`
	Station []struct {
		Observations map[string]json.RawMessage `json:"OBSERVATIONS"`
	} `json:"STATION"`
}

func (s *MesowestStation) DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, 24*time.Hour)
}

func (s *MesowestStation) HourlyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, time.Hour)
}

// getData requests all sensors in one call, then builds a per-sensor frame
// resampled to the requested interval and merges them.
func (s *MesowestStation) getData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription, interval time.Duration) (*frame.Frame, error) {
	geom, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	requested := make([]variables.SensorDescription, 0, len(vars))
	codes := make([]string, 0, len(vars))
	for _, v := range vars {
		if !variables.Mesowest.Contains(v) {
			logSkippedVariable(variables.SourceMesowest, s.ID(), v.Name, "not a Mesowest variable")
			continue
		}
		requested = append(requested, v)
		codes = append(codes, v.Code)
	}
	if len(requested) == 0 {
		return nil, nil
	}

	var payload mesowestResponse
	err = getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		q := url.Values{
			"token":      {s.token},
			"stid":       {s.ID()},
			"start":      {start.UTC().Format("200601021504")},
			"end":        {end.UTC().Format("200601021504")},
			"vars":       {strings.Join(codes, ",")},
			"units":      {"metric"},
			"obtimezone": {"UTC"},
		}
		return http.NewRequest(http.MethodGet, s.dataURL+"?"+q.Encode(), nil)
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("mesowest: fetching data for %s: %w", s.ID(), err)
	}
	if payload.Summary.ResponseMessage == mesowestNoDataMessage || len(payload.Station) == 0 {
		return nil, nil
	}
	obs := payload.Station[0].Observations

	times, err := mesowestTimes(obs)
	if err != nil {
		return nil, err
	}

	var df *frame.Frame
	for _, sensor := range requested {
		sdf := s.sensorFrame(obs, times, payload.Units, sensor, interval)
		if sdf == nil {
			logSkippedVariable(variables.SourceMesowest, s.ID(), sensor.Name, "no data returned")
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
	return finalize(df, s.ID(), variables.SourceMesowest, geom)
}

// mesowestTimes decodes the shared date_time axis of an observations block.
func mesowestTimes(obs map[string]json.RawMessage) ([]time.Time, error) {
	raw, ok := obs["date_time"]
	if !ok {
		return nil, fmt.Errorf("mesowest: observations missing date_time")
	}
	var stamps []string
	if err := json.Unmarshal(raw, &stamps); err != nil {
		return nil, fmt.Errorf("mesowest: parsing date_time: %w", err)
	}
	times := make([]time.Time, len(stamps))
	for i, s := range stamps {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("mesowest: parsing timestamp %q: %w", s, err)
		}
		times[i] = t.UTC()
	}
	return times, nil
}

// sensorFrame picks the best observation set for the sensor, pairs it with
// the time axis, and resamples to the requested interval.
func (s *MesowestStation) sensorFrame(obs map[string]json.RawMessage, times []time.Time,
	units map[string]string, sensor variables.SensorDescription, interval time.Duration) *frame.Frame {
	values := chooseSensorSet(obs, sensor)
	if values == nil {
		return nil
	}

	df := frame.New(sensor.Name)
	for i, t := range times {
		if i >= len(values) || values[i] == nil || *values[i] == mesowestNoDataValue {
			continue
		}
		df.Append(t, s.ID(), frame.C(sensor.Name, *values[i]))
	}
	df = frame.ResampleSeries(df, sensor, interval)
	if df == nil {
		return nil
	}
	if u, ok := units[sensor.Code]; ok {
		df.SetConst(sensor.UnitsColumn(), u)
	}
	return df
}

// chooseSensorSet picks between the <code>_set_1 and <code>_set_1d
// observation sets, preferring whichever holds more non-null values.
func chooseSensorSet(obs map[string]json.RawMessage, sensor variables.SensorDescription) []*float64 {
	set1 := decodeSet(obs, sensor.Code+"_set_1")
	set1d := decodeSet(obs, sensor.Code+"_set_1d")
	switch {
	case set1 == nil:
		return set1d
	case set1d == nil:
		return set1
	case countNonNull(set1) < countNonNull(set1d):
		return set1d
	default:
		return set1
	}
}

func decodeSet(obs map[string]json.RawMessage, key string) []*float64 {
	raw, ok := obs[key]
	if !ok {
		return nil
	}
	var values []*float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

func countNonNull(values []*float64) int {
	n := 0
	for _, v := range values {
		if v != nil {
			n++
		}
	}
	return n
}

// mesowestSearcher implements geometric station search over the metadata
// endpoint.
type mesowestSearcher struct {
	client *http.Client
	token  string
}

// NewMesowestSearcher returns the Mesowest station search.
func NewMesowestSearcher(client *http.Client, token string) point.Searcher {
	return &mesowestSearcher{client: client, token: token}
}

// PointsFromGeometry queries the metadata endpoint with a bounding box and
// the requested variable codes. Mesowest has no snow course concept.
func (m *mesowestSearcher) PointsFromGeometry(ctx context.Context, boundary geo.Polygon, vars []variables.SensorDescription, opts point.SearchOptions) (*point.Collection, error) {
	if opts.SnowCourses {
		return point.NewCollection(), nil
	}
	codes := make([]string, 0, len(vars))
	for _, v := range vars {
		if variables.Mesowest.Contains(v) {
			codes = append(codes, v.Code)
		}
	}
	if len(codes) == 0 {
		return point.NewCollection(), nil
	}
	bounds := boundary.Bounds().Buffer(opts.BufferDegrees)

	tmpl := NewMesowestStation(m.client, "", "", m.token)
	var payload struct {
		Station []mesowestStationMeta `json:"STATION"`
	}
	err := getJSON(ctx, tmpl.httpCfg, tmpl.circuit, func() (*http.Request, error) {
		q := url.Values{
			"token": {m.token},
			"bbox":  {fmt.Sprintf("%f,%f,%f,%f", bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY)},
			"vars":  {strings.Join(codes, ",")},
		}
		return http.NewRequest(http.MethodGet, tmpl.metaURL+"?"+q.Encode(), nil)
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("mesowest: station search: %w", err)
	}

	collection := point.NewCollection()
	for _, meta := range payload.Station {
		p := meta.geoPoint()
		if opts.WithinGeometry && !boundary.Contains(p) {
			continue
		}
		st := NewMesowestStation(m.client, meta.STID, meta.Name, m.token)
		st.SetMetadata(p)
		collection.Add(st)
	}
	return collection, nil
}
