package providers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
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

// CDEC duration codes.
const (
	cdecDurationDaily      = "D"
	cdecDurationHourly     = "H"
	cdecDurationMonthly    = "M"
	cdecManualCollection   = "MANUAL+ENTRY"
	cdecSnowSensorGroup    = "snow"
	cdecDatetimeLayout     = "2006-1-2 15:04"
	cdecNoDataValue        = -9999.0
)

// CDECStation implements point.Station for the California Data Exchange
// Center. API documentation: https://cdec.water.ca.gov/dynamicapp/
type CDECStation struct {
	point.Base

	dataURL   string
	metaURL   string
	searchURL string

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker

	rawMeta []cdecSensorMeta
}

type cdecSensorMeta struct {
	SensorLongName string `json:"SENS_LONG_NAME"`
	SensorGroup    string `json:"SENS_GRP"`
	DurationCode   string `json:"DUR_CODE"`
	Longitude      float64 `json:"LONGITUDE"`
	Latitude       float64 `json:"LATITUDE"`
	Elevation      float64 `json:"ELEVATION"`
}

// NewCDECStation builds a CDEC station. CDEC data arrives in US/Pacific
// local time.
func NewCDECStation(client *http.Client, id, name string) *CDECStation {
	s := &CDECStation{
		dataURL:   "https://cdec.water.ca.gov/dynamicapp/req/JSONDataServlet",
		metaURL:   "https://cdec.water.ca.gov/cdecstation2/CDecServlet/getStationInfo",
		searchURL: "https://cdec.water.ca.gov/dynamicapp/staSearch",
		httpCfg:   defaultHTTPConfig(client),
		circuit:   newCircuit("cdec"),
	}
	s.Base = point.NewBase(id, name, variables.SourceCDEC, s)
	return s
}

// ResolveMetadata picks the station location from the sensor listing,
// preferring the snow-related sensors when present.
func (s *CDECStation) ResolveMetadata(ctx context.Context) (geo.Point, error) {
	meta, err := s.allMetadata(ctx)
	if err != nil {
		return geo.Point{}, err
	}
	if len(meta) == 0 {
		return geo.Point{}, fmt.Errorf("cdec: no metadata for station %s", s.ID())
	}
	chosen := meta[0]
	for _, want := range []string{"SNOW, WATER CONTENT", "SNOW DEPTH", "PRECIPITATION, ACCUMULATED"} {
		found := false
		for _, m := range meta {
			if m.SensorLongName == want {
				chosen = m
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	return geo.Point{Lon: chosen.Longitude, Lat: chosen.Latitude, Elevation: chosen.Elevation}, nil
}

func (s *CDECStation) ResolveTimezone(context.Context) (*time.Location, error) {
	return time.LoadLocation("America/Los_Angeles")
}

func (s *CDECStation) allMetadata(ctx context.Context) ([]cdecSensorMeta, error) {
	if s.rawMeta != nil {
		return s.rawMeta, nil
	}
	var payload struct {
		Station []cdecSensorMeta `json:"STATION"`
	}
	err := getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		u := fmt.Sprintf("%s?stationID=%s", s.metaURL, url.QueryEscape(s.ID()))
		return http.NewRequest(http.MethodGet, u, nil)
	}, &payload)
	if err != nil {
		return nil, err
	}
	s.rawMeta = payload.Station
	return s.rawMeta, nil
}

// IsPartlySnowCourse reports whether any snow sensor at the station samples
// on a monthly interval. Monthly snow sensors are assumed to be courses.
func (s *CDECStation) IsPartlySnowCourse(ctx context.Context) (bool, error) {
	meta, err := s.allMetadata(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range meta {
		if m.SensorGroup == cdecSnowSensorGroup && m.DurationCode == cdecDurationMonthly {
			return true, nil
		}
	}
	return false, nil
}

// IsOnlySnowCourse reports whether every snow sensor at the station is
// monthly/manual.
func (s *CDECStation) IsOnlySnowCourse(ctx context.Context) (bool, error) {
	meta, err := s.allMetadata(ctx)
	if err != nil {
		return false, err
	}
	var snow, monthly int
	for _, m := range meta {
		if m.SensorGroup == cdecSnowSensorGroup {
			snow++
			if m.DurationCode == cdecDurationMonthly {
				monthly++
			}
		}
	}
	return snow > 0 && snow == monthly, nil
}

func (s *CDECStation) DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, cdecDurationDaily)
}

func (s *CDECStation) HourlyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, cdecDurationHourly)
}

func (s *CDECStation) SnowCourseData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	ok, err := s.IsPartlySnowCourse(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: station %s is not a snow course", point.ErrUnsupported, s.ID())
	}
	return s.getData(ctx, start, end, vars, cdecDurationMonthly)
}

type cdecObservation struct {
	StationID string   `json:"stationId"`
	Date      string   `json:"date"`
	ObsDate   string   `json:"obsDate"`
	Value     *float64 `json:"value"`
	Units     string   `json:"units"`
}

// getData fetches one frame per requested sensor and joins them into a
// wide frame keyed on (datetime, site).
// Example query:
// https://cdec.water.ca.gov/dynamicapp/req/JSONDataServlet?Stations=TNY&SensorNums=3&dur_code=D&Start=2021-05-16&End=2021-05-16
func (s *CDECStation) getData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription, duration string) (*frame.Frame, error) {
	tz, err := s.Timezone(ctx)
	if err != nil {
		return nil, err
	}
	geom, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	var df *frame.Frame
	for _, sensor := range vars {
		if !variables.CDEC.Contains(sensor) {
			logSkippedVariable(variables.SourceCDEC, s.ID(), sensor.Name, "not a CDEC sensor")
			continue
		}
		var obs []cdecObservation
		err := getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
			q := url.Values{}
			q.Set("Stations", s.ID())
			q.Set("SensorNums", sensor.Code)
			q.Set("dur_code", duration)
			q.Set("Start", start.Format("2006-01-02"))
			q.Set("End", end.Format("2006-01-02"))
			return http.NewRequest(http.MethodGet, s.dataURL+"?"+q.Encode(), nil)
		}, &obs)
		if err != nil {
			return nil, fmt.Errorf("cdec: fetching %s for %s: %w", sensor.Name, s.ID(), err)
		}
		if len(obs) == 0 {
			logSkippedVariable(variables.SourceCDEC, s.ID(), sensor.Name, "no data returned")
			continue
		}
		sdf := s.sensorFrame(obs, sensor, tz)
		df, err = frame.Join(df, sdf, true)
		if err != nil {
			return nil, err
		}
	}
	return finalize(df, s.ID(), variables.SourceCDEC, geom)
}

// sensorFrame reshapes one sensor's response rows into the per-variable
// frame shape: datetime localized to UTC, measurementDate preserved, the
// value column named after the sensor, plus its units column.
func (s *CDECStation) sensorFrame(obs []cdecObservation, sensor variables.SensorDescription, tz *time.Location) *frame.Frame {
	df := frame.New(frame.ColMeasurementDate, sensor.Name, sensor.UnitsColumn())
	for _, o := range obs {
		t, err := time.Parse(cdecDatetimeLayout, o.Date)
		if err != nil {
			continue
		}
		cells := []frame.Cell{
			frame.C(sensor.UnitsColumn(), o.Units),
		}
		// obsDate is sometimes null for automated sensors.
		if md, err := time.Parse(cdecDatetimeLayout, o.ObsDate); err == nil {
			cells = append(cells, frame.C(frame.ColMeasurementDate, point.LocalizeToUTC(md, tz)))
		}
		if o.Value != nil && *o.Value != cdecNoDataValue {
			cells = append(cells, frame.C(sensor.Name, *o.Value))
		}
		df.Append(point.LocalizeToUTC(t, tz), o.StationID, cells...)
	}
	return df
}

// cdecSearcher implements geometric station search for CDEC.
type cdecSearcher struct {
	client *http.Client
}

// NewCDECSearcher returns the CDEC station search.
func NewCDECSearcher(client *http.Client) point.Searcher {
	return &cdecSearcher{client: client}
}

// PointsFromGeometry queries the CDEC station search per requested sensor,
// de-duplicates by station id, and filters to the boundary. With
// SnowCourses set, the search is limited to monthly manual-entry sensors
// and the results to stations that are at least partly snow courses;
// otherwise stations that are exclusively snow courses are dropped.
func (c *cdecSearcher) PointsFromGeometry(ctx context.Context, boundary geo.Polygon, vars []variables.SensorDescription, opts point.SearchOptions) (*point.Collection, error) {
	bounds := boundary.Bounds().Buffer(opts.BufferDegrees)
	tmpl := &CDECStation{
		searchURL: "https://cdec.water.ca.gov/dynamicapp/staSearch",
		httpCfg:   defaultHTTPConfig(c.client),
		circuit:   newCircuit("cdec-search"),
	}

	seen := make(map[string]bool)
	var found []*CDECStation
	for _, sensor := range vars {
		rows, err := tmpl.stationSearch(ctx, bounds, sensor, opts.SnowCourses)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if seen[row.id] {
				continue
			}
			seen[row.id] = true
			st := NewCDECStation(c.client, row.id, row.name)
			st.SetMetadata(row.point)
			found = append(found, st)
		}
	}

	collection := point.NewCollection()
	for _, st := range found {
		p, _ := st.Metadata(ctx)
		if opts.WithinGeometry && !boundary.Contains(p) {
			continue
		}
		if !opts.WithinGeometry && !bounds.Contains(p) {
			continue
		}
		if opts.SnowCourses {
			ok, err := st.IsPartlySnowCourse(ctx)
			if err != nil || !ok {
				continue
			}
		} else {
			only, err := st.IsOnlySnowCourse(ctx)
			if err != nil || only {
				continue
			}
		}
		collection.Add(st)
	}
	return collection, nil
}

type cdecSearchRow struct {
	id    string
	name  string
	point geo.Point
}

// stationSearch drives the staSearch form for one sensor, restricted to
// active stations inside the bounding box, and parses the csv table.
func (s *CDECStation) stationSearch(ctx context.Context, bounds geo.BoundingBox, sensor variables.SensorDescription, snowCourses bool) ([]cdecSearchRow, error) {
	resp, err := doRequestWithResilience(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		q := url.Values{}
		q.Set("sta", "")
		q.Set("sensor_chk", "on")
		q.Set("sensor", sensor.Code)
		if snowCourses {
			q.Set("dur_chk", "on")
			q.Set("dur", cdecDurationMonthly)
			q.Set("collect_chk", "on")
			q.Set("collect", cdecManualCollection)
		} else {
			q.Set("dur", "")
			q.Set("collect", "NONE+SPECIFIED")
		}
		q.Set("active_chk", "on")
		q.Set("active", "Y")
		q.Set("loc_chk", "on")
		q.Set("lon1", strconv.FormatFloat(bounds.MinX, 'f', -1, 64))
		q.Set("lon2", strconv.FormatFloat(bounds.MaxX, 'f', -1, 64))
		q.Set("lat1", strconv.FormatFloat(bounds.MinY, 'f', -1, 64))
		q.Set("lat2", strconv.FormatFloat(bounds.MaxY, 'f', -1, 64))
		q.Set("elev1", "-5")
		q.Set("elev2", "99000")
		q.Set("display", "csv")
		return http.NewRequest(http.MethodGet, s.searchURL+"?"+q.Encode(), nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parseCDECSearchCSV(resp.Body)
}

func parseCDECSearchCSV(r io.Reader) ([]cdecSearchRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("cdec: parsing station search: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}
	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.TrimSpace(h)] = i
	}
	idIdx, ok := col["ID"]
	if !ok {
		return nil, fmt.Errorf("cdec: station search response has no ID column")
	}
	var rows []cdecSearchRow
	for _, rec := range records[1:] {
		row := cdecSearchRow{id: rec[idIdx]}
		if i, ok := col["Station Name"]; ok && i < len(rec) {
			row.name = rec[i]
		}
		lon, _ := strconv.ParseFloat(field(rec, col, "Longitude"), 64)
		lat, _ := strconv.ParseFloat(field(rec, col, "Latitude"), 64)
		elev, _ := strconv.ParseFloat(field(rec, col, "ElevationFeet"), 64)
		row.point = geo.Point{Lon: lon, Lat: lat, Elevation: elev}
		rows = append(rows, row)
	}
	return rows, nil
}

func field(rec []string, col map[string]int, name string) string {
	if i, ok := col[name]; ok && i < len(rec) {
		return rec[i]
	}
	return ""
}
