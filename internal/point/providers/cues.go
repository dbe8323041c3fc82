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

// CUESStation implements point.Station for level 1 data from the CUES
// site on Mammoth Mountain. The query endpoint aggregates server-side, so
// no client resample is needed.
// https://snow.ucsb.edu/index.php/description/
type CUESStation struct {
	point.Base

	queryURL string

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewCUESStation builds the CUES station. The site location is fixed.
func NewCUESStation(client *http.Client) *CUESStation {
	s := &CUESStation{
		queryURL: "https://snow.ucsb.edu/index.php/query-db/",
		httpCfg:  defaultHTTPConfig(client),
		circuit:  newCircuit("cues"),
	}
	s.Base = point.NewBase("CUES", "CUES", variables.SourceCUES, s)
	s.SetMetadata(geo.Point{Lon: -119.029128, Lat: 37.643093, Elevation: 9661})
	return s
}

func (s *CUESStation) ResolveMetadata(context.Context) (geo.Point, error) {
	return geo.Point{}, fmt.Errorf("cues: metadata is static")
}

// ResolveTimezone returns the Mammoth Mountain local zone the query
// endpoint reports times in.
func (s *CUESStation) ResolveTimezone(context.Context) (*time.Location, error) {
	return time.LoadLocation("America/Los_Angeles")
}

func (s *CUESStation) DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, "day")
}

func (s *CUESStation) HourlyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, "hr")
}

// getData queries one variable at a time and joins the per-sensor frames.
func (s *CUESStation) getData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription, interval string) (*frame.Frame, error) {
	geom, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	tz, err := s.Timezone(ctx)
	if err != nil {
		return nil, err
	}

	var df *frame.Frame
	for _, sensor := range vars {
		if !variables.CUES.Contains(sensor) {
			logSkippedVariable(variables.SourceCUES, s.ID(), sensor.Name, "not a CUES variable")
			continue
		}
		body, err := s.queryVariable(ctx, start, end, sensor, interval)
		if err != nil {
			return nil, err
		}
		sdf, err := s.sensorFrame(body, sensor, tz)
		if err != nil {
			return nil, err
		}
		if sdf == nil {
			logSkippedVariable(variables.SourceCUES, s.ID(), sensor.Name, "no data returned")
			continue
		}
		df, err = frame.Join(df, sdf, true)
		if err != nil {
			return nil, err
		}
	}
	return finalize(df, s.ID(), variables.SourceCUES, geom)
}

// queryVariable posts the query form and returns the csv response body.
func (s *CUESStation) queryVariable(ctx context.Context, start, end time.Time, sensor variables.SensorDescription, interval string) (string, error) {
	method := "average"
	if sensor.Accumulated {
		method = "sum"
	}
	form := url.Values{
		"table":    {sensor.Code},
		"start":    {start.Format("2006-01-02")},
		"end":      {end.Format("2006-01-02")},
		"interval": {interval},
		"method":   {method},
		"output":   {"CSV"},
		"category": {"Measurement"},
	}
	resp, err := doRequestWithResilience(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, s.queryURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("cues: querying %s: %w", sensor.Name, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("cues: reading %s response: %w", sensor.Name, err)
	}
	return string(body), nil
}

// sensorFrame parses the two-column csv response. Comment lines start
// with '#'. When a quantity reports from several instruments the response
// carries one column per instrument; the sensor's instrument picks the
// column, otherwise exactly two columns are expected.
func (s *CUESStation) sensorFrame(body string, sensor variables.SensorDescription, tz *time.Location) (*frame.Frame, error) {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) < 2 {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("cues: parsing %s csv: %w", sensor.Name, err)
	}
	header := records[0]

	valueCol := -1
	switch {
	case len(header) == 2:
		valueCol = 1
	case len(header) > 2 && sensor.Extra["instrument"] != "":
		for i, h := range header[1:] {
			if strings.Contains(h, sensor.Extra["instrument"]) {
				valueCol = i + 1
				break
			}
		}
	}
	if valueCol < 0 {
		return nil, fmt.Errorf("cues: cannot pick a column for %s from %v", sensor.Name, header)
	}
	// Units are parenthesized at the end of the column name, after the
	// instrument, e.g. "...;Eppley Lab ...;(W/m^2)".
	unitsPart := header[valueCol][strings.LastIndex(header[valueCol], ";")+1:]
	units := strings.Trim(unitsPart, "()")

	df := frame.New(sensor.Name, sensor.UnitsColumn())
	for _, rec := range records[1:] {
		if valueCol >= len(rec) {
			continue
		}
		t, ok := parseCUESTime(rec[0], tz)
		if !ok {
			continue
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(rec[valueCol]), 64)
		if err != nil {
			continue
		}
		df.Append(t, s.ID(),
			frame.C(sensor.Name, val),
			frame.C(sensor.UnitsColumn(), units))
	}
	if df.Len() == 0 {
		return nil, nil
	}
	return df, nil
}

func parseCUESTime(value string, tz *time.Location) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return point.LocalizeToUTC(t, tz), true
		}
	}
	return time.Time{}, false
}
