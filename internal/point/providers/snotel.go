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

// AWDB durations. SEMIMONTHLY covers manually sampled snow courses.
const (
	snotelDurationDaily      = "DAILY"
	snotelDurationHourly     = "HOURLY"
	snotelDurationSnowCourse = "SEMIMONTHLY"

	snotelNetworkAutomated  = "SNTL"
	snotelNetworkSnowCourse = "SNOW"
)

// SnotelStation implements point.Station for the NRCS AWDB REST API.
// Station ids are AWDB triplets, e.g. "713:CO:SNTL".
// https://wcc.sc.egov.usda.gov/awdbRestApi/swagger-ui/index.html
type SnotelStation struct {
	point.Base

	baseURL string

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker

	rawMeta *snotelStationMeta
}

// NewSnotelStation builds a SNOTEL station from its AWDB triplet.
func NewSnotelStation(client *http.Client, triplet, name string) *SnotelStation {
	s := &SnotelStation{
		baseURL: "https://wcc.sc.egov.usda.gov/awdbRestApi/services/v1",
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuit("snotel"),
	}
	s.Base = point.NewBase(triplet, name, variables.SourceSnotel, s)
	return s
}

type snotelStationMeta struct {
	StationTriplet string  `json:"stationTriplet"`
	Name           string  `json:"name"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Elevation      float64 `json:"elevation"`
	// DataTimeZone is the station's UTC offset in hours. Snow courses may
	// not carry one; nil falls back to UTC.
	DataTimeZone *float64 `json:"dataTimeZone"`
}

// allMetadata fetches and caches the station record.
func (s *SnotelStation) allMetadata(ctx context.Context) (*snotelStationMeta, error) {
	if s.rawMeta != nil {
		return s.rawMeta, nil
	}
	var payload []snotelStationMeta
	err := getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		q := url.Values{"stationTriplets": {s.ID()}}
		return http.NewRequest(http.MethodGet, s.baseURL+"/stations?"+q.Encode(), nil)
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("snotel: fetching metadata for %s: %w", s.ID(), err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("snotel: no station record for %s", s.ID())
	}
	s.rawMeta = &payload[0]
	return s.rawMeta, nil
}

func (s *SnotelStation) ResolveMetadata(ctx context.Context) (geo.Point, error) {
	meta, err := s.allMetadata(ctx)
	if err != nil {
		return geo.Point{}, err
	}
	return geo.Point{Lon: meta.Longitude, Lat: meta.Latitude, Elevation: meta.Elevation}, nil
}

// ResolveTimezone derives a fixed zone from the station's UTC offset.
// Snow courses without one report in UTC.
func (s *SnotelStation) ResolveTimezone(ctx context.Context) (*time.Location, error) {
	meta, err := s.allMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta.DataTimeZone == nil {
		logSkippedVariable(variables.SourceSnotel, s.ID(), "dataTimeZone", "missing, assuming UTC")
		return time.UTC, nil
	}
	offset := int(*meta.DataTimeZone * 3600)
	return time.FixedZone(fmt.Sprintf("UTC%+g", *meta.DataTimeZone), offset), nil
}

type snotelDataResponse struct {
	StationTriplet string `json:"stationTriplet"`
	Data           []struct {
		StationElement struct {
			ElementCode    string `json:"elementCode"`
			HeightDepth    *int   `json:"heightDepth"`
			StoredUnitCode string `json:"storedUnitCode"`
		} `json:"stationElement"`
		Values []struct {
			Date           string   `json:"date"`
			CollectionDate string   `json:"collectionDate"`
			Value          *float64 `json:"value"`
			QCFlag         string   `json:"qcFlag"`
		} `json:"values"`
	} `json:"data"`
}

func (s *SnotelStation) DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, snotelDurationDaily)
}

func (s *SnotelStation) HourlyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, snotelDurationHourly)
}

// SnowCourseData returns manually collected SEMIMONTHLY samples. The
// nominal sample date indexes the frame; the actual collection date is
// kept in the measurementDate column.
func (s *SnotelStation) SnowCourseData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, snotelDurationSnowCourse)
}

func (s *SnotelStation) getData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription, duration string) (*frame.Frame, error) {
	geom, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	tz, err := s.Timezone(ctx)
	if err != nil {
		return nil, err
	}

	requested := make([]variables.SensorDescription, 0, len(vars))
	codes := make([]string, 0, len(vars))
	for _, v := range vars {
		if !variables.Snotel.Contains(v) {
			logSkippedVariable(variables.SourceSnotel, s.ID(), v.Name, "not a SNOTEL element")
			continue
		}
		requested = append(requested, v)
		codes = append(codes, snotelElementCode(v))
	}
	if len(requested) == 0 {
		return nil, nil
	}

	var payload []snotelDataResponse
	err = getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		q := url.Values{
			"stationTriplets": {s.ID()},
			"elements":        {strings.Join(codes, ",")},
			"duration":        {duration},
			"beginDate":       {start.Format("2006-01-02")},
			"endDate":         {end.Format("2006-01-02")},
			"returnFlags":     {"true"},
		}
		return http.NewRequest(http.MethodGet, s.baseURL+"/data?"+q.Encode(), nil)
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("snotel: fetching %s data for %s: %w", duration, s.ID(), err)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var df *frame.Frame
	for _, element := range payload[0].Data {
		sensor, ok := matchSnotelElement(requested, element.StationElement.ElementCode, element.StationElement.HeightDepth)
		if !ok {
			continue
		}
		sdf := frame.New(sensor.Name, sensor.UnitsColumn())
		for _, v := range element.Values {
			if v.Value == nil {
				continue
			}
			t, ok := parseSnotelTime(v.Date, tz)
			if !ok {
				continue
			}
			cells := []frame.Cell{
				frame.C(sensor.Name, *v.Value),
				frame.C(sensor.UnitsColumn(), element.StationElement.StoredUnitCode),
			}
			if duration == snotelDurationSnowCourse && v.CollectionDate != "" {
				if md, ok := parseSnotelTime(v.CollectionDate, tz); ok {
					cells = append(cells, frame.C(frame.ColMeasurementDate, md))
				}
			}
			if v.QCFlag != "" {
				cells = append(cells, frame.C(frame.ColQualityCode, v.QCFlag))
			}
			sdf.Append(t, s.ID(), cells...)
		}
		if sdf.Len() == 0 {
			logSkippedVariable(variables.SourceSnotel, s.ID(), sensor.Name, "no data returned")
			continue
		}
		df, err = frame.Join(df, sdf, true)
		if err != nil {
			return nil, err
		}
	}
	return finalize(df, s.ID(), variables.SourceSnotel, geom)
}

// snotelElementCode strips the synthetic depth suffix ("STO:2" -> "STO")
// used to distinguish sensors at different depths.
func snotelElementCode(sensor variables.SensorDescription) string {
	code, _, _ := strings.Cut(sensor.Code, ":")
	return code
}

// matchSnotelElement pairs a response element with the requested sensor,
// honoring depth-qualified codes against the element's heightDepth.
func matchSnotelElement(requested []variables.SensorDescription, elementCode string, heightDepth *int) (variables.SensorDescription, bool) {
	for _, sensor := range requested {
		base, depth, hasDepth := strings.Cut(sensor.Code, ":")
		if base != elementCode {
			continue
		}
		if !hasDepth {
			return sensor, true
		}
		if heightDepth != nil && depth == fmt.Sprint(*heightDepth) {
			return sensor, true
		}
	}
	return variables.SensorDescription{}, false
}

func parseSnotelTime(value string, tz *time.Location) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return point.LocalizeToUTC(t, tz), true
		}
	}
	return time.Time{}, false
}

// snotelSearcher implements geometric station search over the AWDB
// station list.
type snotelSearcher struct {
	client *http.Client
}

// NewSnotelSearcher returns the SNOTEL station search.
func NewSnotelSearcher(client *http.Client) point.Searcher {
	return &snotelSearcher{client: client}
}

// PointsFromGeometry searches the SNTL network, or the SNOW (manual snow
// course) network when opts.SnowCourses is set. The AWDB search ANDs its
// element filter, so each variable is searched separately and the results
// are unioned.
func (s *snotelSearcher) PointsFromGeometry(ctx context.Context, boundary geo.Polygon, vars []variables.SensorDescription, opts point.SearchOptions) (*point.Collection, error) {
	network := snotelNetworkAutomated
	if opts.SnowCourses {
		network = snotelNetworkSnowCourse
	}
	bounds := boundary.Bounds().Buffer(opts.BufferDegrees)
	tmpl := NewSnotelStation(s.client, "", "")

	collection := point.NewCollection()
	seen := make(map[string]bool)
	for _, v := range vars {
		if !variables.Snotel.Contains(v) {
			continue
		}
		var payload []snotelStationMeta
		err := getJSON(ctx, tmpl.httpCfg, tmpl.circuit, func() (*http.Request, error) {
			q := url.Values{
				"networkCds":   {network},
				"elements":     {snotelElementCode(v)},
				"minLatitude":  {fmt.Sprintf("%f", bounds.MinY)},
				"maxLatitude":  {fmt.Sprintf("%f", bounds.MaxY)},
				"minLongitude": {fmt.Sprintf("%f", bounds.MinX)},
				"maxLongitude": {fmt.Sprintf("%f", bounds.MaxX)},
			}
			return http.NewRequest(http.MethodGet, tmpl.baseURL+"/stations?"+q.Encode(), nil)
		}, &payload)
		if err != nil {
			return nil, fmt.Errorf("snotel: station search: %w", err)
		}
		for _, meta := range payload {
			if seen[meta.StationTriplet] {
				continue
			}
			seen[meta.StationTriplet] = true
			p := geo.Point{Lon: meta.Longitude, Lat: meta.Latitude, Elevation: meta.Elevation}
			if opts.WithinGeometry && !boundary.Contains(p) {
				continue
			}
			st := NewSnotelStation(s.client, meta.StationTriplet, meta.Name)
			st.SetMetadata(p)
			st.rawMeta = &meta
			collection.Add(st)
		}
	}
	return collection, nil
}
