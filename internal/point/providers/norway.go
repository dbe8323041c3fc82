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
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/variables"
)

// Frost credential environment variables. They override the credential
// file (default ~/.frost_token.json with client_id and client_secret keys).
const (
	EnvFrostClientID     = "M3W_FROST_CLIENT_ID"
	EnvFrostClientSecret = "M3W_FROST_CLIENT_SECRET"
)

// FrostCredentials loads the MET Norway Frost API client credentials.
// Sign up at https://frost.met.no/auth/requestCredentials.html
func FrostCredentials(credPath string) (id, secret string, err error) {
	id = os.Getenv(EnvFrostClientID)
	secret = os.Getenv(EnvFrostClientSecret)
	if id != "" && secret != "" {
		return id, secret, nil
	}
	if credPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", fmt.Errorf("frost: locating credential file: %w", err)
		}
		credPath = filepath.Join(home, ".frost_token.json")
	}
	raw, err := os.ReadFile(credPath)
	if err != nil {
		return "", "", fmt.Errorf("frost: reading credentials: %w", err)
	}
	var payload struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", fmt.Errorf("frost: parsing credential file: %w", err)
	}
	return payload.ClientID, payload.ClientSecret, nil
}

// frostAuth exchanges client credentials for bearer tokens and caches
// them until shortly before expiry. Safe for concurrent use.
type frostAuth struct {
	baseURL      string
	client       *http.Client
	clientID     string
	clientSecret string

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (a *frostAuth) header(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && time.Now().Before(a.expires) {
		return "Bearer " + a.token, nil
	}

	form := url.Values{
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"auth/accessToken", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("frost: requesting access token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("frost: access token request returned %d", resp.StatusCode)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("frost: decoding access token: %w", err)
	}
	a.token = payload.AccessToken
	// Refresh a minute early so in-flight requests do not race expiry.
	a.expires = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - time.Minute)
	return "Bearer " + a.token, nil
}

// NorwayStation implements point.Station for the MET Norway Frost API.
// Station ids are Frost source ids, e.g. "SN18700".
// https://frost.met.no/index.html
type NorwayStation struct {
	point.Base

	baseURL string
	auth    *frostAuth

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewNorwayStation builds a Frost station with the given client
// credentials.
func NewNorwayStation(client *http.Client, id, name, clientID, clientSecret string) *NorwayStation {
	s := &NorwayStation{
		baseURL: "https://frost.met.no/",
		auth: &frostAuth{
			baseURL:      "https://frost.met.no/",
			client:       client,
			clientID:     clientID,
			clientSecret: clientSecret,
		},
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuit("norway"),
	}
	s.Base = point.NewBase(id, name, variables.SourceNorway, s)
	return s
}

type frostSource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Masl float64 `json:"masl"`
}

func (f frostSource) geoPoint() geo.Point {
	var p geo.Point
	if len(f.Geometry.Coordinates) >= 2 {
		p.Lon = f.Geometry.Coordinates[0]
		p.Lat = f.Geometry.Coordinates[1]
	}
	p.Elevation = f.Masl * metersToFeet
	return p
}

// getSources queries the sources endpoint with the given filters.
func (s *NorwayStation) getSources(ctx context.Context, query url.Values) ([]frostSource, error) {
	var payload struct {
		Data []frostSource `json:"data"`
	}
	err := getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		header, err := s.auth.header(ctx)
		if err != nil {
			return nil, err
		}
		q := url.Values{"types": {"SensorSystem"}}
		for k, vs := range query {
			q[k] = vs
		}
		req, err := http.NewRequest(http.MethodGet, s.baseURL+"sources/v0.jsonld?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", header)
		return req, nil
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("frost: fetching sources: %w", err)
	}
	return payload.Data, nil
}

func (s *NorwayStation) ResolveMetadata(ctx context.Context) (geo.Point, error) {
	sources, err := s.getSources(ctx, url.Values{"ids": {s.ID()}})
	if err != nil {
		return geo.Point{}, err
	}
	for _, src := range sources {
		if src.ID == s.ID() {
			return src.geoPoint(), nil
		}
	}
	return geo.Point{}, fmt.Errorf("frost: no source metadata for %s", s.ID())
}

// ResolveTimezone returns UTC; Frost reference times are UTC.
func (s *NorwayStation) ResolveTimezone(context.Context) (*time.Location, error) {
	return time.UTC, nil
}

type frostObservationRow struct {
	SourceID      string `json:"sourceId"`
	ReferenceTime string `json:"referenceTime"`
	Observations  []struct {
		ElementID string   `json:"elementId"`
		Value     *float64 `json:"value"`
		Unit      string   `json:"unit"`
	} `json:"observations"`
}

func (s *NorwayStation) DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, "P1D")
}

func (s *NorwayStation) HourlyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, "PT1H")
}

// getData requests all elements at the given time resolution in one call,
// splits the observations per sensor, and merges the per-sensor frames.
// Default levels and time offsets keep one series per element.
func (s *NorwayStation) getData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription, resolution string) (*frame.Frame, error) {
	geom, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	requested := make([]variables.SensorDescription, 0, len(vars))
	elements := make([]string, 0, len(vars))
	for _, v := range vars {
		if !variables.Norway.Contains(v) {
			logSkippedVariable(variables.SourceNorway, s.ID(), v.Name, "not a Frost element")
			continue
		}
		requested = append(requested, v)
		elements = append(elements, v.Code)
	}
	if len(requested) == 0 {
		return nil, nil
	}

	var payload struct {
		Data []frostObservationRow `json:"data"`
	}
	err = getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		header, err := s.auth.header(ctx)
		if err != nil {
			return nil, err
		}
		q := url.Values{
			"sources":         {s.ID()},
			"elements":        {strings.Join(elements, ",")},
			"referencetime":   {start.UTC().Format("2006-01-02") + "/" + end.UTC().Format("2006-01-02")},
			"timeresolutions": {resolution},
			"timeoffsets":     {"default"},
			"levels":          {"default"},
		}
		req, err := http.NewRequest(http.MethodGet, s.baseURL+"observations/v0.jsonld?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", header)
		return req, nil
	}, &payload)
	if err != nil {
		// Frost answers 412 when no timeseries matches the filters.
		if strings.Contains(err.Error(), "412") {
			return nil, nil
		}
		return nil, fmt.Errorf("frost: fetching observations for %s: %w", s.ID(), err)
	}

	var df *frame.Frame
	for _, sensor := range requested {
		sdf := frame.New(sensor.Name, sensor.UnitsColumn())
		for _, row := range payload.Data {
			t, err := time.Parse(time.RFC3339, row.ReferenceTime)
			if err != nil {
				continue
			}
			for _, obs := range row.Observations {
				if obs.ElementID != sensor.Code || obs.Value == nil {
					continue
				}
				sdf.Append(t.UTC(), s.ID(),
					frame.C(sensor.Name, *obs.Value),
					frame.C(sensor.UnitsColumn(), obs.Unit))
				break
			}
		}
		if sdf.Len() == 0 {
			logSkippedVariable(variables.SourceNorway, s.ID(), sensor.Name, "no data returned")
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
	return finalize(df, s.ID(), variables.SourceNorway, geom)
}

// norwaySearcher implements geometric station search over the Frost
// sources endpoint.
type norwaySearcher struct {
	client       *http.Client
	clientID     string
	clientSecret string
}

// NewNorwaySearcher returns the Frost station search.
func NewNorwaySearcher(client *http.Client, clientID, clientSecret string) point.Searcher {
	return &norwaySearcher{client: client, clientID: clientID, clientSecret: clientSecret}
}

// PointsFromGeometry searches Frost sources inside the boundary polygon,
// requiring all requested elements. Frost has no snow course concept.
func (n *norwaySearcher) PointsFromGeometry(ctx context.Context, boundary geo.Polygon, vars []variables.SensorDescription, opts point.SearchOptions) (*point.Collection, error) {
	if opts.SnowCourses {
		return point.NewCollection(), nil
	}
	elements := make([]string, 0, len(vars))
	for _, v := range vars {
		if variables.Norway.Contains(v) {
			elements = append(elements, v.Code)
		}
	}
	if len(elements) == 0 {
		return point.NewCollection(), nil
	}

	search := boundary
	if !opts.WithinGeometry || opts.BufferDegrees > 0 {
		search = geo.FromBounds(boundary.Bounds().Buffer(opts.BufferDegrees))
	}
	tmpl := NewNorwayStation(n.client, "", "", n.clientID, n.clientSecret)
	sources, err := tmpl.getSources(ctx, url.Values{
		"geometry": {polygonWKT(search)},
		"elements": {strings.Join(elements, ",")},
	})
	if err != nil {
		return nil, err
	}

	collection := point.NewCollection()
	for _, src := range sources {
		st := NewNorwayStation(n.client, src.ID, src.Name, n.clientID, n.clientSecret)
		st.SetMetadata(src.geoPoint())
		collection.Add(st)
	}
	return collection, nil
}

// polygonWKT renders a polygon as the WKT the Frost geometry filter takes.
func polygonWKT(p geo.Polygon) string {
	pts := p.Ring()
	parts := make([]string, 0, len(pts)+1)
	for _, pt := range pts {
		parts = append(parts, fmt.Sprintf("%g %g", pt.Lon, pt.Lat))
	}
	if len(pts) > 0 && pts[0] != pts[len(pts)-1] {
		parts = append(parts, fmt.Sprintf("%g %g", pts[0].Lon, pts[0].Lat))
	}
	return "POLYGON((" + strings.Join(parts, ",") + "))"
}
