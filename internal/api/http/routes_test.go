package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/service"
	"github.com/m3w/pointloom/internal/store"
	"github.com/m3w/pointloom/internal/variables"
)

// fakeStation serves a canned frame.
type fakeStation struct {
	point.Base
	df  *frame.Frame
	err error
}

func (f *fakeStation) DailyData(context.Context, time.Time, time.Time, []variables.SensorDescription) (*frame.Frame, error) {
	return f.df, f.err
}

func (f *fakeStation) HourlyData(context.Context, time.Time, time.Time, []variables.SensorDescription) (*frame.Frame, error) {
	return f.df, f.err
}

type fakeSearcher struct {
	col *point.Collection
}

func (f *fakeSearcher) PointsFromGeometry(context.Context, geo.Polygon, []variables.SensorDescription, point.SearchOptions) (*point.Collection, error) {
	return f.col, nil
}

func testFrame() *frame.Frame {
	df := frame.New("SWE", "SWE_units")
	df.Append(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), "TNY", frame.C("SWE", 10.0), frame.C("SWE_units", "in"))
	df.SetConst(frame.ColGeometry, geo.Point{Lon: -119.448, Lat: 37.838})
	df.SetConst(frame.ColSite, "TNY")
	df.SetConst(frame.ColDataSource, "CDEC")
	return df
}

func newTestApp(t *testing.T, stations map[string]*fakeStation) (*fiber.App, *store.MemoryStore, *service.Service) {
	t.Helper()

	b := point.NewBase("SRCH", "found station", "CDEC", nil)
	sources := []service.Source{{
		Name:     "CDEC",
		Registry: variables.CDEC,
		NewStation: func(id, name string) (point.Station, error) {
			st, ok := stations[id]
			if !ok {
				return nil, errors.New("unknown station " + id)
			}
			return st, nil
		},
		Searcher: &fakeSearcher{col: point.NewCollection(&b)},
	}}

	mem := store.NewMemoryStore(10, time.Hour)
	svc := service.New(mem, sources)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": true, "message": err.Error()})
		},
	})
	NewServer(svc, service.NewForecastService(http.DefaultClient), mem).RegisterRoutes(app)
	return app, mem, svc
}

func TestDataEndpoint(t *testing.T) {
	app, _, _ := newTestApp(t, map[string]*fakeStation{"TNY": {df: testFrame()}})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/data/daily?source=CDEC&station=TNY&from=2023-03-01&to=2023-03-02&vars=SWE", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Records []map[string]any `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Records) != 1 {
		t.Fatalf("records = %d", len(body.Records))
	}
	if body.Records[0]["SWE"] != 10.0 {
		t.Fatalf("SWE = %v", body.Records[0]["SWE"])
	}
}

func TestDataEndpointValidation(t *testing.T) {
	app, _, _ := newTestApp(t, map[string]*fakeStation{"TNY": {df: testFrame()}})

	cases := []string{
		// Missing time window.
		"/api/v1/data/daily?source=CDEC&station=TNY&vars=SWE",
		// Missing station.
		"/api/v1/data/daily?source=CDEC&from=2023-03-01&to=2023-03-02",
		// Unknown duration.
		"/api/v1/data/weekly?source=CDEC&station=TNY&from=2023-03-01&to=2023-03-02",
		// Bad timestamp.
		"/api/v1/data/daily?source=CDEC&station=TNY&from=yesterday&to=2023-03-02",
		// Unknown variable name.
		"/api/v1/data/daily?source=CDEC&station=TNY&from=2023-03-01&to=2023-03-02&vars=BOGUS",
	}
	for _, url := range cases {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, url, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, resp.StatusCode)
		}
	}
}

func TestDataEndpointNoData(t *testing.T) {
	app, _, _ := newTestApp(t, map[string]*fakeStation{"TNY": {df: nil}})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/data/daily?source=CDEC&station=TNY&from=2023-03-01&to=2023-03-02&vars=SWE", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestLatestEndpoint(t *testing.T) {
	app, mem, _ := newTestApp(t, nil)
	ref := service.StationRef{Source: "CDEC", ID: "TNY"}

	// Nothing stored yet.
	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/data/daily/latest?source=CDEC&station=TNY", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	mem.Save(ref, service.DurationDaily, testFrame())
	resp, err = app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/data/daily/latest?source=CDEC&station=TNY", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	app, mem, _ := newTestApp(t, nil)
	ref := service.StationRef{Source: "CDEC", ID: "TNY"}
	mem.Save(ref, service.DurationDaily, testFrame())
	mem.Save(ref, service.DurationDaily, testFrame())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/data/daily/history?source=CDEC&station=TNY", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Snapshots [][]map[string]any `json:"snapshots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Snapshots) != 2 {
		t.Fatalf("snapshots = %d", len(body.Snapshots))
	}
}

func TestSampleEndpoint(t *testing.T) {
	app, _, _ := newTestApp(t, map[string]*fakeStation{
		"A": {df: testFrame()},
		"B": {err: errors.New("down")},
	})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/data/daily/sample?stations=CDEC:A,CDEC:B&from=2023-03-01&to=2023-03-02&vars=SWE", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// Malformed station ref.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/data/daily/sample?stations=CDECA&from=2023-03-01&to=2023-03-02", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStationSearchEndpoint(t *testing.T) {
	app, _, _ := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/stations/search?min_lon=-120&min_lat=37&max_lon=-118&max_lat=39&vars=SWE", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Count    int `json:"count"`
		Stations []struct {
			ID string `json:"id"`
		} `json:"stations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count != 1 || body.Stations[0].ID != "SRCH" {
		t.Fatalf("body = %+v", body)
	}
}

func TestStationSearchValidation(t *testing.T) {
	app, _, _ := newTestApp(t, nil)

	cases := []string{
		// Missing box.
		"/api/v1/stations/search",
		// Inverted box.
		"/api/v1/stations/search?min_lon=-118&min_lat=37&max_lon=-120&max_lat=39",
		// Not a number.
		"/api/v1/stations/search?min_lon=west&min_lat=37&max_lon=-118&max_lat=39",
	}
	for _, url := range cases {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, url, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, resp.StatusCode)
		}
	}
}

func TestStationsNearRequiresCity(t *testing.T) {
	app, _, _ := newTestApp(t, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/stations/near", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSourcesEndpoint(t *testing.T) {
	app, _, _ := newTestApp(t, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Sources []string `json:"sources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Sources) != 1 || body.Sources[0] != "CDEC" {
		t.Fatalf("sources = %v", body.Sources)
	}
}

func TestForecastValidation(t *testing.T) {
	app, _, _ := newTestApp(t, nil)

	// Missing coordinates.
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/forecast/daily", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	// Snow course forecasts do not exist.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/forecast/snow_course?lat=38.95&lon=-106.98", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
