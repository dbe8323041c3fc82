package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/variables"
)

// fakeStation serves a canned frame or error.
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

// fakeStore records saves.
type fakeStore struct {
	saved map[StationRef]*frame.Frame
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[StationRef]*frame.Frame)}
}

func (s *fakeStore) Save(ref StationRef, d Duration, df *frame.Frame) {
	s.saved[ref] = df
}

func (s *fakeStore) Latest(ref StationRef, d Duration) (*frame.Frame, error) {
	df, ok := s.saved[ref]
	if !ok {
		return nil, errors.New("not found")
	}
	return df, nil
}

func testFrame(site string, value float64) *frame.Frame {
	df := frame.New("SWE", "SWE_units")
	df.Append(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), site, frame.C("SWE", value), frame.C("SWE_units", "in"))
	df.SetConst(frame.ColGeometry, geo.Point{Lon: -119, Lat: 37})
	df.SetConst(frame.ColSite, site)
	df.SetConst(frame.ColDataSource, "CDEC")
	return df
}

func testSource(name string, stations map[string]*fakeStation) Source {
	return Source{
		Name:     name,
		Registry: variables.CDEC,
		NewStation: func(id, stationName string) (point.Station, error) {
			st, ok := stations[id]
			if !ok {
				return nil, errors.New("unknown station " + id)
			}
			return st, nil
		},
	}
}

func TestParseDuration(t *testing.T) {
	for _, ok := range []string{"daily", "hourly", "snow_course"} {
		if _, err := ParseDuration(ok); err != nil {
			t.Errorf("ParseDuration(%q): %v", ok, err)
		}
	}
	if _, err := ParseDuration("weekly"); err == nil {
		t.Error("expected error for unknown duration")
	}
}

func TestFetchResolvesVariablesThroughRegistry(t *testing.T) {
	st := &fakeStation{df: testFrame("TNY", 10.0)}
	svc := New(newFakeStore(), []Source{testSource("CDEC", map[string]*fakeStation{"TNY": st})})

	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	df, err := svc.Fetch(context.Background(), StationRef{Source: "CDEC", ID: "TNY"},
		DurationDaily, start, start.Add(24*time.Hour), []string{"SWE"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if df.Len() != 1 {
		t.Fatalf("len = %d", df.Len())
	}
}

func TestFetchUnknownVariable(t *testing.T) {
	st := &fakeStation{df: testFrame("TNY", 10.0)}
	svc := New(newFakeStore(), []Source{testSource("CDEC", map[string]*fakeStation{"TNY": st})})

	_, err := svc.Fetch(context.Background(), StationRef{Source: "CDEC", ID: "TNY"},
		DurationDaily, time.Now(), time.Now(), []string{"NO SUCH VARIABLE"})
	if !errors.Is(err, variables.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchUnknownSource(t *testing.T) {
	svc := New(newFakeStore(), nil)
	_, err := svc.Fetch(context.Background(), StationRef{Source: "NOPE", ID: "X"},
		DurationDaily, time.Now(), time.Now(), []string{"SWE"})
	if err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestSamplePartialSuccess(t *testing.T) {
	stations := map[string]*fakeStation{
		"A": {df: testFrame("A", 1.0)},
		"B": {err: errors.New("unreachable")},
		"C": {df: testFrame("C", 3.0)},
	}
	svc := New(newFakeStore(), []Source{testSource("CDEC", stations)})

	refs := []StationRef{
		{Source: "CDEC", ID: "A"},
		{Source: "CDEC", ID: "B"},
		{Source: "CDEC", ID: "C"},
	}
	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	df, err := svc.Sample(context.Background(), refs, DurationDaily, start, start.Add(24*time.Hour), []string{"SWE"})
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if df.Len() != 2 {
		t.Fatalf("len = %d, want rows from the two healthy stations", df.Len())
	}
}

func TestSampleAllFail(t *testing.T) {
	stations := map[string]*fakeStation{
		"A": {err: errors.New("down")},
		"B": {err: errors.New("down")},
	}
	svc := New(newFakeStore(), []Source{testSource("CDEC", stations)})

	refs := []StationRef{{Source: "CDEC", ID: "A"}, {Source: "CDEC", ID: "B"}}
	if _, err := svc.Sample(context.Background(), refs, DurationDaily, time.Now(), time.Now(), []string{"SWE"}); err == nil {
		t.Fatal("expected error when every station fails")
	}
}

func TestFetchAndStoreSavesSuccesses(t *testing.T) {
	stations := map[string]*fakeStation{
		"A": {df: testFrame("A", 1.0)},
		"B": {err: errors.New("down")},
	}
	store := newFakeStore()
	svc := New(store, []Source{testSource("CDEC", stations)})

	refs := []StationRef{{Source: "CDEC", ID: "A"}, {Source: "CDEC", ID: "B"}}
	if err := svc.FetchAndStore(context.Background(), refs, DurationDaily, 24*time.Hour, []string{"SWE"}); err != nil {
		t.Fatalf("fetch and store: %v", err)
	}
	if _, ok := store.saved[StationRef{Source: "CDEC", ID: "A"}]; !ok {
		t.Fatal("healthy station not saved")
	}
	if _, ok := store.saved[StationRef{Source: "CDEC", ID: "B"}]; ok {
		t.Fatal("failed station should not be saved")
	}
}

func TestFetchAndStoreTotalFailure(t *testing.T) {
	stations := map[string]*fakeStation{"A": {err: errors.New("down")}}
	svc := New(newFakeStore(), []Source{testSource("CDEC", stations)})

	refs := []StationRef{{Source: "CDEC", ID: "A"}}
	if err := svc.FetchAndStore(context.Background(), refs, DurationDaily, 24*time.Hour, []string{"SWE"}); err == nil {
		t.Fatal("expected error when nothing is stored")
	}
}

// fakeSearcher returns a fixed collection or error.
type fakeSearcher struct {
	col *point.Collection
	err error
}

func (f *fakeSearcher) PointsFromGeometry(context.Context, geo.Polygon, []variables.SensorDescription, point.SearchOptions) (*point.Collection, error) {
	return f.col, f.err
}

func searchStation(id string) point.Station {
	b := point.NewBase(id, id, "CDEC", nil)
	return &b
}

func TestSearchCombinesSources(t *testing.T) {
	good := Source{
		Name: "CDEC", Registry: variables.CDEC,
		Searcher: &fakeSearcher{col: point.NewCollection(searchStation("A"), searchStation("B"))},
	}
	bad := Source{
		Name: "NRCS", Registry: variables.Snotel,
		Searcher: &fakeSearcher{err: errors.New("down")},
	}
	noSearch := Source{Name: "CUES", Registry: variables.CUES}
	svc := New(newFakeStore(), []Source{good, bad, noSearch})

	boundary := geo.FromBounds(geo.BoundingBox{MinX: -120, MinY: 37, MaxX: -118, MaxY: 39})
	col, err := svc.Search(context.Background(), boundary, []string{"SWE"}, point.SearchOptions{}, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if col.Len() != 2 {
		t.Fatalf("len = %d, want 2 (one source failed, one has no searcher)", col.Len())
	}
}

func TestSearchSkipsSourcesWithoutVariable(t *testing.T) {
	searched := &fakeSearcher{col: point.NewCollection(searchStation("A"))}
	cdec := Source{Name: "CDEC", Registry: variables.CDEC, Searcher: searched}
	// USGS has no "SWE @20ft" style variable either; use a CDEC-only name.
	usgs := Source{Name: "USGS", Registry: variables.USGS, Searcher: &fakeSearcher{err: errors.New("must not be called")}}
	svc := New(newFakeStore(), []Source{cdec, usgs})

	boundary := geo.FromBounds(geo.BoundingBox{MinX: -120, MinY: 37, MaxX: -118, MaxY: 39})
	// "ACCUMULATED PRECIPITATION" exists in CDEC but not USGS.
	col, err := svc.Search(context.Background(), boundary, []string{"ACCUMULATED PRECIPITATION"}, point.SearchOptions{}, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if col.Len() != 1 {
		t.Fatalf("len = %d, want 1", col.Len())
	}
}

func TestSearchAllSourcesFail(t *testing.T) {
	bad := Source{Name: "CDEC", Registry: variables.CDEC, Searcher: &fakeSearcher{err: errors.New("down")}}
	svc := New(newFakeStore(), []Source{bad})

	boundary := geo.FromBounds(geo.BoundingBox{MinX: -120, MinY: 37, MaxX: -118, MaxY: 39})
	if _, err := svc.Search(context.Background(), boundary, nil, point.SearchOptions{}, nil); err == nil {
		t.Fatal("expected error when every searched source fails")
	}
}

func TestSourceNamesSorted(t *testing.T) {
	svc := New(newFakeStore(), []Source{{Name: "USGS"}, {Name: "CDEC"}, {Name: "NRCS"}})
	names := svc.SourceNames()
	want := []string{"CDEC", "NRCS", "USGS"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v", names)
		}
	}
}
