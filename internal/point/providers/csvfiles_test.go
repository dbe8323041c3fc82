package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m3w/pointloom/internal/variables"
)

func TestParseCSASTime(t *testing.T) {
	cases := []struct {
		rec  map[string]string
		want time.Time
		ok   bool
	}{
		{map[string]string{"Year": "2005", "DOY": "1", "Hour": "100"},
			time.Date(2005, 1, 1, 1, 0, 0, 0, time.UTC), true},
		{map[string]string{"Year": "2005", "DOY": "32", "Hour": "1330"},
			time.Date(2005, 2, 1, 13, 30, 0, 0, time.UTC), true},
		// Hour 2400 rolls into the next day.
		{map[string]string{"Year": "2005", "DOY": "1", "Hour": "2400"},
			time.Date(2005, 1, 2, 0, 0, 0, 0, time.UTC), true},
		{map[string]string{"Year": "2005", "DOY": "1"}, time.Time{}, false},
	}
	for _, c := range cases {
		got, ok := parseCSASTime(c.rec)
		if ok != c.ok {
			t.Errorf("parseCSASTime(%v) ok = %v, want %v", c.rec, ok, c.ok)
			continue
		}
		if ok && !got.Equal(c.want) {
			t.Errorf("parseCSASTime(%v) = %v, want %v", c.rec, got, c.want)
		}
	}
}

func TestParseSnowExTime(t *testing.T) {
	got, ok := parseSnowExTime(map[string]string{"TIMESTAMP": "2017-02-01 13:30:00"})
	if !ok || !got.Equal(time.Date(2017, 2, 1, 13, 30, 0, 0, time.UTC)) {
		t.Fatalf("got %v, %v", got, ok)
	}
	if _, ok := parseSnowExTime(map[string]string{"TIMESTAMP": "nope"}); ok {
		t.Fatal("bad timestamp should fail")
	}
}

const csasCSVBody = `Year,DOY,Hour,Sno_Height_M,UpAir_Min_C
2005,60,100,1.52,-5.0
2005,60,200,1.53,-6.0
2005,60,300,-9999,-7.0
`

func TestCSASHourlyData(t *testing.T) {
	var downloads int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&downloads, 1)
		w.Write([]byte(csasCSVBody))
	}))
	t.Cleanup(srv.Close)

	st, err := NewCSASStation(srv.Client(), "SBSP", t.TempDir())
	if err != nil {
		t.Fatalf("station: %v", err)
	}
	st.baseURL = srv.URL + "/"

	// DOY 60 of 2005 is March 1st; CSAS clocks are UTC-7.
	start := time.Date(2005, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	df, err := st.HourlyData(context.Background(), start, end,
		[]variables.SensorDescription{variables.CSASSnowDepth, variables.CSASTemp})
	if err != nil {
		t.Fatalf("hourly data: %v", err)
	}
	// Three temperature hours, two snow depth hours (one row is the no-data
	// sentinel).
	if df.Len() != 3 {
		t.Fatalf("len = %d, want 3", df.Len())
	}
	if !df.Row(0).Time.Equal(time.Date(2005, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("time = %v, want 01:00 local = 08:00 UTC", df.Row(0).Time)
	}
	if v, _ := df.Row(0).Float("SNOWDEPTH"); v != 1.52 {
		t.Fatalf("snow depth = %v", v)
	}
	if u, _ := df.Row(0).Value("SNOWDEPTH_units"); u != "m" {
		t.Fatalf("units = %v", u)
	}
	if _, ok := df.Row(2).Float("SNOWDEPTH"); ok {
		t.Fatal("sentinel row should have no snow depth")
	}
	if v, _ := df.Row(2).Float("AIR TEMP"); v != -7.0 {
		t.Fatalf("temp = %v", v)
	}

	// A second fetch reads the cached file.
	if _, err := st.HourlyData(context.Background(), start, end,
		[]variables.SensorDescription{variables.CSASSnowDepth}); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if got := atomic.LoadInt32(&downloads); got != 1 {
		t.Fatalf("downloads = %d, want 1 (file cached)", got)
	}
}

func TestCSASUnknownStation(t *testing.T) {
	if _, err := NewCSASStation(http.DefaultClient, "NOPE", t.TempDir()); err == nil {
		t.Fatal("expected error for unknown station id")
	}
}

func TestSnowExStationTable(t *testing.T) {
	st, err := NewSnowExStation(http.DefaultClient, "GMSP", t.TempDir())
	if err != nil {
		t.Fatalf("station: %v", err)
	}
	p, err := st.Metadata(context.Background())
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	// Grand Mesa sits in the western hemisphere.
	if p.Lon >= 0 {
		t.Fatalf("lon = %v, want negative", p.Lon)
	}
	if st.Source() != "SnowEx" {
		t.Fatalf("source = %s", st.Source())
	}
}
