package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/variables"
)

const snotelStationBody = `[{
	"stationTriplet": "713:CO:SNTL",
	"name": "Red Mountain Pass",
	"latitude": 37.891,
	"longitude": -107.712,
	"elevation": 11200,
	"dataTimeZone": -8.0
}]`

func newTestSnotelStation(t *testing.T, handler http.Handler) *SnotelStation {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	st := NewSnotelStation(srv.Client(), "713:CO:SNTL", "Red Mountain Pass")
	st.baseURL = srv.URL
	return st
}

func TestSnotelDailyData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stations", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(snotelStationBody))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("duration"); got != "DAILY" {
			t.Errorf("duration = %s", got)
		}
		if got := r.URL.Query().Get("elements"); got != "WTEQ" {
			t.Errorf("elements = %s", got)
		}
		w.Write([]byte(`[{
			"stationTriplet": "713:CO:SNTL",
			"data": [{
				"stationElement": {"elementCode": "WTEQ", "storedUnitCode": "in"},
				"values": [
					{"date": "2020-03-20", "value": 13.2, "qcFlag": "V"},
					{"date": "2020-03-21", "value": 13.4, "qcFlag": "V"}
				]
			}]
		}]`))
	})

	st := newTestSnotelStation(t, mux)
	start := time.Date(2020, 3, 20, 0, 0, 0, 0, time.UTC)
	df, err := st.DailyData(context.Background(), start, start.Add(48*time.Hour),
		[]variables.SensorDescription{variables.SnotelSWE})
	if err != nil {
		t.Fatalf("daily data: %v", err)
	}
	if df.Len() != 2 {
		t.Fatalf("len = %d, want 2", df.Len())
	}
	// dataTimeZone -8: midnight local is 08:00 UTC.
	want := time.Date(2020, 3, 20, 8, 0, 0, 0, time.UTC)
	if !df.Row(0).Time.Equal(want) {
		t.Fatalf("time = %v, want %v", df.Row(0).Time, want)
	}
	if v, _ := df.Row(0).Float("SWE"); v != 13.2 {
		t.Fatalf("SWE = %v", v)
	}
	if u, _ := df.Row(0).Value("SWE_units"); u != "in" {
		t.Fatalf("units = %v", u)
	}
	if q, _ := df.Row(0).Value(frame.ColQualityCode); q != "V" {
		t.Fatalf("quality = %v", q)
	}
}

func TestSnotelSnowCourseKeepsCollectionDate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stations", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{
			"stationTriplet": "06J01:CO:SNOW", "name": "Berthoud Summit",
			"latitude": 39.8, "longitude": -105.78, "elevation": 11300
		}]`))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("duration"); got != "SEMIMONTHLY" {
			t.Errorf("duration = %s", got)
		}
		w.Write([]byte(`[{
			"stationTriplet": "06J01:CO:SNOW",
			"data": [{
				"stationElement": {"elementCode": "WTEQ", "storedUnitCode": "in"},
				"values": [{"date": "2020-04-01", "collectionDate": "2020-03-29", "value": 17.0}]
			}]
		}]`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	st := NewSnotelStation(srv.Client(), "06J01:CO:SNOW", "Berthoud Summit")
	st.baseURL = srv.URL

	start := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)
	df, err := st.SnowCourseData(context.Background(), start, start.Add(30*24*time.Hour),
		[]variables.SensorDescription{variables.SnotelSWE})
	if err != nil {
		t.Fatalf("snow course data: %v", err)
	}
	if df.Len() != 1 {
		t.Fatalf("len = %d", df.Len())
	}
	// Station without dataTimeZone reports in UTC.
	if !df.Row(0).Time.Equal(time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("time = %v", df.Row(0).Time)
	}
	md, ok := df.Row(0).Value(frame.ColMeasurementDate)
	if !ok {
		t.Fatal("measurementDate missing")
	}
	if !md.(time.Time).Equal(time.Date(2020, 3, 29, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("measurementDate = %v", md)
	}
}

func TestMatchSnotelElement(t *testing.T) {
	two := 2
	eight := 8
	sto2, _ := variables.Snotel.FromCode("STO:2")
	requested := []variables.SensorDescription{variables.SnotelSWE, sto2}

	if s, ok := matchSnotelElement(requested, "WTEQ", nil); !ok || s.Code != "WTEQ" {
		t.Fatalf("WTEQ match = %v, %v", s, ok)
	}
	if s, ok := matchSnotelElement(requested, "STO", &two); !ok || s.Code != "STO:2" {
		t.Fatalf("STO depth 2 match = %v, %v", s, ok)
	}
	if _, ok := matchSnotelElement(requested, "STO", &eight); ok {
		t.Fatal("depth 8 should not match a depth-2 request")
	}
	if _, ok := matchSnotelElement(requested, "STO", nil); ok {
		t.Fatal("missing heightDepth should not match a depth-qualified request")
	}
	if _, ok := matchSnotelElement(requested, "SNWD", nil); ok {
		t.Fatal("unrequested element should not match")
	}
}

func TestSnotelElementCode(t *testing.T) {
	sto2, _ := variables.Snotel.FromCode("STO:2")
	if got := snotelElementCode(sto2); got != "STO" {
		t.Fatalf("code = %s, want STO", got)
	}
	if got := snotelElementCode(variables.SnotelSWE); got != "WTEQ" {
		t.Fatalf("code = %s, want WTEQ", got)
	}
}
