package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m3w/pointloom/internal/variables"
)

func TestMesowestTokenPrefersEnv(t *testing.T) {
	t.Setenv(EnvMesowestToken, "env-token")
	tok, err := MesowestToken("")
	if err != nil || tok != "env-token" {
		t.Fatalf("token = %q, %v", tok, err)
	}
}

func TestMesowestTokenFromFile(t *testing.T) {
	t.Setenv(EnvMesowestToken, "")
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte(`{"token": "file-token"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	tok, err := MesowestToken(path)
	if err != nil || tok != "file-token" {
		t.Fatalf("token = %q, %v", tok, err)
	}
}

func floatPtrs(vals ...any) []*float64 {
	out := make([]*float64, len(vals))
	for i, v := range vals {
		if f, ok := v.(float64); ok {
			out[i] = &f
		}
	}
	return out
}

func rawSet(t *testing.T, vals ...any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(floatPtrs(vals...))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestChooseSensorSetPrefersFullerSet(t *testing.T) {
	obs := map[string]json.RawMessage{
		"air_temp_set_1":  rawSet(t, 1.0, nil, nil),
		"air_temp_set_1d": rawSet(t, 1.0, 2.0, 3.0),
	}
	got := chooseSensorSet(obs, variables.MesowestTemp)
	if countNonNull(got) != 3 {
		t.Fatalf("non-null = %d, want the derived set", countNonNull(got))
	}

	// Ties prefer set_1.
	obs["air_temp_set_1"] = rawSet(t, 4.0, 5.0, 6.0)
	got = chooseSensorSet(obs, variables.MesowestTemp)
	if got[0] == nil || *got[0] != 4.0 {
		t.Fatalf("tie should prefer set_1, got %v", got[0])
	}

	// Missing both.
	if chooseSensorSet(map[string]json.RawMessage{}, variables.MesowestTemp) != nil {
		t.Fatal("missing sets should yield nil")
	}
}

const mesowestMetaBody = `{"STATION": [{
	"STID": "MTMES", "NAME": "Mesa Lakes",
	"LATITUDE": "39.05", "LONGITUDE": "-108.06", "ELEVATION": "9850"
}]}`

func TestMesowestHourlyData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/meta", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mesowestMetaBody))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("obtimezone") != "UTC" || q.Get("units") != "metric" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{
			"SUMMARY": {"RESPONSE_MESSAGE": "OK"},
			"UNITS": {"air_temp": "Celsius"},
			"STATION": [{
				"OBSERVATIONS": {
					"date_time": ["2021-05-16T01:00:00Z", "2021-05-16T02:00:00Z", "2021-05-16T03:00:00Z"],
					"air_temp_set_1": [1.5, null, -9999]
				}
			}]
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	st := NewMesowestStation(srv.Client(), "MTMES", "Mesa Lakes", "test-token")
	st.dataURL = srv.URL + "/data"
	st.metaURL = srv.URL + "/meta"

	start := time.Date(2021, 5, 16, 0, 0, 0, 0, time.UTC)
	df, err := st.HourlyData(context.Background(), start, start.Add(6*time.Hour),
		[]variables.SensorDescription{variables.MesowestTemp})
	if err != nil {
		t.Fatalf("hourly data: %v", err)
	}
	// Null and -9999 samples drop out.
	if df.Len() != 1 {
		t.Fatalf("len = %d, want 1", df.Len())
	}
	if v, _ := df.Row(0).Float("AIR TEMP"); v != 1.5 {
		t.Fatalf("temp = %v", v)
	}
	if u, _ := df.Row(0).Value("AIR TEMP_units"); u != "Celsius" {
		t.Fatalf("units = %v", u)
	}
}

func TestMesowestNoStationsIsNoData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/meta", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mesowestMetaBody))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"SUMMARY": {"RESPONSE_MESSAGE": "No stations found for this request."}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	st := NewMesowestStation(srv.Client(), "MTMES", "Mesa Lakes", "test-token")
	st.dataURL = srv.URL + "/data"
	st.metaURL = srv.URL + "/meta"

	start := time.Date(2021, 5, 16, 0, 0, 0, 0, time.UTC)
	df, err := st.HourlyData(context.Background(), start, start.Add(time.Hour),
		[]variables.SensorDescription{variables.MesowestTemp})
	if err != nil || df != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", df, err)
	}
}
