package config

import (
	"testing"
	"time"

	"github.com/m3w/pointloom/internal/service"
)

func TestParseStations(t *testing.T) {
	refs, err := parseStations("CDEC:TNY, NRCS:713:CO:SNTL,USGS:09107000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []service.StationRef{
		{Source: "CDEC", ID: "TNY"},
		// AWDB triplets keep their inner colons.
		{Source: "NRCS", ID: "713:CO:SNTL"},
		{Source: "USGS", ID: "09107000"},
	}
	if len(refs) != len(want) {
		t.Fatalf("refs = %v", refs)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Fatalf("ref %d = %v, want %v", i, refs[i], want[i])
		}
	}
}

func TestParseStationsRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"CDEC", "CDEC:", ":TNY"} {
		if _, err := parseStations(bad); err == nil {
			t.Errorf("parseStations(%q) should fail", bad)
		}
	}
}

func TestParseStationsEmpty(t *testing.T) {
	refs, err := parseStations("")
	if err != nil || refs != nil {
		t.Fatalf("got (%v, %v)", refs, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"M3W_STATIONS", "M3W_VARIABLES", "M3W_DURATION", "M3W_FETCH_WINDOW",
		"M3W_FETCH_INTERVAL", "M3W_STORE_MAX_HISTORY", "M3W_STORE_MAX_AGE",
		"M3W_HTTP_TIMEOUT", "PORT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Duration != service.DurationDaily {
		t.Errorf("duration = %s", cfg.Duration)
	}
	if cfg.FetchWindow != 7*24*time.Hour {
		t.Errorf("window = %v", cfg.FetchWindow)
	}
	if cfg.FetchInterval != 6*time.Hour {
		t.Errorf("interval = %v", cfg.FetchInterval)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %s", cfg.Port)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("timeout = %v", cfg.HTTPTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("M3W_STATIONS", "NRCS:713:CO:SNTL")
	t.Setenv("M3W_VARIABLES", "SWE, SNOWDEPTH")
	t.Setenv("M3W_DURATION", "hourly")
	t.Setenv("M3W_FETCH_WINDOW", "48h")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Stations) != 1 || cfg.Stations[0].ID != "713:CO:SNTL" {
		t.Errorf("stations = %v", cfg.Stations)
	}
	if len(cfg.Variables) != 2 || cfg.Variables[1] != "SNOWDEPTH" {
		t.Errorf("variables = %v", cfg.Variables)
	}
	if cfg.Duration != service.DurationHourly {
		t.Errorf("duration = %s", cfg.Duration)
	}
	if cfg.FetchWindow != 48*time.Hour {
		t.Errorf("window = %v", cfg.FetchWindow)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %s", cfg.Port)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("M3W_DURATION", "weekly")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
