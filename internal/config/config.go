package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/m3w/pointloom/internal/service"
)

type AppConfig struct {
	// Datasource credentials. Missing credentials disable the datasources
	// that need them.
	Credentials service.Credentials

	// Stations the scheduler keeps fresh, as SOURCE:ID entries.
	Stations []service.StationRef

	// Variables fetched for the scheduled stations, by canonical name.
	Variables []string

	// Duration of the scheduled fetches.
	Duration service.Duration

	// FetchWindow is how far back each scheduled fetch reaches.
	FetchWindow time.Duration

	// FetchInterval controls how often the scheduler runs.
	FetchInterval time.Duration

	// In-memory store retention.
	StoreMaxHistory int           // max snapshots per station (0 = unlimited)
	StoreMaxAge     time.Duration // max snapshot age (0 = unlimited)

	// GeocoderAPIKey enables the address-based station search.
	GeocoderAPIKey string

	HTTPTimeout time.Duration
	Port        string
}

// Load reads configuration from the environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Credentials = service.Credentials{
		MesowestToken:     os.Getenv("M3W_MESOWEST_TOKEN"),
		FrostClientID:     os.Getenv("M3W_FROST_CLIENT_ID"),
		FrostClientSecret: os.Getenv("M3W_FROST_CLIENT_SECRET"),
		ARMUserID:         os.Getenv("M3W_ARM_USER_ID"),
		ARMAccessToken:    os.Getenv("M3W_ARM_ACCESS_TOKEN"),
		CacheDir:          getenvDefault("M3W_CACHE_DIR", "./cache"),
	}
	cfg.GeocoderAPIKey = os.Getenv("M3W_GEOCODER_API_KEY")

	stations, err := parseStations(os.Getenv("M3W_STATIONS"))
	if err != nil {
		return nil, err
	}
	cfg.Stations = stations

	if vars := os.Getenv("M3W_VARIABLES"); vars != "" {
		for _, name := range strings.Split(vars, ",") {
			cfg.Variables = append(cfg.Variables, strings.TrimSpace(name))
		}
	}

	duration, err := service.ParseDuration(getenvDefault("M3W_DURATION", string(service.DurationDaily)))
	if err != nil {
		return nil, fmt.Errorf("invalid M3W_DURATION: %w", err)
	}
	cfg.Duration = duration

	cfg.FetchWindow, err = getenvDuration("M3W_FETCH_WINDOW", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	// Scheduler interval: default 6 hours; station networks publish on
	// hourly or daily cadences.
	cfg.FetchInterval, err = getenvDuration("M3W_FETCH_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, err
	}

	// Store retention.
	cfg.StoreMaxHistory = getenvInt("M3W_STORE_MAX_HISTORY", 28) // roughly a week at 6-hour intervals
	cfg.StoreMaxAge, err = getenvDuration("M3W_STORE_MAX_AGE", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.HTTPTimeout, err = getenvDuration("M3W_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

// parseStations splits "CDEC:TNY,NRCS:713:CO:SNTL" into station refs.
// Everything after the first colon belongs to the station id, so AWDB
// triplets survive.
func parseStations(raw string) ([]service.StationRef, error) {
	if raw == "" {
		return nil, nil
	}
	var refs []service.StationRef
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		source, id, found := strings.Cut(entry, ":")
		if !found || source == "" || id == "" {
			return nil, fmt.Errorf("invalid M3W_STATIONS entry %q, want SOURCE:ID", entry)
		}
		refs = append(refs, service.StationRef{Source: source, ID: id})
	}
	return refs, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
