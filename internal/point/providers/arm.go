package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/sony/gobreaker"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/variables"
)

// ARM Live Data Webservice credentials.
// https://adc.arm.gov/armlive/register#web_services
const (
	EnvARMUserID      = "M3W_ARM_USER_ID"
	EnvARMAccessToken = "M3W_ARM_ACCESS_TOKEN"
)

// armDownloadWorkers bounds concurrent file downloads per request.
const armDownloadWorkers = 4

// ARMCredentials reads the ARM user id and access token from the
// environment.
func ARMCredentials() (userID, token string, err error) {
	userID = os.Getenv(EnvARMUserID)
	token = os.Getenv(EnvARMAccessToken)
	if userID == "" || token == "" {
		return "", "", fmt.Errorf("arm: credentials required, set %s and %s", EnvARMUserID, EnvARMAccessToken)
	}
	return userID, token, nil
}

// SAILStation implements point.Station for the SAIL field campaign at the
// ARM GUC site near Gothic, Colorado. Data files are netCDF, fetched from
// the ARM Live Data Webservice and cached on disk.
// https://adc.arm.gov/discovery/#/results/site_code::guc
type SAILStation struct {
	point.Base

	baseURL  string
	userID   string
	token    string
	cacheDir string

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewSAILStation builds the SAIL station. cacheDir holds downloaded netCDF
// files; empty means ".armdata".
func NewSAILStation(client *http.Client, userID, token, cacheDir string) *SAILStation {
	if cacheDir == "" {
		cacheDir = ".armdata"
	}
	s := &SAILStation{
		baseURL:  "https://adc.arm.gov/armlive/data/",
		userID:   userID,
		token:    token,
		cacheDir: cacheDir,
		httpCfg:  defaultHTTPConfig(client),
		circuit:  newCircuit("sail"),
	}
	s.Base = point.NewBase("GUC", "SAIL", variables.SourceSAIL, s)
	// The GUC M1 facility location is fixed.
	s.SetMetadata(geo.Point{Lon: -106.987856, Lat: 38.956158, Elevation: 2886 * metersToFeet})
	s.SetTimezone(time.UTC)
	return s
}

func (s *SAILStation) ResolveMetadata(context.Context) (geo.Point, error) {
	return geo.Point{}, fmt.Errorf("sail: metadata is static")
}

func (s *SAILStation) ResolveTimezone(context.Context) (*time.Location, error) {
	return time.UTC, nil
}

func (s *SAILStation) DailyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, 24*time.Hour)
}

func (s *SAILStation) HourlyData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription) (*frame.Frame, error) {
	return s.getData(ctx, start, end, vars, time.Hour)
}

// getData downloads each sensor's datastream files for the window, reads
// the raw samples out of the netCDF files, and resamples per sensor before
// merging.
func (s *SAILStation) getData(ctx context.Context, start, end time.Time, vars []variables.SensorDescription, interval time.Duration) (*frame.Frame, error) {
	geom, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	var df *frame.Frame
	for _, sensor := range vars {
		if !variables.SAIL.Contains(sensor) {
			logSkippedVariable(variables.SourceSAIL, s.ID(), sensor.Name, "not a SAIL variable")
			continue
		}
		files, err := s.fetchDatastream(ctx, armDatastream(sensor), start, end)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			logSkippedVariable(variables.SourceSAIL, s.ID(), sensor.Name, "no files for the date range")
			continue
		}
		sdf, err := s.sensorFrame(files, sensor, interval)
		if err != nil {
			return nil, err
		}
		if sdf == nil {
			logSkippedVariable(variables.SourceSAIL, s.ID(), sensor.Name, "no data returned")
			continue
		}
		df, err = frame.Merge(df, sdf)
		if err != nil {
			return nil, err
		}
	}
	return finalize(df, s.ID(), variables.SourceSAIL, geom)
}

// armDatastream assembles the datastream name from the sensor's Extra
// fields, e.g. "gucmetM1.b1".
func armDatastream(sensor variables.SensorDescription) string {
	return sensor.Extra["site"] + sensor.Extra["measurement"] +
		sensor.Extra["facility_code"] + "." + sensor.Extra["data_level"]
}

// fetchDatastream lists the datastream files for the window and downloads
// the ones not already cached, a few at a time. Files already on disk are
// not fetched again.
func (s *SAILStation) fetchDatastream(ctx context.Context, datastream string, start, end time.Time) ([]string, error) {
	var listing struct {
		Files []string `json:"files"`
	}
	err := getJSON(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		q := url.Values{
			"user":  {s.userID + ":" + s.token},
			"ds":    {datastream},
			"start": {start.Format("2006-01-02")},
			"end":   {end.Format("2006-01-02")},
			"wt":    {"json"},
		}
		return http.NewRequest(http.MethodGet, s.baseURL+"query?"+q.Encode(), nil)
	}, &listing)
	if err != nil {
		return nil, fmt.Errorf("arm: querying datastream %s: %w", datastream, err)
	}
	if len(listing.Files) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("arm: creating cache dir: %w", err)
	}

	var (
		wg    sync.WaitGroup
		sem   = make(chan struct{}, armDownloadWorkers)
		mu    sync.Mutex
		local []string
		errs  []error
	)
	for _, file := range listing.Files {
		wg.Add(1)
		go func(file string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			path, err := s.downloadFile(ctx, file)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			local = append(local, path)
		}(file)
	}
	wg.Wait()
	if len(errs) > 0 {
		return nil, fmt.Errorf("arm: downloading %d of %d files failed: %w", len(errs), len(listing.Files), errs[0])
	}
	sort.Strings(local)
	return local, nil
}

// downloadFile fetches one file via saveData into the cache, skipping
// files already present.
func (s *SAILStation) downloadFile(ctx context.Context, file string) (string, error) {
	path := filepath.Join(s.cacheDir, file)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	resp, err := doRequestWithResilience(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		q := url.Values{
			"user": {s.userID + ":" + s.token},
			"file": {file},
		}
		return http.NewRequest(http.MethodGet, s.baseURL+"saveData?"+q.Encode(), nil)
	})
	if err != nil {
		return "", fmt.Errorf("arm: downloading %s: %w", file, err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(s.cacheDir, file+".tmp")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("arm: writing %s: %w", file, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

// sensorFrame reads the sensor's samples from each file, concatenates
// them, and resamples to the requested interval.
func (s *SAILStation) sensorFrame(files []string, sensor variables.SensorDescription, interval time.Duration) (*frame.Frame, error) {
	df := frame.New(sensor.Name)
	for _, path := range files {
		if err := s.readFile(path, sensor, df); err != nil {
			return nil, err
		}
	}
	df = frame.ResampleSeries(df, sensor, interval)
	if df == nil {
		return nil, nil
	}
	if sensor.Units != "" {
		df.SetConst(sensor.UnitsColumn(), sensor.Units)
	}
	return df, nil
}

// readFile appends one netCDF file's samples to df. ARM files store time
// as base_time (epoch seconds) plus per-sample time_offset seconds.
func (s *SAILStation) readFile(path string, sensor variables.SensorDescription, df *frame.Frame) error {
	nc, err := netcdf.Open(path)
	if err != nil {
		return fmt.Errorf("arm: opening %s: %w", path, err)
	}
	defer nc.Close()

	base, err := scalarInt(nc, "base_time")
	if err != nil {
		return fmt.Errorf("arm: %s: %w", path, err)
	}
	offsets, err := floatValues(nc, "time_offset")
	if err != nil {
		return fmt.Errorf("arm: %s: %w", path, err)
	}
	values, err := floatValues(nc, sensor.Code)
	if err != nil {
		return fmt.Errorf("arm: %s: %w", path, err)
	}

	n := len(offsets)
	if len(values) < n {
		n = len(values)
	}
	for i := 0; i < n; i++ {
		t := time.Unix(base, 0).Add(time.Duration(offsets[i] * float64(time.Second))).UTC()
		df.Append(t, "GUC", frame.C(sensor.Name, values[i]))
	}
	return nil
}

func scalarInt(nc api.Group, name string) (int64, error) {
	getter, err := nc.GetVarGetter(name)
	if err != nil {
		return 0, err
	}
	v, err := getter.Values()
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case []int32:
		if len(x) > 0 {
			return int64(x[0]), nil
		}
	case []int64:
		if len(x) > 0 {
			return x[0], nil
		}
	}
	return 0, fmt.Errorf("variable %s is not an integer scalar", name)
}

func floatValues(nc api.Group, name string) ([]float64, error) {
	getter, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, err
	}
	v, err := getter.Values()
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []float64:
		return x, nil
	case []float32:
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = float64(f)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = float64(f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("variable %s has unsupported type %T", name, v)
}
