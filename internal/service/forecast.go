package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/point/providers"
	"github.com/m3w/pointloom/internal/variables"
)

// ForecastService serves gridded NWS forecasts for arbitrary coordinates.
// Forecasts are point-based rather than station-based, so they sit beside
// the station registry instead of inside it.
type ForecastService struct {
	client *http.Client
}

// NewForecastService builds the forecast service.
func NewForecastService(client *http.Client) *ForecastService {
	return &ForecastService{client: client}
}

// Forecast returns the forecast for the grid cell covering the
// coordinate. Only daily and hourly durations exist for forecasts.
func (f *ForecastService) Forecast(ctx context.Context, lat, lon float64, d Duration, varNames []string) (*frame.Frame, error) {
	sensors := make([]variables.SensorDescription, 0, len(varNames))
	for _, name := range varNames {
		sensor, err := variables.NWS.FromName(name)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}

	id := fmt.Sprintf("%.4f,%.4f", lat, lon)
	st := providers.NewNWSStation(f.client, id, "forecast "+id, geo.Point{Lon: lon, Lat: lat})
	switch d {
	case DurationDaily:
		return st.DailyForecast(ctx, sensors)
	case DurationHourly:
		return st.HourlyForecast(ctx, sensors)
	}
	return nil, fmt.Errorf("%w: forecasts have no %s duration", point.ErrUnsupported, d)
}
