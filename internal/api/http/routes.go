package httpapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kelvins/geocoder"

	"github.com/m3w/pointloom/internal/geo"
	"github.com/m3w/pointloom/internal/point"
	"github.com/m3w/pointloom/internal/service"
	"github.com/m3w/pointloom/internal/store"
	"github.com/m3w/pointloom/internal/variables"
)

var validate = validator.New()

// Server bundles the dependencies of the HTTP handlers.
type Server struct {
	svc      *service.Service
	forecast *service.ForecastService
	mem      *store.MemoryStore
}

// NewServer builds the handler set.
func NewServer(svc *service.Service, forecast *service.ForecastService, mem *store.MemoryStore) *Server {
	return &Server{svc: svc, forecast: forecast, mem: mem}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	v1 := app.Group("/api/v1")

	v1.Get("/sources", s.handleSources)
	v1.Get("/stations/search", s.handleStationSearch)
	v1.Get("/stations/near", s.handleStationsNear)
	v1.Get("/data/:duration", s.handleData)
	v1.Get("/data/:duration/sample", s.handleSample)
	v1.Get("/data/:duration/latest", s.handleLatest)
	v1.Get("/data/:duration/history", s.handleHistory)
	v1.Get("/forecast/:duration", s.handleForecast)
}

func (s *Server) handleSources(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"sources": s.svc.SourceNames()})
}

// searchQuery holds the bounding box and filters for a station search.
type searchQuery struct {
	MinLon float64 `validate:"gte=-180,lte=180"`
	MinLat float64 `validate:"gte=-90,lte=90"`
	MaxLon float64 `validate:"gtefield=MinLon,lte=180"`
	MaxLat float64 `validate:"gtefield=MinLat,lte=90"`

	Vars           []string
	Sources        []string
	SnowCourses    bool
	WithinGeometry bool
	Buffer         float64 `validate:"gte=0"`
}

func (q *searchQuery) bind(c *fiber.Ctx) error {
	var err error
	if q.MinLon, err = queryFloat(c, "min_lon"); err != nil {
		return err
	}
	if q.MinLat, err = queryFloat(c, "min_lat"); err != nil {
		return err
	}
	if q.MaxLon, err = queryFloat(c, "max_lon"); err != nil {
		return err
	}
	if q.MaxLat, err = queryFloat(c, "max_lat"); err != nil {
		return err
	}
	q.Vars = queryList(c, "vars")
	q.Sources = queryList(c, "sources")
	q.SnowCourses = c.QueryBool("snow_courses")
	q.WithinGeometry = c.QueryBool("within_geometry", true)
	q.Buffer = c.QueryFloat("buffer")
	return nil
}

func (s *Server) handleStationSearch(c *fiber.Ctx) error {
	var q searchQuery
	if err := q.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	boundary := geo.FromBounds(geo.BoundingBox{
		MinX: q.MinLon, MinY: q.MinLat, MaxX: q.MaxLon, MaxY: q.MaxLat,
	})
	return s.searchAndRespond(c, boundary, q.Vars, q.Sources, point.SearchOptions{
		SnowCourses:    q.SnowCourses,
		WithinGeometry: q.WithinGeometry,
		BufferDegrees:  q.Buffer,
	})
}

// nearQuery holds an address to geocode into a search box.
type nearQuery struct {
	City    string `validate:"required"`
	State   string
	Country string

	Vars        []string
	Sources     []string
	SnowCourses bool
	Buffer      float64 `validate:"gte=0"`
}

func (s *Server) handleStationsNear(c *fiber.Ctx) error {
	q := nearQuery{
		City:        c.Query("city"),
		State:       c.Query("state"),
		Country:     c.Query("country"),
		Vars:        queryList(c, "vars"),
		Sources:     queryList(c, "sources"),
		SnowCourses: c.QueryBool("snow_courses"),
		Buffer:      c.QueryFloat("buffer", 0.5),
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	location, err := geocoder.Geocoding(geocoder.Address{
		City:    q.City,
		State:   q.State,
		Country: q.Country,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "geocoding failed: "+err.Error())
	}

	boundary := geo.FromBounds(geo.BoundingBox{
		MinX: location.Longitude - q.Buffer,
		MinY: location.Latitude - q.Buffer,
		MaxX: location.Longitude + q.Buffer,
		MaxY: location.Latitude + q.Buffer,
	})
	return s.searchAndRespond(c, boundary, q.Vars, q.Sources, point.SearchOptions{
		SnowCourses:    q.SnowCourses,
		WithinGeometry: true,
	})
}

func (s *Server) searchAndRespond(c *fiber.Ctx, boundary geo.Polygon, vars, sources []string, opts point.SearchOptions) error {
	collection, err := s.svc.Search(c.Context(), boundary, vars, opts, sources)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"count":    collection.Len(),
		"stations": collection.Records(c.Context()),
	})
}

// dataQuery holds the parameters of a data request.
type dataQuery struct {
	Source  string `validate:"required"`
	Station string `validate:"required"`
	Vars    []string
	From    time.Time `validate:"required"`
	To      time.Time `validate:"required,gtefield=From"`
}

func (q *dataQuery) bind(c *fiber.Ctx) error {
	q.Source = c.Query("source")
	q.Station = c.Query("station")
	q.Vars = queryList(c, "vars")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}
	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}
	q.From = from
	q.To = to
	return nil
}

func (s *Server) handleData(c *fiber.Ctx) error {
	duration, err := service.ParseDuration(c.Params("duration"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	var q dataQuery
	if err := q.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ref := service.StationRef{Source: q.Source, ID: q.Station}
	df, err := s.svc.Fetch(c.Context(), ref, duration, q.From, q.To, q.Vars)
	if err != nil {
		switch {
		case errors.Is(err, variables.ErrNotFound):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, point.ErrUnsupported):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fiber.NewError(fiber.StatusBadGateway, "failed to fetch station data: "+err.Error())
	}
	if df == nil {
		return fiber.NewError(fiber.StatusNotFound, "no data for requested window")
	}
	return c.JSON(fiber.Map{
		"station": ref,
		"from":    q.From,
		"to":      q.To,
		"records": df.Records(),
	})
}

// handleSample fetches the same window from several stations and returns
// the appended rows. Stations are given as SOURCE:ID entries.
func (s *Server) handleSample(c *fiber.Ctx) error {
	duration, err := service.ParseDuration(c.Params("duration"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	refs, err := parseStationRefs(queryList(c, "stations"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" || toStr == "" {
		return fiber.NewError(fiber.StatusBadRequest, "from and to query parameters are required")
	}
	from, err := parseTime(fromStr)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	to, err := parseTime(toStr)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	df, err := s.svc.Sample(c.Context(), refs, duration, from, to, queryList(c, "vars"))
	if err != nil {
		if errors.Is(err, variables.ErrNotFound) || errors.Is(err, point.ErrUnsupported) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fiber.NewError(fiber.StatusBadGateway, "failed to sample stations: "+err.Error())
	}
	if df == nil {
		return fiber.NewError(fiber.StatusNotFound, "no data for requested window")
	}
	return c.JSON(fiber.Map{
		"stations": refs,
		"records":  df.Records(),
	})
}

func (s *Server) handleLatest(c *fiber.Ctx) error {
	duration, err := service.ParseDuration(c.Params("duration"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	ref := service.StationRef{Source: c.Query("source"), ID: c.Query("station")}
	if ref.Source == "" || ref.ID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "source and station query parameters are required")
	}

	df, err := s.svc.Latest(ref, duration)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no stored data for station")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"station": ref,
		"records": df.Records(),
	})
}

// handleHistory returns every stored snapshot for a station within a
// fetch-time window.
func (s *Server) handleHistory(c *fiber.Ctx) error {
	duration, err := service.ParseDuration(c.Params("duration"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	ref := service.StationRef{Source: c.Query("source"), ID: c.Query("station")}
	if ref.Source == "" || ref.ID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "source and station query parameters are required")
	}

	from := time.Time{}
	to := time.Now().UTC()
	if raw := c.Query("from"); raw != "" {
		if from, err = parseTime(raw); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = parseTime(raw); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}

	frames, err := s.mem.Range(ref, duration, from, to)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no stored data for station")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	snapshots := make([][]map[string]any, 0, len(frames))
	for _, df := range frames {
		snapshots = append(snapshots, df.Records())
	}
	return c.JSON(fiber.Map{
		"station":   ref,
		"snapshots": snapshots,
	})
}

func (s *Server) handleForecast(c *fiber.Ctx) error {
	duration, err := service.ParseDuration(c.Params("duration"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	lat, err := queryFloat(c, "lat")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	lon, err := queryFloat(c, "lon")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	df, err := s.forecast.Forecast(c.Context(), lat, lon, duration, queryList(c, "vars"))
	if err != nil {
		switch {
		case errors.Is(err, variables.ErrNotFound), errors.Is(err, point.ErrUnsupported):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fiber.NewError(fiber.StatusBadGateway, "failed to fetch forecast: "+err.Error())
	}
	if df == nil {
		return fiber.NewError(fiber.StatusNotFound, "no forecast data")
	}
	return c.JSON(fiber.Map{"records": df.Records()})
}

func parseStationRefs(entries []string) ([]service.StationRef, error) {
	if len(entries) == 0 {
		return nil, errors.New("stations query parameter is required")
	}
	refs := make([]service.StationRef, 0, len(entries))
	for _, entry := range entries {
		source, id, found := strings.Cut(entry, ":")
		if !found || source == "" || id == "" {
			return nil, errors.New("invalid station " + strconv.Quote(entry) + ", want SOURCE:ID")
		}
		refs = append(refs, service.StationRef{Source: source, ID: id})
	}
	return refs, nil
}

func queryFloat(c *fiber.Ctx, key string) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, errors.New(key + " query parameter is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New(key + " must be a number")
	}
	return v, nil
}

func queryList(c *fiber.Ctx, key string) []string {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse("2006-01-02", s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339, YYYY-MM-DD, or unix seconds")
}
