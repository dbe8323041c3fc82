package point

import (
	"context"

	"github.com/m3w/pointloom/internal/geo"
)

// StationRecord is the flattened view of one station in a collection.
type StationRecord struct {
	Name       string    `json:"name"`
	ID         string    `json:"id"`
	DataSource string    `json:"datasource"`
	Geometry   geo.Point `json:"geometry"`
}

// Collection is an ordered, append-only sequence of stations. It enforces
// no deduplication; adapters de-duplicate search results before insertion.
type Collection struct {
	stations []Station
}

// NewCollection builds a collection from stations in order.
func NewCollection(stations ...Station) *Collection {
	return &Collection{stations: append([]Station(nil), stations...)}
}

// Add appends a station.
func (c *Collection) Add(s Station) {
	c.stations = append(c.stations, s)
}

// Len returns the number of stations. Safe on a nil collection.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.stations)
}

// Stations returns the stations in insertion order.
func (c *Collection) Stations() []Station {
	if c == nil {
		return nil
	}
	return c.stations
}

// Records flattens the collection into one record per station. Stations
// whose metadata cannot be resolved keep a zero geometry.
func (c *Collection) Records(ctx context.Context) []StationRecord {
	if c == nil {
		return nil
	}
	out := make([]StationRecord, 0, len(c.stations))
	for _, s := range c.stations {
		rec := StationRecord{Name: s.Name(), ID: s.ID(), DataSource: s.Source()}
		if p, err := s.Metadata(ctx); err == nil {
			rec.Geometry = p
		}
		out = append(out, rec)
	}
	return out
}
