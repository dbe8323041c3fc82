// Package geo holds the small amount of planar geometry the station search
// needs: points with elevation, bounding boxes, and polygon containment.
// Coordinates are WGS84 degrees; elevation is feet.
package geo

import "fmt"

// Point is a station location. Longitude, latitude in degrees, elevation in feet.
type Point struct {
	Lon       float64
	Lat       float64
	Elevation float64
}

func (p Point) String() string {
	return fmt.Sprintf("POINT (%g %g %g)", p.Lon, p.Lat, p.Elevation)
}

// BoundingBox is an axis-aligned lon/lat box.
type BoundingBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Buffer expands the box by deg degrees on every side.
func (b BoundingBox) Buffer(deg float64) BoundingBox {
	return BoundingBox{
		MinX: b.MinX - deg,
		MinY: b.MinY - deg,
		MaxX: b.MaxX + deg,
		MaxY: b.MaxY + deg,
	}
}

// Contains reports whether p falls inside the box (edges inclusive).
func (b BoundingBox) Contains(p Point) bool {
	return p.Lon >= b.MinX && p.Lon <= b.MaxX && p.Lat >= b.MinY && p.Lat <= b.MaxY
}

// Polygon is a simple closed ring of vertices. The ring does not need to
// repeat the first vertex at the end.
type Polygon struct {
	ring []Point
}

// NewPolygon builds a polygon from its vertices in order.
func NewPolygon(ring []Point) Polygon {
	cp := make([]Point, len(ring))
	copy(cp, ring)
	return Polygon{ring: cp}
}

// FromBounds returns the rectangular polygon covering b.
func FromBounds(b BoundingBox) Polygon {
	return NewPolygon([]Point{
		{Lon: b.MinX, Lat: b.MinY},
		{Lon: b.MaxX, Lat: b.MinY},
		{Lon: b.MaxX, Lat: b.MaxY},
		{Lon: b.MinX, Lat: b.MaxY},
	})
}

// Ring returns the polygon vertices in order.
func (pg Polygon) Ring() []Point {
	return pg.ring
}

// Bounds returns the bounding box of the polygon.
func (pg Polygon) Bounds() BoundingBox {
	if len(pg.ring) == 0 {
		return BoundingBox{}
	}
	b := BoundingBox{
		MinX: pg.ring[0].Lon, MaxX: pg.ring[0].Lon,
		MinY: pg.ring[0].Lat, MaxY: pg.ring[0].Lat,
	}
	for _, p := range pg.ring[1:] {
		if p.Lon < b.MinX {
			b.MinX = p.Lon
		}
		if p.Lon > b.MaxX {
			b.MaxX = p.Lon
		}
		if p.Lat < b.MinY {
			b.MinY = p.Lat
		}
		if p.Lat > b.MaxY {
			b.MaxY = p.Lat
		}
	}
	return b
}

// Contains reports whether p is inside the polygon using the even-odd rule.
// Points on an edge may fall on either side.
func (pg Polygon) Contains(p Point) bool {
	n := len(pg.ring)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := pg.ring[i], pg.ring[j]
		if (pi.Lat > p.Lat) != (pj.Lat > p.Lat) {
			x := (pj.Lon-pi.Lon)*(p.Lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
