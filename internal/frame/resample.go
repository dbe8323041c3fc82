package frame

import (
	"sort"
	"time"

	"github.com/m3w/pointloom/internal/variables"
)

// ResampleSeries aggregates a single-variable frame to the target interval.
// Accumulated sensors are summed per interval, everything else is averaged.
// Intervals with no samples for the sensor are dropped, not zero-filled.
// The result carries only the sensor's value column.
func ResampleSeries(f *Frame, sensor variables.SensorDescription, interval time.Duration) *Frame {
	if f.Len() == 0 {
		return f
	}
	buckets := bucketize(f, interval)
	out := New(sensor.Name)
	for _, b := range buckets {
		agg, n := aggregate(b.rows, sensor)
		if n == 0 {
			continue
		}
		out.Append(b.start, b.site, C(sensor.Name, agg))
	}
	if out.Len() == 0 {
		return nil
	}
	return out
}

// ResampleFrame aggregates the sensor's value column like ResampleSeries but
// keeps every other column, taking its first set value within the interval.
// Appropriate for companion columns such as geometry or units that are
// constant within the window, not for additional measured variables.
func ResampleFrame(f *Frame, sensor variables.SensorDescription, interval time.Duration) *Frame {
	if f.Len() == 0 {
		return f
	}
	buckets := bucketize(f, interval)
	out := New(f.columns...)
	for _, b := range buckets {
		agg, n := aggregate(b.rows, sensor)
		row := Row{Time: b.start, Site: b.site, Cells: make(map[string]any, len(f.columns))}
		for _, c := range f.columns {
			if c == sensor.Name {
				continue
			}
			for _, r := range b.rows {
				if v, ok := r.Value(c); ok {
					row.Cells[c] = v
					break
				}
			}
		}
		if n == 0 {
			continue
		}
		row.Cells[sensor.Name] = agg
		out.rows = append(out.rows, row)
	}
	if out.Len() == 0 {
		return nil
	}
	return out
}

type bucket struct {
	start time.Time
	site  string
	rows  []Row
}

// bucketize groups rows by truncated UTC timestamp and site, preserving
// first-seen bucket order, then sorts buckets by (time, site).
func bucketize(f *Frame, interval time.Duration) []bucket {
	index := make(map[key]int, f.Len())
	var buckets []bucket
	for _, r := range f.rows {
		start := r.Time.UTC().Truncate(interval)
		k := key{unix: start.UnixNano(), site: r.Site}
		i, ok := index[k]
		if !ok {
			i = len(buckets)
			index[k] = i
			buckets = append(buckets, bucket{start: start, site: r.Site})
		}
		buckets[i].rows = append(buckets[i].rows, r)
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		if !buckets[i].start.Equal(buckets[j].start) {
			return buckets[i].start.Before(buckets[j].start)
		}
		return buckets[i].site < buckets[j].site
	})
	return buckets
}

// aggregate sums or averages the sensor column over the rows, skipping
// missing cells. n is the number of samples that contributed.
func aggregate(rows []Row, sensor variables.SensorDescription) (float64, int) {
	var sum float64
	var n int
	for _, r := range rows {
		if v, ok := r.Float(sensor.Name); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	if sensor.Accumulated {
		return sum, n
	}
	return sum / float64(n), n
}
