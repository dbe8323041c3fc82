package store

import (
	"errors"
	"sync"
	"time"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/service"
)

// ErrNotFound is returned when no data has been stored for a station.
var ErrNotFound = errors.New("no data for station")

// snapshot is one stored fetch result.
type snapshot struct {
	At    time.Time
	Frame *frame.Frame
}

// history holds a time-ordered list of snapshots for one station and
// duration.
type history struct {
	snapshots []snapshot
}

type storeKey struct {
	source   string
	station  string
	duration service.Duration
}

// MemoryStore is a concurrency-safe in-memory implementation of
// service.Store.
type MemoryStore struct {
	mu sync.RWMutex

	data map[storeKey]*history

	// retention configuration
	maxHistory int           // max snapshots per station (0 = unlimited)
	maxAge     time.Duration // max snapshot age (0 = unlimited)
}

// NewMemoryStore creates a MemoryStore with optional retention limits.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[storeKey]*history),
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// Save appends a fetched frame for a station and enforces retention.
func (s *MemoryStore) Save(ref service.StationRef, d service.Duration, df *frame.Frame) {
	key := storeKey{source: ref.Source, station: ref.ID, duration: d}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[key]
	if !ok {
		h = &history{}
		s.data[key] = h
	}
	h.snapshots = append(h.snapshots, snapshot{At: time.Now().UTC(), Frame: df})

	// Enforce retention by count.
	if s.maxHistory > 0 && len(h.snapshots) > s.maxHistory {
		over := len(h.snapshots) - s.maxHistory
		h.snapshots = h.snapshots[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(h.snapshots); i++ {
			if !h.snapshots[i].At.Before(cutoff) {
				break
			}
		}
		if i > 0 && i < len(h.snapshots) {
			h.snapshots = h.snapshots[i:]
		}
	}
}

// Latest returns the most recently stored frame for a station.
func (s *MemoryStore) Latest(ref service.StationRef, d service.Duration) (*frame.Frame, error) {
	key := storeKey{source: ref.Source, station: ref.ID, duration: d}

	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[key]
	if !ok || len(h.snapshots) == 0 {
		return nil, ErrNotFound
	}
	return h.snapshots[len(h.snapshots)-1].Frame, nil
}

// Range returns the frames stored for a station between from and to
// (inclusive), oldest first.
func (s *MemoryStore) Range(ref service.StationRef, d service.Duration, from, to time.Time) ([]*frame.Frame, error) {
	key := storeKey{source: ref.Source, station: ref.ID, duration: d}

	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[key]
	if !ok || len(h.snapshots) == 0 {
		return nil, ErrNotFound
	}

	var result []*frame.Frame
	for _, snap := range h.snapshots {
		if !snap.At.Before(from) && !snap.At.After(to) {
			result = append(result, snap.Frame)
		}
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
