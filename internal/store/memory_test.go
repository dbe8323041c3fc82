package store

import (
	"errors"
	"testing"
	"time"

	"github.com/m3w/pointloom/internal/frame"
	"github.com/m3w/pointloom/internal/service"
)

var ref = service.StationRef{Source: "CDEC", ID: "TNY"}

func testFrame(value float64) *frame.Frame {
	df := frame.New("SWE")
	df.Append(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), "TNY", frame.C("SWE", value))
	return df
}

func TestLatestReturnsMostRecentSave(t *testing.T) {
	s := NewMemoryStore(0, 0)
	s.Save(ref, service.DurationDaily, testFrame(1.0))
	s.Save(ref, service.DurationDaily, testFrame(2.0))

	df, err := s.Latest(ref, service.DurationDaily)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if v, _ := df.Row(0).Float("SWE"); v != 2.0 {
		t.Fatalf("SWE = %v, want the later snapshot", v)
	}
}

func TestLatestMissing(t *testing.T) {
	s := NewMemoryStore(0, 0)
	if _, err := s.Latest(ref, service.DurationDaily); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	// A different duration is a different key.
	s.Save(ref, service.DurationDaily, testFrame(1.0))
	if _, err := s.Latest(ref, service.DurationHourly); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRetentionByCount(t *testing.T) {
	s := NewMemoryStore(2, 0)
	for i := 1; i <= 5; i++ {
		s.Save(ref, service.DurationDaily, testFrame(float64(i)))
	}

	frames, err := s.Range(ref, service.DurationDaily, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(frames))
	}
	if v, _ := frames[0].Row(0).Float("SWE"); v != 4.0 {
		t.Fatalf("oldest kept = %v, want 4", v)
	}
}

func TestRangeFiltersByFetchTime(t *testing.T) {
	s := NewMemoryStore(0, 0)
	s.Save(ref, service.DurationDaily, testFrame(1.0))

	// A window entirely in the past finds nothing.
	past := time.Now().Add(-2 * time.Hour)
	if _, err := s.Range(ref, service.DurationDaily, past, past.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	frames, err := s.Range(ref, service.DurationDaily, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil || len(frames) != 1 {
		t.Fatalf("frames = %v, %v", frames, err)
	}
}

func TestStationsIsolated(t *testing.T) {
	s := NewMemoryStore(0, 0)
	other := service.StationRef{Source: "NRCS", ID: "713:CO:SNTL"}
	s.Save(ref, service.DurationDaily, testFrame(1.0))
	s.Save(other, service.DurationDaily, testFrame(2.0))

	df, err := s.Latest(other, service.DurationDaily)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if v, _ := df.Row(0).Float("SWE"); v != 2.0 {
		t.Fatalf("SWE = %v", v)
	}
}
