package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/m3w/pointloom/internal/service"
)

// Scheduler periodically refreshes station data for the configured
// stations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *service.Service

	stations []service.StationRef
	vars     []string
	duration service.Duration
	window   time.Duration
	interval time.Duration
}

// New creates a Scheduler that fetches the trailing window for each
// station every interval.
func New(svc *service.Service, stations []service.StationRef, vars []string,
	duration service.Duration, window, interval time.Duration) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   svc,
		stations:  stations,
		vars:      vars,
		duration:  duration,
		window:    window,
		interval:  interval,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.stations) == 0 {
		log.Println("scheduler: no stations configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 360
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		log.Printf("scheduler: refreshing %d stations", len(s.stations))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := s.service.FetchAndStore(ctx, s.stations, s.duration, s.window, s.vars); err != nil {
			log.Printf("scheduler: refresh failed: %v", err)
			return
		}
		log.Println("scheduler: refresh complete")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
