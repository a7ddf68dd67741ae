package schedule

import (
	"time"

	"github.com/go-co-op/gocron"

	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
)

// Scheduler runs background maintenance jobs (rate-limit state persistence,
// embedding cache flushes) on fixed intervals.
type Scheduler struct {
	scheduler *gocron.Scheduler
}

// NewScheduler creates a stopped scheduler. Tags are unique, so registering
// the same job twice is an error instead of a duplicate timer.
func NewScheduler() *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &Scheduler{scheduler: s}
}

// Every registers job under tag to run at the given interval. Job errors are
// logged and the schedule keeps running.
func (s *Scheduler) Every(tag string, interval time.Duration, job func() error) error {
	_, err := s.scheduler.Every(interval).Tag(tag).Do(func() {
		if err := job(); err != nil {
			logger.Warn("Scheduled job failed", "job", tag, "error", err)
		}
	})
	return err
}

// Start launches the scheduler in the background.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop halts the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
