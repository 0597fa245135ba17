// Package scheduler provides cron-based background job scheduling.
//
// LeadPipe uses it for maintenance jobs such as sweeping expired dedup
// and calendar cache entries on a fixed interval.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// SweepSchedule is the default interval for cache sweep jobs.
const SweepSchedule = "@every 5m"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron expressions plus @every descriptors; panics
	// in jobs are recovered so one bad sweep cannot kill the process.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
