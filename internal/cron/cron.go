// Package cron schedules recurring maintenance work for the supervisor,
// such as reconciling recorded status against the live process table.
package cron

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Task is one scheduled maintenance function. Spec accepts the standard
// five-field cron syntax and @every <duration> descriptors. A Singleton
// task skips a tick while its previous run is still going.
type Task struct {
	Name      string
	Spec      string
	Singleton bool
	Run       func(context.Context)

	running atomic.Bool
}

// Scheduler runs registered tasks until stopped.
type Scheduler struct {
	runner *cron.Cron
	ctx    context.Context
}

// NewScheduler builds a scheduler whose tasks receive ctx.
func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{runner: cron.New(), ctx: ctx}
}

// Add registers a task. The cron expression is validated here, before Start.
func (s *Scheduler) Add(t *Task) error {
	if t.Name == "" {
		return errors.New("task requires a name")
	}
	if t.Run == nil {
		return errors.New("task requires a function")
	}
	_, err := s.runner.AddFunc(t.Spec, func() {
		if t.Singleton && !t.running.CompareAndSwap(false, true) {
			return
		}
		defer t.running.Store(false)
		t.Run(s.ctx)
	})
	return err
}

// Start launches the task loops in the background.
func (s *Scheduler) Start() {
	s.runner.Start()
}

// Stop cancels scheduling and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	<-s.runner.Stop().Done()
}
