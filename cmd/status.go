package main

import (
	"sync"

	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/server"
	"github.com/desertthunder/datainserter/internal/tasks"
)

// runStatus tracks live counters of a provisioning run for /healthz.
type runStatus struct {
	mu     sync.Mutex
	status server.Status
}

func newRunStatus() *runStatus {
	return &runStatus{status: server.Status{State: "starting"}}
}

func (s *runStatus) observe(u tasks.ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch u.Phase {
	case tasks.Preload:
		s.status.State = "preloading"
	case tasks.DetectDuplicates:
		s.status.State = "detecting_duplicates"
		if u.Step == 0 {
			s.status.Total += u.Total
		}
	case tasks.Provision:
		s.status.State = "provisioning"
		outcome, ok := u.Data.(models.RecordOutcome)
		if !ok {
			return
		}
		s.status.Processed++
		switch outcome.State {
		case models.StateSucceeded:
			s.status.Succeeded++
		case models.StateDuplicateSkipped:
			s.status.Duplicate++
		case models.StateFailed:
			s.status.Failed++
		}
	}
}

// finish replaces the live counters with the final result.
func (s *runStatus) finish(result *models.ProcessingResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result != nil {
		s.status.Total = result.TotalRecords
		s.status.Processed = result.Processed()
		s.status.Succeeded = result.SuccessfulRecords
		s.status.Duplicate = result.DuplicateRecords
		s.status.Failed = result.FailedRecords
	}
	if err != nil {
		s.status.State = "failed"
		return
	}
	s.status.State = "completed"
}

// Snapshot returns a copy of the current counters.
func (s *runStatus) Snapshot() server.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// relay forwards updates to out after recording them in status. The returned wait function
// closes the relay and blocks until every update has been handled.
func relay(status *runStatus, out chan<- tasks.ProgressUpdate) (chan<- tasks.ProgressUpdate, func()) {
	in := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for u := range in {
			status.observe(u)
			if out == nil {
				continue
			}
			select {
			case out <- u:
			default:
			}
		}
	}()

	return in, func() {
		close(in)
		<-done
	}
}
