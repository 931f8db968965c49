package scheduler

import "sync"

var (
	activeScheduler Scheduler
	schedulerMu     sync.RWMutex
)

// SetActiveScheduler configures the scheduler instance that submissions should use.
// Passing nil clears any previously configured scheduler.
func SetActiveScheduler(s Scheduler) {
	schedulerMu.Lock()
	defer schedulerMu.Unlock()
	activeScheduler = s
}

// ActiveScheduler returns the currently configured scheduler instance (may be nil).
func ActiveScheduler() Scheduler {
	schedulerMu.RLock()
	defer schedulerMu.RUnlock()
	return activeScheduler
}

// ClearActiveScheduler resets the active scheduler reference.
func ClearActiveScheduler() {
	SetActiveScheduler(nil)
}

// RequireActive returns the active scheduler, failing when none was
// initialized or when it refuses submissions (e.g. called from inside a job).
func RequireActive() (Scheduler, error) {
	s := ActiveScheduler()
	if s == nil {
		return nil, ErrSchedulerNotFound
	}
	if !s.IsAvailable() {
		if IsInsideJob() {
			return nil, ErrAlreadyInJob
		}
		return nil, ErrSchedulerNotAvailable
	}
	return s, nil
}
