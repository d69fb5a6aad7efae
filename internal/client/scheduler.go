package client

import "time"

// Timer is a cancellable scheduled task handle.
type Timer interface {
	// Stop cancels the task if it has not fired yet.
	Stop() bool
}

// Scheduler abstracts delayed task execution and the wall clock so that
// reconnect backoff and heartbeat behavior can be driven by a virtual
// clock in tests.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

type realScheduler struct{}

// NewScheduler returns the wall-clock Scheduler used in production.
func NewScheduler() Scheduler { return realScheduler{} }

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func (realScheduler) Now() time.Time { return time.Now() }
