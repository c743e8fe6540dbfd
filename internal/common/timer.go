package common

import (
	"fmt"
	"time"
)

// Timer measures one stage of a scan.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer starts an unnamed timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewNamedTimer starts a timer labelled with a stage name.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop records and returns the elapsed time. Calling Stop again extends it.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration is only valid after Stop.
func (t *Timer) Duration() time.Duration { return t.duration }

// Nanos is the recorded duration as int64 nanoseconds, the unit scan results report.
func (t *Timer) Nanos() int64 { return t.duration.Nanoseconds() }

func (t *Timer) Name() string { return t.name }

func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return t.duration.String()
}
