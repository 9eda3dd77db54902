// Package clock abstracts wall-clock time behind an interface so the
// pipeline's tick-driven scheduling can be driven deterministically in tests.
// Production code uses System; tests use Fake and advance time explicitly.
package clock

import "time"

// Clock provides the time operations the pipeline depends on
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on a channel, mirroring time.Ticker
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// System is the real clock backed by the time package
type System struct{}

// New returns the system clock
func New() Clock {
	return System{}
}

func (System) Now() time.Time {
	return time.Now()
}

func (System) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }
