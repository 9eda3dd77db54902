// Package sensor provides the acquisition layer: sensor sources (synthetic
// waveform generators and file replay) and the Poller component that reads
// them on the fast tick into a bounded buffer for alignment.
package sensor

import (
	"context"

	"github.com/ola-oye/VitaBand/telemetry"
)

// Source is a single sensor producing timestamped readings.
// Read blocks until a sample is available, the context is cancelled, or the
// source fails; implementations must honor context deadlines.
type Source interface {
	// ID returns the source's unique identifier (e.g. "max30102")
	ID() string

	// Kind returns the sensor class this source belongs to
	Kind() telemetry.SensorKind

	// Read acquires one sample
	Read(ctx context.Context) (telemetry.Reading, error)
}
