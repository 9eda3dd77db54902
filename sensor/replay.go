package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/ola-oye/VitaBand/errors"
	"github.com/ola-oye/VitaBand/telemetry"
)

// Replay reads recorded readings for one sensor kind from a JSON-lines file,
// one telemetry.Reading per line. It is used to re-run captured sessions
// through the pipeline.
type Replay struct {
	id   string
	kind telemetry.SensorKind
	path string

	mu      sync.Mutex
	file    *os.File
	scanner *bufio.Scanner
	loop    bool
}

// NewReplay creates a replay source over the given file. When loop is true
// the source rewinds at EOF instead of reporting exhaustion.
func NewReplay(id string, kind telemetry.SensorKind, path string, loop bool) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Replay", "NewReplay", "open replay file")
	}
	return &Replay{
		id:      id,
		kind:    kind,
		path:    path,
		file:    f,
		scanner: bufio.NewScanner(f),
		loop:    loop,
	}, nil
}

// ID returns the source identifier
func (r *Replay) ID() string { return r.id }

// Kind returns the sensor class
func (r *Replay) Kind() telemetry.SensorKind { return r.kind }

// Read returns the next recorded reading matching this source's kind.
// Lines for other kinds are skipped so a single capture file can feed
// multiple replay sources.
func (r *Replay) Read(ctx context.Context) (telemetry.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return telemetry.Reading{}, err
		}

		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return telemetry.Reading{}, errors.WrapTransient(err, "Replay", "Read", "scan replay file")
			}
			if !r.loop {
				return telemetry.Reading{}, errors.Wrap(io.EOF, "Replay", "Read", "replay exhausted")
			}
			if err := r.rewind(); err != nil {
				return telemetry.Reading{}, err
			}
			continue
		}

		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var reading telemetry.Reading
		if err := json.Unmarshal(line, &reading); err != nil {
			return telemetry.Reading{}, errors.WrapInvalid(err, "Replay", "Read", "parse replay line")
		}
		if reading.Kind != r.kind {
			continue
		}
		if reading.SensorID == "" {
			reading.SensorID = r.id
		}
		return reading, nil
	}
}

func (r *Replay) rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return errors.WrapTransient(err, "Replay", "rewind", "seek replay file")
	}
	r.scanner = bufio.NewScanner(r.file)
	return nil
}

// Close releases the underlying file
func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
