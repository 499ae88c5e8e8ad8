// Package recording buffers a named, operator-bounded slice of the
// measurement stream and hands it to an exporter when the operator stops.
package recording

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/weccap/internal/accumulator"
	"github.com/banshee-data/weccap/internal/frame"
	"github.com/banshee-data/weccap/internal/mode"
	"github.com/banshee-data/weccap/internal/monitoring"
	"github.com/banshee-data/weccap/internal/timeutil"
)

var (
	// ErrInvalidRecordingRequest is returned by Start when the request is
	// rejected. The session is left unchanged.
	ErrInvalidRecordingRequest = errors.New("invalid recording request")
	// ErrNotRecording is returned by Stop while no recording is running.
	ErrNotRecording = errors.New("not recording")
)

var logger = monitoring.Logger("recording")

// State of the session.
type State int

const (
	Stopped State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "stopped"
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stopped":
		*s = Stopped
	case "recording":
		*s = Recording
	default:
		return fmt.Errorf("unknown recording state %q", b)
	}
	return nil
}

// Capture is a finished recording handed to the exporter.
type Capture struct {
	ID        string
	Name      string
	StartedAt time.Time
	StoppedAt time.Time
	Stream    accumulator.Stream
}

// Exporter receives finished recordings. Export must not block for long;
// the session does not wait for or observe the outcome.
type Exporter interface {
	Export(c Capture)
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(c Capture)

// Export calls f(c).
func (f ExporterFunc) Export(c Capture) { f(c) }

// ModeSource reports the effective pipeline stage.
type ModeSource interface {
	Current() mode.Mode
}

// Status describes the session for the operator.
type Status struct {
	State     State     `json:"state"`
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Samples   int       `json:"samples"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Session mirrors accumulator frames into a buffer while recording.
type Session struct {
	modes    ModeSource
	exporter Exporter
	clock    timeutil.Clock

	mu        sync.Mutex
	state     State
	id        string
	name      string
	startedAt time.Time
	buf       *accumulator.Stream
}

// NewSession creates a stopped session.
func NewSession(modes ModeSource, exporter Exporter, clock timeutil.Clock) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Session{modes: modes, exporter: exporter, clock: clock}
}

// Start begins a recording called name. It requires a non-empty name, the
// Triangulation mode and a stopped session.
func (s *Session) Start(name string) (Status, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.Status(), fmt.Errorf("%w: empty session name", ErrInvalidRecordingRequest)
	}
	if cur := s.modes.Current(); cur < mode.Triangulation {
		return s.Status(), fmt.Errorf("%w: mode %s is below %s", ErrInvalidRecordingRequest, cur, mode.Triangulation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Recording {
		return s.statusLocked(), fmt.Errorf("%w: already recording %q", ErrInvalidRecordingRequest, s.name)
	}
	s.state = Recording
	s.id = uuid.NewString()
	s.name = name
	s.startedAt = s.clock.Now()
	s.buf = accumulator.NewStream()
	logger.Info("recording started", "name", name, "id", s.id)
	return s.statusLocked(), nil
}

// MirrorFrame appends f to the buffer while recording.
func (s *Session) MirrorFrame(f frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return
	}
	s.buf.Append(f, f.TimeMs)
}

// Stop ends the recording and hands the buffer to the exporter. The buffer
// is released whatever the export outcome.
func (s *Session) Stop() (Status, error) {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return Status{State: Stopped}, ErrNotRecording
	}
	c := Capture{
		ID:        s.id,
		Name:      s.name,
		StartedAt: s.startedAt,
		StoppedAt: s.clock.Now(),
		Stream:    s.buf.View(),
	}
	final := s.statusLocked()
	s.state = Stopped
	s.id, s.name, s.startedAt, s.buf = "", "", time.Time{}, nil
	s.mu.Unlock()

	logger.Info("recording stopped", "name", c.Name, "id", c.ID, "samples", c.Stream.Len())
	if s.exporter != nil {
		s.exporter.Export(c)
	}
	final.State = Stopped
	return final, nil
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	st := Status{State: s.state, ID: s.id, Name: s.name, StartedAt: s.startedAt}
	if s.buf != nil {
		st.Samples = s.buf.Len()
	}
	return st
}
