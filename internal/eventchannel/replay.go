package eventchannel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/weccap/internal/timeutil"
)

// ReplaySource feeds a Hub from a recorded fixture of line-delimited event
// envelopes, one line per tick, and stands in for the backend by logging
// every emitted event. Blank lines and lines starting with # are skipped.
type ReplaySource struct {
	Hub      *Hub
	Interval time.Duration
	Clock    timeutil.Clock
	// Loop restarts the fixture after the last line.
	Loop bool

	open func() (io.ReadCloser, error)
}

// NewReplayFile creates a replay source reading the fixture at path.
func NewReplayFile(hub *Hub, path string, interval time.Duration) *ReplaySource {
	return &ReplaySource{
		Hub:      hub,
		Interval: interval,
		Clock:    timeutil.RealClock{},
		open:     func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// NewReplayReader creates a replay source over an in-memory fixture.
func NewReplayReader(hub *Hub, fixture []byte, interval time.Duration) *ReplaySource {
	return &ReplaySource{
		Hub:      hub,
		Interval: interval,
		Clock:    timeutil.RealClock{},
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(fixture)), nil
		},
	}
}

// ParseEnvelope decodes one fixture line.
func ParseEnvelope(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("decode envelope: missing event name")
	}
	return ev, nil
}

// Run delivers connect, then one fixture event per tick. After the fixture
// is exhausted it keeps draining emitted events until ctx is cancelled.
func (r *ReplaySource) Run(ctx context.Context) error {
	if r.Clock == nil {
		r.Clock = timeutil.RealClock{}
	}
	if r.Interval <= 0 {
		r.Interval = 20 * time.Millisecond
	}

	r.Hub.Deliver(Event{Name: EventConnect})
	defer r.Hub.Deliver(Event{Name: EventDisconnect})

	ticker := r.Clock.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		if err := r.playOnce(ctx, ticker); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !r.Loop {
			break
		}
	}
	logger.Info("replay finished")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.Hub.Outbound():
			r.logEmitted(ev)
		}
	}
}

func (r *ReplaySource) playOnce(ctx context.Context, ticker timeutil.Ticker) error {
	f, err := r.open()
	if err != nil {
		return fmt.Errorf("open replay fixture: %w", err)
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := bytes.TrimSpace(scan.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		ev, err := ParseEnvelope(line)
		if err != nil {
			logger.Warn("skipping fixture line", "line", lineNo, "err", err)
			continue
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-r.Hub.Outbound():
				r.logEmitted(ev)
			case <-ticker.C():
				break wait
			}
		}
		r.Hub.Deliver(ev)
	}
	return scan.Err()
}

func (r *ReplaySource) logEmitted(ev Event) {
	logger.Info("emit (replay)", "event", ev.Name, "data", string(ev.Data))
}
