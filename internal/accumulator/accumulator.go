// Package accumulator owns the measurement history of the active session.
//
// Ingest is the only mutator. Instead of handing each frame to consumers, the
// accumulator bumps a counter and wakes watchers, who re-read the stream with
// Snapshot at their own cadence. Reset replaces the stream with a new one so a
// snapshot taken earlier is never modified.
package accumulator

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/weccap/internal/frame"
	"github.com/banshee-data/weccap/internal/monitoring"
	"github.com/banshee-data/weccap/internal/timeutil"
)

var logger = monitoring.Logger("accumulator")

// Mirror receives every appended frame, synchronously and in order.
type Mirror interface {
	MirrorFrame(f frame.Frame)
}

// Tick is the change notification delivered to watchers.
type Tick struct {
	Counter uint64 `json:"counter"`
	Epoch   uint64 `json:"epoch"`
	Len     int    `json:"len"`
}

// Accumulator is the single writer of the session stream.
type Accumulator struct {
	clock timeutil.Clock

	mu       sync.Mutex
	stream   *Stream
	counter  uint64
	epoch    uint64
	dropped  uint64
	watchers map[string]chan Tick
	mirrors  []Mirror

	statsLog rate.Sometimes
}

// New creates an empty accumulator. Frames without a timestamp are stamped
// from clock.
func New(clock timeutil.Clock) *Accumulator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Accumulator{
		clock:    clock,
		stream:   NewStream(),
		watchers: make(map[string]chan Tick),
		statsLog: rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Ingest decodes and appends one object-points payload. Malformed payloads
// are dropped with a warning and Ingest reports false.
func (a *Accumulator) Ingest(raw json.RawMessage) bool {
	f, err := frame.Decode(raw)
	if err != nil {
		a.mu.Lock()
		a.dropped++
		dropped := a.dropped
		a.mu.Unlock()
		logger.Warn("dropping malformed frame", "err", err, "dropped", dropped)
		return false
	}
	a.IngestFrame(f)
	return true
}

// IngestFrame appends an already decoded frame.
func (a *Accumulator) IngestFrame(f frame.Frame) {
	if !f.HasTime {
		f.TimeMs = timeutil.UnixMillis(a.clock.Now())
		f.HasTime = true
	}

	a.mu.Lock()
	a.stream.Append(f, f.TimeMs)
	a.counter++
	tick := a.tickLocked()
	a.notifyLocked(tick)
	mirrors := a.mirrors
	a.mu.Unlock()

	for _, m := range mirrors {
		m.MirrorFrame(f)
	}

	a.statsLog.Do(func() {
		logger.Info("ingesting", "frames", tick.Len, "counter", tick.Counter, "epoch", tick.Epoch)
	})
}

// Reset swaps in a new empty stream and starts a new epoch.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stream = NewStream()
	a.epoch++
	a.notifyLocked(a.tickLocked())
	logger.Debug("reset", "epoch", a.epoch)
}

// Snapshot returns a stable view of the current stream.
func (a *Accumulator) Snapshot() Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.View()
}

// SnapshotTick returns a stable view together with the tick it reflects.
func (a *Accumulator) SnapshotTick() (Stream, Tick) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.View(), a.tickLocked()
}

// Len returns the number of frames since the last reset.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Len()
}

// Counter returns the number of frames appended over the accumulator's life.
func (a *Accumulator) Counter() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counter
}

// Epoch returns the number of resets.
func (a *Accumulator) Epoch() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch
}

// Tick returns the current counter, epoch and length.
func (a *Accumulator) Tick() Tick {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tickLocked()
}

func (a *Accumulator) tickLocked() Tick {
	return Tick{Counter: a.counter, Epoch: a.epoch, Len: a.stream.Len()}
}

// randomID generates a random watcher ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Watch returns a channel that holds at most one pending Tick. A watcher that
// falls behind sees only the latest value.
func (a *Accumulator) Watch() (string, <-chan Tick) {
	id := randomID()
	ch := make(chan Tick, 1)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watchers[id] = ch
	return id, ch
}

// Unwatch closes and removes a watcher channel.
func (a *Accumulator) Unwatch(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ch, ok := a.watchers[id]; ok {
		close(ch)
		delete(a.watchers, id)
	}
}

func (a *Accumulator) notifyLocked(t Tick) {
	for _, ch := range a.watchers {
		select {
		case ch <- t:
			continue
		default:
		}
		// replace the stale pending tick
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- t:
		default:
		}
	}
}

// AddMirror registers m to receive every frame appended from now on.
func (a *Accumulator) AddMirror(m Mirror) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := make([]Mirror, 0, len(a.mirrors)+1)
	a.mirrors = append(append(next, a.mirrors...), m)
}

// Stats summarises the accumulator.
type Stats struct {
	Frames         int     `json:"frames"`
	Counter        uint64  `json:"counter"`
	Epoch          uint64  `json:"epoch"`
	Dropped        uint64  `json:"dropped"`
	Watchers       int     `json:"watchers"`
	MeanError      float64 `json:"mean_error"`
	StdDevError    float64 `json:"stddev_error"`
	ResolvedFrames int     `json:"resolved_frames"`
}

// Stats computes the summary over the current stream.
func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	st := Stats{
		Frames:   a.stream.Len(),
		Counter:  a.counter,
		Epoch:    a.epoch,
		Dropped:  a.dropped,
		Watchers: len(a.watchers),
	}
	view := a.stream.View()
	a.mu.Unlock()

	for _, pts := range view.ObjectPoints {
		if pts != nil {
			st.ResolvedFrames++
		}
	}
	errs := finite(view.FlatErrors())
	switch len(errs) {
	case 0:
	case 1:
		st.MeanError = errs[0]
	default:
		st.MeanError, st.StdDevError = stat.MeanStdDev(errs, nil)
	}
	return st
}

func finite(xs []float64) []float64 {
	out := xs[:0:0]
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}
