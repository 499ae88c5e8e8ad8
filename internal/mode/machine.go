package mode

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/weccap/internal/eventchannel"
	"github.com/banshee-data/weccap/internal/monitoring"
)

// ErrActionDisabled is returned by Toggle when the action is not available
// in the current mode.
var ErrActionDisabled = errors.New("action disabled in current mode")

var logger = monitoring.Logger("mode")

// Listener observes changes of the effective mode.
type Listener func(old, new Mode)

// Machine tracks the effective pipeline stage.
//
// Until the backend pushes its first authoritative mode, the first requested
// transition is reported as the effective mode. After that only
// authoritative pushes change it.
type Machine struct {
	mu          sync.Mutex
	emitter     eventchannel.Emitter
	mode        Mode
	confirmed   bool
	speculative *Mode
	// generation counts authoritative pushes.
	generation uint64
	listeners  []Listener
}

// NewMachine creates a machine in CamerasFound that sends transition
// requests through e.
func NewMachine(e eventchannel.Emitter) *Machine {
	return &Machine{emitter: e, mode: CamerasFound}
}

// Current returns the effective mode.
func (m *Machine) Current() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effective()
}

func (m *Machine) effective() Mode {
	if m.speculative != nil {
		return *m.speculative
	}
	return m.mode
}

// Confirmed reports whether an authoritative mode has been received.
func (m *Machine) Confirmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed
}

// OnChange registers a listener called after the effective mode changes.
func (m *Machine) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RequestTransition asks the backend to move to target. The local mode is
// left alone except for the speculative first request.
func (m *Machine) RequestTransition(target Mode) error {
	if !target.Valid() {
		return fmt.Errorf("request transition: %w: %d", ErrUnknownMode, int(target))
	}
	if err := m.emitter.Emit(eventchannel.EmitChangeMode, int(target)); err != nil {
		return fmt.Errorf("request transition to %s: %w", target, err)
	}
	logger.Info("requested transition", "target", target)

	m.mu.Lock()
	if m.confirmed || m.speculative != nil {
		m.mu.Unlock()
		return nil
	}
	prev := m.effective()
	t := target
	m.speculative = &t
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	notify(listeners, prev, target)
	return nil
}

// OnAuthoritativeMode applies a mode pushed by the backend and returns the
// mode now in effect. Unknown values are coerced to CamerasFound. Pushes that
// leave the effective mode unchanged do not notify listeners.
func (m *Machine) OnAuthoritativeMode(raw any) Mode {
	next, err := ParseMode(raw)
	if err != nil {
		logger.Warn("unrecognized authoritative mode, using CamerasFound", "value", describe(raw), "err", err)
		next = CamerasFound
	}

	m.mu.Lock()
	m.generation++
	return m.applyLocked(next)
}

// Generation returns the number of authoritative pushes received so far.
func (m *Machine) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// OnStatusMode applies a mode read from the status endpoint. A status read
// started at generation gen is stale once a push has arrived since, and is
// discarded; ok reports whether it was applied.
func (m *Machine) OnStatusMode(next Mode, gen uint64) (applied Mode, ok bool) {
	if !next.Valid() {
		next = CamerasFound
	}
	m.mu.Lock()
	if m.generation != gen {
		cur := m.effective()
		m.mu.Unlock()
		return cur, false
	}
	return m.applyLocked(next), true
}

// applyLocked installs next as the confirmed mode. It is called with m.mu
// held and releases it before notifying listeners.
func (m *Machine) applyLocked(next Mode) Mode {
	prev := m.effective()
	m.mode = next
	m.confirmed = true
	m.speculative = nil
	if prev == next {
		m.mu.Unlock()
		return next
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	logger.Info("mode changed", "from", prev, "to", next)
	notify(listeners, prev, next)
	return next
}

// IsStageEnabled reports whether the effective mode has reached stage.
func (m *Machine) IsStageEnabled(stage Mode) bool {
	return m.Current() >= stage
}

// Enabled reports whether a bounded action is available now.
func (m *Machine) Enabled(a Action) bool {
	return a.EnabledIn(m.Current())
}

// Toggle requests the transition bound to a toggle action and returns the
// requested target.
func (m *Machine) Toggle(a Action) (Mode, error) {
	cur := m.Current()
	if !a.EnabledIn(cur) {
		return cur, fmt.Errorf("%s in %s: %w", a, cur, ErrActionDisabled)
	}
	target, ok := a.ToggleTarget(cur)
	if !ok {
		return cur, fmt.Errorf("%s is not a toggle", a)
	}
	return target, m.RequestTransition(target)
}

func notify(listeners []Listener, old, new Mode) {
	for _, l := range listeners {
		l(old, new)
	}
}

func describe(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case json.RawMessage:
		return string(x)
	}
	return fmt.Sprint(v)
}
