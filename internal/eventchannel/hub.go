package eventchannel

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/weccap/internal/monitoring"
)

var logger = monitoring.Logger("eventchannel")

// DefaultQueueSize bounds the inbound and outbound queues of a Hub.
const DefaultQueueSize = 1024

type subscription struct {
	id string
	h  Handler
}

// Hub is the in-process Channel implementation.
type Hub struct {
	inbound  chan Event
	outbound chan Event

	handlersMu sync.Mutex
	handlers   map[string][]subscription

	tailMu sync.Mutex
	tails  map[string]chan Event

	closedMu sync.RWMutex
	closed   bool

	delivered   atomic.Uint64
	dropped     atomic.Uint64
	emitted     atomic.Uint64
	emitDropped atomic.Uint64

	dropLog rate.Sometimes
}

// Stats are the hub's traffic counters.
type Stats struct {
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Emitted     uint64 `json:"emitted"`
	EmitDropped uint64 `json:"emit_dropped"`
	Pending     int    `json:"pending"`
}

// NewHub creates a hub whose queues hold up to queueSize events each.
func NewHub(queueSize int) *Hub {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		inbound:  make(chan Event, queueSize),
		outbound: make(chan Event, queueSize),
		handlers: make(map[string][]subscription),
		tails:    make(map[string]chan Event),
		dropLog:  rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// randomID generates a random subscription ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// On registers h for events called name. Handlers for one name run in
// registration order.
func (h *Hub) On(name string, fn Handler) string {
	id := randomID()
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[name] = append(h.handlers[name], subscription{id: id, h: fn})
	return id
}

// Off removes a subscription. Unknown ids are ignored.
func (h *Hub) Off(name, id string) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	subs := h.handlers[name]
	for i, s := range subs {
		if s.id == id {
			// Copy so a dispatch holding the old slice is unaffected.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			h.handlers[name] = append(next, subs[i+1:]...)
			return
		}
	}
}

// Deliver queues an inbound event without blocking. It reports false when
// the queue is full or the hub is closed and the event was dropped.
func (h *Hub) Deliver(ev Event) bool {
	h.closedMu.RLock()
	defer h.closedMu.RUnlock()
	if h.closed {
		return false
	}
	select {
	case h.inbound <- ev:
		return true
	default:
		n := h.dropped.Add(1)
		h.dropLog.Do(func() {
			logger.Warn("inbound queue full, dropping event", "event", ev.Name, "dropped", n)
		})
		return false
	}
}

// Post implements Poster by delivering ev as if it had arrived inbound.
func (h *Hub) Post(ev Event) bool { return h.Deliver(ev) }

// Emit encodes payload and queues it for the transport. A full queue drops
// the event and returns ErrOutboundFull.
func (h *Hub) Emit(name string, payload any) error {
	ev, err := NewEvent(name, payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}

	h.closedMu.RLock()
	defer h.closedMu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	select {
	case h.outbound <- ev:
		h.emitted.Add(1)
		logger.Debug("emit", "event", name)
		return nil
	default:
		h.emitDropped.Add(1)
		return fmt.Errorf("%s: %w", name, ErrOutboundFull)
	}
}

// Outbound is drained by the active transport.
func (h *Hub) Outbound() <-chan Event {
	return h.outbound
}

// Run dispatches inbound events until ctx is cancelled or the hub is
// closed. Handlers are invoked on this goroutine only.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-h.inbound:
			if !ok {
				return nil
			}
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev Event) {
	h.handlersMu.Lock()
	subs := h.handlers[ev.Name]
	h.handlersMu.Unlock()

	for _, s := range subs {
		h.invoke(s, ev)
	}
	h.delivered.Add(1)

	h.tailMu.Lock()
	for _, ch := range h.tails {
		select {
		case ch <- ev:
		default:
			// slow tail readers miss events rather than stall dispatch
		}
	}
	h.tailMu.Unlock()
}

// invoke runs one handler, containing a panic so later events still flow.
func (h *Hub) invoke(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "event", ev.Name, "subscription", s.id, "panic", r)
		}
	}()
	s.h(ev)
}

// Subscribe returns a channel receiving a copy of every dispatched inbound
// event, for live tails.
func (h *Hub) Subscribe() (string, chan Event) {
	id := randomID()
	ch := make(chan Event, 16)
	h.tailMu.Lock()
	defer h.tailMu.Unlock()
	h.tails[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a tail channel.
func (h *Hub) Unsubscribe(id string) {
	h.tailMu.Lock()
	defer h.tailMu.Unlock()
	if ch, ok := h.tails[id]; ok {
		close(ch)
		delete(h.tails, id)
	}
}

// Stats returns a snapshot of the traffic counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
		Emitted:     h.emitted.Load(),
		EmitDropped: h.emitDropped.Load(),
		Pending:     len(h.inbound),
	}
}

// Close stops accepting events, ends Run once the queue drains and closes
// every tail.
func (h *Hub) Close() {
	h.closedMu.Lock()
	if h.closed {
		h.closedMu.Unlock()
		return
	}
	h.closed = true
	close(h.inbound)
	h.closedMu.Unlock()

	h.tailMu.Lock()
	defer h.tailMu.Unlock()
	for id, ch := range h.tails {
		close(ch)
		delete(h.tails, id)
	}
}
