// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/banshee-data/weccap/internal/eventchannel"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewJSONRequest creates a test HTTP request with a JSON body.
func NewJSONRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeJSON decodes a recorded response body into v, failing the test on error.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// FrameJSON builds an object-points payload with a single object point, its
// error and a timestamp.
func FrameJSON(x, y, z, errVal, timeMs float64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"object_points":[[%g,%g,%g]],"errors":[%g],"filtered_objects":[],"time_ms":%g}`,
		x, y, z, errVal, timeMs))
}

// RecordingEmitter is an eventchannel.Emitter that keeps every emitted event.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []eventchannel.Event
	// Err, when set, is returned by Emit and nothing is recorded.
	Err error
}

// Emit records the event.
func (e *RecordingEmitter) Emit(name string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	ev, err := eventchannel.NewEvent(name, payload)
	if err != nil {
		return err
	}
	e.events = append(e.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (e *RecordingEmitter) Events() []eventchannel.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]eventchannel.Event(nil), e.events...)
}

// Names returns the names of the recorded events in order.
func (e *RecordingEmitter) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, len(e.events))
	for i, ev := range e.events {
		names[i] = ev.Name
	}
	return names
}

// Last returns the most recent event, failing the test when there is none.
func (e *RecordingEmitter) Last(t *testing.T) eventchannel.Event {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		t.Fatal("no events emitted")
	}
	return e.events[len(e.events)-1]
}

// FakeChannel is an eventchannel.Channel that dispatches delivered events
// synchronously on the caller's goroutine. Dispatches never overlap, so
// handlers see the same serial order as under a Hub.
type FakeChannel struct {
	RecordingEmitter

	dispatchMu sync.Mutex

	subMu  sync.Mutex
	nextID int
	subs   map[string]map[string]eventchannel.Handler
	order  map[string][]string
	posted int
}

// NewFakeChannel returns an empty FakeChannel.
func NewFakeChannel() *FakeChannel {
	return &FakeChannel{
		subs:  make(map[string]map[string]eventchannel.Handler),
		order: make(map[string][]string),
	}
}

// On registers h for name.
func (c *FakeChannel) On(name string, h eventchannel.Handler) string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextID++
	id := fmt.Sprintf("sub-%d", c.nextID)
	if c.subs[name] == nil {
		c.subs[name] = make(map[string]eventchannel.Handler)
	}
	c.subs[name][id] = h
	c.order[name] = append(c.order[name], id)
	return id
}

// Off removes a subscription.
func (c *FakeChannel) Off(name, id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subs[name], id)
}

// Subscribers returns the number of live subscriptions for name.
func (c *FakeChannel) Subscribers(name string) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs[name])
}

// Deliver runs every handler registered for name with data, in
// registration order. data may be nil, a json.RawMessage, a string of raw
// JSON or any value to encode.
func (c *FakeChannel) Deliver(t testing.TB, name string, data any) {
	t.Helper()
	ev := eventchannel.Event{Name: name}
	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		ev.Data = d
	case string:
		ev.Data = json.RawMessage(d)
	default:
		b, err := json.Marshal(d)
		if err != nil {
			t.Fatalf("encode %s payload: %v", name, err)
		}
		ev.Data = b
	}
	c.dispatch(ev)
}

// Post implements eventchannel.Poster by dispatching ev immediately.
func (c *FakeChannel) Post(ev eventchannel.Event) bool {
	c.dispatch(ev)
	c.subMu.Lock()
	c.posted++
	c.subMu.Unlock()
	return true
}

// Posted returns how many events have been dispatched through Post.
func (c *FakeChannel) Posted() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.posted
}

func (c *FakeChannel) dispatch(ev eventchannel.Event) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	name := ev.Name
	c.subMu.Lock()
	var handlers []eventchannel.Handler
	for _, id := range c.order[name] {
		if h, ok := c.subs[name][id]; ok {
			handlers = append(handlers, h)
		}
	}
	c.subMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
