// Package eventchannel is the named-event boundary between the console and
// the capture backend.
//
// A Hub queues inbound events and dispatches them to registered handlers from
// a single Run loop, in arrival order. Emitted events are queued for whichever
// transport drains Outbound: the websocket transport in production or a
// ReplaySource during development.
package eventchannel

import (
	"encoding/json"
	"errors"
)

// Inbound event names.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventStateChange  = "state_change"
	EventObjectPoints = "object-points"
	EventImagePoints  = "image-points"
	EventNumCams      = "num-cams"
	EventCameraPose   = "camera-pose"
	EventWorldMatrix  = "to-world-coords-matrix"
	EventFPS          = "fps"
	EventError        = "error"
	EventSuccess      = "success"

	// EventStatus carries a status endpoint reply back onto the dispatch
	// loop. It is posted locally and never arrives from the backend.
	EventStatus = "console:status"
)

// Outbound event names.
const (
	EmitChangeMode       = "change-mocap-state"
	EmitCameraPose       = "calculate-camera-pose"
	EmitBundleAdjustment = "calculate-bundle-adjustment"
	EmitDetermineScale   = "determine-scale"
	EmitAcquireFloor     = "acquire-floor"
	EmitSetOrigin        = "set-origin"
	EmitCameraSettings   = "update-camera-settings"
	EmitCaptureImage     = "capture_image"
	EmitLocateObjects    = "locate-objects"
)

var (
	// ErrOutboundFull is returned by Emit when the transport is not draining
	// and the event was dropped.
	ErrOutboundFull = errors.New("outbound event queue full")
	// ErrClosed is returned by Emit after the hub has been closed.
	ErrClosed = errors.New("event channel closed")
)

// Event is one named message. On the wire it is {"event": name, "data": ...}.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Handler receives inbound events of the name it was registered for.
type Handler func(Event)

// Emitter sends named events to the backend.
type Emitter interface {
	Emit(name string, payload any) error
}

// Channel is the bidirectional named-event transport consumed by the console.
type Channel interface {
	Emitter
	// On registers h for events called name and returns a subscription id.
	On(name string, h Handler) string
	// Off removes the subscription returned by On.
	Off(name, id string)
}

// Poster queues a locally produced event for in-order dispatch alongside
// inbound traffic. It reports false when the event was dropped.
type Poster interface {
	Post(ev Event) bool
}

// NewEvent builds an event, encoding payload as its data. A nil payload
// leaves Data empty.
func NewEvent(name string, payload any) (Event, error) {
	ev := Event{Name: name}
	if payload == nil {
		return ev, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		ev.Data = raw
		return ev, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	ev.Data = b
	return ev, nil
}
