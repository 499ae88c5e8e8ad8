package eventchannel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runHub starts h.Run and stops it when the test ends.
func runHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestHub_DispatchInOrder(t *testing.T) {
	h := NewHub(16)

	var mu sync.Mutex
	var got []string
	h.On("a", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "a:"+string(ev.Data))
	})
	h.On("b", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "b:"+string(ev.Data))
	})

	for _, ev := range []Event{
		{Name: "a", Data: json.RawMessage("1")},
		{Name: "b", Data: json.RawMessage("2")},
		{Name: "a", Data: json.RawMessage("3")},
		{Name: "ignored"},
	} {
		require.True(t, h.Deliver(ev))
	}
	runHub(t, h)

	require.Eventually(t, func() bool { return h.Stats().Delivered == 4 }, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"a:1", "b:2", "a:3"}, got); diff != "" {
		t.Errorf("dispatch order (-want +got):\n%s", diff)
	}
}

func TestHub_HandlersRunInRegistrationOrder(t *testing.T) {
	h := NewHub(4)
	var got []int
	h.On("x", func(Event) { got = append(got, 1) })
	id := h.On("x", func(Event) { got = append(got, 2) })
	h.On("x", func(Event) { got = append(got, 3) })
	h.Off("x", id)
	h.Off("x", "unknown")

	h.dispatch(Event{Name: "x"})
	assert.Equal(t, []int{1, 3}, got)
}

func TestHub_PanickingHandlerDoesNotStopDispatch(t *testing.T) {
	h := NewHub(4)
	calls := 0
	h.On("x", func(Event) { panic("boom") })
	h.On("x", func(Event) { calls++ })

	h.dispatch(Event{Name: "x"})
	h.dispatch(Event{Name: "x"})
	assert.Equal(t, 2, calls)
}

func TestHub_DeliverDropsWhenFull(t *testing.T) {
	h := NewHub(2)
	assert.True(t, h.Deliver(Event{Name: "a"}))
	assert.True(t, h.Deliver(Event{Name: "a"}))
	assert.False(t, h.Deliver(Event{Name: "a"}))

	st := h.Stats()
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, 2, st.Pending)
}

func TestHub_PostQueuesBehindInbound(t *testing.T) {
	h := NewHub(4)
	var p Poster = h
	var got []string
	h.On("a", func(ev Event) { got = append(got, "a") })
	h.On(EventStatus, func(ev Event) { got = append(got, "status") })

	require.True(t, h.Deliver(Event{Name: "a"}))
	require.True(t, p.Post(Event{Name: EventStatus}))
	runHub(t, h)

	require.Eventually(t, func() bool { return h.Stats().Delivered == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "status"}, got)
}

func TestHub_Emit(t *testing.T) {
	h := NewHub(1)
	require.NoError(t, h.Emit(EmitChangeMode, 3))

	ev := <-h.Outbound()
	assert.Equal(t, EmitChangeMode, ev.Name)
	assert.JSONEq(t, "3", string(ev.Data))

	require.NoError(t, h.Emit(EmitCaptureImage, nil))
	err := h.Emit(EmitCaptureImage, nil)
	assert.True(t, errors.Is(err, ErrOutboundFull), "got %v", err)

	st := h.Stats()
	assert.Equal(t, uint64(2), st.Emitted)
	assert.Equal(t, uint64(1), st.EmitDropped)
}

func TestHub_EmitEncodingError(t *testing.T) {
	h := NewHub(1)
	err := h.Emit("bad", func() {})
	require.Error(t, err)
	assert.Equal(t, uint64(0), h.Stats().Emitted)
}

func TestHub_Close(t *testing.T) {
	h := NewHub(4)
	_, tail := h.Subscribe()
	h.Deliver(Event{Name: "a"})
	h.Close()
	h.Close()

	assert.False(t, h.Deliver(Event{Name: "a"}))
	assert.ErrorIs(t, h.Emit("a", nil), ErrClosed)

	_, ok := <-tail
	assert.False(t, ok, "tail should be closed")

	// Run drains what was queued before Close and then returns.
	require.NoError(t, h.Run(context.Background()))
	assert.Equal(t, uint64(1), h.Stats().Delivered)
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	h := NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Run(ctx), context.Canceled)
}

func TestHub_Tail(t *testing.T) {
	h := NewHub(4)
	id, tail := h.Subscribe()
	h.dispatch(Event{Name: "fps", Data: json.RawMessage(`{"fps":30}`)})

	select {
	case ev := <-tail:
		assert.Equal(t, "fps", ev.Name)
	default:
		t.Fatal("tail did not receive event")
	}
	h.Unsubscribe(id)
	_, ok := <-tail
	assert.False(t, ok)
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent("x", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(ev.Data))

	ev, err = NewEvent("x", map[string]int{"startOrStop": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"startOrStop":1}`, string(ev.Data))

	b, err := json.Marshal(Event{Name: "capture_image"})
	require.NoError(t, err)
	assert.Equal(t, `{"event":"capture_image"}`, string(b))
}
