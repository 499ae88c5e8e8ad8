package eventchannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WebsocketTransport connects a Hub to the backend over a websocket carrying
// JSON event envelopes.
type WebsocketTransport struct {
	URL string
	Hub *Hub
	// ReadLimit caps a single inbound message. Zero keeps the library default.
	ReadLimit int64
}

// Run dials the backend once and pumps events until the connection drops or
// ctx is cancelled. A connect event is delivered after the dial succeeds and
// a disconnect event when the connection ends. Reconnecting is left to the
// caller.
func (t *WebsocketTransport) Run(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, t.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.URL, err)
	}
	defer conn.CloseNow()
	if t.ReadLimit > 0 {
		conn.SetReadLimit(t.ReadLimit)
	}

	logger.Info("connected", "url", t.URL)
	t.Hub.Deliver(Event{Name: EventConnect})
	defer t.Hub.Deliver(Event{Name: EventDisconnect})

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		err := t.writeLoop(pumpCtx, conn)
		cancel()
		writeErr <- err
	}()

	err = t.readLoop(pumpCtx, conn)
	cancel()
	if werr := <-writeErr; !errors.Is(werr, context.Canceled) {
		err = werr
	}

	if ctx.Err() != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil
	}
	logger.Warn("disconnected", "url", t.URL, "err", err)
	return err
}

func (t *WebsocketTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("dropping undecodable message", "err", err)
			continue
		}
		if ev.Name == "" {
			logger.Warn("dropping message without event name")
			continue
		}
		t.Hub.Deliver(ev)
	}
}

func (t *WebsocketTransport) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-t.Hub.Outbound():
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return fmt.Errorf("write %s: %w", ev.Name, err)
			}
		}
	}
}
