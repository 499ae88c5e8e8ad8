package eventchannel

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

var eventsPageTemplate = template.Must(template.New("events").Parse(`<!doctype html>
<html><head><title>weccap events</title></head>
<body>
<h1>Event channel</h1>
<p>delivered {{.Delivered}} &middot; dropped {{.Dropped}} &middot; emitted {{.Emitted}} &middot; emit dropped {{.EmitDropped}} &middot; pending {{.Pending}}</p>
<form method="post" action="events-inject">
  <input name="event" placeholder="event name">
  <input name="data" placeholder="JSON data" size="60">
  <button type="submit">Inject</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("events-tail").onmessage = (m) => {
  tail.textContent = m.data + "\n" + tail.textContent.slice(0, 20000);
};
</script>
</body></html>
`))

// AttachAdminRoutes attaches event channel debugging endpoints under /debug/.
// These routes are only reachable from localhost or over Tailscale.
func (h *Hub) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("events", "event channel counters and live tail", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := eventsPageTemplate.Execute(w, h.Stats()); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	// Injects an inbound event as if the backend had sent it.
	debug.HandleSilentFunc("events-inject", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimSpace(r.FormValue("event"))
		if name == "" {
			http.Error(w, "Missing event", http.StatusBadRequest)
			return
		}
		ev := Event{Name: name}
		if data := strings.TrimSpace(r.FormValue("data")); data != "" {
			if !json.Valid([]byte(data)) {
				http.Error(w, "Data is not valid JSON", http.StatusBadRequest)
				return
			}
			ev.Data = json.RawMessage(data)
		}
		if !h.Deliver(ev) {
			http.Error(w, "Inbound queue full", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, fmt.Sprintf("Delivered event %q", name))
	})

	// Server-Sent Events stream of every dispatched inbound event.
	debug.HandleSilentFunc("events-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := h.Subscribe()
		defer h.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				line, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
