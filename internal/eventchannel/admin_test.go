package eventchannel

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// localHostRequest creates a request that tsweb treats as coming from localhost.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_Inject(t *testing.T) {
	hub := NewHub(4)
	mux := http.NewServeMux()
	hub.AttachAdminRoutes(mux)

	tests := []struct {
		name   string
		method string
		form   url.Values
		want   int
	}{
		{"valid", http.MethodPost, url.Values{"event": {"fps"}, "data": {`{"fps":30}`}}, http.StatusOK},
		{"no data", http.MethodPost, url.Values{"event": {"connect"}}, http.StatusOK},
		{"missing event", http.MethodPost, url.Values{"event": {"  "}}, http.StatusBadRequest},
		{"bad json", http.MethodPost, url.Values{"event": {"fps"}, "data": {"{"}}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := localHostRequest(tt.method, "/debug/events-inject", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, 2, hub.Stats().Pending)
}

func TestAttachAdminRoutes_Page(t *testing.T) {
	hub := NewHub(4)
	mux := http.NewServeMux()
	hub.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/events", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Event channel")
}
