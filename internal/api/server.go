// Package api serves the operator console over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/weccap/internal/calibration"
	"github.com/banshee-data/weccap/internal/db"
	"github.com/banshee-data/weccap/internal/eventchannel"
	"github.com/banshee-data/weccap/internal/export"
	"github.com/banshee-data/weccap/internal/httputil"
	"github.com/banshee-data/weccap/internal/mode"
	"github.com/banshee-data/weccap/internal/monitoring"
	"github.com/banshee-data/weccap/internal/recording"
	"github.com/banshee-data/weccap/internal/session"
)

var logger = monitoring.Logger("api")

// ANSI escape codes for the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Rejection conditions reported alongside error messages.
const (
	ConditionInvalidRecordingRequest = "InvalidRecordingRequest"
	ConditionNotRecording            = "NotRecording"
	ConditionEmptyPointSet           = "EmptyPointSet"
	ConditionActionDisabled          = "ActionDisabled"
	ConditionUnknownMode             = "UnknownMode"
	ConditionChannelUnavailable      = "ChannelUnavailable"
)

// History lists what the console has written and submitted.
type History interface {
	ListExports(ctx context.Context, limit int) ([]db.ExportRecord, error)
	ListSubmissions(ctx context.Context, limit int) ([]db.SubmissionRecord, error)
}

type Server struct {
	console    *session.Console
	exportOpts export.Options
	history    History
}

// NewServer creates the operator API. history may be nil.
func NewServer(c *session.Console, exportOpts export.Options, history History) *Server {
	return &Server{console: c, exportOpts: exportOpts, history: history}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logger.Infof(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/mode", s.requestMode)

	mux.HandleFunc("/api/calibration/arm", s.armCalibration)
	mux.HandleFunc("/api/calibration/clear", s.clearCalibration)
	mux.HandleFunc("/api/calibration/submit", s.submitCalibration)
	mux.HandleFunc("/api/calibration/overlay.png", s.showOverlay)

	mux.HandleFunc("/api/scale/arm", s.armScale)
	mux.HandleFunc("/api/scale/clear", s.clearScale)
	mux.HandleFunc("/api/scale/submit", s.submitScale)
	mux.HandleFunc("/api/floor", s.acquireFloor)
	mux.HandleFunc("/api/origin", s.setOrigin)

	mux.HandleFunc("/api/stream/reset", s.resetStream)
	mux.HandleFunc("/api/stream/export", s.exportStream)

	mux.HandleFunc("/api/recording/start", s.startRecording)
	mux.HandleFunc("/api/recording/stop", s.stopRecording)
	mux.HandleFunc("/api/recording", s.showRecording)

	mux.HandleFunc("/api/exports", s.listExports)
	mux.HandleFunc("/api/submissions", s.listSubmissions)

	mux.HandleFunc("/api/camera/settings", s.updateCameraSettings)
	mux.HandleFunc("/api/camera/capture-frame", s.captureFrame)
	mux.HandleFunc("/api/objects", s.locateObjects)
	return mux
}

// allow writes 405 and reports false unless r uses method.
func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		httputil.MethodNotAllowed(w)
		return false
	}
	return true
}

// writeError maps console errors onto status codes and named conditions.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recording.ErrInvalidRecordingRequest):
		httputil.WriteJSONCondition(w, http.StatusBadRequest, ConditionInvalidRecordingRequest, err.Error())
	case errors.Is(err, recording.ErrNotRecording):
		httputil.WriteJSONCondition(w, http.StatusConflict, ConditionNotRecording, err.Error())
	case errors.Is(err, calibration.ErrEmptyPointSet):
		httputil.WriteJSONCondition(w, http.StatusConflict, ConditionEmptyPointSet, err.Error())
	case errors.Is(err, mode.ErrActionDisabled):
		httputil.WriteJSONCondition(w, http.StatusConflict, ConditionActionDisabled, err.Error())
	case errors.Is(err, mode.ErrUnknownMode):
		httputil.WriteJSONCondition(w, http.StatusBadRequest, ConditionUnknownMode, err.Error())
	case errors.Is(err, eventchannel.ErrOutboundFull), errors.Is(err, eventchannel.ErrClosed):
		httputil.WriteJSONCondition(w, http.StatusServiceUnavailable, ConditionChannelUnavailable, err.Error())
	default:
		logger.Error("request failed", "err", err)
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.console.State())
}

type modeRequest struct {
	// Mode is a stage number or name.
	Mode any `json:"mode"`
	// Action is a toggle action name; it wins over Mode.
	Action string `json:"action"`
}

var actions = map[string]mode.Action{
	"toggleimageprocessing": mode.ToggleImageProcessing,
	"togglepointcapture":    mode.TogglePointCapture,
	"toggletriangulation":   mode.ToggleTriangulation,
}

func (s *Server) requestMode(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req modeRequest
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var (
		target mode.Mode
		err    error
	)
	if req.Action != "" {
		a, ok := actions[strings.ToLower(req.Action)]
		if !ok {
			httputil.BadRequest(w, fmt.Sprintf("unknown action %q", req.Action))
			return
		}
		target, err = s.console.Toggle(a)
	} else {
		if req.Mode == nil {
			httputil.BadRequest(w, "missing mode")
			return
		}
		if target, err = mode.ParseMode(req.Mode); err == nil {
			err = s.console.RequestTransition(target)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"requested": target,
		"mode":      s.console.Modes().Current(),
	})
}

func (s *Server) armCalibration(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	st, err := s.console.ArmCalibration()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) clearCalibration(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	s.console.Calibration().Clear()
	httputil.WriteJSONOK(w, s.console.CalibrationState())
}

func (s *Server) submitCalibration(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Kind string `json:"kind"`
	}
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = string(calibration.KindFullPose)
	}
	kind, err := calibration.ParseKind(req.Kind)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.console.SubmitCalibration(r.Context(), kind); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"kind": kind, "points": s.console.Calibration().Len()})
}

func (s *Server) showOverlay(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	var buf bytes.Buffer
	if err := calibration.RenderOverlay(&buf, s.console.Calibration().Points(), s.console.NumCams()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render overlay: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) armScale(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	st, err := s.console.ArmScale()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) clearScale(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	s.console.Scale().Clear()
	httputil.WriteJSONOK(w, s.console.ScaleState())
}

func (s *Server) submitScale(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if err := s.console.SubmitScale(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"frames": len(s.console.Scale().Points())})
}

func (s *Server) acquireFloor(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if err := s.console.AcquireFloor(); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "requested"})
}

func (s *Server) setOrigin(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if err := s.console.SetOrigin(); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "requested"})
}

func (s *Server) resetStream(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	s.console.ResetStream()
	httputil.WriteJSONOK(w, s.console.Accumulator().Tick())
}

// exportStream encodes the live stream. Query parameters name, format and
// archive override the configured export options.
func (s *Server) exportStream(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	opts := s.exportOpts
	if f := q.Get("format"); f != "" {
		opts.Format = f
	}
	if a := q.Get("archive"); a != "" {
		v, err := strconv.ParseBool(a)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid archive flag %q", a))
			return
		}
		opts.Archive = v
	}
	if err := opts.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	name := q.Get("name")
	if strings.TrimSpace(name) == "" {
		name = "stream"
	}

	art, err := export.Encode(opts, name, s.console.Accumulator().Snapshot(), time.Now())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", art.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.FileName))
	w.Header().Set("X-Record-Count", strconv.Itoa(art.Records))
	_, _ = w.Write(art.Data)
}

func (s *Server) startRecording(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	st, err := s.console.Recording().Start(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) stopRecording(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	st, err := s.console.Recording().Stop()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) showRecording(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.console.Recording().Status())
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 50, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}

func (s *Server) listExports(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if s.history == nil {
		httputil.WriteJSONOK(w, []db.ExportRecord{})
		return
	}
	recs, err := s.history.ListExports(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, recs)
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if s.history == nil {
		httputil.WriteJSONOK(w, []db.SubmissionRecord{})
		return
	}
	recs, err := s.history.ListSubmissions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, recs)
}

func (s *Server) updateCameraSettings(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req session.CameraSettings
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.console.UpdateCameraSettings(req); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, req)
}

func (s *Server) captureFrame(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if err := s.console.CaptureImage(); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "requested"})
}

func (s *Server) locateObjects(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Locate *bool `json:"locate"`
	}
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Locate == nil {
		httputil.BadRequest(w, "missing locate flag")
		return
	}
	if err := s.console.SetLocatingObjects(*req.Locate); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"locating_objects": *req.Locate})
}
