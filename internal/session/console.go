// Package session composes the console: it subscribes the mode machine,
// accumulator, calibration captures and recording session to the event
// channel and exposes the operator actions on top of them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/weccap/internal/accumulator"
	"github.com/banshee-data/weccap/internal/calibration"
	"github.com/banshee-data/weccap/internal/db"
	"github.com/banshee-data/weccap/internal/eventchannel"
	"github.com/banshee-data/weccap/internal/frame"
	"github.com/banshee-data/weccap/internal/httputil"
	"github.com/banshee-data/weccap/internal/mode"
	"github.com/banshee-data/weccap/internal/monitoring"
	"github.com/banshee-data/weccap/internal/recording"
	"github.com/banshee-data/weccap/internal/timeutil"
)

var logger = monitoring.Logger("session")

// statusTimeout bounds the status endpoint fetch made on every connect.
const statusTimeout = 5 * time.Second

// SubmissionHistory stores a row for every calibration submission.
type SubmissionHistory interface {
	RecordSubmission(ctx context.Context, rec db.SubmissionRecord) error
}

// Options configures a Console.
type Options struct {
	// StatusURL is the backend status endpoint read on connect. Empty
	// disables the fetch.
	StatusURL  string
	HTTPClient httputil.HTTPClient
	Clock      timeutil.Clock
	Exporter   recording.Exporter
	History    SubmissionHistory
}

// CameraSettings is the payload of update-camera-settings.
type CameraSettings struct {
	Exposure int `json:"exposure"`
	Gain     int `json:"gain"`
}

// Validate rejects negative settings.
func (s CameraSettings) Validate() error {
	if s.Exposure < 0 || s.Gain < 0 {
		return fmt.Errorf("camera settings must not be negative: exposure=%d gain=%d", s.Exposure, s.Gain)
	}
	return nil
}

type startOrStop struct {
	StartOrStop string `json:"startOrStop"`
}

// Console is one operator session bound to one event channel.
type Console struct {
	ch      eventchannel.Channel
	opts    Options
	clock   timeutil.Clock
	subs    map[string]string
	subsMu  sync.Mutex
	closeMu sync.Once

	modes   *mode.Machine
	acc     *accumulator.Accumulator
	poses   *calibration.Poses
	capture *calibration.Capture
	scale   *calibration.ScaleCapture
	rec     *recording.Session

	mu              sync.Mutex
	connected       bool
	locatingObjects bool
	numCams         int
	fps             float64
	lastImagePoints frame.CameraPoints
	lastError       string
	lastSuccess     string
}

// New builds a console and subscribes it to ch.
func New(ch eventchannel.Channel, opts Options) *Console {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: statusTimeout}
	}

	c := &Console{
		ch:    ch,
		opts:  opts,
		clock: opts.Clock,
		subs:  make(map[string]string),
		poses: calibration.NewPoses(),
	}
	c.modes = mode.NewMachine(ch)
	c.acc = accumulator.New(opts.Clock)
	c.capture = calibration.NewCapture(ch, c.poses)
	c.scale = calibration.NewScaleCapture(ch, c.poses)
	c.rec = recording.NewSession(c.modes, opts.Exporter, opts.Clock)

	c.acc.AddMirror(c.scale)
	c.acc.AddMirror(c.rec)

	c.subscribe(eventchannel.EventConnect, c.onConnect)
	c.subscribe(eventchannel.EventDisconnect, c.onDisconnect)
	c.subscribe(eventchannel.EventStateChange, c.onStateChange)
	c.subscribe(eventchannel.EventObjectPoints, c.onObjectPoints)
	c.subscribe(eventchannel.EventImagePoints, c.onImagePoints)
	c.subscribe(eventchannel.EventNumCams, c.onNumCams)
	c.subscribe(eventchannel.EventCameraPose, c.onCameraPose)
	c.subscribe(eventchannel.EventWorldMatrix, c.onWorldMatrix)
	c.subscribe(eventchannel.EventFPS, c.onFPS)
	c.subscribe(eventchannel.EventError, c.onError)
	c.subscribe(eventchannel.EventSuccess, c.onSuccess)
	c.subscribe(eventchannel.EventStatus, c.onStatus)
	return c
}

func (c *Console) subscribe(name string, h eventchannel.Handler) {
	id := c.ch.On(name, h)
	c.subsMu.Lock()
	c.subs[id] = name
	c.subsMu.Unlock()
}

// Close removes every subscription. Events arriving afterwards are ignored.
func (c *Console) Close() {
	c.closeMu.Do(func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		for id, name := range c.subs {
			c.ch.Off(name, id)
		}
		clear(c.subs)
	})
}

// Modes returns the session mode machine.
func (c *Console) Modes() *mode.Machine { return c.modes }

// Accumulator returns the session stream.
func (c *Console) Accumulator() *accumulator.Accumulator { return c.acc }

// Poses returns the latest camera poses and world transform.
func (c *Console) Poses() *calibration.Poses { return c.poses }

// Calibration returns the camera pose capture protocol.
func (c *Console) Calibration() *calibration.Capture { return c.capture }

// Scale returns the scale capture.
func (c *Console) Scale() *calibration.ScaleCapture { return c.scale }

// Recording returns the recording session.
func (c *Console) Recording() *recording.Session { return c.rec }

// Connected reports whether the event channel is up.
func (c *Console) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// NumCams returns the camera count last pushed by the backend.
func (c *Console) NumCams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numCams
}

func (c *Console) onConnect(eventchannel.Event) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	logger.Info("event channel connected")

	if c.opts.StatusURL == "" {
		return
	}
	gen := c.modes.Generation()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		defer cancel()
		if err := c.refreshStatus(ctx, gen); err != nil {
			logger.Warn("status fetch failed", "url", c.opts.StatusURL, "err", err)
		}
	}()
}

// statusResult is the EventStatus payload.
type statusResult struct {
	Generation      uint64 `json:"generation"`
	Mode            int    `json:"mode"`
	LocatingObjects bool   `json:"locating_objects"`
}

// RefreshStatus reads the backend status endpoint once and applies it as the
// confirmed mode. When the channel is a Poster the reply is applied on the
// dispatch loop, after any event already queued. A state_change that arrives
// while the read is in flight wins over the reply.
func (c *Console) RefreshStatus(ctx context.Context) error {
	return c.refreshStatus(ctx, c.modes.Generation())
}

func (c *Console) refreshStatus(ctx context.Context, gen uint64) error {
	body, err := httputil.GetBody(ctx, c.opts.HTTPClient, c.opts.StatusURL)
	if err != nil {
		return err
	}
	st, err := mode.DecodeStatus(body)
	switch {
	case errors.Is(err, mode.ErrUnknownMode):
		// Decoded as CamerasFound.
		logger.Warn("unrecognized status mode", "err", err)
	case err != nil:
		return err
	}

	res := statusResult{Generation: gen, Mode: int(st.Mode), LocatingObjects: st.LocatingObjects}
	p, ok := c.ch.(eventchannel.Poster)
	if !ok {
		c.applyStatus(res)
		return nil
	}
	ev, err := eventchannel.NewEvent(eventchannel.EventStatus, res)
	if err != nil {
		return err
	}
	if !p.Post(ev) {
		return fmt.Errorf("status reply dropped: inbound queue full or closed")
	}
	return nil
}

func (c *Console) onStatus(ev eventchannel.Event) {
	var res statusResult
	if err := json.Unmarshal(ev.Data, &res); err != nil {
		logger.Warn("dropped status reply", "err", err)
		return
	}
	c.applyStatus(res)
}

func (c *Console) applyStatus(res statusResult) {
	applied, ok := c.modes.OnStatusMode(mode.Mode(res.Mode), res.Generation)
	if !ok {
		logger.Info("discarded stale status reply", "status_mode", mode.Mode(res.Mode), "mode", applied)
		return
	}
	c.mu.Lock()
	c.locatingObjects = res.LocatingObjects
	c.mu.Unlock()
}

func (c *Console) onDisconnect(eventchannel.Event) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	logger.Warn("event channel disconnected")
}

func (c *Console) onStateChange(ev eventchannel.Event) {
	c.modes.OnAuthoritativeMode(json.RawMessage(ev.Data))
}

func (c *Console) onObjectPoints(ev eventchannel.Event) {
	c.acc.Ingest(ev.Data)
}

func (c *Console) onImagePoints(ev eventchannel.Event) {
	pts, err := frame.DecodeCameraPoints(ev.Data)
	if err != nil {
		logger.Warn("dropped image points", "err", err)
		return
	}
	c.mu.Lock()
	c.lastImagePoints = pts
	c.mu.Unlock()
	c.capture.OnSample(pts)
}

func (c *Console) onNumCams(ev eventchannel.Event) {
	var n int
	if err := json.Unmarshal(ev.Data, &n); err != nil || n < 0 {
		logger.Warn("dropped num-cams", "data", string(ev.Data), "err", err)
		return
	}
	c.mu.Lock()
	c.numCams = n
	c.mu.Unlock()
}

func (c *Console) onCameraPose(ev eventchannel.Event) {
	if err := c.poses.OnCameraPoseEvent(ev.Data); err != nil {
		logger.Warn("dropped camera pose", "err", err)
	}
}

func (c *Console) onWorldMatrix(ev eventchannel.Event) {
	if err := c.poses.OnWorldMatrixEvent(ev.Data); err != nil {
		logger.Warn("dropped world matrix", "err", err)
	}
}

func (c *Console) onFPS(ev eventchannel.Event) {
	var p struct {
		FPS float64 `json:"fps"`
	}
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		logger.Debug("dropped fps", "err", err)
		return
	}
	c.mu.Lock()
	c.fps = p.FPS
	c.mu.Unlock()
}

func (c *Console) onError(ev eventchannel.Event) {
	msg := message(ev.Data)
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
	logger.Error("backend error", "msg", msg)
}

func (c *Console) onSuccess(ev eventchannel.Event) {
	msg := message(ev.Data)
	c.mu.Lock()
	c.lastSuccess = msg
	c.mu.Unlock()
	logger.Info("backend success", "msg", msg)
}

// message unwraps a JSON string, falling back to the raw text.
func message(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}

// RequestTransition asks the backend for target. Once a request for
// Triangulation from a lower stage has been sent, the stream starts afresh;
// a request that could not be sent leaves the stream alone.
func (c *Console) RequestTransition(target mode.Mode) error {
	fresh := target == mode.Triangulation && c.modes.Current() != mode.Triangulation
	if err := c.modes.RequestTransition(target); err != nil {
		return err
	}
	if fresh {
		c.acc.Reset()
	}
	return nil
}

// ArmCalibration arms the camera pose capture for the next image-points
// sample. It needs PointCapture or later.
func (c *Console) ArmCalibration() (CalibrationState, error) {
	cur := c.modes.Current()
	if !mode.ArmPose.EnabledIn(cur) {
		return c.calibrationState(cur), fmt.Errorf("%s in %s: %w", mode.ArmPose, cur, mode.ErrActionDisabled)
	}
	c.capture.ArmNext()
	return c.calibrationState(cur), nil
}

// ArmScale arms the scale capture for the next triangulated frame. It needs
// Triangulation.
func (c *Console) ArmScale() (CalibrationState, error) {
	cur := c.modes.Current()
	if !mode.ArmScale.EnabledIn(cur) {
		return c.scaleState(cur), fmt.Errorf("%s in %s: %w", mode.ArmScale, cur, mode.ErrActionDisabled)
	}
	c.scale.ArmNext()
	return c.scaleState(cur), nil
}

// CalibrationState summarises the camera pose capture.
func (c *Console) CalibrationState() CalibrationState {
	return c.calibrationState(c.modes.Current())
}

// ScaleState summarises the scale capture.
func (c *Console) ScaleState() CalibrationState {
	return c.scaleState(c.modes.Current())
}

func (c *Console) calibrationState(cur mode.Mode) CalibrationState {
	return CalibrationState{State: c.capture.State(), Points: c.capture.Len(), ArmEnabled: mode.ArmPose.EnabledIn(cur)}
}

func (c *Console) scaleState(cur mode.Mode) CalibrationState {
	return CalibrationState{State: c.scale.State(), Points: len(c.scale.Points()), ArmEnabled: mode.ArmScale.EnabledIn(cur)}
}

// Toggle runs a bounded toggle action through RequestTransition.
func (c *Console) Toggle(a mode.Action) (mode.Mode, error) {
	cur := c.modes.Current()
	if !a.EnabledIn(cur) {
		return cur, fmt.Errorf("%s in %s: %w", a, cur, mode.ErrActionDisabled)
	}
	target, ok := a.ToggleTarget(cur)
	if !ok {
		return cur, fmt.Errorf("%s is not a toggle", a)
	}
	return target, c.RequestTransition(target)
}

// SubmitCalibration sends the captured point set and records the submission.
func (c *Console) SubmitCalibration(ctx context.Context, kind calibration.Kind) error {
	n := c.capture.Len()
	if err := c.capture.Submit(kind); err != nil {
		return err
	}
	c.recordSubmission(ctx, string(kind), n)
	return nil
}

// SubmitScale sends the scale capture and records the submission.
func (c *Console) SubmitScale(ctx context.Context) error {
	n := len(c.scale.Points())
	if err := c.scale.Submit(); err != nil {
		return err
	}
	c.recordSubmission(ctx, "scale", n)
	return nil
}

func (c *Console) recordSubmission(ctx context.Context, kind string, points int) {
	if c.opts.History == nil {
		return
	}
	rec := db.SubmissionRecord{ID: uuid.NewString(), Kind: kind, Points: points, CreatedAt: c.clock.Now()}
	if err := c.opts.History.RecordSubmission(ctx, rec); err != nil {
		logger.Warn("submission history not recorded", "kind", kind, "err", err)
	}
}

// AcquireFloor levels the world transform on the current stream.
func (c *Console) AcquireFloor() error {
	return calibration.AcquireFloor(c.ch, c.poses, c.acc.Snapshot().ObjectPoints)
}

// SetOrigin moves the world origin to the first resolved point of the
// current stream.
func (c *Console) SetOrigin() error {
	return calibration.SetOrigin(c.ch, c.poses, c.acc.Snapshot().ObjectPoints)
}

// UpdateCameraSettings forwards exposure and gain to the backend.
func (c *Console) UpdateCameraSettings(s CameraSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := c.ch.Emit(eventchannel.EmitCameraSettings, s); err != nil {
		return fmt.Errorf("update camera settings: %w", err)
	}
	return nil
}

// CaptureImage asks the backend to save a still from every camera.
func (c *Console) CaptureImage() error {
	if cur := c.modes.Current(); !mode.CaptureFrame.EnabledIn(cur) {
		return fmt.Errorf("%s in %s: %w", mode.CaptureFrame, cur, mode.ErrActionDisabled)
	}
	if err := c.ch.Emit(eventchannel.EmitCaptureImage, nil); err != nil {
		return fmt.Errorf("capture image: %w", err)
	}
	return nil
}

// SetLocatingObjects starts or stops object location on the backend. The
// local flag follows the request; the next status fetch corrects it.
func (c *Console) SetLocatingObjects(on bool) error {
	req := startOrStop{StartOrStop: "stop"}
	if on {
		req.StartOrStop = "start"
	}
	if err := c.ch.Emit(eventchannel.EmitLocateObjects, req); err != nil {
		return fmt.Errorf("locate objects: %w", err)
	}
	c.mu.Lock()
	c.locatingObjects = on
	c.mu.Unlock()
	return nil
}

// ResetStream discards the accumulated stream.
func (c *Console) ResetStream() { c.acc.Reset() }

// CalibrationState summarises a capture protocol.
type CalibrationState struct {
	State  calibration.State `json:"state"`
	Points int               `json:"points"`
	// ArmEnabled reports whether the current mode allows arming.
	ArmEnabled bool `json:"arm_enabled"`
}

// State is the operator-facing view of the console.
type State struct {
	Connected       bool                     `json:"connected"`
	Mode            mode.Mode                `json:"mode"`
	ModeName        string                   `json:"mode_name"`
	ModeConfirmed   bool                     `json:"mode_confirmed"`
	LocatingObjects bool                     `json:"locating_objects"`
	NumCams         int                      `json:"num_cams"`
	FPS             float64                  `json:"fps"`
	Stream          accumulator.Stats        `json:"stream"`
	Calibration     CalibrationState         `json:"calibration"`
	Scale           CalibrationState         `json:"scale"`
	Recording       recording.Status         `json:"recording"`
	CameraPoses     []calibration.CameraPose `json:"camera_poses"`
	WorldMatrix     calibration.WorldMatrix  `json:"to_world_coords_matrix"`
	LastImagePoints frame.CameraPoints       `json:"last_image_points,omitempty"`
	LastError       string                   `json:"last_error,omitempty"`
	LastSuccess     string                   `json:"last_success,omitempty"`
}

// State returns a snapshot of the console.
func (c *Console) State() State {
	cur := c.modes.Current()
	st := State{
		Mode:          cur,
		ModeName:      cur.String(),
		ModeConfirmed: c.modes.Confirmed(),
		Stream:        c.acc.Stats(),
		Calibration:   c.calibrationState(cur),
		Scale:         c.scaleState(cur),
		Recording:     c.rec.Status(),
		CameraPoses:   c.poses.CameraPoses(),
		WorldMatrix:   c.poses.WorldMatrix(),
	}
	c.mu.Lock()
	st.Connected = c.connected
	st.LocatingObjects = c.locatingObjects
	st.NumCams = c.numCams
	st.FPS = c.fps
	st.LastImagePoints = c.lastImagePoints.Clone()
	st.LastError = c.lastError
	st.LastSuccess = c.lastSuccess
	c.mu.Unlock()
	return st
}
