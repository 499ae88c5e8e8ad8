package recording

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/weccap/internal/accumulator"
	"github.com/banshee-data/weccap/internal/mode"
	"github.com/banshee-data/weccap/internal/testutil"
	"github.com/banshee-data/weccap/internal/timeutil"
)

type fixedMode mode.Mode

func (m *fixedMode) Current() mode.Mode { return mode.Mode(*m) }

type captured struct{ got []Capture }

func (c *captured) Export(rec Capture) { c.got = append(c.got, rec) }

func setup(t *testing.T, m mode.Mode) (*Session, *accumulator.Accumulator, *captured, *fixedMode) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	fm := fixedMode(m)
	out := &captured{}
	s := NewSession(&fm, out, clock)
	acc := accumulator.New(clock)
	acc.AddMirror(s)
	return s, acc, out, &fm
}

func TestStart_EmptyNameRejected(t *testing.T) {
	s, acc, _, _ := setup(t, mode.Triangulation)

	_, err := s.Start("")
	require.True(t, errors.Is(err, ErrInvalidRecordingRequest), "got %v", err)
	_, err = s.Start("   ")
	require.ErrorIs(t, err, ErrInvalidRecordingRequest)

	acc.Ingest(testutil.FrameJSON(1, 2, 3, 0, 1))
	st := s.Status()
	assert.Equal(t, Stopped, st.State)
	assert.Zero(t, st.Samples)
}

func TestStart_RequiresTriangulation(t *testing.T) {
	for _, m := range []mode.Mode{mode.CamerasFound, mode.ImageProcessing, mode.PointCapture} {
		s, _, _, _ := setup(t, m)
		_, err := s.Start("trial1")
		assert.ErrorIs(t, err, ErrInvalidRecordingRequest, "mode %s", m)
		assert.Equal(t, Stopped, s.Status().State)
	}
}

func TestRecordThreeFrames(t *testing.T) {
	s, acc, out, _ := setup(t, mode.Triangulation)

	// Frames before the start are not recorded.
	acc.Ingest(testutil.FrameJSON(0, 0, 0, 0, 1))

	st, err := s.Start("trial1")
	require.NoError(t, err)
	assert.Equal(t, Recording, st.State)
	assert.NotEmpty(t, st.ID)

	for i := 0; i < 3; i++ {
		acc.Ingest(testutil.FrameJSON(float64(i), 0, 0, 0.5, float64(10+i)))
	}
	acc.Ingest([]byte(`{"broken":true}`))
	assert.Equal(t, 3, s.Status().Samples)

	final, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, Stopped, final.State)
	assert.Equal(t, 3, final.Samples)

	require.Len(t, out.got, 1)
	rec := out.got[0]
	assert.Equal(t, "trial1", rec.Name)
	assert.Equal(t, st.ID, rec.ID)
	assert.Equal(t, 3, rec.Stream.Len())
	assert.Equal(t, []float64{10, 11, 12}, rec.Stream.Times)

	// The primary accumulator is untouched by recording.
	assert.Equal(t, 4, acc.Len())

	// After stop the buffer is gone.
	acc.Ingest(testutil.FrameJSON(0, 0, 0, 0, 20))
	assert.Equal(t, Status{State: Stopped}, s.Status())
	assert.Equal(t, 3, rec.Stream.Len())
}

func TestStartResetsBuffer(t *testing.T) {
	s, acc, out, _ := setup(t, mode.Triangulation)

	_, err := s.Start("first")
	require.NoError(t, err)
	acc.Ingest(testutil.FrameJSON(0, 0, 0, 0, 1))
	_, err = s.Stop()
	require.NoError(t, err)

	_, err = s.Start("second")
	require.NoError(t, err)
	acc.Ingest(testutil.FrameJSON(0, 0, 0, 0, 2))
	_, err = s.Stop()
	require.NoError(t, err)

	require.Len(t, out.got, 2)
	assert.Equal(t, []float64{2}, out.got[1].Stream.Times)
	assert.NotEqual(t, out.got[0].ID, out.got[1].ID)
}

func TestStartWhileRecording(t *testing.T) {
	s, _, _, _ := setup(t, mode.Triangulation)
	_, err := s.Start("a")
	require.NoError(t, err)

	st, err := s.Start("b")
	assert.ErrorIs(t, err, ErrInvalidRecordingRequest)
	assert.Equal(t, "a", st.Name)
}

func TestStopWhileStopped(t *testing.T) {
	s, _, out, _ := setup(t, mode.Triangulation)
	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.Empty(t, out.got)
}

func TestModeDropDoesNotStopRecording(t *testing.T) {
	s, acc, out, fm := setup(t, mode.Triangulation)
	_, err := s.Start("trial")
	require.NoError(t, err)

	*fm = fixedMode(mode.CamerasFound)
	acc.Ingest(testutil.FrameJSON(0, 0, 0, 0, 1))
	_, err = s.Stop()
	require.NoError(t, err)
	assert.Equal(t, 1, out.got[0].Stream.Len())
}

func TestExporterFunc(t *testing.T) {
	var names []string
	s := NewSession(func() ModeSource { m := fixedMode(mode.Triangulation); return &m }(),
		ExporterFunc(func(c Capture) { names = append(names, c.Name) }), nil)
	_, err := s.Start("x")
	require.NoError(t, err)
	_, err = s.Stop()
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, names)
}

func TestStatusJSON(t *testing.T) {
	in := Status{State: Recording, ID: "abc", Name: "trial", Samples: 4, StartedAt: time.Unix(100, 0).UTC()}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"recording"`)

	var out Status
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	var st State
	assert.Error(t, st.UnmarshalText([]byte("paused")))
}
