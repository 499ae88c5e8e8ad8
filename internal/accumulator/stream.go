package accumulator

import (
	"encoding/json"

	"github.com/banshee-data/weccap/internal/frame"
)

// Stream is an append-only set of parallel sequences, one element per
// ingested frame. All sequences always have the same length.
type Stream struct {
	Times           []float64
	ObjectPoints    [][][3]float64
	Errors          [][]float64
	ImagePoints     []json.RawMessage
	Objects         [][]json.RawMessage
	FilteredObjects [][]json.RawMessage
}

// NewStream returns an empty stream.
func NewStream() *Stream {
	return &Stream{}
}

// Len returns the number of frames in the stream.
func (s *Stream) Len() int {
	return len(s.Times)
}

// Append adds one frame stamped with timeMs.
func (s *Stream) Append(f frame.Frame, timeMs float64) {
	s.Times = append(s.Times, timeMs)
	s.ObjectPoints = append(s.ObjectPoints, f.ObjectPoints)
	s.Errors = append(s.Errors, f.Errors)
	s.ImagePoints = append(s.ImagePoints, f.ImagePoints)
	s.Objects = append(s.Objects, f.Objects)
	s.FilteredObjects = append(s.FilteredObjects, f.FilteredObjects)
}

// View returns a copy of the stream whose slices are clipped to their
// current length, so later appends to s never show through it.
func (s *Stream) View() Stream {
	n := s.Len()
	return Stream{
		Times:           s.Times[:n:n],
		ObjectPoints:    s.ObjectPoints[:n:n],
		Errors:          s.Errors[:n:n],
		ImagePoints:     s.ImagePoints[:n:n],
		Objects:         s.Objects[:n:n],
		FilteredObjects: s.FilteredObjects[:n:n],
	}
}

// Since returns the object points of frames [from, Len()).
func (s Stream) Since(from int) [][][3]float64 {
	if from < 0 {
		from = 0
	}
	if from >= len(s.ObjectPoints) {
		return nil
	}
	return s.ObjectPoints[from:]
}

// FlatErrors returns every reprojection error in the stream.
func (s Stream) FlatErrors() []float64 {
	var out []float64
	for _, e := range s.Errors {
		out = append(out, e...)
	}
	return out
}
