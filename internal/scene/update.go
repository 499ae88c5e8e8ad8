// Package scene streams newly accumulated object points to 3D renderers
// over gRPC. Messages are google.protobuf.Struct values so renderers need no
// generated code.
package scene

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Update is one message of the point stream. Frames holds the object points
// of stream frames [Offset, Offset+len(Frames)). Reset is set on the first
// message and whenever the accumulator started a new stream; the renderer
// must drop everything it holds before applying Frames.
type Update struct {
	Epoch  uint64
	Reset  bool
	Offset int
	Times  []float64
	Frames [][][3]float64
}

// Struct encodes u for the wire.
func (u Update) Struct() (*structpb.Struct, error) {
	times := make([]any, len(u.Times))
	for i, t := range u.Times {
		times[i] = t
	}
	frames := make([]any, len(u.Frames))
	for i, pts := range u.Frames {
		if pts == nil {
			frames[i] = nil
			continue
		}
		list := make([]any, len(pts))
		for j, p := range pts {
			list[j] = []any{p[0], p[1], p[2]}
		}
		frames[i] = list
	}
	return structpb.NewStruct(map[string]any{
		"epoch":  float64(u.Epoch),
		"reset":  u.Reset,
		"offset": float64(u.Offset),
		"times":  times,
		"frames": frames,
	})
}

// DecodeUpdate parses a wire message.
func DecodeUpdate(s *structpb.Struct) (Update, error) {
	f := s.GetFields()
	u := Update{
		Epoch:  uint64(f["epoch"].GetNumberValue()),
		Reset:  f["reset"].GetBoolValue(),
		Offset: int(f["offset"].GetNumberValue()),
	}
	for _, v := range f["times"].GetListValue().GetValues() {
		u.Times = append(u.Times, v.GetNumberValue())
	}
	for i, v := range f["frames"].GetListValue().GetValues() {
		if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
			u.Frames = append(u.Frames, nil)
			continue
		}
		list := v.GetListValue()
		if list == nil {
			return Update{}, fmt.Errorf("frame %d: not a list", i)
		}
		pts := make([][3]float64, 0, len(list.GetValues()))
		for j, pv := range list.GetValues() {
			xyz := pv.GetListValue().GetValues()
			if len(xyz) != 3 {
				return Update{}, fmt.Errorf("frame %d point %d: want 3 coordinates, got %d", i, j, len(xyz))
			}
			pts = append(pts, [3]float64{xyz[0].GetNumberValue(), xyz[1].GetNumberValue(), xyz[2].GetNumberValue()})
		}
		u.Frames = append(u.Frames, pts)
	}
	if len(u.Times) != len(u.Frames) {
		return Update{}, fmt.Errorf("%d times for %d frames", len(u.Times), len(u.Frames))
	}
	return u, nil
}
