package scene

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client reads the point stream.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection to a scene server.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// PointStream yields updates until the server or ctx ends the call.
type PointStream struct {
	stream grpc.ClientStream
}

// StreamPoints opens a point stream polled every intervalMs milliseconds.
// Zero selects the server default.
func (c *Client) StreamPoints(ctx context.Context, intervalMs float64, opts ...grpc.CallOption) (*PointStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamPointsPath, opts...)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"interval_ms": intervalMs})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &PointStream{stream: stream}, nil
}

// Recv blocks for the next update.
func (p *PointStream) Recv() (Update, error) {
	msg := new(structpb.Struct)
	if err := p.stream.RecvMsg(msg); err != nil {
		return Update{}, err
	}
	return DecodeUpdate(msg)
}
