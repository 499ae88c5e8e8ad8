package scene

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/weccap/internal/accumulator"
	"github.com/banshee-data/weccap/internal/monitoring"
	"github.com/banshee-data/weccap/internal/timeutil"
)

var logger = monitoring.Logger("scene")

const (
	ServiceName      = "weccap.scene.v1.SceneService"
	StreamPointsPath = "/" + ServiceName + "/StreamPoints"

	DefaultInterval = 33 * time.Millisecond
	minInterval     = 5 * time.Millisecond
	maxInterval     = 10 * time.Second

	// Large streams are sent whole on a reset.
	maxMsgSize = 16 * 1024 * 1024

	// stopTimeout bounds GracefulStop before open streams are cut.
	stopTimeout = 5 * time.Second
)

// SceneServer is the service implementation registered by ServiceDesc.
type SceneServer interface {
	StreamPoints(req *structpb.Struct, stream grpc.ServerStream) error
}

// ServiceDesc describes the point stream service. It is written by hand;
// the request and response messages are google.protobuf.Struct.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SceneServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamPoints",
			Handler:       streamPointsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "weccap/scene/v1/scene.proto",
}

func streamPointsHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SceneServer).StreamPoints(req, stream)
}

// Server streams an accumulator to renderers.
type Server struct {
	acc   *accumulator.Accumulator
	clock timeutil.Clock

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ SceneServer = (*Server)(nil)

// NewServer creates a server reading from acc.
func NewServer(acc *accumulator.Accumulator, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{acc: acc, clock: clock, stopCh: make(chan struct{})}
}

// Stop ends every open stream. Streams opened afterwards end immediately.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RegisterService registers the point stream with grpcServer.
func RegisterService(grpcServer *grpc.Server, s *Server) {
	grpcServer.RegisterService(&ServiceDesc, s)
}

// requestInterval reads interval_ms from the request, clamped to a sane
// range.
func requestInterval(req *structpb.Struct) time.Duration {
	v, ok := req.GetFields()["interval_ms"]
	if !ok {
		return DefaultInterval
	}
	ms := v.GetNumberValue()
	if ms <= 0 {
		return DefaultInterval
	}
	d := time.Duration(ms * float64(time.Millisecond))
	return min(max(d, minInterval), maxInterval)
}

// StreamPoints sends the current stream, then on every tick the frames
// appended since the previous send. A new accumulator epoch restarts the
// stream with Reset set.
func (s *Server) StreamPoints(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	interval := requestInterval(req)
	logger.Info("renderer connected", "interval", interval)
	defer logger.Info("renderer disconnected")

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	var (
		sent    int
		epoch   uint64
		started bool
	)
	send := func() error {
		snap, tick := s.acc.SnapshotTick()
		reset := !started || tick.Epoch != epoch || snap.Len() < sent
		if reset {
			sent = 0
		}
		if !reset && snap.Len() == sent {
			return nil
		}
		u := Update{
			Epoch:  tick.Epoch,
			Reset:  reset,
			Offset: sent,
			Times:  snap.Times[sent:],
			Frames: snap.ObjectPoints[sent:],
		}
		msg, err := u.Struct()
		if err != nil {
			return status.Errorf(codes.Internal, "encode update: %v", err)
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
		started, epoch, sent = true, tick.Epoch, snap.Len()
		return nil
	}

	if err := send(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return status.Error(codes.Unavailable, "scene server stopping")
		case <-ticker.C():
			if err := send(); err != nil {
				return err
			}
		}
	}
}

// NewGRPCServer builds a gRPC server with the point stream and the standard
// health service registered.
func NewGRPCServer(s *Server) *grpc.Server {
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterService(grpcServer, s)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	return grpcServer
}

// Serve listens on addr and serves until ctx is done.
func Serve(ctx context.Context, addr string, s *Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return ServeListener(ctx, lis, s)
}

// ServeListener serves on lis until ctx is done. Shutdown ends open streams
// and waits up to stopTimeout for them to drain before closing connections.
func ServeListener(ctx context.Context, lis net.Listener, s *Server) error {
	grpcServer := NewGRPCServer(s)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("scene stream listening", "addr", lis.Addr().String())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(stopTimeout):
			logger.Warn("graceful stop timed out, closing connections")
			grpcServer.Stop()
			<-stopped
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
