package scene

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/weccap/internal/accumulator"
	"github.com/banshee-data/weccap/internal/testutil"
	"github.com/banshee-data/weccap/internal/timeutil"
)

// startServer serves s on an in-memory listener and returns a client
// connection to it.
func startServer(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, lis, s) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return conn
}

func TestUpdateStructRoundTrip(t *testing.T) {
	u := Update{
		Epoch:  2,
		Reset:  true,
		Offset: 5,
		Times:  []float64{10, 20},
		Frames: [][][3]float64{{{1, 2, 3}, {4, 5, 6}}, nil},
	}
	msg, err := u.Struct()
	require.NoError(t, err)
	got, err := DecodeUpdate(msg)
	require.NoError(t, err)
	if diff := cmp.Diff(u, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeUpdate_Errors(t *testing.T) {
	bad := []map[string]any{
		{"times": []any{1.0}, "frames": []any{}},
		{"times": []any{1.0}, "frames": []any{"x"}},
		{"times": []any{1.0}, "frames": []any{[]any{[]any{1.0, 2.0}}}},
	}
	for _, m := range bad {
		s, err := structpb.NewStruct(m)
		require.NoError(t, err)
		_, err = DecodeUpdate(s)
		assert.Error(t, err, "%v", m)
	}
}

func TestRequestInterval(t *testing.T) {
	tests := []struct {
		fields map[string]any
		want   time.Duration
	}{
		{nil, DefaultInterval},
		{map[string]any{"interval_ms": 0.0}, DefaultInterval},
		{map[string]any{"interval_ms": 100.0}, 100 * time.Millisecond},
		{map[string]any{"interval_ms": 1.0}, minInterval},
		{map[string]any{"interval_ms": 1e9}, maxInterval},
	}
	for _, tt := range tests {
		s, err := structpb.NewStruct(tt.fields)
		require.NoError(t, err)
		assert.Equal(t, tt.want, requestInterval(s), "%v", tt.fields)
	}
}

func TestStreamPoints(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	acc := accumulator.New(clock)
	acc.Ingest(testutil.FrameJSON(1, 2, 3, 0.1, 10))

	conn := startServer(t, NewServer(acc, clock))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := NewClient(conn).StreamPoints(ctx, 50)
	require.NoError(t, err)

	// The first message carries the whole stream.
	u, err := stream.Recv()
	require.NoError(t, err)
	assert.True(t, u.Reset)
	assert.Equal(t, 0, u.Offset)
	assert.Equal(t, []float64{10}, u.Times)
	assert.Equal(t, [][][3]float64{{{1, 2, 3}}}, u.Frames)

	// Only new frames follow.
	acc.Ingest(testutil.FrameJSON(4, 5, 6, 0.1, 20))
	acc.Ingest(testutil.FrameJSON(7, 8, 9, 0.1, 30))
	clock.Advance(50 * time.Millisecond)

	u, err = stream.Recv()
	require.NoError(t, err)
	assert.False(t, u.Reset)
	assert.Equal(t, 1, u.Offset)
	assert.Equal(t, []float64{20, 30}, u.Times)

	// A reset restarts the stream.
	acc.Reset()
	acc.Ingest(testutil.FrameJSON(0, 0, 1, 0.1, 40))
	clock.Advance(50 * time.Millisecond)

	u, err = stream.Recv()
	require.NoError(t, err)
	assert.True(t, u.Reset)
	assert.Equal(t, uint64(1), u.Epoch)
	assert.Equal(t, 0, u.Offset)
	assert.Equal(t, []float64{40}, u.Times)
}

func TestServeListener_StopsWithOpenStream(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	acc := accumulator.New(clock)
	acc.Ingest(testutil.FrameJSON(1, 2, 3, 0.1, 10))
	s := NewServer(acc, clock)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, lis, s) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	streamCtx, streamCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer streamCancel()
	stream, err := NewClient(conn).StreamPoints(streamCtx, 50)
	require.NoError(t, err)
	_, err = stream.Recv()
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("ServeListener did not return with a stream open")
	}

	_, err = stream.Recv()
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	acc := accumulator.New(nil)
	conn := startServer(t, NewServer(acc, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
