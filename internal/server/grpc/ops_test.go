package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

type switchPinger struct {
	mu  sync.Mutex
	err error
}

func (p *switchPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *switchPinger) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func startOps(t *testing.T, p Pinger) (*Ops, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	o := NewOps(p, zaptest.NewLogger(t), true)
	go func() { _ = o.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		o.Shutdown(time.Second)
	})
	return o, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestOps_NotServingUntilProbed(t *testing.T) {
	t.Parallel()
	_, c := startOps(t, &switchPinger{})
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""))
}

func TestOps_ProbeFollowsStore(t *testing.T) {
	t.Parallel()
	p := &switchPinger{}
	o, c := startOps(t, p)

	require.True(t, o.Probe(context.Background()))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ServiceName))

	p.fail(errors.New("connection refused"))
	require.False(t, o.Probe(context.Background()))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ServiceName))

	p.fail(nil)
	require.True(t, o.Probe(context.Background()))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
}

func TestOps_WatchProbesImmediately(t *testing.T) {
	t.Parallel()
	o, c := startOps(t, &switchPinger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Watch(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
