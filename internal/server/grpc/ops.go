// Package grpcserver runs the operational gRPC endpoint: standard health checking for the store.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall ("") status.
const ServiceName = "scores.Store"

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ops serves grpc.health.v1 with a status derived from store pings.
type Ops struct {
	srv   *grpc.Server
	hs    *health.Server
	store Pinger
	log   *zap.Logger
}

// NewOps builds the server. Reflection is registered only when dev is set.
func NewOps(store Pinger, log *zap.Logger, dev bool) *Ops {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if dev {
		reflection.Register(s)
	}
	o := &Ops{srv: s, hs: hs, store: store, log: log}
	o.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return o
}

func (o *Ops) set(st healthpb.HealthCheckResponse_ServingStatus) {
	o.hs.SetServingStatus("", st)
	o.hs.SetServingStatus(ServiceName, st)
}

// Probe pings the store once and publishes the result.
func (o *Ops) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := o.store.Ping(ctx); err != nil {
		o.log.Warn("store ping failed", zap.Error(err))
		o.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	o.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch probes immediately and then every interval until ctx is done.
func (o *Ops) Watch(ctx context.Context, every time.Duration) {
	o.Probe(ctx)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.Probe(ctx)
		}
	}
}

// Serve blocks serving lis.
func (o *Ops) Serve(lis net.Listener) error { return o.srv.Serve(lis) }

// Shutdown marks the service as not serving and stops gracefully, forcing after timeout.
func (o *Ops) Shutdown(timeout time.Duration) {
	o.hs.Shutdown()
	done := make(chan struct{})
	go func() {
		o.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		o.srv.Stop()
	}
}
