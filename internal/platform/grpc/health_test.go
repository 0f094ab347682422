package grpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func startHealthServer(t *testing.T, status grpc_health_v1.HealthCheckResponse_ServingStatus) (string, *health.Server) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := gogrpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", status)
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)
	return listener.Addr().String(), healthServer
}

func TestDialWithHealthServing(t *testing.T) {
	addr, _ := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)

	conn, err := DialWithHealth(context.Background(), addr, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("dial with health: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}
}

func TestDialWithHealthWaitsForServing(t *testing.T) {
	addr, healthServer := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	go func() {
		time.Sleep(300 * time.Millisecond)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	}()

	var logs []string
	conn, err := DialWithHealth(context.Background(), addr, 5*time.Second, func(format string, _ ...any) {
		logs = append(logs, format)
	})
	if err != nil {
		t.Fatalf("dial with health: %v", err)
	}
	_ = conn.Close()
	if len(logs) < 2 {
		t.Fatalf("logs = %v, want waiting and serving lines", logs)
	}
}

func TestDialWithHealthTimesOutAsHealthStage(t *testing.T) {
	addr, _ := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	_, err := DialWithHealth(context.Background(), addr, 300*time.Millisecond, nil)
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) {
		t.Fatalf("err = %v, want ProbeError", err)
	}
	if probeErr.Stage != ProbeStageHealth {
		t.Fatalf("stage = %q, want %q", probeErr.Stage, ProbeStageHealth)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestWaitForHealthRequiresConn(t *testing.T) {
	if err := WaitForHealth(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected nil connection error")
	}
}

func TestProbeErrorFormatting(t *testing.T) {
	err := &ProbeError{Stage: ProbeStageConnect, Err: errors.New("boom")}
	if !strings.Contains(err.Error(), "connect") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error = %q, want stage and cause", err.Error())
	}
	var nilErr *ProbeError
	if nilErr.Error() == "" || nilErr.Unwrap() != nil {
		t.Fatal("nil ProbeError should format and unwrap safely")
	}
}
