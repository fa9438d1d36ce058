// ABOUTME: Tests for Gateway.Run on real TCP listeners
// ABOUTME: Covers serving HTTP and gRPC health, shutdown on cancel and listen failures

package gateway

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/fleet"
)

// freeAddr returns a loopback address with a port nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func startRun(t *testing.T, gw *Gateway) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func healthStatus(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func TestRun_ServesAndShutsDownOnCancel(t *testing.T) {
	httpAddr, grpcAddr := freeAddr(t), freeAddr(t)
	h := newHarness(t, func(c *config.Config) {
		c.Server.HTTPAddr = httpAddr
		c.Server.GRPCAddr = grpcAddr
	})

	cancel, errCh := startRun(t, h.gw)
	client := &http.Client{Timeout: time.Second}

	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + httpAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := client.Get("http://" + httpAddr + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	status, err := healthStatus(ctx, grpcAddr)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	h.gw.health.Update(fleet.Status{Bots: 1})
	status, err = healthStatus(ctx, grpcAddr)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down in time")
	}

	_, err = client.Get("http://" + httpAddr + "/health")
	assert.Error(t, err, "HTTP listener should be closed after Run returns")
}

func TestRun_HTTPOnlyWithoutGRPCAddr(t *testing.T) {
	httpAddr := freeAddr(t)
	h := newHarness(t, func(c *config.Config) {
		c.Server.HTTPAddr = httpAddr
		c.Server.GRPCAddr = ""
	})
	require.Nil(t, h.gw.grpcServer)

	cancel, errCh := startRun(t, h.gw)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + httpAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down in time")
	}
}

func TestRun_HTTPAddressInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	h := newHarness(t, func(c *config.Config) {
		c.Server.HTTPAddr = busy.Addr().String()
		c.Server.GRPCAddr = ""
	})

	err = h.gw.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestRun_GRPCAddressInUseReleasesHTTP(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	httpAddr := freeAddr(t)
	h := newHarness(t, func(c *config.Config) {
		c.Server.HTTPAddr = httpAddr
		c.Server.GRPCAddr = busy.Addr().String()
	})

	err = h.gw.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on gRPC address")

	ln, err := net.Listen("tcp", httpAddr)
	require.NoError(t, err, "the HTTP listener must be released when gRPC cannot bind")
	ln.Close()
}

func TestResolveTailscaleSettings(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/fleet/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/fleet/ts", dir)

	t.Setenv("TS_AUTHKEY", "")
	_, err = resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}
