// ABOUTME: status and health subcommands querying a running fleet
// ABOUTME: health prefers the gRPC health service and falls back to HTTP /health

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-fleet/internal/gateway"
)

// localTarget turns a listen address into a host:port reachable from this host.
func localTarget(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func localURL(addr, path string) string {
	return "http://" + localTarget(addr) + path
}

type statusReply struct {
	BotsCount int `json:"botsCount"`
	Sessions  int `json:"sessions"`
	Status    struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
}

func fetchStatus(ctx context.Context, client *http.Client, url string) (*statusReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: HTTP %d", resp.StatusCode)
	}
	var out statusReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &out, nil
}

func runStatus(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := fetchStatus(ctx, &http.Client{Timeout: 10 * time.Second}, localURL(cfg.Server.HTTPAddr, "/status"))
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print("bots:     ")
	fmt.Println(st.BotsCount)
	cyan.Print("sessions: ")
	fmt.Println(st.Sessions)
	return nil
}

func checkGRPCHealth(ctx context.Context, target string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dialing %s: %w", target, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: gateway.HealthService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}

func checkHTTPHealth(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Server.GRPCAddr == "" {
		if err := checkHTTPHealth(ctx, localURL(cfg.Server.HTTPAddr, "/health")); err != nil {
			return err
		}
		fmt.Println("healthy")
		return nil
	}

	status, err := checkGRPCHealth(ctx, localTarget(cfg.Server.GRPCAddr))
	if err != nil {
		return err
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: %s", status)
	}
	fmt.Println("healthy")
	return nil
}
