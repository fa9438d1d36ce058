// ABOUTME: serve subcommand: wires store, platform client, NLU, supervisor and control endpoint
// ABOUTME: Recovers stored tenants at startup and tears everything down on SIGINT/SIGTERM

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-fleet/internal/auth"
	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/conversation"
	"github.com/2389/coven-fleet/internal/dedupe"
	"github.com/2389/coven-fleet/internal/fleet"
	"github.com/2389/coven-fleet/internal/gateway"
	"github.com/2389/coven-fleet/internal/nlu"
	"github.com/2389/coven-fleet/internal/slack"
	"github.com/2389/coven-fleet/internal/store"
)

// redelivered messages arrive within seconds; keep a generous window
const (
	dedupeTTL     = 5 * time.Minute
	dedupeMaxKeys = 100_000
)

func printStartup(cfg *config.Config, configPath string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	if configPath == "" {
		configPath = "(environment only)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s\n", redactURL(cfg.Database.URL))
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("NLU:       %s ", cfg.NLU.BaseURL)
	gray.Printf("(lang %s)\n", cfg.NLU.Language)
	if cfg.NLU.AccessToken == "" {
		yellow.Println("      no NLU access token - bots will connect but stay silent")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()
}

// nluFactory returns the NLU client each NLU-active tenant gets. The access
// token is deployment-wide, so every tenant shares one client.
func nluFactory(cfg config.NLUConfig, logger *slog.Logger) fleet.NLUFactory {
	if cfg.AccessToken == "" {
		logger.Warn("nlu.access_token not set, messages will not be answered")
		return nil
	}
	client := nlu.New(nlu.Options{
		AccessToken: cfg.AccessToken,
		BaseURL:     cfg.BaseURL,
		Version:     cfg.Version,
		Language:    cfg.Language,
		Timeout:     cfg.Timeout,
	})
	return func(*store.Tenant) nlu.Querier { return client }
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	printStartup(cfg, configPath)
	logger := setupLogger(cfg.Logging)
	logger.Info("starting coven-fleet",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	tenants, err := store.Open(ctx, cfg.Database.URL, logger)
	if err != nil {
		return fmt.Errorf("opening tenant store: %w", err)
	}
	defer func() {
		if err := tenants.Close(); err != nil {
			logger.Error("closing tenant store", "error", err)
		}
	}()

	api := slack.NewClient(cfg.Slack.APIURL)
	dialer := slack.NewRTMDialer(api, cfg.Fleet.HandshakeTimeout, logger)

	seen := dedupe.New(dedupeTTL, dedupeMaxKeys)
	defer seen.Close()

	registry := fleet.NewRegistry()
	health := gateway.NewHealth()

	handler := conversation.New(conversation.Options{
		Router:          conversation.NewRouter(cfg.Events, registry),
		Seen:            seen,
		TypingIndicator: cfg.Fleet.TypingIndicator,
		Logger:          logger,
	})

	sup := fleet.New(fleet.Options{
		Dialer:   dialer,
		Store:    tenants,
		Registry: registry,
		Handler:  handler,
		NLU:      nluFactory(cfg.NLU, logger),
		Policy: fleet.RestartPolicy{
			Delay:       cfg.Fleet.ReconnectDelay,
			MaxAttempts: cfg.Fleet.MaxReconnectAttempts,
		},
		WelcomeMessages: cfg.Fleet.WelcomeMessages,
		OnChange:        health.Update,
		Logger:          logger,
	})

	gw, err := gateway.New(gateway.Options{
		Config:    cfg,
		Fleet:     sup,
		Exchanger: auth.NewExchanger(api, cfg.Slack.ClientID, cfg.Slack.ClientSecret, logger),
		Store:     tenants,
		Health:    health,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	go func() {
		started, err := sup.Bootstrap(ctx, store.Filter{})
		if err != nil {
			logger.Error("loading stored tenants", "error", err)
			return
		}
		logger.Info("stored tenants started", "started", started, "total_bots", sup.Status().Bots)
	}()

	runErr := gw.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Error("fleet shutdown", "error", err)
	}
	logger.Info("coven-fleet stopped")

	return runErr
}
