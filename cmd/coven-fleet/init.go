// ABOUTME: init subcommand: interactive config file generation
// ABOUTME: Writes a YAML config with a random install-state secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// initAnswers are the values collected by runInit.
type initAnswers struct {
	HTTPAddr     string
	GRPCAddr     string
	PublicURL    string
	DatabaseURL  string
	ClientID     string
	ClientSecret string
	NLUToken     string
	NLULanguage  string
	StateSecret  string
	Ambient      bool
	Tailscale    bool
	TSHostname   string
	TSFunnel     bool
	LogLevel     string
	LogFormat    string
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y" || s == "true"
}

func newStateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// renderConfig produces the YAML file for a.
func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# coven-fleet configuration\n")
	b.WriteString("# Generated by coven-fleet init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", a.HTTPAddr)
	if a.GRPCAddr != "" {
		fmt.Fprintf(&b, "  grpc_addr: %q\n", a.GRPCAddr)
	}
	if a.PublicURL != "" {
		fmt.Fprintf(&b, "  public_url: %q\n", a.PublicURL)
	}
	b.WriteString("\n")

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  url: %q\n\n", a.DatabaseURL)

	b.WriteString("slack:\n")
	fmt.Fprintf(&b, "  client_id: %q\n", a.ClientID)
	fmt.Fprintf(&b, "  client_secret: %q\n\n", a.ClientSecret)

	b.WriteString("nlu:\n")
	fmt.Fprintf(&b, "  access_token: %q\n", a.NLUToken)
	fmt.Fprintf(&b, "  language: %q\n\n", a.NLULanguage)

	b.WriteString("events:\n")
	fmt.Fprintf(&b, "  ambient: %t\n", a.Ambient)
	b.WriteString("  direct_message: true\n")
	b.WriteString("  direct_mention: true\n")
	b.WriteString("  mention: true\n\n")

	b.WriteString("fleet:\n")
	b.WriteString("  reconnect_delay: \"200ms\"\n")
	b.WriteString("  handshake_timeout: \"30s\"\n")
	b.WriteString("  max_reconnect_attempts: 0\n")
	b.WriteString("  typing_indicator: true\n\n")

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  state_secret: %q\n", a.StateSecret)
	b.WriteString("  state_ttl: \"10m\"\n\n")

	b.WriteString("tailscale:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", a.Tailscale)
	if a.Tailscale {
		fmt.Fprintf(&b, "  hostname: %q\n", a.TSHostname)
		fmt.Fprintf(&b, "  funnel: %t\n", a.TSFunnel)
	}
	b.WriteString("\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", a.LogFormat)
	return b.String()
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-fleet configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", defaultConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := newStateSecret()
	if err != nil {
		return err
	}

	var a initAnswers
	a.StateSecret = secret

	fmt.Println("\n--- Server ---")
	a.HTTPAddr = prompt(reader, "HTTP address", ":5000")
	a.GRPCAddr = prompt(reader, "gRPC health address (empty to disable)", "")
	a.PublicURL = prompt(reader, "Public base URL (for the OAuth redirect)", "")

	fmt.Println("\n--- Tenant store ---")
	dataDir := filepath.Join(filepath.Dir(outputFile), "data")
	a.DatabaseURL = prompt(reader, "Database URL (sqlite://, redis://, badger://)", "sqlite://"+filepath.Join(dataDir, "fleet.db"))

	fmt.Println("\n--- Slack app ---")
	a.ClientID = prompt(reader, "Client ID", "")
	a.ClientSecret = prompt(reader, "Client secret", "")

	fmt.Println("\n--- NLU ---")
	a.NLUToken = prompt(reader, "api.ai access token", "")
	a.NLULanguage = prompt(reader, "Language (tag or auto)", "en")
	a.Ambient = yes(prompt(reader, "Answer ambient channel messages?", "no"))

	fmt.Println("\n--- Tailscale ---")
	a.Tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TSHostname = prompt(reader, "Tailscale hostname", "coven-fleet")
		a.TSFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS, needed for OAuth)?", "yes"))
	}

	fmt.Println("\n--- Logging ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// holds credentials
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if strings.HasPrefix(a.DatabaseURL, "sqlite://") {
		if err := os.MkdirAll(filepath.Dir(strings.TrimPrefix(a.DatabaseURL, "sqlite://")), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the fleet:")
	fmt.Printf("  COVEN_FLEET_CONFIG=%s coven-fleet serve\n", outputFile)
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
