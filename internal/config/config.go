// ABOUTME: Configuration loading and parsing for coven-fleet
// ABOUTME: YAML or TOML files with ${VAR} expansion, environment overrides, defaults and validation

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Default onboarding messages sent to the installing user on first activation.
const (
	DefaultWelcomeGreeting = "Hey! I'm your new bot. Great to meet you!"
	DefaultWelcomeInvite   = "Now you can /invite me to a channel, so I can chat with other people as well!"
)

// LanguageAuto makes the NLU language follow the detected language of each message.
const LanguageAuto = "auto"

// Config represents the complete coven-fleet configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Slack     SlackConfig     `yaml:"slack" toml:"slack"`
	NLU       NLUConfig       `yaml:"nlu" toml:"nlu"`
	Events    EventsConfig    `yaml:"events" toml:"events"`
	Fleet     FleetConfig     `yaml:"fleet" toml:"fleet"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr enables the gRPC health service when set
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	// PublicURL is the externally reachable base URL, used to build the OAuth redirect
	PublicURL string `yaml:"public_url" toml:"public_url" validate:"omitempty,url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig selects the tenant store backend by URL scheme
// (sqlite://, redis://, rediss://, badger://, or a bare SQLite path).
type DatabaseConfig struct {
	URL string `yaml:"url" toml:"url" validate:"required"`
}

// SlackConfig holds the chat platform application credentials
type SlackConfig struct {
	ClientID     string   `yaml:"client_id" toml:"client_id" validate:"required"`
	ClientSecret string   `yaml:"client_secret" toml:"client_secret" validate:"required"`
	RedirectURI  string   `yaml:"redirect_uri" toml:"redirect_uri" validate:"omitempty,url"`
	APIURL       string   `yaml:"api_url" toml:"api_url" validate:"required,url"`
	AuthorizeURL string   `yaml:"authorize_url" toml:"authorize_url" validate:"required,url"`
	Scopes       []string `yaml:"scopes" toml:"scopes"`
}

// NLUConfig holds the api.ai client settings
type NLUConfig struct {
	AccessToken string        `yaml:"access_token" toml:"access_token"`
	Language    string        `yaml:"language" toml:"language"`
	BaseURL     string        `yaml:"base_url" toml:"base_url" validate:"required,url"`
	Version     string        `yaml:"version" toml:"version"`
	Timeout     time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// EventsConfig toggles which message classes reach the NLU service
type EventsConfig struct {
	Ambient       bool `yaml:"ambient" toml:"ambient"`
	DirectMessage bool `yaml:"direct_message" toml:"direct_message"`
	DirectMention bool `yaml:"direct_mention" toml:"direct_mention"`
	Mention       bool `yaml:"mention" toml:"mention"`
}

// FleetConfig holds connection lifecycle settings
type FleetConfig struct {
	ReconnectDelay   time.Duration `yaml:"-" toml:"-"`
	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`

	// MaxReconnectAttempts of 0 retries forever
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts" validate:"gte=0"`
	TypingIndicator      bool     `yaml:"typing_indicator" toml:"typing_indicator"`
	WelcomeMessages      []string `yaml:"welcome_messages" toml:"welcome_messages"`

	// Raw string values for unmarshaling
	ReconnectDelayRaw   string `yaml:"reconnect_delay" toml:"reconnect_delay"`
	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
}

// AuthConfig holds the install-state signing settings
type AuthConfig struct {
	// StateSecret enables signed OAuth state when non-empty
	StateSecret string        `yaml:"state_secret" toml:"state_secret" validate:"omitempty,min=32"`
	StateTTL    time.Duration `yaml:"-" toml:"-"`

	StateTTLRaw string `yaml:"state_ttl" toml:"state_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=text json"`
}

// envOverrides are the process environment variables that take precedence
// over file values. Nil fields were not set.
type envOverrides struct {
	DatabaseURL       *string `envconfig:"DATABASE_URL"`
	Port              *int    `envconfig:"PORT"`
	NLUAccessToken    *string `envconfig:"APIAI_ACCESS_TOKEN"`
	NLULanguage       *string `envconfig:"APIAI_LANG"`
	SlackClientID     *string `envconfig:"SLACK_CLIENT_ID"`
	SlackClientSecret *string `envconfig:"SLACK_CLIENT_SECRET"`
	SlackRedirectURI  *string `envconfig:"SLACK_REDIRECT_URI"`
	ProcessAmbient    *bool   `envconfig:"PROCESS_AMBIENT"`
	ProcessDirectMsg  *bool   `envconfig:"PROCESS_DIRECT_MESSAGE"`
	ProcessDirectMent *bool   `envconfig:"PROCESS_DIRECT_MENTION"`
	ProcessMention    *bool   `envconfig:"PROCESS_MENTION"`
	LogLevel          *string `envconfig:"LOG_LEVEL"`
}

// Defaults returns a Config populated with the values used when neither the
// file nor the environment set them.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: ":5000",
		},
		Database: DatabaseConfig{
			URL: "sqlite://coven-fleet.db",
		},
		Slack: SlackConfig{
			APIURL:       "https://slack.com/api",
			AuthorizeURL: "https://slack.com/oauth/authorize",
			Scopes:       []string{"bot"},
		},
		NLU: NLUConfig{
			Language:   "en",
			BaseURL:    "https://api.api.ai/v1",
			Version:    "20150910",
			TimeoutRaw: "30s",
		},
		Events: EventsConfig{
			Ambient:       false,
			DirectMessage: true,
			DirectMention: true,
			Mention:       true,
		},
		Fleet: FleetConfig{
			ReconnectDelayRaw:   "200ms",
			HandshakeTimeoutRaw: "30s",
			TypingIndicator:     true,
			WelcomeMessages:     []string{DefaultWelcomeGreeting, DefaultWelcomeInvite},
		},
		Auth: AuthConfig{
			StateTTLRaw: "10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// An empty path skips the file and builds the config from defaults and the environment.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(path, expandEnvVars(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// decode unmarshals data onto cfg, leaving fields absent from the file untouched.
func decode(path, data string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(data, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(data), cfg)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overlays the process environment on cfg.
func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	setString(&cfg.Database.URL, env.DatabaseURL)
	setString(&cfg.NLU.AccessToken, env.NLUAccessToken)
	setString(&cfg.NLU.Language, env.NLULanguage)
	setString(&cfg.Slack.ClientID, env.SlackClientID)
	setString(&cfg.Slack.ClientSecret, env.SlackClientSecret)
	setString(&cfg.Slack.RedirectURI, env.SlackRedirectURI)
	setString(&cfg.Logging.Level, env.LogLevel)
	setBool(&cfg.Events.Ambient, env.ProcessAmbient)
	setBool(&cfg.Events.DirectMessage, env.ProcessDirectMsg)
	setBool(&cfg.Events.DirectMention, env.ProcessDirectMent)
	setBool(&cfg.Events.Mention, env.ProcessMention)

	if env.Port != nil {
		cfg.Server.HTTPAddr = fmt.Sprintf(":%d", *env.Port)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config file names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}

	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

// fieldError turns a validator failure into a message naming the config key.
func fieldError(fe validator.FieldError) error {
	key := fe.Namespace()
	if i := strings.Index(key, "."); i >= 0 {
		key = key[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", key)
	case "url":
		return fmt.Errorf("%s is not a valid URL", key)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s]", key, fe.Param())
	case "min":
		return fmt.Errorf("%s must be at least %s characters", key, fe.Param())
	default:
		return fmt.Errorf("%s failed %q validation", key, fe.Tag())
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"nlu.timeout", cfg.NLU.TimeoutRaw, &cfg.NLU.Timeout},
		{"fleet.reconnect_delay", cfg.Fleet.ReconnectDelayRaw, &cfg.Fleet.ReconnectDelay},
		{"fleet.handshake_timeout", cfg.Fleet.HandshakeTimeoutRaw, &cfg.Fleet.HandshakeTimeout},
		{"auth.state_ttl", cfg.Auth.StateTTLRaw, &cfg.Auth.StateTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
