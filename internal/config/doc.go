// Package config handles configuration loading for coven-fleet.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file, then overlaid with
// process environment variables, then validated. Every field has a
// default, so a deployment configured purely through the environment
// needs no file at all.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_FLEET_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/coven/fleet.yaml
//
// Files ending in .toml are decoded as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	slack:
//	  client_secret: "${SLACK_CLIENT_SECRET}"
//
// # Environment Overrides
//
// These variables win over file values when set:
//
//	DATABASE_URL            database.url
//	PORT                    server.http_addr (as ":PORT")
//	APIAI_ACCESS_TOKEN      nlu.access_token
//	APIAI_LANG              nlu.language ("auto" detects per message)
//	SLACK_CLIENT_ID         slack.client_id
//	SLACK_CLIENT_SECRET     slack.client_secret
//	SLACK_REDIRECT_URI      slack.redirect_uri
//	PROCESS_AMBIENT         events.ambient
//	PROCESS_DIRECT_MESSAGE  events.direct_message
//	PROCESS_DIRECT_MENTION  events.direct_mention
//	PROCESS_MENTION         events.mention
//	LOG_LEVEL               logging.level
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	fleet:
//	  reconnect_delay: "200ms"
//	  handshake_timeout: "30s"
//
// # Validation
//
// Validate runs struct tag rules (required credentials, URL shapes,
// log level names) and reports the first failure by its config key,
// e.g. "slack.client_id is required".
package config
