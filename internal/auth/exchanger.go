// ABOUTME: One-shot OAuth exchange turning an authorization code into bot credentials
// ABOUTME: Verifies the installing user's identity; never persists or activates anything

package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-fleet/internal/apperr"
	"github.com/2389/coven-fleet/internal/slack"
)

// OAuthClient is the part of the platform Web API the exchanger needs.
type OAuthClient interface {
	OAuthAccess(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*slack.OAuthAccess, error)
	AuthTest(ctx context.Context, token string) (*slack.AuthTest, error)
}

// AccessGrant is what the platform handed out for the install.
type AccessGrant struct {
	BotToken  string
	BotUserID string
	UserToken string
	Scope     string
}

// Identity is the installing user as reported by auth.test.
type Identity struct {
	UserID string
	User   string
	Team   string
	TeamID string
	URL    string
}

// Grant is a successful exchange.
type Grant struct {
	Access   AccessGrant
	Identity Identity
}

// Exchanger performs the code-for-credential handshake.
type Exchanger struct {
	client       OAuthClient
	clientID     string
	clientSecret string
	logger       *slog.Logger
}

// NewExchanger creates an Exchanger for one platform application.
func NewExchanger(client OAuthClient, clientID, clientSecret string, logger *slog.Logger) *Exchanger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exchanger{
		client:       client,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger.With("component", "exchanger"),
	}
}

// Exchange trades code for an AccessGrant and resolves the Identity behind it.
// No retries happen here.
func (e *Exchanger) Exchange(ctx context.Context, code, redirectURI string) (*Grant, error) {
	if code == "" {
		return nil, apperr.New(apperr.ErrInvalidRequest, "authorization code is required")
	}

	access, err := e.client.OAuthAccess(ctx, e.clientID, e.clientSecret, code, redirectURI)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	if access.Bot.BotAccessToken == "" {
		return nil, apperr.New(apperr.ErrUpstreamRejected, "install granted no bot token (scope %q)", access.Scope)
	}

	who, err := e.client.AuthTest(ctx, access.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("verifying identity: %w", err)
	}

	e.logger.Info("oauth exchange complete",
		"team", who.Team,
		"team_id", who.TeamID,
		"user_id", who.UserID,
		"bot_user_id", access.Bot.BotUserID,
	)

	return &Grant{
		Access: AccessGrant{
			BotToken:  access.Bot.BotAccessToken,
			BotUserID: access.Bot.BotUserID,
			UserToken: access.AccessToken,
			Scope:     access.Scope,
		},
		Identity: Identity{
			UserID: who.UserID,
			User:   who.User,
			Team:   who.Team,
			TeamID: who.TeamID,
			URL:    who.URL,
		},
	}, nil
}
