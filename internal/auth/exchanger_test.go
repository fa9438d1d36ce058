// ABOUTME: Tests for the OAuth credential exchanger with a fake platform client
// ABOUTME: Covers missing code, upstream rejection, transport failures and the happy path

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-fleet/internal/apperr"
	"github.com/2389/coven-fleet/internal/slack"
)

type fakeOAuthClient struct {
	access    *slack.OAuthAccess
	accessErr error
	who       *slack.AuthTest
	whoErr    error

	accessCalls int
	authTokens  []string
	gotCode     string
	gotRedirect string
}

func (f *fakeOAuthClient) OAuthAccess(_ context.Context, _, _, code, redirectURI string) (*slack.OAuthAccess, error) {
	f.accessCalls++
	f.gotCode = code
	f.gotRedirect = redirectURI
	return f.access, f.accessErr
}

func (f *fakeOAuthClient) AuthTest(_ context.Context, token string) (*slack.AuthTest, error) {
	f.authTokens = append(f.authTokens, token)
	return f.who, f.whoErr
}

func okClient() *fakeOAuthClient {
	return &fakeOAuthClient{
		access: &slack.OAuthAccess{
			AccessToken: "xoxp-user",
			Scope:       "bot",
			Bot:         slack.OAuthBot{BotUserID: "UBOT", BotAccessToken: "xoxb-bot"},
		},
		who: &slack.AuthTest{UserID: "U1", User: "ann", Team: "Acme", TeamID: "T1", URL: "https://acme.slack.com/"},
	}
}

func TestExchange_Success(t *testing.T) {
	client := okClient()
	ex := NewExchanger(client, "cid", "secret", nil)

	grant, err := ex.Exchange(t.Context(), "code-1", "https://fleet.example.com/start")
	require.NoError(t, err)

	assert.Equal(t, "code-1", client.gotCode)
	assert.Equal(t, "https://fleet.example.com/start", client.gotRedirect)
	assert.Equal(t, []string{"xoxp-user"}, client.authTokens, "identity is verified with the user token")

	assert.Equal(t, "xoxb-bot", grant.Access.BotToken)
	assert.Equal(t, "UBOT", grant.Access.BotUserID)
	assert.Equal(t, "U1", grant.Identity.UserID)
	assert.Equal(t, "T1", grant.Identity.TeamID)
	assert.Equal(t, "Acme", grant.Identity.Team)
}

func TestExchange_MissingCode(t *testing.T) {
	client := okClient()
	ex := NewExchanger(client, "cid", "secret", nil)

	_, err := ex.Exchange(t.Context(), "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	assert.Zero(t, client.accessCalls, "no network call without a code")
}

func TestExchange_Rejected(t *testing.T) {
	client := okClient()
	client.access = nil
	client.accessErr = apperr.Wrap(apperr.ErrUpstreamRejected, &slack.APIError{Method: "oauth.access", Code: "invalid_code"})
	ex := NewExchanger(client, "cid", "secret", nil)

	_, err := ex.Exchange(t.Context(), "stale", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstreamRejected)
	assert.Contains(t, err.Error(), "invalid_code")
	assert.Empty(t, client.authTokens)
}

func TestExchange_NoBotToken(t *testing.T) {
	client := okClient()
	client.access.Bot = slack.OAuthBot{}
	ex := NewExchanger(client, "cid", "secret", nil)

	_, err := ex.Exchange(t.Context(), "code", "")
	assert.ErrorIs(t, err, apperr.ErrUpstreamRejected)
}

func TestExchange_IdentityTransportFailure(t *testing.T) {
	client := okClient()
	client.who = nil
	client.whoErr = apperr.New(apperr.ErrTransport, "connection reset")
	ex := NewExchanger(client, "cid", "secret", nil)

	_, err := ex.Exchange(t.Context(), "code", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTransport)
}
