// ABOUTME: Minimal Slack Web API client for OAuth, identity, RTM and message posting
// ABOUTME: Maps platform ok=false responses and network failures onto apperr kinds

package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/coven-fleet/internal/apperr"
)

// DefaultAPIURL is the production Web API base.
const DefaultAPIURL = "https://slack.com/api"

// APIError is returned when the platform answers with ok=false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// revokedCodes are rejections that no retry of the same token can fix.
var revokedCodes = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"account_inactive": true,
	"token_revoked":    true,
	"token_expired":    true,
}

// IsTokenRevoked reports whether err is the platform refusing the token itself.
func IsTokenRevoked(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && revokedCodes[apiErr.Code]
}

// OAuthAccess is the oauth.access response for a classic bot install.
type OAuthAccess struct {
	AccessToken string   `json:"access_token"`
	Scope       string   `json:"scope"`
	TeamID      string   `json:"team_id"`
	TeamName    string   `json:"team_name"`
	Bot         OAuthBot `json:"bot"`
}

// OAuthBot carries the bot user credential minted by the install.
type OAuthBot struct {
	BotUserID      string `json:"bot_user_id"`
	BotAccessToken string `json:"bot_access_token"`
}

// AuthTest is the auth.test response.
type AuthTest struct {
	URL    string `json:"url"`
	Team   string `json:"team"`
	User   string `json:"user"`
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
}

// RTMConnect is the rtm.connect response.
type RTMConnect struct {
	URL  string `json:"url"`
	Self struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"self"`
	Team struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Domain string `json:"domain"`
	} `json:"team"`
}

// envelope is the common part of every Web API response.
type envelope struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Warning string `json:"warning"`
}

// Client calls the Slack Web API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Web API client rooted at baseURL. An empty baseURL
// uses DefaultAPIURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OAuthAccess exchanges an authorization code for access tokens.
func (c *Client) OAuthAccess(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*OAuthAccess, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
	}
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	var out OAuthAccess
	if err := c.postForm(ctx, "oauth.access", "", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuthTest returns the identity behind token.
func (c *Client) AuthTest(ctx context.Context, token string) (*AuthTest, error) {
	var out AuthTest
	if err := c.postForm(ctx, "auth.test", token, url.Values{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RTMConnect asks for a websocket URL for a new RTM session.
func (c *Client) RTMConnect(ctx context.Context, token string) (*RTMConnect, error) {
	var out RTMConnect
	if err := c.postForm(ctx, "rtm.connect", token, url.Values{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenConversation opens (or reuses) a direct message channel with userID.
func (c *Client) OpenConversation(ctx context.Context, token, userID string) (string, error) {
	var out struct {
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	if err := c.postForm(ctx, "conversations.open", token, url.Values{"users": {userID}}, &out); err != nil {
		return "", err
	}
	return out.Channel.ID, nil
}

// PostMessage posts payload to channel. The payload is a message object
// such as {"text":"hi"} or a rich attachments/blocks object; its channel
// field is overwritten.
func (c *Client) PostMessage(ctx context.Context, token, channel string, payload json.RawMessage) error {
	fields := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return apperr.Wrap(apperr.ErrInvalidRequest, fmt.Errorf("decoding reply payload: %w", err))
		}
	}
	ch, _ := json.Marshal(channel)
	fields["channel"] = ch

	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req, "chat.postMessage", nil)
}

func (c *Client) postForm(ctx context.Context, method, token string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.ErrTransport, fmt.Errorf("slack %s: %w", method, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Wrap(apperr.ErrTransport, fmt.Errorf("slack %s: reading body: %w", method, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.New(apperr.ErrTransport, "slack %s: unexpected status %d", method, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return apperr.Wrap(apperr.ErrTransport, fmt.Errorf("slack %s: decoding response: %w", method, err))
	}
	if !env.OK {
		code := env.Error
		if code == "" {
			code = "unknown_error"
		}
		return apperr.Wrap(apperr.ErrUpstreamRejected, &APIError{Method: method, Code: code})
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.ErrTransport, fmt.Errorf("slack %s: decoding response: %w", method, err))
	}
	return nil
}
