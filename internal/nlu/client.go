// ABOUTME: api.ai v1 query client with bearer auth and per-request session ids
// ABOUTME: Maps HTTP and in-body status failures onto apperr kinds

package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/coven-fleet/internal/apperr"
)

const (
	// DefaultBaseURL is the api.ai v1 endpoint.
	DefaultBaseURL = "https://api.api.ai/v1"
	// DefaultVersion is the protocol version date sent as ?v=.
	DefaultVersion = "20150910"
)

// Querier sends an utterance to the NLU service.
type Querier interface {
	Query(ctx context.Context, req *Request) (*Response, error)
}

// Context is a named conversational context forwarded with a query.
type Context struct {
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Lifespan   int               `json:"lifespan,omitempty"`
}

// Request is one query.
type Request struct {
	Query     string    `json:"query"`
	Lang      string    `json:"lang"`
	SessionID string    `json:"sessionId"`
	Contexts  []Context `json:"contexts,omitempty"`
}

// Response is the decoded query response.
type Response struct {
	ID     string  `json:"id"`
	Result *Result `json:"result,omitempty"`
	Status Status  `json:"status"`
}

// Result holds the matched intent and its answer.
type Result struct {
	Source        string       `json:"source"`
	ResolvedQuery string       `json:"resolvedQuery"`
	Action        string       `json:"action"`
	Fulfillment   *Fulfillment `json:"fulfillment,omitempty"`
}

// Fulfillment is the answer payload. Data carries platform-specific rich
// replies keyed by platform name.
type Fulfillment struct {
	Speech string          `json:"speech"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Status is the in-body status block.
type Status struct {
	Code         int    `json:"code"`
	ErrorType    string `json:"errorType"`
	ErrorDetails string `json:"errorDetails,omitempty"`
}

// Options configures a Client.
type Options struct {
	AccessToken string
	BaseURL     string
	Version     string
	// Language is a language tag or "auto".
	Language string
	Timeout  time.Duration
}

// Client queries api.ai.
type Client struct {
	token      string
	endpoint   string
	language   string
	httpClient *http.Client
}

// New creates a Client. Empty options fall back to the defaults.
func New(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	lang := opts.Language
	if lang == "" {
		lang = FallbackLanguage
	}

	return &Client{
		token:      opts.AccessToken,
		endpoint:   strings.TrimRight(base, "/") + "/query?v=" + url.QueryEscape(version),
		language:   lang,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Language returns the configured language setting.
func (c *Client) Language() string {
	return c.language
}

// Query sends req. An empty req.Lang is filled from the client's language
// setting.
func (c *Client) Query(ctx context.Context, req *Request) (*Response, error) {
	if req.SessionID == "" {
		return nil, apperr.New(apperr.ErrInvalidRequest, "nlu query requires a session id")
	}

	q := *req
	if q.Lang == "" {
		q.Lang = ResolveLanguage(c.language, req.Query)
	}

	body, err := json.Marshal(&q)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building query request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransport, fmt.Errorf("nlu query: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransport, fmt.Errorf("nlu query: reading body: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, apperr.New(apperr.ErrTransport, "nlu query: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, apperr.New(apperr.ErrUpstreamRejected, "nlu query: status %d: %s", resp.StatusCode, snippet(data))
	}

	var parsed Response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.ErrTransport, fmt.Errorf("nlu query: decoding response: %w", err))
	}
	if parsed.Status.Code != 0 && parsed.Status.Code != http.StatusOK {
		return nil, apperr.New(apperr.ErrUpstreamRejected, "nlu query: %d %s %s",
			parsed.Status.Code, parsed.Status.ErrorType, parsed.Status.ErrorDetails)
	}
	return &parsed, nil
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
