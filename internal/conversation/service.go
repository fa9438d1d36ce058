// ABOUTME: Service is the per-message handler every live connection dispatches to
// ABOUTME: Route, dedupe, typing indicator, NLU query, translate, reply; errors never end the connection

package conversation

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/2389/coven-fleet/internal/dedupe"
	"github.com/2389/coven-fleet/internal/fleet"
	"github.com/2389/coven-fleet/internal/nlu"
	"github.com/2389/coven-fleet/internal/slack"
)

// Conn is the slice of a live connection the handler uses.
type Conn interface {
	TeamID() string
	BotID() string
	NLU() nlu.Querier
	Reply(ctx context.Context, channel string, payload json.RawMessage) error
	Typing(channel string) error
}

// Service handles inbound messages for all connections.
type Service struct {
	router *Router
	seen   *dedupe.Cache
	typing bool
	logger *slog.Logger
}

// Options configures a Service. Seen may be nil to disable redelivery checks.
type Options struct {
	Router          *Router
	Seen            *dedupe.Cache
	TypingIndicator bool
	Logger          *slog.Logger
}

var _ fleet.Handler = (*Service)(nil)

// New creates the message handler.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		router: opts.Router,
		seen:   opts.Seen,
		typing: opts.TypingIndicator,
		logger: logger.With("component", "conversation"),
	}
}

// Handle implements fleet.Handler.
func (s *Service) Handle(ctx context.Context, conn *fleet.Connection, ev *slack.Event) {
	s.handle(ctx, conn, ev)
}

func (s *Service) handle(ctx context.Context, conn Conn, ev *slack.Event) {
	req, verdict := s.router.Route(Inbound{
		TeamID: conn.TeamID(),
		BotID:  conn.BotID(),
		Event:  ev,
	})
	if verdict != Accept {
		s.logger.Debug("message dropped", "team_id", conn.TeamID(), "channel", ev.Channel, "reason", verdict)
		return
	}

	logger := s.logger.With("team_id", conn.TeamID(), "channel", req.Channel, "session_id", req.SessionID)

	querier := conn.NLU()
	if querier == nil {
		logger.Debug("nlu disabled for tenant")
		return
	}

	if s.seen != nil && ev.TS != "" {
		if s.seen.Seen(dedupe.Key{TeamID: conn.TeamID(), Channel: req.Channel, TS: ev.TS}) {
			logger.Debug("duplicate message skipped", "ts", ev.TS)
			return
		}
	}

	if s.typing {
		if err := conn.Typing(req.Channel); err != nil {
			logger.Debug("typing indicator failed", "error", err)
		}
	}

	logger.Info("nlu request", "class", req.Class, "text", preview(req.Text))
	resp, err := querier.Query(ctx, &nlu.Request{
		Query:     req.Text,
		SessionID: req.SessionID,
		Contexts:  req.Contexts,
	})
	if err != nil {
		logger.Error("nlu request failed", "error", err)
		return
	}

	reply := Translate(resp)
	if reply.Empty() {
		logger.Debug("no reply for message")
		return
	}
	if err := conn.Reply(ctx, req.Channel, json.RawMessage(reply)); err != nil {
		logger.Error("reply failed", "error", err)
	}
}

// preview keeps message text out of logs beyond a short prefix.
func preview(text string) string {
	r := []rune(text)
	if len(r) <= 20 {
		return text
	}
	return string(r[:20])
}
