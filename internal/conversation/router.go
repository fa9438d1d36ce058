// ABOUTME: Session Router decides whether an inbound chat event reaches the NLU service
// ABOUTME: Applies self/foreign-mention suppression, class toggles, text normalization and session lookup

package conversation

import (
	"html"
	"strings"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/nlu"
	"github.com/2389/coven-fleet/internal/slack"
)

// Verdict is the router's decision for one inbound event.
type Verdict int

const (
	Accept Verdict = iota
	DropNotMessage
	DropSelf
	DropForeignMention
	DropClassDisabled
	DropEmpty
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case DropNotMessage:
		return "not_message"
	case DropSelf:
		return "self"
	case DropForeignMention:
		return "foreign_mention"
	case DropClassDisabled:
		return "class_disabled"
	case DropEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// GenericContext is the NLU context name that carries sender and channel.
const GenericContext = "generic"

// mis-encoded right single quote seen in some client payloads
const brokenApostrophe = "â€™"

// SessionResolver hands out the stable session id for a channel.
// *fleet.Registry implements it.
type SessionResolver interface {
	Session(teamID, channel string) string
}

// Inbound is an event as seen by one tenant's bot.
type Inbound struct {
	TeamID string
	BotID  string
	Event  *slack.Event
}

// Request is a routed message ready for the NLU service.
type Request struct {
	Text      string
	SessionID string
	Channel   string
	Class     slack.Class
	Contexts  []nlu.Context
}

// Router applies the message policy shared by every connection.
type Router struct {
	events   config.EventsConfig
	sessions SessionResolver
}

// NewRouter creates a router with the given class toggles.
func NewRouter(events config.EventsConfig, sessions SessionResolver) *Router {
	return &Router{events: events, sessions: sessions}
}

// Route returns the NLU request for in, or a drop verdict. Sessions are only
// created for accepted events.
func (r *Router) Route(in Inbound) (*Request, Verdict) {
	ev := in.Event
	if ev == nil || !ev.IsMessage() {
		return nil, DropNotMessage
	}
	if in.BotID != "" && ev.User == in.BotID {
		return nil, DropSelf
	}
	if isForeignMention(ev.Text, in.BotID) {
		return nil, DropForeignMention
	}

	class := ev.Class
	if class == "" {
		class = slack.Classify(ev, in.BotID)
	}
	if !r.enabled(class) {
		return nil, DropClassDisabled
	}

	text := Normalize(ev.Text, in.BotID)
	if text == "" {
		return nil, DropEmpty
	}

	return &Request{
		Text:      text,
		SessionID: r.sessions.Session(in.TeamID, ev.Channel),
		Channel:   ev.Channel,
		Class:     class,
		Contexts: []nlu.Context{{
			Name: GenericContext,
			Parameters: map[string]string{
				"slack_user_id": ev.User,
				"slack_channel": ev.Channel,
			},
		}},
	}, Accept
}

func (r *Router) enabled(class slack.Class) bool {
	switch class {
	case slack.ClassAmbient:
		return r.events.Ambient
	case slack.ClassDirectMessage:
		return r.events.DirectMessage
	case slack.ClassDirectMention:
		return r.events.DirectMention
	case slack.ClassMention:
		return r.events.Mention
	default:
		return false
	}
}

// isForeignMention reports a message that opens by addressing someone else
// and never mentions this bot.
func isForeignMention(text, botID string) bool {
	if !strings.HasPrefix(text, "<@") {
		return false
	}
	if botID == "" {
		return true
	}
	return !slack.Mentions(text, botID)
}

// Normalize decodes entities, repairs the broken apostrophe and strips the
// bot's own mention from either end of the text.
func Normalize(text, botID string) string {
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, brokenApostrophe, "'")
	text = strings.TrimSpace(text)
	text = slack.StripMention(text, botID)
	return strings.TrimSpace(text)
}
