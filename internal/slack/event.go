// ABOUTME: Inbound RTM event shape and message class detection
// ABOUTME: Classes drive the per-class processing toggles in the router

package slack

import (
	"regexp"
	"strings"
)

// Class is the bot-centric category of an inbound message.
type Class string

const (
	ClassAmbient       Class = "ambient"
	ClassDirectMessage Class = "direct_message"
	ClassDirectMention Class = "direct_mention"
	ClassMention       Class = "mention"
)

// Event is one inbound RTM event.
type Event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	User    string `json:"user,omitempty"`
	BotID   string `json:"bot_id,omitempty"`
	Text    string `json:"text,omitempty"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
	Team    string `json:"team,omitempty"`

	// Class is filled in by the stream for message events.
	Class Class `json:"-"`
}

// IsMessage reports whether the event is a user-visible message.
func (e *Event) IsMessage() bool {
	return e.Type == "message"
}

// mentionPattern matches a user mention in either of its forms, <@ID> or
// <@ID|label>. Group 1 is the id.
var mentionPattern = regexp.MustCompile(`<@([A-Za-z0-9_.-]+)(?:\|[^>]*)?>`)

// mentionsOf returns the [start, end) offsets of every mention of userID.
func mentionsOf(text, userID string) [][2]int {
	if userID == "" {
		return nil
	}
	var out [][2]int
	for _, m := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		if text[m[2]:m[3]] == userID {
			out = append(out, [2]int{m[0], m[1]})
		}
	}
	return out
}

// Mentions reports whether text mentions userID anywhere.
func Mentions(text, userID string) bool {
	return len(mentionsOf(text, userID)) > 0
}

// StartsWithMention reports whether text opens with a mention of userID.
func StartsWithMention(text, userID string) bool {
	found := mentionsOf(text, userID)
	return len(found) > 0 && found[0][0] == 0
}

// StripMention removes a mention of userID opening text (and a ':' right
// after it) and one closing text. Mentions elsewhere are kept.
func StripMention(text, userID string) string {
	found := mentionsOf(text, userID)
	if len(found) == 0 {
		return text
	}

	start, end := 0, len(text)
	first, last := found[0], found[len(found)-1]
	if first[0] == 0 {
		start = first[1]
	}
	if last[1] == len(text) && last[0] >= start {
		end = last[0]
	}

	text = text[start:end]
	if start > 0 {
		text = strings.TrimPrefix(text, ":")
	}
	return text
}

// Classify returns the class of a message event as seen by botID.
func Classify(e *Event, botID string) Class {
	switch {
	case strings.HasPrefix(e.Channel, "D"):
		return ClassDirectMessage
	case StartsWithMention(e.Text, botID):
		return ClassDirectMention
	case Mentions(e.Text, botID):
		return ClassMention
	default:
		return ClassAmbient
	}
}
