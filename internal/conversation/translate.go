// ABOUTME: Response Translator turns an NLU answer into a chat reply payload
// ABOUTME: Rich platform payloads pass through untouched; plain speech becomes a text message

package conversation

import (
	"bytes"
	"encoding/json"

	"github.com/2389/coven-fleet/internal/nlu"
)

// Reply is a chat.postMessage payload without the channel. An empty Reply
// means nothing should be sent.
type Reply json.RawMessage

// NoReply is the empty reply.
var NoReply Reply

// Empty reports whether there is nothing to send.
func (r Reply) Empty() bool {
	return len(r) == 0
}

// Translate converts an NLU response into a reply. It never fails: anything
// it cannot use yields NoReply.
func Translate(resp *nlu.Response) Reply {
	if resp == nil || resp.Result == nil || resp.Result.Fulfillment == nil {
		return NoReply
	}
	f := resp.Result.Fulfillment

	if payload, ok := platformPayload(f.Data); ok {
		return payload
	}
	if f.Speech != "" {
		out, err := json.Marshal(map[string]string{"text": f.Speech})
		if err != nil {
			return NoReply
		}
		return out
	}
	return NoReply
}

// platformPayload extracts data.slack when it is a JSON object.
func platformPayload(data json.RawMessage) (Reply, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(data, &keyed); err != nil {
		return nil, false
	}
	raw := bytes.TrimSpace(keyed["slack"])
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	return Reply(raw), true
}
