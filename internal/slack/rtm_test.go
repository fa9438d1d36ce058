// ABOUTME: Tests for the RTM stream against an in-process websocket server
// ABOUTME: Covers hello handshake, event classification, typing frames, goodbye and private sends

package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-fleet/internal/apperr"
)

// fakeRTM is a Web API + websocket server pair for one test.
type fakeRTM struct {
	srv      *httptest.Server
	greeting string
	frames   []string

	mu       sync.Mutex
	pong     bool
	received []map[string]any
	posted   []map[string]any
	conn     *websocket.Conn
}

func newFakeRTM(t *testing.T, greeting string, frames ...string) *fakeRTM {
	t.Helper()
	f := &fakeRTM{greeting: greeting, frames: frames}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/rtm.connect", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
		w.Write([]byte(`{"ok":true,"url":"` + wsURL + `","self":{"id":"UBOT","name":"fleetbot"},"team":{"id":"T1","name":"Acme"}}`))
	})
	mux.HandleFunc("/conversations.open", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"channel":{"id":"D9"}}`))
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.posted = append(f.posted, body)
		f.mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		conn.WriteMessage(websocket.TextMessage, []byte(f.greeting))
		for _, frame := range f.frames {
			conn.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			json.Unmarshal(data, &msg)
			f.mu.Lock()
			f.received = append(f.received, msg)
			pong := f.pong
			f.mu.Unlock()
			if pong && msg["type"] == "ping" {
				reply, _ := json.Marshal(map[string]any{"type": "pong", "reply_to": msg["id"]})
				conn.WriteMessage(websocket.TextMessage, reply)
			}
		}
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRTM) dialer() *RTMDialer {
	return NewRTMDialer(NewClient(f.srv.URL), 2*time.Second, nil)
}

func (f *fakeRTM) answerPings() {
	f.mu.Lock()
	f.pong = true
	f.mu.Unlock()
}

func (f *fakeRTM) pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msg := range f.received {
		if msg["type"] == "ping" {
			n++
		}
	}
	return n
}

func TestRTMDialer_HandshakeAndEvents(t *testing.T) {
	f := newFakeRTM(t, `{"type":"hello"}`,
		`{"type":"pong","reply_to":1}`,
		`{"type":"message","user":"U1","channel":"C1","text":"<@UBOT> hi","ts":"1.0"}`,
		`{"type":"user_typing","user":"U1","channel":"C1"}`,
	)

	stream, err := f.dialer().Dial(t.Context(), "xoxb-bot")
	require.NoError(t, err)
	defer stream.Close()

	id := stream.Identity()
	assert.Equal(t, "UBOT", id.BotID)
	assert.Equal(t, "T1", id.TeamID)

	ev, err := stream.Next(t.Context())
	require.NoError(t, err)
	assert.True(t, ev.IsMessage())
	assert.Equal(t, "C1", ev.Channel)
	assert.Equal(t, ClassDirectMention, ev.Class)

	ev, err = stream.Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "user_typing", ev.Type)
}

func TestRTMDialer_HandshakeError(t *testing.T) {
	f := newFakeRTM(t, `{"type":"error","error":{"code":1,"msg":"socket URL has expired"}}`)

	_, err := f.dialer().Dial(t.Context(), "xoxb-bot")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstreamRejected)
}

func TestRTMDialer_UnexpectedGreeting(t *testing.T) {
	f := newFakeRTM(t, `{"type":"message","text":"too early"}`)

	_, err := f.dialer().Dial(t.Context(), "xoxb-bot")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTransport)
}

func TestRTMStream_Goodbye(t *testing.T) {
	f := newFakeRTM(t, `{"type":"hello"}`, `{"type":"goodbye"}`)

	stream, err := f.dialer().Dial(t.Context(), "xoxb-bot")
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next(t.Context())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestRTMStream_Typing(t *testing.T) {
	f := newFakeRTM(t, `{"type":"hello"}`)

	stream, err := f.dialer().Dial(t.Context(), "xoxb-bot")
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Typing("C1"))

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "typing", f.received[0]["type"])
	assert.Equal(t, "C1", f.received[0]["channel"])
}

func TestRTMStream_SendPrivate(t *testing.T) {
	f := newFakeRTM(t, `{"type":"hello"}`)

	stream, err := f.dialer().Dial(t.Context(), "xoxb-bot")
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.SendPrivate(t.Context(), "U1", "welcome"))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.posted, 1)
	assert.Equal(t, "D9", f.posted[0]["channel"])
	assert.Equal(t, "welcome", f.posted[0]["text"])
}

func TestRTMStream_CloseEndsNext(t *testing.T) {
	f := newFakeRTM(t, `{"type":"hello"}`)

	stream, err := f.dialer().Dial(t.Context(), "xoxb-bot")
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	_, err = stream.Next(t.Context())
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.ErrorIs(t, stream.Typing("C1"), ErrStreamClosed)
}

func TestRTMStream_SilentPeerEndsStream(t *testing.T) {
	f := newFakeRTM(t, `{"type":"hello"}`)
	d := f.dialer()
	d.PingPeriod = 50 * time.Millisecond

	stream, err := d.Dial(t.Context(), "xoxb-bot")
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	_, err = stream.Next(ctx)
	require.ErrorIs(t, err, ErrStreamClosed)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	require.Eventually(t, func() bool { return f.pings() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestRTMStream_AnsweredPingsKeepStreamOpen(t *testing.T) {
	f := newFakeRTM(t, `{"type":"hello"}`)
	f.answerPings()
	d := f.dialer()
	d.PingPeriod = 50 * time.Millisecond

	stream, err := d.Dial(t.Context(), "xoxb-bot")
	require.NoError(t, err)
	defer stream.Close()

	// several silence windows pass with only pongs arriving
	ctx, cancel := context.WithTimeout(t.Context(), 400*time.Millisecond)
	defer cancel()

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, f.pings(), 4)
}
