// ABOUTME: RTM websocket session: handshake, read pump, keepalive pings and outbound writes
// ABOUTME: Implements the Dialer and Stream seams the fleet supervisor drives

package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-fleet/internal/apperr"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// silenceLimit is how long a stream may go without any inbound frame before
// it is considered dead. Pings are answered with pongs, so a live peer is
// never silent this long.
func silenceLimit(ping time.Duration) time.Duration {
	return 2 * ping
}

// ErrStreamClosed is returned by Next once the session has ended.
var ErrStreamClosed = errors.New("stream closed")

// Identity is who a stream is connected as.
type Identity struct {
	BotID    string
	BotName  string
	TeamID   string
	TeamName string
}

// Stream is a live bidirectional session for one bot token.
type Stream interface {
	Identity() Identity
	// Next blocks until the next inbound event, ctx is done, or the stream ends.
	Next(ctx context.Context) (*Event, error)
	// Reply posts payload (a message object) to channel.
	Reply(ctx context.Context, channel string, payload json.RawMessage) error
	// Typing shows the typing indicator in channel.
	Typing(channel string) error
	// SendPrivate sends text to userID through a direct message channel.
	SendPrivate(ctx context.Context, userID, text string) error
	Close() error
}

// Dialer opens streams.
type Dialer interface {
	Dial(ctx context.Context, token string) (Stream, error)
}

// RTMDialer opens RTM sessions through rtm.connect and a websocket.
type RTMDialer struct {
	Client           *Client
	WS               *websocket.Dialer
	HandshakeTimeout time.Duration
	// PingPeriod is the keepalive interval. Zero means 30s.
	PingPeriod time.Duration
	Logger     *slog.Logger
}

// NewRTMDialer creates a dialer using client for Web API calls.
func NewRTMDialer(client *Client, handshakeTimeout time.Duration, logger *slog.Logger) *RTMDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = 30 * time.Second
	}
	return &RTMDialer{
		Client:           client,
		WS:               websocket.DefaultDialer,
		HandshakeTimeout: handshakeTimeout,
		PingPeriod:       pingPeriod,
		Logger:           logger,
	}
}

// Dial connects and waits for the hello event before returning.
func (d *RTMDialer) Dial(ctx context.Context, token string) (Stream, error) {
	info, err := d.Client.RTMConnect(ctx, token)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.HandshakeTimeout)
	defer cancel()

	conn, _, err := d.WS.DialContext(dialCtx, info.URL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransport, fmt.Errorf("dialing rtm: %w", err))
	}

	if err := awaitHello(conn, d.HandshakeTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	ping := d.PingPeriod
	if ping <= 0 {
		ping = pingPeriod
	}

	s := &rtmStream{
		conn:        conn,
		client:      d.Client,
		token:       token,
		pingPeriod:  ping,
		readTimeout: silenceLimit(ping),
		identity: Identity{
			BotID:    info.Self.ID,
			BotName:  info.Self.Name,
			TeamID:   info.Team.ID,
			TeamName: info.Team.Name,
		},
		events: make(chan *Event, 64),
		done:   make(chan struct{}),
		logger: d.Logger.With("team_id", info.Team.ID),
	}
	s.touch()
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})
	go s.readPump()
	go s.pingLoop()
	return s, nil
}

// awaitHello reads the first frame and requires it to be a hello event.
func awaitHello(conn *websocket.Conn, timeout time.Duration) error {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		return apperr.Wrap(apperr.ErrTransport, fmt.Errorf("reading hello: %w", err))
	}

	var base struct {
		Type  string `json:"type"`
		Error struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return apperr.Wrap(apperr.ErrTransport, fmt.Errorf("decoding hello: %w", err))
	}
	if base.Type == "error" {
		return apperr.New(apperr.ErrUpstreamRejected, "rtm handshake failed: %d %s", base.Error.Code, base.Error.Msg)
	}
	if base.Type != "hello" {
		return apperr.New(apperr.ErrTransport, "expected hello, got %q", base.Type)
	}
	return nil
}

type rtmStream struct {
	conn     *websocket.Conn
	client   *Client
	token    string
	identity Identity
	logger   *slog.Logger

	pingPeriod  time.Duration
	readTimeout time.Duration

	writeMu sync.Mutex
	nextID  atomic.Int64

	events  chan *Event
	done    chan struct{}
	once    sync.Once
	readErr error
}

// touch pushes the read deadline out after any sign of life from the peer.
func (s *rtmStream) touch() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
}

func (s *rtmStream) Identity() Identity {
	return s.identity
}

func (s *rtmStream) Next(ctx context.Context) (*Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			if s.readErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrStreamClosed, s.readErr)
			}
			return nil, ErrStreamClosed
		}
		return ev, nil
	}
}

func (s *rtmStream) Reply(ctx context.Context, channel string, payload json.RawMessage) error {
	return s.client.PostMessage(ctx, s.token, channel, payload)
}

func (s *rtmStream) Typing(channel string) error {
	return s.write(map[string]any{
		"id":      s.nextID.Add(1),
		"type":    "typing",
		"channel": channel,
	})
}

func (s *rtmStream) SendPrivate(ctx context.Context, userID, text string) error {
	channel, err := s.client.OpenConversation(ctx, s.token, userID)
	if err != nil {
		return fmt.Errorf("opening private conversation: %w", err)
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	return s.client.PostMessage(ctx, s.token, channel, payload)
}

func (s *rtmStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *rtmStream) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		return apperr.Wrap(apperr.ErrTransport, fmt.Errorf("rtm write: %w", err))
	}
	return nil
}

// readPump decodes frames into events until the connection fails, goes
// silent past the read timeout, or the server says goodbye. It closes
// s.events on exit.
func (s *rtmStream) readPump() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.readErr = err
				}
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					s.logger.Warn("rtm peer silent, dropping stream", "silent_for", s.readTimeout)
				}
			}
			return
		}
		s.touch()

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Debug("skipping undecodable rtm frame", "error", err)
			continue
		}

		switch ev.Type {
		case "goodbye":
			s.logger.Info("rtm server said goodbye")
			s.Close()
			return
		case "pong", "hello", "":
			continue
		case "message":
			ev.Class = Classify(&ev, s.identity.BotID)
		}

		select {
		case s.events <- &ev:
		case <-s.done:
			return
		}
	}
}

func (s *rtmStream) pingLoop() {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			err := s.write(map[string]any{"id": s.nextID.Add(1), "type": "ping"})
			if err != nil {
				s.logger.Debug("rtm ping failed", "error", err)
				return
			}
		}
	}
}
