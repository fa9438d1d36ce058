// ABOUTME: Supervisor owns the live connection set: activation, welcome flow, reconnects and shutdown
// ABOUTME: One goroutine per connection reads its stream and feeds per-channel lanes

package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-fleet/internal/apperr"
	"github.com/2389/coven-fleet/internal/nlu"
	"github.com/2389/coven-fleet/internal/slack"
	"github.com/2389/coven-fleet/internal/store"
)

// ErrShuttingDown is returned by Activate after Shutdown has begun.
var ErrShuttingDown = errors.New("fleet is shutting down")

// Handler processes one inbound event for a connection. Handlers must not
// block for long; each channel gets its own lane, so a slow handler only
// delays its own channel.
type Handler interface {
	Handle(ctx context.Context, conn *Connection, ev *slack.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn *Connection, ev *slack.Event)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, conn *Connection, ev *slack.Event) {
	f(ctx, conn, ev)
}

// NLUFactory builds the NLU client for a tenant.
type NLUFactory func(t *store.Tenant) nlu.Querier

// Status is a read-only snapshot of the fleet.
type Status struct {
	Bots     int `json:"botsCount"`
	Sessions int `json:"sessions"`
}

// Options configures a Supervisor.
type Options struct {
	Dialer   slack.Dialer
	Store    store.TenantStore
	Registry *Registry
	Handler  Handler
	NLU      NLUFactory
	Policy   RestartPolicy
	// WelcomeMessages are sent privately to the installing user on a
	// tenant's first activation.
	WelcomeMessages []string
	// OnChange, when set, is called after the live set grows or shrinks.
	OnChange func(Status)
	Logger   *slog.Logger
}

// Supervisor spawns, monitors and restarts tenant connections.
type Supervisor struct {
	dialer   slack.Dialer
	store    store.TenantStore
	registry *Registry
	handler  Handler
	newNLU   NLUFactory
	policy   RestartPolicy
	welcome  []string
	onChange func(Status)
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closing bool
}

// New creates a Supervisor. Dialer and Store are required.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	handler := opts.Handler
	if handler == nil {
		handler = HandlerFunc(func(context.Context, *Connection, *slack.Event) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		dialer:   opts.Dialer,
		store:    opts.Store,
		registry: registry,
		handler:  handler,
		newNLU:   opts.NLU,
		policy:   opts.Policy,
		welcome:  opts.WelcomeMessages,
		onChange: opts.OnChange,
		logger:   logger.With("component", "fleet"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the registry shared with the message router.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// IsRunning reports whether token has a live or activating connection.
func (s *Supervisor) IsRunning(token string) bool {
	return s.registry.Running(token)
}

// Status returns the live connection and session counts.
func (s *Supervisor) Status() Status {
	return Status{
		Bots:     s.registry.Count(),
		Sessions: s.registry.SessionCount(),
	}
}

// Activate opens a connection for t and registers it. It fails with
// ErrAlreadyRunning when t's token is already live or being activated, and
// returns the dial error without registering anything when the handshake
// fails. A first-run tenant gets the welcome messages before Activate
// returns.
func (s *Supervisor) Activate(ctx context.Context, t *store.Tenant) (*Connection, error) {
	if err := s.registry.Reserve(t.Token); err != nil {
		return nil, err
	}
	if s.isClosing() {
		s.registry.Release(t.Token)
		return nil, ErrShuttingDown
	}

	var client nlu.Querier
	if t.NLUActive && s.newNLU != nil {
		client = s.newNLU(t)
	}
	conn := newConnection(t, client, s.logger)

	stream, err := s.dialer.Dial(ctx, t.Token)
	if err != nil {
		_ = conn.transition(StateTerminated)
		s.registry.Release(t.Token)
		close(conn.finished)
		return nil, fmt.Errorf("connecting team %s: %w", t.TeamID, err)
	}
	if err := conn.attach(stream); err != nil {
		stream.Close()
		s.registry.Release(t.Token)
		close(conn.finished)
		return nil, err
	}

	s.registry.commit(conn)
	conn.logger.Info("bot connected",
		"bot_id", stream.Identity().BotID,
		"first_run", t.FirstRun,
		"total_bots", s.registry.Count(),
	)

	if t.FirstRun {
		s.runWelcome(ctx, conn)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.stop()
		_ = conn.transition(StateTerminated)
		s.registry.remove(conn)
		close(conn.finished)
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go s.run(conn)

	s.notify()
	return conn, nil
}

// runWelcome greets the installing user and clears the first-run flag.
// Failures are logged; the connection stays up either way.
func (s *Supervisor) runWelcome(ctx context.Context, conn *Connection) {
	t := conn.Tenant()
	stream := conn.currentStream()

	if t.CreatedBy == "" {
		conn.logger.Warn("first run without an installing user, skipping welcome")
	} else {
		for _, text := range s.welcome {
			if err := stream.SendPrivate(ctx, t.CreatedBy, text); err != nil {
				conn.logger.Warn("welcome message failed", "user_id", t.CreatedBy, "error", err)
			}
		}
	}

	conn.setFirstRun(false)
	t = conn.Tenant()
	if err := s.store.Upsert(ctx, &t); err != nil {
		conn.logger.Error("saving tenant after welcome", "error", err)
	}
}

// run is the connection's goroutine: read until the stream ends, then
// reconnect per policy unless told to stop.
func (s *Supervisor) run(conn *Connection) {
	defer s.wg.Done()

	laneCtx, cancelLanes := context.WithCancel(s.ctx)
	l := newLanes(laneCtx, conn, s.handler, conn.logger)

	for {
		err := s.pump(conn, l)
		if s.stopping(conn) {
			break
		}

		conn.logger.Warn("stream closed", "error", err)
		if stream := conn.currentStream(); stream != nil {
			_ = stream.Close()
		}
		_ = conn.transition(StateClosed)
		if !s.reconnect(conn) {
			break
		}
	}

	_ = conn.transition(StateTerminated)
	cancelLanes()
	l.wait()

	if s.registry.remove(conn) {
		conn.logger.Info("bot disconnected", "total_bots", s.registry.Count())
	}
	close(conn.finished)
	s.notify()
}

// pump feeds events from the current stream into the lanes until Next fails.
func (s *Supervisor) pump(conn *Connection, l *lanes) error {
	stream := conn.currentStream()
	for {
		ev, err := stream.Next(s.ctx)
		if err != nil {
			return err
		}
		l.dispatch(ev)
	}
}

// reconnect redials until it succeeds, the policy gives up, the platform
// refuses the token, or the connection is stopped. It returns true once the
// connection is Open again.
func (s *Supervisor) reconnect(conn *Connection) bool {
	if err := conn.transition(StateReconnecting); err != nil {
		conn.logger.Error("cannot reconnect", "error", err)
		return false
	}

	for attempt := 1; ; attempt++ {
		if !s.policy.Allows(attempt) {
			conn.logger.Error("giving up reconnecting", "attempts", attempt-1)
			return false
		}

		select {
		case <-s.ctx.Done():
			return false
		case <-conn.stopped:
			return false
		case <-time.After(s.policy.delay()):
		}

		stream, err := s.dialer.Dial(s.ctx, conn.token)
		switch {
		case slack.IsTokenRevoked(err):
			conn.logger.Error("token rejected, not reconnecting", "attempt", attempt, "error", err)
			return false
		case errors.Is(err, apperr.ErrUpstreamRejected):
			conn.logger.Error("reconnect attempt rejected", "attempt", attempt, "error", err)
			continue
		case err != nil:
			conn.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}
		if err := conn.attach(stream); err != nil {
			stream.Close()
			return false
		}
		conn.logger.Info("reconnected", "attempt", attempt)
		return true
	}
}

func (s *Supervisor) stopping(conn *Connection) bool {
	return conn.doNotRestart.Load() || s.ctx.Err() != nil
}

// Bootstrap loads tenants matching filter and activates them concurrently.
// Individual failures are logged and counted; only a failed load is an error.
func (s *Supervisor) Bootstrap(ctx context.Context, filter store.Filter) (int, error) {
	tenants, err := s.store.FindAll(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("loading tenants: %w", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for _, t := range tenants {
		wg.Add(1)
		go func(t *store.Tenant) {
			defer wg.Done()
			if _, err := s.Activate(ctx, t); err != nil {
				s.logger.Error("bootstrap activation failed", "token", t.Preview(), "team_id", t.TeamID, "error", err)
				return
			}
			mu.Lock()
			started++
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	s.logger.Info("bootstrap complete", "tenants", len(tenants), "started", started)
	return started, nil
}

// Deactivate stops the connection for token without restarting it.
func (s *Supervisor) Deactivate(token string) error {
	conn, ok := s.registry.Get(token)
	if !ok {
		return ErrNotRunning
	}
	conn.logger.Info("deactivating bot")
	conn.stop()
	return nil
}

// Shutdown stops every connection and waits for their goroutines, or for
// ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	conns := s.registry.Connections()
	s.logger.Info("shutting down fleet", "bots", len(conns))
	for _, c := range conns {
		c.stop()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections: %w", ctx.Err())
	}
}

func (s *Supervisor) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Supervisor) notify() {
	if s.onChange != nil {
		s.onChange(s.Status())
	}
}
