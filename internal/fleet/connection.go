// ABOUTME: A live tenant connection: its tenant record, current stream, NLU client and state
// ABOUTME: Owned by the Supervisor; handlers only reply through it

package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/2389/coven-fleet/internal/nlu"
	"github.com/2389/coven-fleet/internal/slack"
	"github.com/2389/coven-fleet/internal/store"
)

var errStopped = errors.New("connection stopped")

// Connection is the running session for one tenant.
type Connection struct {
	token  string
	nlu    nlu.Querier
	logger *slog.Logger

	mu     sync.RWMutex
	tenant store.Tenant
	stream slack.Stream
	state  State

	doNotRestart atomic.Bool
	stopOnce     sync.Once
	stopped      chan struct{}
	finished     chan struct{}
}

func newConnection(t *store.Tenant, client nlu.Querier, logger *slog.Logger) *Connection {
	return &Connection{
		token:  t.Token,
		tenant: *t,
		nlu:    client,
		state:  StateConnecting,
		logger: logger.With("token", t.Preview(), "team_id", t.TeamID),

		stopped:  make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Tenant returns a copy of the tenant record.
func (c *Connection) Tenant() store.Tenant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tenant
}

// TeamID returns the workspace id, preferring the stream's view of it.
func (c *Connection) TeamID() string {
	id := c.Identity()
	if id.TeamID != "" {
		return id.TeamID
	}
	return c.Tenant().TeamID
}

// Identity returns who the current stream is connected as. Before a stream
// exists it falls back to the stored bot user id.
func (c *Connection) Identity() slack.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stream != nil {
		return c.stream.Identity()
	}
	return slack.Identity{BotID: c.tenant.BotUserID, TeamID: c.tenant.TeamID}
}

// BotID returns the bot's own user id.
func (c *Connection) BotID() string {
	return c.Identity().BotID
}

// NLU returns the tenant's NLU client, or nil when NLU is disabled for it.
func (c *Connection) NLU() nlu.Querier {
	return c.nlu
}

// State returns the lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once the connection has terminated and left the registry.
func (c *Connection) Done() <-chan struct{} {
	return c.finished
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// Reply posts payload to channel on the current stream.
func (c *Connection) Reply(ctx context.Context, channel string, payload json.RawMessage) error {
	s := c.currentStream()
	if s == nil {
		return slack.ErrStreamClosed
	}
	return s.Reply(ctx, channel, payload)
}

// Typing shows the typing indicator in channel.
func (c *Connection) Typing(channel string) error {
	s := c.currentStream()
	if s == nil {
		return slack.ErrStreamClosed
	}
	return s.Typing(channel)
}

func (c *Connection) currentStream() slack.Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stream
}

// attach installs a freshly dialed stream and moves to Open. It refuses
// once stop has been called, so a stream dialed during shutdown is never
// left running.
func (c *Connection) attach(s slack.Stream) error {
	c.mu.Lock()
	if c.doNotRestart.Load() {
		c.mu.Unlock()
		return errStopped
	}
	c.stream = s
	c.mu.Unlock()
	return c.transition(StateOpen)
}

// transition moves to next, logging the change.
func (c *Connection) transition(next State) error {
	c.mu.Lock()
	prev := c.state
	if !prev.CanTransition(next) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	c.state = next
	c.mu.Unlock()

	c.logger.Info("connection state changed", "from", prev.String(), "to", next.String())
	return nil
}

func (c *Connection) setFirstRun(v bool) {
	c.mu.Lock()
	c.tenant.FirstRun = v
	c.mu.Unlock()
}

// stop marks the connection do-not-restart and closes its stream.
func (c *Connection) stop() {
	c.stopOnce.Do(func() {
		c.doNotRestart.Store(true)
		close(c.stopped)
		if s := c.currentStream(); s != nil {
			if err := s.Close(); err != nil {
				c.logger.Debug("closing stream", "error", err)
			}
		}
	})
}
