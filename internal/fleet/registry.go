// ABOUTME: Fleet registry: the live connection set and the channel session map
// ABOUTME: Check-and-reserve for a token is atomic, enforcing one connection per token

package fleet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/coven-fleet/internal/apperr"
)

// ErrAlreadyRunning indicates a connection for the token is live or being opened.
var ErrAlreadyRunning = fmt.Errorf("bot already running in this team: %w", apperr.ErrConflict)

// ErrNotRunning indicates no live connection exists for the token.
var ErrNotRunning = errors.New("bot not running")

type sessionKey struct {
	teamID  string
	channel string
}

// Registry holds every live Connection keyed by token, the tokens currently
// being activated, and the per-channel session ids. Create one per
// Supervisor; tests use a fresh one each.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]*Connection
	pending  map[string]struct{}
	sessions map[sessionKey]string
	newID    func() string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		pending:  make(map[string]struct{}),
		sessions: make(map[sessionKey]string),
		newID:    newSessionID,
	}
}

// newSessionID returns a time-based UUID, falling back to a random one.
func newSessionID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Reserve claims token for an activation in progress. It fails with
// ErrAlreadyRunning when the token is live or already reserved.
func (r *Registry) Reserve(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.conns[token]; live {
		return ErrAlreadyRunning
	}
	if _, busy := r.pending[token]; busy {
		return ErrAlreadyRunning
	}
	r.pending[token] = struct{}{}
	return nil
}

// Release drops a reservation that did not turn into a live connection.
func (r *Registry) Release(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, token)
}

// commit turns the reservation for conn's token into a live entry.
func (r *Registry) commit(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, conn.token)
	r.conns[conn.token] = conn
}

// remove deletes conn if it is still the live entry for its token.
func (r *Registry) remove(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[conn.token] != conn {
		return false
	}
	delete(r.conns, conn.token)
	return true
}

// Get returns the live connection for token.
func (r *Registry) Get(token string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[token]
	return c, ok
}

// Running reports whether token is live or being activated.
func (r *Registry) Running(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, live := r.conns[token]
	_, busy := r.pending[token]
	return live || busy
}

// Connections returns a snapshot of the live connections.
func (r *Registry) Connections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Values(r.conns)
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Session returns the session id for a channel in a workspace, creating it
// on first use. The id is stable for the life of the registry.
func (r *Registry) Session(teamID, channel string) string {
	key := sessionKey{teamID: teamID, channel: channel}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.sessions[key]; ok {
		return id
	}
	id := r.newID()
	r.sessions[key] = id
	return id
}

// SessionCount returns how many channel sessions exist.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
