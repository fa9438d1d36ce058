// ABOUTME: Per-channel ordered dispatch for one connection's inbound events
// ABOUTME: Channels run concurrently; events within a channel are handled in arrival order

package fleet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-fleet/internal/slack"
)

const (
	laneBuffer  = 64
	laneIdleTTL = 5 * time.Minute
)

// lane is one channel's queue. waiting counts dispatchers blocked on a
// full queue; a lane only retires when it is empty and nobody is waiting.
type lane struct {
	q       chan *slack.Event
	waiting int
}

// lanes fans one stream out to a goroutine per channel. Idle lanes exit
// and are recreated on the next event.
type lanes struct {
	ctx     context.Context
	conn    *Connection
	handler Handler
	logger  *slog.Logger
	idle    time.Duration

	mu     sync.Mutex
	queues map[string]*lane
	wg     sync.WaitGroup
}

func newLanes(ctx context.Context, conn *Connection, handler Handler, logger *slog.Logger) *lanes {
	return &lanes{
		ctx:     ctx,
		conn:    conn,
		handler: handler,
		logger:  logger,
		idle:    laneIdleTTL,
		queues:  make(map[string]*lane),
	}
}

// dispatch queues ev on its channel's lane. It blocks while that lane's
// buffer is full, which pushes back on the stream reader.
func (l *lanes) dispatch(ev *slack.Event) {
	l.mu.Lock()
	ln, ok := l.queues[ev.Channel]
	if !ok {
		ln = &lane{q: make(chan *slack.Event, laneBuffer)}
		l.queues[ev.Channel] = ln
		l.wg.Add(1)
		go l.run(ev.Channel, ln)
	}
	select {
	case ln.q <- ev:
		l.mu.Unlock()
		return
	default:
	}
	ln.waiting++
	l.mu.Unlock()

	select {
	case ln.q <- ev:
	case <-l.ctx.Done():
	}

	l.mu.Lock()
	ln.waiting--
	l.mu.Unlock()
}

func (l *lanes) run(channel string, ln *lane) {
	defer l.wg.Done()

	timer := time.NewTimer(l.idle)
	defer timer.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case ev := <-ln.q:
			l.handle(ev)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(l.idle)
		case <-timer.C:
			l.mu.Lock()
			if len(ln.q) > 0 || ln.waiting > 0 {
				l.mu.Unlock()
				timer.Reset(l.idle)
				continue
			}
			delete(l.queues, channel)
			l.mu.Unlock()
			return
		}
	}
}

// handle runs the handler, containing any panic to this one event.
func (l *lanes) handle(ev *slack.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("message handler panicked", "channel", ev.Channel, "panic", r)
		}
	}()
	l.handler.Handle(l.ctx, l.conn, ev)
}

// wait blocks until every lane goroutine has exited. The lanes context
// must already be cancelled.
func (l *lanes) wait() {
	l.wg.Wait()
}
