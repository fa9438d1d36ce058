// ABOUTME: Fake Dialer and Stream used by the fleet tests
// ABOUTME: Streams record private sends and can be dropped to simulate upstream closes

package fleet

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/2389/coven-fleet/internal/slack"
)

type privateMsg struct {
	user string
	text string
}

type fakeStream struct {
	id     slack.Identity
	events chan *slack.Event
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	private []privateMsg
}

func newFakeStream(id slack.Identity) *fakeStream {
	return &fakeStream{
		id:     id,
		events: make(chan *slack.Event, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) Identity() slack.Identity { return f.id }

func (f *fakeStream) Next(ctx context.Context) (*slack.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, slack.ErrStreamClosed
	case err := <-f.errs:
		return nil, err
	case ev := <-f.events:
		return ev, nil
	}
}

func (f *fakeStream) Reply(context.Context, string, json.RawMessage) error { return nil }

func (f *fakeStream) Typing(string) error { return nil }

func (f *fakeStream) SendPrivate(_ context.Context, user, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.private = append(f.private, privateMsg{user: user, text: text})
	return nil
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// fail makes Next return err while leaving the stream open, like a read
// that times out.
func (f *fakeStream) fail(err error) {
	f.errs <- err
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeStream) privates() []privateMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]privateMsg(nil), f.private...)
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   map[string]int
	streams map[string][]*fakeStream
	fail    map[string]error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		dials:   make(map[string]int),
		streams: make(map[string][]*fakeStream),
		fail:    make(map[string]error),
	}
}

func (d *fakeDialer) Dial(_ context.Context, token string) (slack.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials[token]++
	if err := d.fail[token]; err != nil {
		return nil, err
	}
	s := newFakeStream(slack.Identity{BotID: "UBOT-" + token, TeamID: "T-" + token})
	d.streams[token] = append(d.streams[token], s)
	return s, nil
}

func (d *fakeDialer) setFail(token string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[token] = err
}

func (d *fakeDialer) dialCount(token string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[token]
}

func (d *fakeDialer) latest(token string) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.streams[token]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}
