// Package bus implements the process-local event fan-out used to stream
// agent activity to clients. Each key (a thread id) owns an independent,
// totally ordered event sequence identified by a monotonically increasing
// cursor, a bounded replay ring with TTL eviction, and a set of bounded
// subscriber channels with tail-drop backpressure for slow consumers.
package bus

import (
	"errors"
	"sync"
	"time"
)

// Defaults for the replay ring and subscriber channels.
const (
	DefaultMaxLen        = 500
	DefaultTTL           = 300 * time.Second
	DefaultSubscriberCap = 256
)

// ErrCannotReplay is returned when the requested cursor precedes the replay
// window; the caller must resync from scratch.
var ErrCannotReplay = errors.New("bus: cursor outside replay window")

// Event is a single published event. Cursor starts at 1 for the first event
// of a key and increases by exactly 1 per publish.
type Event struct {
	Cursor int64
	Type   string
	Data   map[string]any
	At     time.Time
}

// Options configures a Bus.
type Options struct {
	// MaxLen bounds the replay ring per key. Defaults to DefaultMaxLen.
	MaxLen int
	// TTL bounds the age of replayable events; entries older than TTL are
	// evicted on publish. Defaults to DefaultTTL.
	TTL time.Duration
	// SubscriberCap is the buffered capacity of subscriber channels.
	// Defaults to DefaultSubscriberCap.
	SubscriberCap int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Bus is a keyed event fan-out. The zero value is not usable; construct with
// New. All methods are safe for concurrent use; Publish never blocks.
type Bus struct {
	mu     sync.Mutex
	keys   map[string]*keyState
	maxLen int
	ttl    time.Duration
	subCap int
	now    func() time.Time
}

type keyState struct {
	cursor int64
	buf    []Event
	subs   map[chan Event]struct{}
}

// New constructs a Bus with the given options.
func New(opts Options) *Bus {
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SubscriberCap <= 0 {
		opts.SubscriberCap = DefaultSubscriberCap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bus{
		keys:   make(map[string]*keyState),
		maxLen: opts.MaxLen,
		ttl:    opts.TTL,
		subCap: opts.SubscriberCap,
		now:    opts.Now,
	}
}

// Publish appends an event to the key's sequence and fans it out to all
// subscribers, returning the event's cursor. When a subscriber channel is
// full its oldest pending event is dropped to make room; the subscription
// stays open.
func (b *Bus) Publish(key, typ string, data map[string]any) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.state(key)
	st.cursor++
	ev := Event{Cursor: st.cursor, Type: typ, Data: data, At: b.now()}
	st.buf = append(st.buf, ev)
	b.evict(st)

	for ch := range st.subs {
		select {
		case ch <- ev:
		default:
			// Tail-drop: discard the oldest pending event, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return ev.Cursor
}

// Subscribe registers a new subscriber for key and returns its channel along
// with the key's current cursor (the cursor of the last published event, or
// 0 when nothing has been published).
func (b *Bus) Subscribe(key string) (<-chan Event, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.state(key)
	ch := make(chan Event, b.subCap)
	st.subs[ch] = struct{}{}
	return ch, st.cursor
}

// Unsubscribe removes a subscriber previously returned by Subscribe and
// closes its channel. Unknown channels are ignored.
func (b *Bus) Unsubscribe(key string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.keys[key]
	if !ok {
		return
	}
	for sub := range st.subs {
		if sub == ch {
			delete(st.subs, sub)
			close(sub)
			return
		}
	}
}

// Replay returns the buffered events with cursor > since, in order. It
// returns ErrCannotReplay when since precedes the replay window, meaning
// events between since and the earliest buffered entry have been evicted.
func (b *Bus) Replay(key string, since int64) ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.keys[key]
	if !ok {
		if since < 0 {
			return nil, ErrCannotReplay
		}
		return nil, nil
	}
	if len(st.buf) == 0 {
		// Nothing buffered: contiguity is only provable from the current
		// cursor onward.
		if since < st.cursor {
			return nil, ErrCannotReplay
		}
		return nil, nil
	}
	earliest := st.buf[0].Cursor
	if since < earliest-1 {
		return nil, ErrCannotReplay
	}
	var out []Event
	for _, ev := range st.buf {
		if ev.Cursor > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Cursor returns the key's current cursor without subscribing.
func (b *Bus) Cursor(key string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.keys[key]; ok {
		return st.cursor
	}
	return 0
}

func (b *Bus) state(key string) *keyState {
	st, ok := b.keys[key]
	if !ok {
		st = &keyState{subs: make(map[chan Event]struct{})}
		b.keys[key] = st
	}
	return st
}

// evict drops entries older than TTL and trims the ring to maxLen. Called
// with the bus lock held, on every publish.
func (b *Bus) evict(st *keyState) {
	cutoff := b.now().Add(-b.ttl)
	i := 0
	for i < len(st.buf) && st.buf[i].At.Before(cutoff) {
		i++
	}
	if over := len(st.buf) - i - b.maxLen; over > 0 {
		i += over
	}
	if i > 0 {
		st.buf = append([]Event(nil), st.buf[i:]...)
	}
}
