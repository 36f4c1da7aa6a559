package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAssignsMonotonicCursorsPerKey(t *testing.T) {
	b := New(Options{})
	assert.Equal(t, int64(1), b.Publish("t1", "run.started", nil))
	assert.Equal(t, int64(2), b.Publish("t1", "run.stage", nil))
	assert.Equal(t, int64(1), b.Publish("t2", "run.started", nil))
	assert.Equal(t, int64(2), b.Cursor("t1"))
	assert.Equal(t, int64(1), b.Cursor("t2"))
}

func TestSubscribeReceivesInOrderWithoutGaps(t *testing.T) {
	b := New(Options{})
	ch, cur := b.Subscribe("t1")
	require.Equal(t, int64(0), cur)

	for i := 0; i < 10; i++ {
		b.Publish("t1", "run.stage", map[string]any{"i": i})
	}
	prev := cur
	for i := 0; i < 10; i++ {
		ev := <-ch
		assert.Equal(t, prev+1, ev.Cursor)
		prev = ev.Cursor
	}
	b.Unsubscribe("t1", ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestReplayAfterCursor(t *testing.T) {
	b := New(Options{})
	b.Publish("t1", "e1", nil)
	b.Publish("t1", "e2", nil)
	b.Publish("t1", "e3", nil)

	events, err := b.Replay("t1", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e2", events[0].Type)
	assert.Equal(t, "e3", events[1].Type)

	events, err = b.Replay("t1", 3)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReplayRefusedOutsideWindow(t *testing.T) {
	b := New(Options{MaxLen: 2})
	for i := 0; i < 5; i++ {
		b.Publish("t1", fmt.Sprintf("e%d", i+1), nil)
	}
	// Only cursors 4..5 remain buffered; 1 precedes the window.
	_, err := b.Replay("t1", 1)
	assert.ErrorIs(t, err, ErrCannotReplay)

	// since == earliest-1 is still contiguous.
	events, err := b.Replay("t1", 3)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = b.Replay("t1", -100)
	assert.ErrorIs(t, err, ErrCannotReplay)
}

func TestReplayUnknownKey(t *testing.T) {
	b := New(Options{})
	events, err := b.Replay("nope", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = b.Replay("nope", -100)
	assert.ErrorIs(t, err, ErrCannotReplay)
}

func TestTTLEvictionOnPublish(t *testing.T) {
	now := time.Unix(1000, 0)
	b := New(Options{TTL: 10 * time.Second, Now: func() time.Time { return now }})
	b.Publish("t1", "old", nil)
	now = now.Add(11 * time.Second)
	b.Publish("t1", "fresh", nil)

	_, err := b.Replay("t1", 0)
	assert.ErrorIs(t, err, ErrCannotReplay, "evicted cursor 1 breaks contiguity from 0")

	events, err := b.Replay("t1", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "fresh", events[0].Type)
}

func TestSlowConsumerTailDropKeepsNewest(t *testing.T) {
	b := New(Options{SubscriberCap: 2})
	ch, _ := b.Subscribe("t1")
	for i := 1; i <= 5; i++ {
		b.Publish("t1", fmt.Sprintf("e%d", i), nil)
	}
	// Channel capacity 2: the oldest pending events were dropped, the two
	// newest survive and the subscription stays open.
	ev := <-ch
	assert.Equal(t, "e4", ev.Type)
	ev = <-ch
	assert.Equal(t, "e5", ev.Type)
	b.Publish("t1", "e6", nil)
	ev = <-ch
	assert.Equal(t, "e6", ev.Type)
}

func TestKeysAreIsolated(t *testing.T) {
	b := New(Options{})
	ch1, _ := b.Subscribe("t1")
	ch2, _ := b.Subscribe("t2")
	b.Publish("t1", "only-t1", nil)

	ev := <-ch1
	assert.Equal(t, "only-t1", ev.Type)
	select {
	case <-ch2:
		t.Fatal("t2 subscriber received t1 event")
	default:
	}
}
