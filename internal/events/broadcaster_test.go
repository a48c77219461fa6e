package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func requireEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s seq=%d", ev.Type, ev.Seq)
	default:
	}
}

func TestBroadcaster_FilteredSubscribers(t *testing.T) {
	bc := NewBroadcaster(nil)

	prices := bc.Subscribe(TypeFeedPrice)
	rounds := bc.Subscribe(TypeRoundLock, TypeRoundSettle)

	bc.Publish(Event{Seq: 1, Type: TypeFeedPrice})
	bc.Publish(Event{Seq: 2, Type: TypeRoundSettle})
	bc.Publish(Event{Seq: 3, Type: TypeRoundJoin})

	require.Equal(t, uint64(1), recv(t, prices).Seq)
	requireEmpty(t, prices)

	require.Equal(t, uint64(2), recv(t, rounds).Seq)
	requireEmpty(t, rounds)
}

func TestBroadcaster_UnifiedStream(t *testing.T) {
	bc := NewBroadcaster(nil)
	all := bc.SubscribeAll()

	bc.Publish(Event{Seq: 1, Type: TypeFeedPrice})
	bc.Publish(Event{Seq: 2, Type: TypeRoundCreate})

	require.Equal(t, TypeFeedPrice, recv(t, all).Type)
	require.Equal(t, TypeRoundCreate, recv(t, all).Type)
}

func TestBroadcaster_DuplicateTypesDeliverOnce(t *testing.T) {
	bc := NewBroadcaster(nil)
	ch := bc.Subscribe(TypeFeedPrice, TypeFeedPrice)

	bc.Publish(Event{Seq: 7, Type: TypeFeedPrice})

	recv(t, ch)
	requireEmpty(t, ch)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	bc := NewBroadcaster(nil)
	_ = bc.Subscribe(TypeFeedPrice) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bc.Publish(Event{Seq: uint64(i), Type: TypeFeedPrice})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	require.Equal(t, uint64(1000-256), bc.Dropped())
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	bc := NewBroadcaster(nil)
	a := bc.Subscribe(TypeFeedPrice)
	b := bc.Subscribe(TypeFeedPrice)

	bc.Unsubscribe(a)
	_, ok := <-a
	require.False(t, ok, "unsubscribed channel should be closed")

	bc.Publish(Event{Seq: 1, Type: TypeFeedPrice})
	require.Equal(t, uint64(1), recv(t, b).Seq)
}

func TestBroadcaster_Close(t *testing.T) {
	bc := NewBroadcaster(nil)
	a := bc.Subscribe(TypeFeedPrice, TypeRoundLock)
	all := bc.SubscribeAll()

	bc.Close()

	_, ok := <-a
	require.False(t, ok)
	_, ok = <-all
	require.False(t, ok)

	// Publishing after Close is a no-op.
	bc.Publish(Event{Type: TypeFeedPrice})
}

func TestEvent_Module(t *testing.T) {
	require.Equal(t, "feed", New(TypeFeedPrice).Module())
	require.Equal(t, "rounds", New(TypeRoundSettle).Module())

	ev := New(TypeRoundJoin, AttrRoundID, "3", AttrSide, "up", "dangling")
	require.Equal(t, "3", ev.Attr(AttrRoundID))
	require.Equal(t, "up", ev.Attr(AttrSide))
	require.Len(t, ev.Attributes, 2)
}
