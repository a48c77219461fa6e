package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/events" + query
}

// publishUntilReceived keeps publishing ev until the client sees an event;
// the server subscribes asynchronously after the handshake.
func publishUntilReceived(t *testing.T, hub *Broadcaster, ev Event, ch <-chan Event) Event {
	t.Helper()
	var got Event
	require.Eventually(t, func() bool {
		hub.Publish(ev)
		select {
		case got = <-ch:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, time.Millisecond)
	return got
}

func TestStream_DeliversEvents(t *testing.T) {
	hub := NewBroadcaster(nil)
	srv := httptest.NewServer(NewStreamServer(hub, nil))
	defer srv.Close()

	client := NewStreamClient(DefaultClientConfig(wsURL(srv, "")), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	ev := New(TypeRoundSettle, AttrRoundID, "9", AttrOutcome, "up")
	ev.Seq, ev.Time = 42, 1700000000

	got := publishUntilReceived(t, hub, ev, client.Events())
	require.Equal(t, ev.Type, got.Type)
	require.Equal(t, uint64(1700000000), got.Time)
	require.Equal(t, "up", got.Attr(AttrOutcome))
	require.True(t, client.Connected())
}

func TestStream_TypeFilter(t *testing.T) {
	hub := NewBroadcaster(nil)
	srv := httptest.NewServer(NewStreamServer(hub, nil))
	defer srv.Close()

	client := NewStreamClient(DefaultClientConfig(wsURL(srv, "?types=feed.price")), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	publishUntilReceived(t, hub, New(TypeFeedPrice, AttrAsset, "XLM"), client.Events())

	hub.Publish(New(TypeRoundCreate, AttrRoundID, "1"))
	hub.Publish(New(TypeFeedPrice, AttrAsset, "BTC"))

	select {
	case got := <-client.Events():
		// Earlier retries may still be in flight; none may be a round event.
		for got.Attr(AttrAsset) == "XLM" {
			got = <-client.Events()
		}
		require.Equal(t, TypeFeedPrice, got.Type)
		require.Equal(t, "BTC", got.Attr(AttrAsset))
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestStream_ClientReconnects(t *testing.T) {
	hub := NewBroadcaster(nil)
	stream := NewStreamServer(hub, nil)
	srv := httptest.NewServer(stream)
	defer srv.Close()

	cfg := DefaultClientConfig(wsURL(srv, ""))
	cfg.BackoffInitial = 10 * time.Millisecond
	client := NewStreamClient(cfg, nil)

	reconnected := make(chan struct{}, 1)
	client.onReconnect = func() {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	}
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	// Closing the hub closes every server-side subscription, which makes the
	// server drop the connection.
	publishUntilReceived(t, hub, New(TypeFeedPrice), client.Events())
	hub.Close()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not reconnect")
	}
}

func TestStream_CloseClosesEvents(t *testing.T) {
	hub := NewBroadcaster(nil)
	srv := httptest.NewServer(NewStreamServer(hub, nil))
	defer srv.Close()

	client := NewStreamClient(DefaultClientConfig(wsURL(srv, "")), nil)
	require.NoError(t, client.Connect(context.Background()))
	client.Close()

	for range client.Events() {
	}
}

func dialWithOrigin(t *testing.T, srv *httptest.Server, origin string) (int, error) {
	t.Helper()
	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), h)
	if conn != nil {
		conn.Close()
	}
	if resp == nil {
		return 0, err
	}
	return resp.StatusCode, err
}

func TestStream_OriginPolicy(t *testing.T) {
	hub := NewBroadcaster(nil)

	t.Run("same origin only by default", func(t *testing.T) {
		srv := httptest.NewServer(NewStreamServer(hub, nil))
		defer srv.Close()

		code, err := dialWithOrigin(t, srv, "https://evil.example")
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.Equal(t, http.StatusForbidden, code)

		code, err = dialWithOrigin(t, srv, srv.URL)
		require.NoError(t, err)
		require.Equal(t, http.StatusSwitchingProtocols, code)

		_, err = dialWithOrigin(t, srv, "")
		require.NoError(t, err)
	})

	t.Run("listed origins", func(t *testing.T) {
		srv := httptest.NewServer(NewStreamServer(hub, nil, WithAllowedOrigins("https://App.Example/")))
		defer srv.Close()

		_, err := dialWithOrigin(t, srv, "https://app.example")
		require.NoError(t, err)
		_, err = dialWithOrigin(t, srv, srv.URL)
		require.NoError(t, err)

		code, err := dialWithOrigin(t, srv, "https://other.example")
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.Equal(t, http.StatusForbidden, code)
	})

	t.Run("wildcard", func(t *testing.T) {
		srv := httptest.NewServer(NewStreamServer(hub, nil, WithAllowedOrigins("*")))
		defer srv.Close()

		_, err := dialWithOrigin(t, srv, "https://anywhere.example")
		require.NoError(t, err)
	})
}

func TestParseTypes(t *testing.T) {
	require.Nil(t, parseTypes(""))
	require.Equal(t, []string{"feed.price", "rounds.lock"}, parseTypes(" feed.price, ,rounds.lock "))
}
