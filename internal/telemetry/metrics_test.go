package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/caesar-terminal/settle/internal/events"
)

var errTest = errorsmod.Register("telemetrytest", 2, "test failure")

func TestObserveOp(t *testing.T) {
	m := New()
	m.ObserveOp("feed.push", nil, time.Millisecond)
	m.ObserveOp("feed.push", nil, time.Millisecond)
	m.ObserveOp("feed.push", errorsmod.Wrap(errTest, "boom"), time.Millisecond)
	m.ObserveOp("feed.push", errors.New("plain"), time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Ops.WithLabelValues("feed.push", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Ops.WithLabelValues("feed.push", "telemetrytest:2")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Ops.WithLabelValues("feed.push", "undefined:1")))
	require.Equal(t, 1, testutil.CollectAndCount(m.OpLatency))
}

func TestObservePrice(t *testing.T) {
	m := New()
	m.Observe(events.New(events.TypeFeedPrice,
		events.AttrFeed, "default",
		events.AttrAsset, "BTC",
		events.AttrPrice, "5000012345",
		events.AttrPrecision, "5",
		events.AttrTimestamp, "1700000000",
		events.AttrSource, "pull:reflector",
	))

	require.InDelta(t, 50000.12345, testutil.ToFloat64(m.LastPrice.WithLabelValues("default", "BTC")), 1e-9)
	require.Equal(t, 1.7e9, testutil.ToFloat64(m.PriceTime.WithLabelValues("default", "BTC")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PricePushes.WithLabelValues("default", "BTC", "pull")))
}

func TestObserveRounds(t *testing.T) {
	m := New()
	m.Observe(events.New(events.TypeRoundCreate, events.AttrRoundID, "1"))
	m.Observe(events.New(events.TypeRoundJoin, events.AttrRoundID, "1"))
	m.Observe(events.New(events.TypeRoundJoin, events.AttrRoundID, "1"))
	m.Observe(events.New(events.TypeRoundsOracle, events.AttrOracle, "default"))

	require.Equal(t, 1.0, testutil.ToFloat64(m.RoundTransitions.WithLabelValues("create")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.RoundTransitions.WithLabelValues("join")))
	require.Equal(t, 2, testutil.CollectAndCount(m.RoundTransitions))
}

func TestObserveKeeperSwitch(t *testing.T) {
	m := New()
	m.Observe(events.New(events.TypeKeeperHalt, events.AttrReason, "maintenance"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.KeeperHalted))
	m.Observe(events.New(events.TypeKeeperResume))
	require.Equal(t, 0.0, testutil.ToFloat64(m.KeeperHalted))
}

func TestWatchDropped(t *testing.T) {
	m := New()
	hub := events.NewBroadcaster(nil)
	dropped := m.WatchDropped(hub.Dropped)

	// Fill a subscriber, then overflow it twice.
	sub := hub.Subscribe(events.TypeFeedPrice)
	for i := 0; i < cap(sub)+2; i++ {
		hub.Publish(events.New(events.TypeFeedPrice))
	}
	require.Equal(t, 2.0, testutil.ToFloat64(dropped))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "settle_events_dropped_total 2")
}

func TestRun(t *testing.T) {
	m := New()
	feed := make(chan events.Event, 2)
	feed <- events.New(events.TypeRoundSettle, events.AttrRoundID, "3")
	close(feed)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), feed)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the feed closed")
	}
	require.Equal(t, 1.0, testutil.ToFloat64(m.RoundTransitions.WithLabelValues("settle")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveOp("rounds.create", nil, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `settle_host_operations_total{op="rounds.create",result="ok"} 1`)
}
