package keeper

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/events"
	"github.com/caesar-terminal/settle/internal/feed"
	"github.com/caesar-terminal/settle/internal/host"
	"github.com/caesar-terminal/settle/internal/rounds"
)

var (
	admin  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	player = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

type guardFunc func(feed, asset string) bool

func (f guardFunc) Allow(feed, asset string) bool { return f(feed, asset) }

type staleRecorder struct {
	marked []string
}

func (r *staleRecorder) Allow(string, string) bool { return true }

func (r *staleRecorder) MarkStale(feed, asset string) {
	r.marked = append(r.marked, feed+"/"+asset)
}

type env struct {
	t      *testing.T
	host   *host.Host
	hub    *events.Broadcaster
	clock  *host.ManualClock
	feed   *feed.Feed
	backup *feed.Feed
	engine *rounds.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := host.NewManualClock(1_000)
	hub := events.NewBroadcaster(nil)
	h, err := host.New(dbm.NewMemDB(), host.WithClock(clock), host.WithSink(hub))
	require.NoError(t, err)
	f, b := feed.New("default"), feed.New("backup")
	e := &env{
		t: t, host: h, hub: hub, clock: clock, feed: f, backup: b,
		engine: rounds.New(rounds.WithOracle("default", f), rounds.WithOracle("backup", b)),
	}
	require.NoError(t, h.Execute(context.Background(), "setup", admin, func(c *host.Ctx) error {
		for _, fd := range []*feed.Feed{f, b} {
			if err := fd.Init(c, admin, ""); err != nil {
				return err
			}
			for _, a := range []string{"BTC", "ETH"} {
				if err := fd.UpsertAsset(c, a, 8, 3600); err != nil {
					return err
				}
			}
		}
		if err := e.engine.Init(c, admin); err != nil {
			return err
		}
		return e.engine.SetOracle(c, "default")
	}))
	return e
}

func (e *env) push(asset string, price int64) {
	e.t.Helper()
	e.pushTo(e.feed, asset, price)
}

func (e *env) pushTo(f *feed.Feed, asset string, price int64) {
	e.t.Helper()
	require.NoError(e.t, e.host.Execute(context.Background(), "push", admin, func(c *host.Ctx) error {
		_, err := f.PushPrice(c, asset, sdkmath.NewInt(price), 8, nil)
		return err
	}))
}

func (e *env) setOracle(ref string) {
	e.t.Helper()
	require.NoError(e.t, e.host.Execute(context.Background(), "oracle", admin, func(c *host.Ctx) error {
		return e.engine.SetOracle(c, ref)
	}))
}

func (e *env) create(asset string, lockDelay, duration uint64) uint64 {
	e.t.Helper()
	var id uint64
	require.NoError(e.t, e.host.Execute(context.Background(), "create", player, func(c *host.Ctx) error {
		r, err := e.engine.CreateRound(c, asset, lockDelay, duration)
		id = r.ID
		return err
	}))
	return id
}

func (e *env) round(id uint64) rounds.Round {
	e.t.Helper()
	var r rounds.Round
	require.NoError(e.t, e.host.Query(context.Background(), "get", func(c *host.Ctx) error {
		var err error
		r, err = e.engine.GetRound(c, id)
		return err
	}))
	return r
}

func TestTick_LocksThenSettles(t *testing.T) {
	e := newEnv(t)
	e.push("BTC", 100)
	id := e.create("BTC", 10, 10)
	k := New(e.host, e.engine, WithIdentity(auth.Identity{0x01}))

	rep, err := k.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{}, rep)

	e.clock.Set(1_010)
	rep, err = k.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Locked: 1}, rep)
	require.Equal(t, rounds.StatusLocked, e.round(id).Status)

	e.clock.Set(1_020)
	e.push("BTC", 120)
	rep, err = k.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Settled: 1}, rep)

	r := e.round(id)
	require.Equal(t, rounds.StatusSettled, r.Status)
	require.Equal(t, rounds.OutcomeUp, r.Outcome())
}

func TestTick_LockAndSettleInOnePass(t *testing.T) {
	e := newEnv(t)
	e.push("BTC", 100)
	id := e.create("BTC", 1, 1)
	e.clock.Set(1_005)

	rep, err := New(e.host, e.engine).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Locked: 1, Settled: 1}, rep)
	require.Equal(t, rounds.OutcomeTie, e.round(id).Outcome())
}

func TestTick_FailureIsRetried(t *testing.T) {
	e := newEnv(t)
	id := e.create("BTC", 1, 100)
	e.clock.Set(1_001)
	k := New(e.host, e.engine)

	// No BTC price yet.
	rep, err := k.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Failed: 1}, rep)
	require.Equal(t, rounds.StatusCreated, e.round(id).Status)

	e.push("BTC", 100)
	rep, err = k.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Locked: 1}, rep)
}

func TestTick_OneFailureDoesNotBlockOthers(t *testing.T) {
	e := newEnv(t)
	e.push("ETH", 100)
	btc := e.create("BTC", 1, 100)
	eth := e.create("ETH", 1, 100)
	e.clock.Set(1_001)

	rep, err := New(e.host, e.engine).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Locked: 1, Failed: 1}, rep)
	require.Equal(t, rounds.StatusCreated, e.round(btc).Status)
	require.Equal(t, rounds.StatusLocked, e.round(eth).Status)
}

func TestTick_Guard(t *testing.T) {
	e := newEnv(t)
	e.push("BTC", 100)
	e.push("ETH", 100)
	btc := e.create("BTC", 1, 100)
	eth := e.create("ETH", 1, 100)
	e.clock.Set(1_001)

	var seen []string
	k := New(e.host, e.engine, WithGuard(guardFunc(func(feed, asset string) bool {
		seen = append(seen, feed)
		return asset == "ETH"
	})))
	rep, err := k.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Locked: 1, Skipped: 1}, rep)
	require.Equal(t, rounds.StatusCreated, e.round(btc).Status)
	require.Equal(t, rounds.StatusLocked, e.round(eth).Status)
	require.Equal(t, []string{"default", "default"}, seen)
}

func TestTick_GateFollowsOracleSwitch(t *testing.T) {
	e := newEnv(t)
	g := NewGate(DefaultGateConfig(), e.hub.Subscribe(events.TypeFeedPrice))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	e.push("BTC", 100)
	require.Eventually(t, func() bool { return g.Allow("default", "BTC") }, time.Second, 10*time.Millisecond)

	id := e.create("BTC", 1, 100)
	e.setOracle("backup")
	e.clock.Set(1_001)
	k := New(e.host, e.engine, WithGuard(g))

	// Only the previous oracle has prices.
	rep, err := k.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, Report{Skipped: 1}, rep)

	e.pushTo(e.backup, "BTC", 200)
	require.Eventually(t, func() bool { return g.Allow("backup", "BTC") }, time.Second, 10*time.Millisecond)

	rep, err = k.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, Report{Locked: 1}, rep)

	r := e.round(id)
	require.Equal(t, rounds.StatusLocked, r.Status)
	require.True(t, r.LockPrice.Equal(sdkmath.NewInt(200)), r.LockPrice.String())
}

func TestTick_StalePriceMarksGuard(t *testing.T) {
	e := newEnv(t)
	ts := uint64(1_000)
	require.NoError(t, e.host.Execute(context.Background(), "push", admin, func(c *host.Ctx) error {
		_, err := e.feed.PushPrice(c, "BTC", sdkmath.NewInt(100), 8, &ts)
		return err
	}))
	e.create("BTC", 1, 100)
	e.create("ETH", 1, 100)
	e.clock.Set(10_000)

	rec := &staleRecorder{}
	rep, err := New(e.host, e.engine, WithGuard(rec)).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Failed: 2}, rep)
	require.Equal(t, []string{"default/BTC"}, rec.marked, "a missing price is not a stale one")
}

func TestTick_IgnoresCanceledRounds(t *testing.T) {
	e := newEnv(t)
	e.push("BTC", 100)
	id := e.create("BTC", 1, 1)
	require.NoError(t, e.host.Execute(context.Background(), "cancel", admin, func(c *host.Ctx) error {
		_, err := e.engine.Cancel(c, id)
		return err
	}))
	e.clock.Set(2_000)

	rep, err := New(e.host, e.engine).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{}, rep)
}

func TestStartStop(t *testing.T) {
	e := newEnv(t)
	e.push("BTC", 100)
	id := e.create("BTC", 1, 1)
	e.clock.Set(1_005)

	k := New(e.host, e.engine)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Error(t, k.Start(ctx, "not a schedule"))
	require.NoError(t, k.Start(ctx, "* * * * * *"))
	require.Error(t, k.Start(ctx, "* * * * * *"))

	require.Eventually(t, func() bool {
		return e.round(id).Status == rounds.StatusSettled
	}, 5*time.Second, 50*time.Millisecond)
	k.Stop()
	k.Stop()
}
