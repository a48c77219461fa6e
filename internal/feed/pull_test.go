package feed

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/caesar-terminal/settle/internal/host"
)

type stubSource struct {
	obs Observation
	err error
}

func (s stubSource) LastPrice(*host.Ctx, string) (Observation, error) {
	return s.obs, s.err
}

func (e *env) pull(asset string) (Observation, error) {
	var obs Observation
	err := e.exec(admin, func(c *host.Ctx) error {
		var err error
		obs, err = e.feed.Pull(c, asset)
		return err
	})
	return obs, err
}

func (e *env) setSource(ref string) {
	e.t.Helper()
	require.NoError(e.t, e.exec(admin, func(c *host.Ctx) error { return e.feed.SetSource(c, ref) }))
}

func TestPull_SourceNotSet(t *testing.T) {
	e := newEnv(t, WithSource("reflector", stubSource{}))
	e.upsert("BTC", 8, 60)

	_, err := e.pull("BTC")
	require.ErrorIs(t, err, ErrReflectorNotSet)

	e.setSource("elsewhere")
	_, err = e.pull("BTC")
	require.ErrorIs(t, err, ErrReflectorNotSet)
}

func TestPull_AppendsSourceObservation(t *testing.T) {
	src := stubSource{obs: Observation{Price: sdkmath.NewInt(6_500_000), Precision: 2, ObservedAt: 990}}
	e := newEnv(t, WithSource("reflector", src))
	e.upsert("BTC", 8, 60)
	e.setSource("reflector")

	obs, err := e.pull("BTC")
	require.NoError(t, err)
	require.Equal(t, uint64(990), obs.ObservedAt)

	q, err := e.spot("BTC")
	require.NoError(t, err)
	require.True(t, q.Price.Equal(sdkmath.NewInt(6_500_000_000_000)))
	require.Equal(t, uint64(990), q.Timestamp)

	last := e.sink.got[len(e.sink.got)-1]
	require.Equal(t, "pull:reflector", last.Attr("source"))
}

func TestPull_SourceHasNothing(t *testing.T) {
	e := newEnv(t, WithSource("reflector", stubSource{err: ErrNoHistory}))
	e.upsert("BTC", 8, 60)
	e.setSource("reflector")

	_, err := e.pull("BTC")
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestPull_SourceFailurePropagates(t *testing.T) {
	boom := errors.New("upstream down")
	e := newEnv(t, WithSource("reflector", stubSource{err: boom}))
	e.upsert("BTC", 8, 60)
	e.setSource("reflector")

	_, err := e.pull("BTC")
	require.ErrorIs(t, err, boom)
}

func TestPull_RequiresFeeder(t *testing.T) {
	e := newEnv(t, WithSource("reflector", stubSource{}))
	e.setSource("reflector")

	err := e.exec(mallory, func(c *host.Ctx) error {
		_, err := e.feed.Pull(c, "BTC")
		return err
	})
	require.ErrorIs(t, err, ErrNotFeeder)
}

func TestFeedAsSource(t *testing.T) {
	upstream := New("upstream")
	e := newEnv(t, WithSource("upstream", upstream))
	e.upsert("XLM", 7, 60)
	e.setSource("upstream")

	require.NoError(t, e.exec(admin, func(c *host.Ctx) error {
		if err := upstream.Init(c, admin, ""); err != nil {
			return err
		}
		if err := upstream.UpsertAsset(c, "XLM", 7, 60); err != nil {
			return err
		}
		_, err := upstream.PushPrice(c, "XLM", sdkmath.NewInt(1_234_567), 7, nil)
		return err
	}))

	obs, err := e.pull("XLM")
	require.NoError(t, err)
	require.True(t, obs.Price.Equal(sdkmath.NewInt(1_234_567)))

	require.NoError(t, e.query(func(c *host.Ctx) error {
		hist, err := e.feed.History(c, "XLM")
		require.NoError(t, err)
		require.Len(t, hist, 1)

		src, err := e.feed.Source(c)
		require.NoError(t, err)
		require.Equal(t, "upstream", src)
		return nil
	}))
}
