package feed

import (
	"strconv"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/caesar-terminal/settle/internal/events"
	"github.com/caesar-terminal/settle/internal/fixedpoint"
	"github.com/caesar-terminal/settle/internal/host"
)

// PushPrice appends an observation for asset. Feeder only. When ts is nil
// the operation's logical time is used. Timestamps are not required to be
// monotonic.
func (f *Feed) PushPrice(ctx *host.Ctx, asset string, price sdkmath.Int, precision uint32, ts *uint64) (Observation, error) {
	if err := f.requireFeeder(ctx); err != nil {
		return Observation{}, err
	}
	observedAt := ctx.Now()
	if ts != nil {
		observedAt = *ts
	}
	obs := Observation{Price: price, Precision: precision, ObservedAt: observedAt}
	if err := f.append(ctx, asset, obs, "push"); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

// Pull copies the latest observation of asset from the configured external
// source into this feed's history. Feeder only.
func (f *Feed) Pull(ctx *host.Ctx, asset string) (Observation, error) {
	if err := f.requireFeeder(ctx); err != nil {
		return Observation{}, err
	}
	ref := string(f.store(ctx).Get(keySource))
	if ref == "" {
		return Observation{}, errorsmod.Wrap(ErrReflectorNotSet, f.name)
	}
	src, ok := f.sources[ref]
	if !ok {
		return Observation{}, errorsmod.Wrapf(ErrReflectorNotSet, "source %q is not registered", ref)
	}

	obs, err := src.LastPrice(ctx, asset)
	if err != nil {
		if isEmpty(err) {
			return Observation{}, errorsmod.Wrapf(ErrUnknownAsset, "source %q has no price for %s: %v", ref, asset, err)
		}
		return Observation{}, err
	}
	if err := f.append(ctx, asset, obs, "pull:"+ref); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

func (f *Feed) append(ctx *host.Ctx, asset string, obs Observation, origin string) error {
	if _, err := f.Asset(ctx, asset); err != nil {
		return err
	}
	if err := fixedpoint.CheckPrecision(obs.Precision); err != nil {
		return err
	}
	if err := fixedpoint.CheckRange(obs.Price); err != nil {
		return err
	}

	h, err := loadHistory(f.store(ctx), asset)
	if err != nil {
		return err
	}
	h.Push(obs)

	f.emit(ctx, events.TypeFeedPrice,
		events.AttrAsset, asset,
		events.AttrPrice, obs.Price.String(),
		events.AttrPrecision, strconv.FormatUint(uint64(obs.Precision), 10),
		events.AttrTimestamp, strconv.FormatUint(obs.ObservedAt, 10),
		events.AttrSource, origin,
	)
	return nil
}

// LastPrice returns the most recently appended observation of asset as
// stored, without staleness checks or rescaling. It makes a Feed usable as
// another feed's Source.
func (f *Feed) LastPrice(ctx *host.Ctx, asset string) (Observation, error) {
	if _, err := f.Asset(ctx, asset); err != nil {
		return Observation{}, err
	}
	h, err := loadHistory(f.store(ctx), asset)
	if err != nil {
		return Observation{}, err
	}
	if h.Len() == 0 {
		return Observation{}, errorsmod.Wrapf(ErrNoHistory, "%s/%s", f.name, asset)
	}
	return h.Recent(0)
}

// checkFresh fails with ErrStalePrice when ts lies in the future or more
// than maxAge seconds in the past.
func checkFresh(now, ts, maxAge uint64) error {
	if now < ts {
		return errorsmod.Wrapf(ErrStalePrice, "observed at %d, after now %d", ts, now)
	}
	if now-ts > maxAge {
		return errorsmod.Wrapf(ErrStalePrice, "age %ds exceeds %ds", now-ts, maxAge)
	}
	return nil
}

// GetSpot returns the most recently appended observation of asset, rescaled
// to the requested precision (default: the asset's precision).
func (f *Feed) GetSpot(ctx *host.Ctx, asset string, opts ...QueryOption) (Quote, error) {
	cfg, err := f.Asset(ctx, asset)
	if err != nil {
		return Quote{}, err
	}
	maxAge, precision := resolve(cfg, opts)
	if err := fixedpoint.CheckPrecision(precision); err != nil {
		return Quote{}, err
	}

	last, err := f.LastPrice(ctx, asset)
	if err != nil {
		return Quote{}, err
	}
	if err := checkFresh(ctx.Now(), last.ObservedAt, maxAge); err != nil {
		return Quote{}, errorsmod.Wrapf(err, "%s/%s", f.name, asset)
	}

	price, err := fixedpoint.Rescale(last.Price, last.Precision, precision)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: price, Precision: precision, Timestamp: last.ObservedAt}, nil
}

// GetTWAP averages the k most recently appended observations of asset (all
// of them when fewer exist). Every observation is rescaled to the output
// precision, summed, and the sum divided by the count, truncating toward
// zero. Observations are equally weighted. Staleness is checked against the
// newest observed_at in the averaged set.
func (f *Feed) GetTWAP(ctx *host.Ctx, asset string, k uint32, opts ...QueryOption) (Average, error) {
	if k == 0 {
		return Average{}, errorsmod.Wrap(ErrEmptyWindow, "record count must be positive")
	}
	cfg, err := f.Asset(ctx, asset)
	if err != nil {
		return Average{}, err
	}
	maxAge, precision := resolve(cfg, opts)
	if err := fixedpoint.CheckPrecision(precision); err != nil {
		return Average{}, err
	}

	h, err := loadHistory(f.store(ctx), asset)
	if err != nil {
		return Average{}, err
	}
	if h.Len() == 0 {
		return Average{}, errorsmod.Wrapf(ErrNoHistory, "%s/%s", f.name, asset)
	}
	window, err := h.Last(int(min(k, HistoryCap)))
	if err != nil {
		return Average{}, err
	}

	sum := sdkmath.ZeroInt()
	newest, oldest := window[0].ObservedAt, window[0].ObservedAt
	for _, o := range window {
		p, err := fixedpoint.Rescale(o.Price, o.Precision, precision)
		if err != nil {
			return Average{}, err
		}
		sum = sum.Add(p)
		newest = max(newest, o.ObservedAt)
		oldest = min(oldest, o.ObservedAt)
	}
	if err := checkFresh(ctx.Now(), newest, maxAge); err != nil {
		return Average{}, errorsmod.Wrapf(err, "%s/%s", f.name, asset)
	}

	return Average{
		Price:     sum.QuoRaw(int64(len(window))),
		Precision: precision,
		Timestamp: newest,
		Oldest:    oldest,
		Count:     uint32(len(window)),
	}, nil
}
