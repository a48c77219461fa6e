// Package feed is the oracle-backed price feed: per-asset configuration,
// a bounded observation history, and staleness-guarded spot and TWAP
// queries. All state lives in the host store under the feed's namespace.
package feed

import (
	"errors"
	"strconv"

	errorsmod "cosmossdk.io/errors"
	storetypes "cosmossdk.io/store/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/events"
	"github.com/caesar-terminal/settle/internal/fixedpoint"
	"github.com/caesar-terminal/settle/internal/host"
)

// Feed is one price feed instance. It holds no state of its own; every
// method reads and writes through the *host.Ctx it is given.
type Feed struct {
	name      string
	namespace []byte
	sources   map[string]Source
}

// Option configures a Feed.
type Option func(*Feed)

// WithSource registers an external price source under ref. SetSource selects
// which registered source Pull reads from.
func WithSource(ref string, src Source) Option {
	return func(f *Feed) { f.sources[ref] = src }
}

// New creates the feed called name.
func New(name string, opts ...Option) *Feed {
	f := &Feed{
		name:      name,
		namespace: Namespace(name),
		sources:   make(map[string]Source),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the feed name.
func (f *Feed) Name() string { return f.name }

func (f *Feed) store(ctx *host.Ctx) storetypes.KVStore {
	return ctx.KVStore(f.namespace)
}

func (f *Feed) emit(ctx *host.Ctx, typ string, kv ...string) {
	ctx.Emit(events.New(typ, append([]string{events.AttrFeed, f.name}, kv...)...))
}

// Init stores admin, makes admin the feeder, and records the external
// source reference (may be empty). The caller must be admin.
func (f *Feed) Init(ctx *host.Ctx, admin auth.Identity, source string) error {
	s := f.store(ctx)
	if s.Has(keyAdmin) {
		return errorsmod.Wrap(ErrAlreadyInitialized, f.name)
	}
	if err := auth.Require(ctx, admin, ErrNotAdmin); err != nil {
		return err
	}

	s.Set(keyAdmin, admin.Bytes())
	s.Set(keyFeeder, admin.Bytes())
	if source != "" {
		s.Set(keySource, []byte(source))
	}
	f.emit(ctx, events.TypeFeedInit,
		events.AttrAdmin, admin.Hex(),
		events.AttrSource, source,
	)
	return nil
}

// Admin returns the stored admin identity.
func (f *Feed) Admin(ctx *host.Ctx) (auth.Identity, error) {
	raw := f.store(ctx).Get(keyAdmin)
	if raw == nil {
		return auth.Identity{}, errorsmod.Wrap(ErrNotInitialized, f.name)
	}
	return common.BytesToAddress(raw), nil
}

// Feeder returns the identity currently allowed to push prices.
func (f *Feed) Feeder(ctx *host.Ctx) (auth.Identity, error) {
	raw := f.store(ctx).Get(keyFeeder)
	if raw == nil {
		return auth.Identity{}, errorsmod.Wrap(ErrNotInitialized, f.name)
	}
	return common.BytesToAddress(raw), nil
}

// Source returns the configured external source reference, or "".
func (f *Feed) Source(ctx *host.Ctx) (string, error) {
	if _, err := f.Admin(ctx); err != nil {
		return "", err
	}
	return string(f.store(ctx).Get(keySource)), nil
}

func (f *Feed) requireAdmin(ctx *host.Ctx) error {
	admin, err := f.Admin(ctx)
	if err != nil {
		return err
	}
	return auth.Require(ctx, admin, ErrNotAdmin)
}

func (f *Feed) requireFeeder(ctx *host.Ctx) error {
	feeder, err := f.Feeder(ctx)
	if err != nil {
		return err
	}
	return auth.Require(ctx, feeder, ErrNotFeeder)
}

// SetFeeder replaces the single authorized feeder. Admin only.
func (f *Feed) SetFeeder(ctx *host.Ctx, feeder auth.Identity) error {
	if err := f.requireAdmin(ctx); err != nil {
		return err
	}
	f.store(ctx).Set(keyFeeder, feeder.Bytes())
	f.emit(ctx, events.TypeFeedFeeder, events.AttrFeeder, feeder.Hex())
	return nil
}

// SetSource selects the external source Pull reads from. Admin only. The
// reference is resolved at pull time, so it may name a source that is not
// registered yet.
func (f *Feed) SetSource(ctx *host.Ctx, ref string) error {
	if err := f.requireAdmin(ctx); err != nil {
		return err
	}
	s := f.store(ctx)
	if ref == "" {
		s.Delete(keySource)
	} else {
		s.Set(keySource, []byte(ref))
	}
	f.emit(ctx, events.TypeFeedSource, events.AttrSource, ref)
	return nil
}

func validAsset(asset string) error {
	if len(asset) == 0 || len(asset) > MaxAssetLen {
		return errorsmod.Wrapf(ErrInvalidAsset, "length %d", len(asset))
	}
	return nil
}

// UpsertAsset creates or overwrites the configuration of asset. Admin only.
func (f *Feed) UpsertAsset(ctx *host.Ctx, asset string, precision uint32, stalenessWindow uint64) error {
	if err := f.requireAdmin(ctx); err != nil {
		return err
	}
	if err := validAsset(asset); err != nil {
		return err
	}
	if err := fixedpoint.CheckPrecision(precision); err != nil {
		return errorsmod.Wrapf(err, "asset %s", asset)
	}

	cfg := AssetConfig{Precision: precision, StalenessWindow: stalenessWindow}
	f.store(ctx).Set(assetKey(asset), encodeConfig(cfg))
	f.emit(ctx, events.TypeFeedAsset,
		events.AttrAsset, asset,
		events.AttrPrecision, strconv.FormatUint(uint64(precision), 10),
		events.AttrStaleness, strconv.FormatUint(stalenessWindow, 10),
	)
	return nil
}

// Asset returns the configuration of asset.
func (f *Feed) Asset(ctx *host.Ctx, asset string) (AssetConfig, error) {
	raw := f.store(ctx).Get(assetKey(asset))
	if raw == nil {
		return AssetConfig{}, errorsmod.Wrapf(ErrUnknownAsset, "%s/%s", f.name, asset)
	}
	return decodeConfig(raw)
}

// Assets lists configured asset identifiers in byte order.
func (f *Feed) Assets(ctx *host.Ctx) ([]string, error) {
	it := storetypes.KVStorePrefixIterator(f.store(ctx), prefixAsset)
	defer it.Close()

	var out []string
	for ; it.Valid(); it.Next() {
		out = append(out, string(it.Key()[len(prefixAsset):]))
	}
	return out, it.Error()
}

// History returns the retained observations of asset, oldest first.
func (f *Feed) History(ctx *host.Ctx, asset string) ([]Observation, error) {
	if _, err := f.Asset(ctx, asset); err != nil {
		return nil, err
	}
	h, err := loadHistory(f.store(ctx), asset)
	if err != nil {
		return nil, err
	}
	newestFirst, err := h.Last(h.Len())
	if err != nil {
		return nil, err
	}
	out := make([]Observation, len(newestFirst))
	for i, o := range newestFirst {
		out[len(out)-1-i] = o
	}
	return out, nil
}

// isEmpty reports whether err means a source has nothing for an asset.
func isEmpty(err error) bool {
	return errors.Is(err, ErrNoHistory) || errors.Is(err, ErrUnknownAsset)
}
