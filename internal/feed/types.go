package feed

import (
	sdkmath "cosmossdk.io/math"

	"github.com/caesar-terminal/settle/internal/host"
)

// HistoryCap is the number of observations retained per asset.
const HistoryCap = 256

// MaxAssetLen bounds asset identifiers.
const MaxAssetLen = 255

// AssetConfig is the admin-maintained configuration of one asset.
type AssetConfig struct {
	// Precision is the default number of fractional digits of query results.
	Precision uint32
	// StalenessWindow is the maximum age in seconds of a usable observation.
	StalenessWindow uint64
}

// Observation is one stored price point.
type Observation struct {
	Price      sdkmath.Int
	Precision  uint32
	ObservedAt uint64
}

// Quote is the result of a spot query.
type Quote struct {
	Price     sdkmath.Int
	Precision uint32
	Timestamp uint64
}

// Average is the result of a TWAP query. Timestamp is the newest and Oldest
// the oldest observed_at among the Count averaged observations.
type Average struct {
	Price     sdkmath.Int
	Precision uint32
	Timestamp uint64
	Oldest    uint64
	Count     uint32
}

// Source is anything that can report its latest observation for an asset.
// Feeds pull from Sources; a Feed is itself a Source.
type Source interface {
	LastPrice(ctx *host.Ctx, asset string) (Observation, error)
}

type queryOpts struct {
	maxAge    *uint64
	precision *uint32
}

// QueryOption adjusts a spot or TWAP query.
type QueryOption func(*queryOpts)

// WithMaxAge overrides the configured staleness window.
func WithMaxAge(seconds uint64) QueryOption {
	return func(o *queryOpts) { o.maxAge = &seconds }
}

// WithPrecision requests results at precision instead of the asset default.
func WithPrecision(precision uint32) QueryOption {
	return func(o *queryOpts) { o.precision = &precision }
}

func resolve(cfg AssetConfig, opts []QueryOption) (maxAge uint64, precision uint32) {
	var o queryOpts
	for _, opt := range opts {
		opt(&o)
	}
	maxAge, precision = cfg.StalenessWindow, cfg.Precision
	if o.maxAge != nil {
		maxAge = *o.maxAge
	}
	if o.precision != nil {
		precision = *o.precision
	}
	return maxAge, precision
}
