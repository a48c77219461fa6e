package feed

import (
	errorsmod "cosmossdk.io/errors"

	"github.com/caesar-terminal/settle/internal/fixedpoint"
)

// Codespace is the error codespace of the price feed.
const Codespace = "feed"

var (
	ErrNotInitialized     = errorsmod.Register(Codespace, 2, "feed not initialized")
	ErrAlreadyInitialized = errorsmod.Register(Codespace, 3, "feed already initialized")
	ErrNotAdmin           = errorsmod.Register(Codespace, 4, "caller is not the feed admin")
	ErrNotFeeder          = errorsmod.Register(Codespace, 5, "caller is not the feeder")
	ErrUnknownAsset       = errorsmod.Register(Codespace, 6, "unknown asset")
	ErrStalePrice         = errorsmod.Register(Codespace, 7, "stale price")
	ErrNoHistory          = errorsmod.Register(Codespace, 8, "no price history")
	ErrEmptyWindow        = errorsmod.Register(Codespace, 9, "empty averaging window")
	ErrReflectorNotSet    = errorsmod.Register(Codespace, 10, "external price source not set")
	ErrInvalidAsset       = errorsmod.Register(Codespace, 11, "invalid asset identifier")

	ErrBadDecimals  = fixedpoint.ErrBadDecimals
	ErrMathOverflow = fixedpoint.ErrMathOverflow
)
