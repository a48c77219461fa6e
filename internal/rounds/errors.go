package rounds

import errorsmod "cosmossdk.io/errors"

// Codespace is the error codespace of the round engine.
const Codespace = "rounds"

var (
	ErrNotInitialized     = errorsmod.Register(Codespace, 2, "round engine not initialized")
	ErrAlreadyInitialized = errorsmod.Register(Codespace, 3, "round engine already initialized")
	ErrNotAdmin           = errorsmod.Register(Codespace, 4, "caller is not the round engine admin")
	ErrInvalidTimes       = errorsmod.Register(Codespace, 5, "lock delay and duration must be positive")
	ErrRoundNotFound      = errorsmod.Register(Codespace, 6, "round not found")
	ErrBadState           = errorsmod.Register(Codespace, 7, "operation not allowed in current round state")
	ErrAlreadyJoined      = errorsmod.Register(Codespace, 8, "participant already joined round")
	ErrJoinClosed         = errorsmod.Register(Codespace, 9, "join window closed")
	ErrOracleNotSet       = errorsmod.Register(Codespace, 10, "price oracle not set")
	ErrInvalidSide        = errorsmod.Register(Codespace, 11, "invalid side")
	ErrRoundIDExhausted   = errorsmod.Register(Codespace, 12, "round id space exhausted")
)
