package service

import (
	"context"
	"errors"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/feed"
	"github.com/caesar-terminal/settle/internal/fixedpoint"
	"github.com/caesar-terminal/settle/internal/rounds"
)

// Codespace is the error codespace of the transport.
const Codespace = "service"

var (
	ErrUnknownFeed = errorsmod.Register(Codespace, 2, "unknown feed")
	ErrBadRequest  = errorsmod.Register(Codespace, 3, "malformed request")
	ErrNoKeeper    = errorsmod.Register(Codespace, 4, "keeper control not available")
)

var grpcCodes = []struct {
	err  error
	code codes.Code
}{
	{auth.ErrBadSignature, codes.Unauthenticated},
	{auth.ErrSignerMismatch, codes.Unauthenticated},
	{auth.ErrExpired, codes.Unauthenticated},
	{auth.ErrReplayed, codes.AlreadyExists},
	{auth.ErrAnonymous, codes.Unauthenticated},

	{feed.ErrNotAdmin, codes.PermissionDenied},
	{feed.ErrNotFeeder, codes.PermissionDenied},
	{rounds.ErrNotAdmin, codes.PermissionDenied},

	{ErrUnknownFeed, codes.NotFound},
	{feed.ErrUnknownAsset, codes.NotFound},
	{feed.ErrNoHistory, codes.NotFound},
	{rounds.ErrRoundNotFound, codes.NotFound},

	{feed.ErrAlreadyInitialized, codes.AlreadyExists},
	{rounds.ErrAlreadyInitialized, codes.AlreadyExists},
	{rounds.ErrAlreadyJoined, codes.AlreadyExists},

	{ErrNoKeeper, codes.Unimplemented},

	{feed.ErrNotInitialized, codes.FailedPrecondition},
	{feed.ErrStalePrice, codes.FailedPrecondition},
	{feed.ErrReflectorNotSet, codes.FailedPrecondition},
	{rounds.ErrNotInitialized, codes.FailedPrecondition},
	{rounds.ErrBadState, codes.FailedPrecondition},
	{rounds.ErrJoinClosed, codes.FailedPrecondition},
	{rounds.ErrOracleNotSet, codes.FailedPrecondition},

	{ErrBadRequest, codes.InvalidArgument},
	{fixedpoint.ErrBadDecimals, codes.InvalidArgument},
	{feed.ErrInvalidAsset, codes.InvalidArgument},
	{feed.ErrEmptyWindow, codes.InvalidArgument},
	{rounds.ErrInvalidTimes, codes.InvalidArgument},
	{rounds.ErrInvalidSide, codes.InvalidArgument},

	{fixedpoint.ErrMathOverflow, codes.OutOfRange},
	{rounds.ErrRoundIDExhausted, codes.ResourceExhausted},
}

// toStatus maps err onto a gRPC status whose message is prefixed with the
// error's codespace and code, e.g. "feed/7: stale price".
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	// Registered errors carry a GRPCStatus of their own; only pass through
	// statuses that did not originate here.
	var registered *errorsmod.Error
	if _, ok := status.FromError(err); ok && !errors.As(err, &registered) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	code := codes.Internal
	for _, m := range grpcCodes {
		if errors.Is(err, m.err) {
			code = m.code
			break
		}
	}
	codespace, abci, _ := errorsmod.ABCIInfo(err, false)
	return status.Error(code, fmt.Sprintf("%s/%d: %s", codespace, abci, err.Error()))
}
