// Package auth implements the authorization contract of the settlement core:
// identities, the "caller must be X" check, and signed request envelopes that
// bind a transport call to an identity.
package auth

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
)

// Codespace is the error codespace for authorization failures.
const Codespace = "auth"

var (
	ErrBadSignature   = errorsmod.Register(Codespace, 2, "invalid request signature")
	ErrSignerMismatch = errorsmod.Register(Codespace, 3, "signature does not match declared signer")
	ErrExpired        = errorsmod.Register(Codespace, 4, "signed request outside validity window")
	ErrNoKey          = errorsmod.Register(Codespace, 5, "no signing key loaded")
	ErrAnonymous      = errorsmod.Register(Codespace, 6, "operation requires an authenticated caller")
	ErrReplayed       = errorsmod.Register(Codespace, 7, "signed request already used")
)

// Identity is a 20-byte account address.
type Identity = common.Address

// Caller is implemented by execution contexts that carry the identity which
// authenticated the current operation.
type Caller interface {
	Caller() Identity
}

// ParseIdentity parses a hex address. The zero address is rejected.
func ParseIdentity(s string) (Identity, error) {
	if !common.IsHexAddress(s) {
		return Identity{}, errorsmod.Wrapf(ErrBadSignature, "malformed address %q", s)
	}
	id := common.HexToAddress(s)
	if id == (Identity{}) {
		return Identity{}, errorsmod.Wrap(ErrBadSignature, "zero address")
	}
	return id, nil
}

// Require passes only when the authenticated caller equals required. On
// failure it returns denied, so each component reports its own error kind
// (NotAdmin, NotFeeder). A zero required identity never authorizes anyone.
func Require(c Caller, required Identity, denied error) error {
	var caller Identity
	if c != nil {
		caller = c.Caller()
	}
	if required == (Identity{}) || caller != required {
		return errorsmod.Wrapf(denied, "caller %s", caller.Hex())
	}
	return nil
}

// Authenticated returns the caller's identity, failing with ErrAnonymous when
// the operation runs without one.
func Authenticated(c Caller) (Identity, error) {
	if c == nil || c.Caller() == (Identity{}) {
		return Identity{}, ErrAnonymous
	}
	return c.Caller(), nil
}
