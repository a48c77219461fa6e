package auth

import (
	"encoding/binary"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// domainTag separates settlement request digests from any other payload the
// same key might sign.
const domainTag = "settle-v1"

// Envelope travels with every mutating request. Signature is the 65-byte
// r || s || v ECDSA signature over Digest(method, body, Expires, Nonce).
// Nonce is chosen at random by the signer so that two identical requests
// signed in the same second still have distinct digests.
type Envelope struct {
	Signer    string `json:"signer"`
	Expires   int64  `json:"expires"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// Digest computes
// keccak256(domainTag || method || 0x00 || body || expires || nonce).
func Digest(method string, body []byte, expires int64, nonce uint64) common.Hash {
	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], uint64(expires))
	binary.BigEndian.PutUint64(tail[8:], nonce)
	return crypto.Keccak256Hash(
		[]byte(domainTag),
		[]byte(method),
		[]byte{0x00},
		body,
		tail[:],
	)
}

// Hash is the digest env signs for method and body.
func (env Envelope) Hash(method string, body []byte) common.Hash {
	return Digest(method, body, env.Expires, env.Nonce)
}

// Verify checks env against method and body and returns the recovered
// identity. The envelope must not be expired at now and must not expire more
// than maxTTL after now.
func Verify(env Envelope, method string, body []byte, now time.Time, maxTTL time.Duration) (Identity, error) {
	declared, err := ParseIdentity(env.Signer)
	if err != nil {
		return Identity{}, err
	}

	if now.Unix() > env.Expires {
		return Identity{}, errorsmod.Wrapf(ErrExpired, "expired at %d", env.Expires)
	}
	if env.Expires-now.Unix() > int64(maxTTL/time.Second) {
		return Identity{}, errorsmod.Wrapf(ErrExpired, "expiry %d too far ahead", env.Expires)
	}

	sig, err := hexutil.Decode(env.Signature)
	if err != nil {
		return Identity{}, errorsmod.Wrapf(ErrBadSignature, "decode: %v", err)
	}
	if len(sig) != crypto.SignatureLength {
		return Identity{}, errorsmod.Wrapf(ErrBadSignature, "length %d", len(sig))
	}
	// Accept both 0/1 and Ethereum-style 27/28 recovery ids.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := env.Hash(method, body)
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return Identity{}, errorsmod.Wrapf(ErrBadSignature, "recover: %v", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != declared {
		return Identity{}, errorsmod.Wrapf(ErrSignerMismatch, "declared %s, recovered %s", declared.Hex(), recovered.Hex())
	}
	return recovered, nil
}
