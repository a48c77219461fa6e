package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Decrypter unwraps an encrypted key blob. Satisfied by *kms.Client.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KeyRing holds one operator key (admin, feeder or participant) in an
// encrypted memguard enclave. The key is only opened for the duration of a
// single signature.
type KeyRing struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	address Identity
}

// NewKeyRing seals keyBytes into an enclave. keyBytes is wiped.
func NewKeyRing(keyBytes []byte) (*KeyRing, error) {
	privKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		memguard.WipeBytes(keyBytes)
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)

	return &KeyRing{
		enclave: memguard.NewEnclave(keyBytes),
		address: addr,
	}, nil
}

// KeyRingFromHex builds a KeyRing from a hex-encoded secp256k1 key.
func KeyRingFromHex(s string) (*KeyRing, error) {
	if len(s) < 2 || s[:2] != "0x" {
		s = "0x" + s
	}
	keyBytes, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return NewKeyRing(keyBytes)
}

// KeyRingFromCiphertext decrypts a KMS-wrapped key and seals it.
func KeyRingFromCiphertext(ctx context.Context, d Decrypter, ciphertext []byte) (*KeyRing, error) {
	plain, err := d.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	return NewKeyRing(plain)
}

// Address returns the identity of the held key.
func (k *KeyRing) Address() Identity {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.address
}

// Sign produces an Envelope for method/body valid for ttl from now.
func (k *KeyRing) Sign(method string, body []byte, now time.Time, ttl time.Duration) (Envelope, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.enclave == nil {
		return Envelope{}, ErrNoKey
	}

	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return Envelope{}, fmt.Errorf("draw nonce: %w", err)
	}
	expires := now.Add(ttl).Unix()
	nonce := binary.BigEndian.Uint64(raw[:])
	digest := Digest(method, body, expires, nonce)

	buf, err := k.enclave.Open()
	if err != nil {
		return Envelope{}, fmt.Errorf("open enclave: %w", err)
	}
	privKey, err := crypto.ToECDSA(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return Envelope{}, fmt.Errorf("parse private key: %w", err)
	}

	sig, err := signDigest(privKey, digest.Bytes())
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Signer:    k.address.Hex(),
		Expires:   expires,
		Nonce:     nonce,
		Signature: hexutil.Encode(sig),
	}, nil
}

// Destroy drops the enclave. Further Sign calls fail with ErrNoKey.
func (k *KeyRing) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.enclave = nil
}

func signDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	// Ethereum convention: v in {27, 28}.
	sig[64] += 27
	return sig, nil
}
