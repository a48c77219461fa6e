package auth

import (
	"encoding/binary"

	errorsmod "cosmossdk.io/errors"
	storetypes "cosmossdk.io/store/types"
	"github.com/ethereum/go-ethereum/common"
)

// Namespace is the store namespace holding used envelope digests.
var Namespace = []byte("auth/")

var (
	prefixUsed   = []byte{0x01} // digest -> expires
	prefixExpiry = []byte{0x02} // expires_be || digest -> {}
)

// DefaultPrunePerCall bounds the expired digests removed by one Consume.
const DefaultPrunePerCall = 64

func usedKey(digest common.Hash) []byte {
	return append(append([]byte{}, prefixUsed...), digest.Bytes()...)
}

func expiryKey(expires int64, digest common.Hash) []byte {
	k := make([]byte, 0, len(prefixExpiry)+8+common.HashLength)
	k = append(k, prefixExpiry...)
	k = binary.BigEndian.AppendUint64(k, uint64(expires))
	return append(k, digest.Bytes()...)
}

// Consume records digest as used until expires and fails with ErrReplayed
// if it was already recorded. Digests that expired before now are pruned,
// at most DefaultPrunePerCall per call. The write belongs to the caller's
// operation, so a request whose operation fails can be retried.
func Consume(store storetypes.KVStore, digest common.Hash, expires, now int64) error {
	PruneUsed(store, now, DefaultPrunePerCall)

	k := usedKey(digest)
	if store.Has(k) {
		return errorsmod.Wrapf(ErrReplayed, "digest %s", digest.Hex())
	}
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(expires))
	store.Set(k, exp[:])
	store.Set(expiryKey(expires, digest), []byte{})
	return nil
}

// PruneUsed deletes up to limit digests whose envelopes expired before now
// and returns how many it removed. An expired envelope is refused by Verify,
// so its digest no longer needs to be remembered.
func PruneUsed(store storetypes.KVStore, now int64, limit int) int {
	if now <= 0 {
		return 0
	}
	end := expiryKey(now, common.Hash{})
	it := store.Iterator(prefixExpiry, end)
	var drop [][]byte
	for ; it.Valid() && len(drop) < limit; it.Next() {
		drop = append(drop, append([]byte{}, it.Key()...))
	}
	it.Close()

	for _, k := range drop {
		digest := common.BytesToHash(k[len(prefixExpiry)+8:])
		store.Delete(k)
		store.Delete(usedKey(digest))
	}
	return len(drop)
}
