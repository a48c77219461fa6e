package feed

import (
	errorsmod "cosmossdk.io/errors"
	storetypes "cosmossdk.io/store/types"

	"github.com/caesar-terminal/settle/internal/codec"
)

// history is the bounded per-asset observation log, stored as a ring of
// HistoryCap slots plus a counter of everything ever appended. Appending
// overwrites one slot; nothing is rebuilt on eviction.
type history struct {
	store    storetypes.KVStore
	asset    string
	appended uint64
}

func loadHistory(store storetypes.KVStore, asset string) (*history, error) {
	h := &history{store: store, asset: asset}
	raw := store.Get(historyMetaKey(asset))
	if raw == nil {
		return h, nil
	}
	r, err := codec.Decode(raw)
	if err != nil {
		return nil, errorsmod.Wrapf(err, "history meta of %q", asset)
	}
	h.appended = r.Uint(fieldAppended)
	return h, nil
}

// Len is the number of retained observations.
func (h *history) Len() int {
	if h.appended > HistoryCap {
		return HistoryCap
	}
	return int(h.appended)
}

// Push appends o, evicting the oldest observation once the ring is full.
func (h *history) Push(o Observation) {
	slot := uint16(h.appended % HistoryCap)
	h.store.Set(observationKey(h.asset, slot), encodeObservation(o))
	h.appended++

	var e codec.Encoder
	h.store.Set(historyMetaKey(h.asset), e.Uint(fieldAppended, h.appended).Encode())
}

// Recent returns the i-th most recently appended observation; Recent(0) is
// the last one appended.
func (h *history) Recent(i int) (Observation, error) {
	slot := uint16((h.appended - 1 - uint64(i)) % HistoryCap)
	raw := h.store.Get(observationKey(h.asset, slot))
	if raw == nil {
		return Observation{}, errorsmod.Wrapf(ErrNoHistory, "%s slot %d missing", h.asset, slot)
	}
	return decodeObservation(raw)
}

// Last returns up to k most recent observations, newest first.
func (h *history) Last(k int) ([]Observation, error) {
	if k > h.Len() {
		k = h.Len()
	}
	out := make([]Observation, 0, k)
	for i := 0; i < k; i++ {
		o, err := h.Recent(i)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
