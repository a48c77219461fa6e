package feed

import (
	"encoding/binary"

	sdkmath "cosmossdk.io/math"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/caesar-terminal/settle/internal/codec"
)

var (
	keyAdmin  = []byte{0x01}
	keyFeeder = []byte{0x02}
	keySource = []byte{0x03}

	prefixAsset       = []byte{0x10}
	prefixHistoryMeta = []byte{0x20}
	prefixObservation = []byte{0x21}
)

// Namespace returns the store namespace of the feed called name.
func Namespace(name string) []byte {
	return []byte("feed/" + name + "/")
}

func assetKey(asset string) []byte {
	return append(append([]byte{}, prefixAsset...), asset...)
}

func historyMetaKey(asset string) []byte {
	return append(append([]byte{}, prefixHistoryMeta...), asset...)
}

// observationKey is 0x21 | len(asset) | asset | slot, so that one asset's
// slots never share a prefix with another asset's.
func observationKey(asset string, slot uint16) []byte {
	k := make([]byte, 0, 2+len(asset)+2)
	k = append(k, prefixObservation...)
	k = append(k, byte(len(asset)))
	k = append(k, asset...)
	return binary.BigEndian.AppendUint16(k, slot)
}

const (
	fieldPrecision protowire.Number = 1
	fieldStaleness protowire.Number = 2

	fieldPrice      protowire.Number = 1
	fieldObsPrec    protowire.Number = 2
	fieldObservedAt protowire.Number = 3

	fieldAppended protowire.Number = 1
)

func encodeConfig(c AssetConfig) []byte {
	var e codec.Encoder
	return e.Uint(fieldPrecision, uint64(c.Precision)).
		Uint(fieldStaleness, c.StalenessWindow).
		Encode()
}

func decodeConfig(b []byte) (AssetConfig, error) {
	r, err := codec.Decode(b)
	if err != nil {
		return AssetConfig{}, err
	}
	return AssetConfig{
		Precision:       uint32(r.Uint(fieldPrecision)),
		StalenessWindow: r.Uint(fieldStaleness),
	}, nil
}

func encodeObservation(o Observation) []byte {
	var e codec.Encoder
	return e.Int(fieldPrice, o.Price).
		Uint(fieldObsPrec, uint64(o.Precision)).
		Uint(fieldObservedAt, o.ObservedAt).
		Encode()
}

func decodeObservation(b []byte) (Observation, error) {
	r, err := codec.Decode(b)
	if err != nil {
		return Observation{}, err
	}
	price, err := r.Int(fieldPrice)
	if err != nil {
		return Observation{}, err
	}
	if price.IsNil() {
		price = sdkmath.ZeroInt()
	}
	return Observation{
		Price:      price,
		Precision:  uint32(r.Uint(fieldObsPrec)),
		ObservedAt: r.Uint(fieldObservedAt),
	}, nil
}
