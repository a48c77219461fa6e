package rounds

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/caesar-terminal/settle/internal/codec"
)

// Namespace is the store namespace of the round engine.
var Namespace = []byte("rounds/")

var (
	keyAdmin  = []byte{0x01}
	keyOracle = []byte{0x02}
	keyNextID = []byte{0x03}

	prefixRound   = []byte{0x10}
	prefixJoined  = []byte{0x11}
	prefixPending = []byte{0x12}
)

func idBytes(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

func roundKey(id uint64) []byte {
	return append(append([]byte{}, prefixRound...), idBytes(id)...)
}

func joinedKey(id uint64, who common.Address) []byte {
	k := append(append([]byte{}, prefixJoined...), idBytes(id)...)
	return append(k, who.Bytes()...)
}

func pendingKey(id uint64) []byte {
	return append(append([]byte{}, prefixPending...), idBytes(id)...)
}

const (
	fieldCreator         protowire.Number = 1
	fieldAsset           protowire.Number = 2
	fieldLockTime        protowire.Number = 3
	fieldSettleTime      protowire.Number = 4
	fieldStatus          protowire.Number = 5
	fieldLockPrice       protowire.Number = 6
	fieldLockPrecision   protowire.Number = 7
	fieldSettlePrice     protowire.Number = 8
	fieldSettlePrecision protowire.Number = 9
	fieldUpCount         protowire.Number = 10
	fieldDownCount       protowire.Number = 11
)

func encodeRound(r Round) []byte {
	var e codec.Encoder
	return e.Bytes(fieldCreator, r.Creator.Bytes()).
		String(fieldAsset, r.Asset).
		Uint(fieldLockTime, r.LockTime).
		Uint(fieldSettleTime, r.SettleTime).
		Uint(fieldStatus, uint64(r.Status)).
		Int(fieldLockPrice, r.LockPrice).
		Uint(fieldLockPrecision, uint64(r.LockPrecision)).
		Int(fieldSettlePrice, r.SettlePrice).
		Uint(fieldSettlePrecision, uint64(r.SettlePrecision)).
		Uint(fieldUpCount, r.UpCount).
		Uint(fieldDownCount, r.DownCount).
		Encode()
}

func decodeRound(id uint64, b []byte) (Round, error) {
	rec, err := codec.Decode(b)
	if err != nil {
		return Round{}, err
	}
	lockPrice, err := rec.Int(fieldLockPrice)
	if err != nil {
		return Round{}, err
	}
	settlePrice, err := rec.Int(fieldSettlePrice)
	if err != nil {
		return Round{}, err
	}
	return Round{
		ID:              id,
		Creator:         common.BytesToAddress(rec.Bytes(fieldCreator)),
		Asset:           rec.String(fieldAsset),
		LockTime:        rec.Uint(fieldLockTime),
		SettleTime:      rec.Uint(fieldSettleTime),
		Status:          Status(rec.Uint(fieldStatus)),
		LockPrice:       lockPrice,
		LockPrecision:   uint32(rec.Uint(fieldLockPrecision)),
		SettlePrice:     settlePrice,
		SettlePrecision: uint32(rec.Uint(fieldSettlePrecision)),
		UpCount:         rec.Uint(fieldUpCount),
		DownCount:       rec.Uint(fieldDownCount),
	}, nil
}
