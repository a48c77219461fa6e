package codec

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRecordFields(t *testing.T) {
	big, ok := sdkmath.NewIntFromString("-170141183460469231731687303715884105728")
	require.True(t, ok)

	var e Encoder
	b := e.Uint(1, 42).String(2, "XLM").Int(3, big).Bytes(4, []byte{0xde, 0xad}).Encode()

	r, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, uint64(42), r.Uint(1))
	require.Equal(t, "XLM", r.String(2))
	require.Equal(t, []byte{0xde, 0xad}, r.Bytes(4))

	got, err := r.Int(3)
	require.NoError(t, err)
	require.True(t, got.Equal(big))
}

func TestAbsentFields(t *testing.T) {
	var e Encoder
	b := e.Uint(1, 0).Int(2, sdkmath.Int{}).Encode()
	require.NotEmpty(t, b)

	r, err := Decode(b)
	require.NoError(t, err)
	require.False(t, r.Has(1))
	require.False(t, r.Has(2))

	v, err := r.Int(2)
	require.NoError(t, err)
	require.True(t, v.IsNil())
}

func TestUnknownFieldsSkipped(t *testing.T) {
	b := protowire.AppendTag(nil, 9, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 7)
	var e Encoder
	b = append(b, e.Uint(1, 5).Encode()...)

	r, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, uint64(5), r.Uint(1))
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{0x0a, 0x05, 'a'})
	require.Error(t, err)

	var e Encoder
	r, err := Decode(e.String(1, "not-a-number").Encode())
	require.NoError(t, err)
	_, err = r.Int(1)
	require.Error(t, err)
}
