package rpc

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reservesPayload struct {
	Token    string   `json:"token"`
	VirtualX *big.Int `json:"virtualX"`
	VirtualY *big.Int `json:"virtualY"`
	Count    int      `json:"count"`
}

func TestLosslessCodecRoundTripsLargeIntegers(t *testing.T) {
	x, ok := new(big.Int).SetString("12000000000000000000000", 10)
	require.True(t, ok)
	in := reservesPayload{Token: "0xabc", VirtualX: x, VirtualY: big.NewInt(-7), Count: 3}

	data, err := MarshalLossless(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"virtualX":"12000000000000000000000n"`)
	assert.Contains(t, string(data), `"virtualY":-7`)
	assert.Contains(t, string(data), `"count":3`)

	var out reservesPayload
	require.NoError(t, UnmarshalLossless(data, &out))
	assert.Equal(t, 0, x.Cmp(out.VirtualX))
	assert.Equal(t, int64(-7), out.VirtualY.Int64())
	assert.Equal(t, "0xabc", out.Token)
}

func TestLosslessCodecLeavesOrdinaryStrings(t *testing.T) {
	data, err := MarshalLossless(map[string]interface{}{"label": "12n apples", "n": "42n"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, UnmarshalLossless(data, &out))
	assert.Equal(t, "12n apples", out["label"])
	assert.Equal(t, "42", out["n"].(interface{ String() string }).String())
}

func TestResultQuantities(t *testing.T) {
	n, err := Result(`"0xff"`).Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(255), n)

	b, err := Result(`"0x10000000000000000000000"`).BigInt()
	require.NoError(t, err)
	assert.Equal(t, "309485009821345068724781056", b.String())

	assert.True(t, Result(`null`).IsNull())
	_, err = Result(`null`).Bytes()
	assert.Error(t, err)
}
