package contract

import (
	"math/big"
	"strings"
	"testing"

	"github.com/curvewatch/indexer/internal/common"
	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testToken    = gethCommon.HexToAddress("0x00000000000000000000000000000000000000aa")
	testTrader   = gethCommon.HexToAddress("0x00000000000000000000000000000000000000bb")
	testPair     = gethCommon.HexToAddress("0x00000000000000000000000000000000000000cc")
	testLauncher = gethCommon.HexToAddress("0x00000000000000000000000000000000000000dd")
)

func encodedLog(t *testing.T, name EventName, args map[string]interface{}) *common.RawLog {
	t.Helper()
	topics, data, err := EncodeEvent(name, args)
	require.NoError(t, err)
	return &common.RawLog{Topics: topics, Data: data, TransactionHash: "0x01", BlockNumber: 1}
}

func lower(a gethCommon.Address) string {
	return strings.ToLower(a.Hex())
}

func TestDecodeLaunch(t *testing.T) {
	supply := new(big.Int).Mul(big.NewInt(10000), common.Scale)
	l := encodedLog(t, EventLaunch, map[string]interface{}{
		"launcher":     testLauncher,
		"tokenAddress": testToken,
		"name":         "Curve Cat",
		"symbol":       "CCAT",
		"totalSupply":  supply,
		"curveSize":    uint8(1),
	})

	ev, err := NewDecoder().Decode(l)
	require.NoError(t, err)

	launch, ok := ev.(LaunchEvent)
	require.True(t, ok)
	assert.Equal(t, EventLaunch, launch.Name())
	assert.Equal(t, lower(testToken), launch.TokenAddress())
	assert.Equal(t, lower(testLauncher), launch.Launcher)
	assert.Equal(t, "Curve Cat", launch.TokenName)
	assert.Equal(t, "CCAT", launch.Symbol)
	assert.Equal(t, 0, supply.Cmp(launch.TotalSupply))
	assert.Equal(t, uint8(1), launch.CurveSize)
	assert.Same(t, l, launch.Log())
}

func TestDecodeTrades(t *testing.T) {
	buyLog := encodedLog(t, EventBuy, map[string]interface{}{
		"buyer":          testTrader,
		"tokenAddress":   testToken,
		"ethAmountIn":    big.NewInt(100),
		"tokenAmountOut": big.NewInt(400),
	})
	sellLog := encodedLog(t, EventSell, map[string]interface{}{
		"seller":        testTrader,
		"tokenAddress":  testToken,
		"tokenAmountIn": big.NewInt(400),
		"ethAmountOut":  big.NewInt(99),
	})

	d := NewDecoder()
	ev, err := d.Decode(buyLog)
	require.NoError(t, err)
	buy := ev.(BuyEvent)
	assert.Equal(t, lower(testTrader), buy.Buyer)
	assert.Equal(t, int64(100), buy.QuoteIn.Int64())
	assert.Equal(t, int64(400), buy.TokenOut.Int64())

	ev, err = d.Decode(sellLog)
	require.NoError(t, err)
	sell := ev.(SellEvent)
	assert.Equal(t, lower(testTrader), sell.Seller)
	assert.Equal(t, int64(400), sell.TokenIn.Int64())
	assert.Equal(t, int64(99), sell.QuoteOut.Int64())
}

func TestDecodeLifecycleEvents(t *testing.T) {
	d := NewDecoder()

	ev, err := d.Decode(encodedLog(t, EventDonation, map[string]interface{}{"tokenAddress": testToken}))
	require.NoError(t, err)
	assert.IsType(t, DonationEvent{}, ev)

	ev, err = d.Decode(encodedLog(t, EventComplete, map[string]interface{}{"tokenAddress": testToken}))
	require.NoError(t, err)
	assert.IsType(t, CompleteEvent{}, ev)

	ev, err = d.Decode(encodedLog(t, EventGraduate, map[string]interface{}{"tokenAddress": testToken, "pairAddress": testPair}))
	require.NoError(t, err)
	graduate := ev.(GraduateEvent)
	assert.Equal(t, lower(testPair), graduate.PairAddress)
	assert.Equal(t, lower(testToken), graduate.TokenAddress())
}

func TestDecodeRejectsUnknownAndMalformedLogs(t *testing.T) {
	d := NewDecoder()

	_, err := d.Decode(&common.RawLog{})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = d.Decode(&common.RawLog{Topics: []string{"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"}})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	l := encodedLog(t, EventBuy, map[string]interface{}{
		"buyer":          testTrader,
		"tokenAddress":   testToken,
		"ethAmountIn":    big.NewInt(1),
		"tokenAmountOut": big.NewInt(1),
	})
	l.Data = "0x1234"
	_, err = d.Decode(l)
	assert.Error(t, err)

	l = encodedLog(t, EventDonation, map[string]interface{}{"tokenAddress": gethCommon.Address{}})
	_, err = d.Decode(l)
	assert.ErrorIs(t, err, ErrNoTokenAddress)
}
