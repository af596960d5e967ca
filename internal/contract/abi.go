package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// marketABI is the subset of the bonding-curve factory interface the indexer uses.
const marketABI = `[
	{"type":"event","name":"Launch","anonymous":false,"inputs":[
		{"name":"launcher","type":"address","indexed":true},
		{"name":"tokenAddress","type":"address","indexed":true},
		{"name":"name","type":"string","indexed":false},
		{"name":"symbol","type":"string","indexed":false},
		{"name":"totalSupply","type":"uint256","indexed":false},
		{"name":"curveSize","type":"uint8","indexed":false}]},
	{"type":"event","name":"Buy","anonymous":false,"inputs":[
		{"name":"buyer","type":"address","indexed":true},
		{"name":"tokenAddress","type":"address","indexed":true},
		{"name":"ethAmountIn","type":"uint256","indexed":false},
		{"name":"tokenAmountOut","type":"uint256","indexed":false}]},
	{"type":"event","name":"Sell","anonymous":false,"inputs":[
		{"name":"seller","type":"address","indexed":true},
		{"name":"tokenAddress","type":"address","indexed":true},
		{"name":"tokenAmountIn","type":"uint256","indexed":false},
		{"name":"ethAmountOut","type":"uint256","indexed":false}]},
	{"type":"event","name":"Donation","anonymous":false,"inputs":[
		{"name":"tokenAddress","type":"address","indexed":true}]},
	{"type":"event","name":"Complete","anonymous":false,"inputs":[
		{"name":"tokenAddress","type":"address","indexed":true}]},
	{"type":"event","name":"Graduate","anonymous":false,"inputs":[
		{"name":"tokenAddress","type":"address","indexed":true},
		{"name":"pairAddress","type":"address","indexed":false}]},
	{"type":"function","name":"virtualX","stateMutability":"view",
		"inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"virtualY","stateMutability":"view",
		"inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"K","stateMutability":"view",
		"inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"X0","stateMutability":"view",
		"inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"Y0","stateMutability":"view",
		"inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"X1","stateMutability":"view",
		"inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"Y1","stateMutability":"view",
		"inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"graduate","stateMutability":"nonpayable",
		"inputs":[{"name":"token","type":"address"}],"outputs":[]}
]`

var parsedABI = mustParseABI(marketABI)

func mustParseABI(definition string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return &parsed
}

// MarketABI returns the parsed contract interface.
func MarketABI() *abi.ABI {
	return parsedABI
}
