package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Token addresses on Base.
const (
	NativeETH = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
	USDCBase  = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	WETHBase  = "0x4200000000000000000000000000000000000006"

	USDCDecimals = 6
	ETHDecimals  = 18
)

// FeeReserve is the volatile balance always left in the wallet to pay gas.
var FeeReserve = decimal.RequireFromString("0.001")

// Pair describes the traded pair and where each side lives on chain.
type Pair struct {
	Volatile         string `json:"volatile"`
	VolatileSymbol   string `json:"volatile_symbol"`
	VolatileDecimals int32  `json:"volatile_decimals"`
	Wrapped          string `json:"wrapped"`
	Stable           string `json:"stable"`
	StableSymbol     string `json:"stable_symbol"`
	StableDecimals   int32  `json:"stable_decimals"`
}

// BasePair is ETH/USDC on Base.
func BasePair() Pair {
	return Pair{
		Volatile:         NativeETH,
		VolatileSymbol:   "ETH",
		VolatileDecimals: ETHDecimals,
		Wrapped:          WETHBase,
		Stable:           USDCBase,
		StableSymbol:     "USDC",
		StableDecimals:   USDCDecimals,
	}
}

// IsNative reports whether addr is the native-asset sentinel.
func IsNative(addr string) bool {
	return strings.EqualFold(addr, NativeETH)
}
