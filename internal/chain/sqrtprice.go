package chain

import (
	"math/big"
)

const floatPrec = 256

var q192 = new(big.Float).SetPrec(floatPrec).SetInt(new(big.Int).Lsh(big.NewInt(1), 192))

// DecodeSqrtPriceX96 turns a pool's Q64.96 square-root price into the human
// price of the volatile asset in the stable asset.
//
// The pool encodes sqrt(token1/token0) in raw base units. Squaring, dividing
// by 2^192 and scaling by 10^(dec0-dec1) gives token1 per token0; the result
// is inverted when the volatile asset is token1. Non-positive input yields 0.
func DecodeSqrtPriceX96(sqrtPriceX96 *big.Int, dec0, dec1 int32, volatileIsToken0 bool) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return 0
	}

	s := new(big.Float).SetPrec(floatPrec).SetInt(sqrtPriceX96)
	ratio := new(big.Float).SetPrec(floatPrec).Mul(s, s)
	ratio.Quo(ratio, q192)
	ratio.Mul(ratio, pow10(dec0-dec1))

	if !volatileIsToken0 {
		if ratio.Sign() == 0 {
			return 0
		}
		ratio.Quo(new(big.Float).SetPrec(floatPrec).SetInt64(1), ratio)
	}

	price, _ := ratio.Float64()
	return price
}

func pow10(exp int32) *big.Float {
	neg := exp < 0
	if neg {
		exp = -exp
	}
	p := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
	f := new(big.Float).SetPrec(floatPrec).SetInt(p)
	if neg {
		return new(big.Float).SetPrec(floatPrec).Quo(big.NewFloat(1).SetPrec(floatPrec), f)
	}
	return f
}
