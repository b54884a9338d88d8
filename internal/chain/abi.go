package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const factoryABIJSON = `[
  {"name":"getPool","type":"function","stateMutability":"view",
   "inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],
   "outputs":[{"name":"pool","type":"address"}]}
]`

const poolABIJSON = `[
  {"name":"slot0","type":"function","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"sqrtPriceX96","type":"uint160"},
     {"name":"tick","type":"int24"},
     {"name":"observationIndex","type":"uint16"},
     {"name":"observationCardinality","type":"uint16"},
     {"name":"observationCardinalityNext","type":"uint16"},
     {"name":"feeProtocol","type":"uint8"},
     {"name":"unlocked","type":"bool"}]},
  {"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const erc20ABIJSON = `[
  {"name":"balanceOf","type":"function","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const routerABIJSON = `[
  {"name":"exactInputSingle","type":"function","stateMutability":"payable",
   "inputs":[{"name":"params","type":"tuple","components":[
     {"name":"tokenIn","type":"address"},
     {"name":"tokenOut","type":"address"},
     {"name":"fee","type":"uint24"},
     {"name":"recipient","type":"address"},
     {"name":"amountIn","type":"uint256"},
     {"name":"amountOutMinimum","type":"uint256"},
     {"name":"sqrtPriceLimitX96","type":"uint160"}]}],
   "outputs":[{"name":"amountOut","type":"uint256"}]},
  {"name":"multicall","type":"function","stateMutability":"payable",
   "inputs":[{"name":"deadline","type":"uint256"},{"name":"data","type":"bytes[]"}],
   "outputs":[{"name":"results","type":"bytes[]"}]},
  {"name":"unwrapWETH9","type":"function","stateMutability":"payable",
   "inputs":[{"name":"amountMinimum","type":"uint256"},{"name":"recipient","type":"address"}],"outputs":[]}
]`

var (
	factoryABI = mustParseABI(factoryABIJSON)
	poolABI    = mustParseABI(poolABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)
	routerABI  = mustParseABI(routerABIJSON)
)

// Event topics read from swap receipts.
var (
	transferTopic   = ethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	withdrawalTopic = ethcrypto.Keccak256Hash([]byte("Withdrawal(address,uint256)"))
)

// routerSelf is the SwapRouter02 sentinel recipient meaning "keep the output
// in the router", used before unwrapping WETH.
var routerSelf = common.HexToAddress("0x0000000000000000000000000000000000000002")

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return parsed
}
