// Package chain talks to an EVM network: it prices the pair from Uniswap V3
// pool state, reads wallet balances and submits router swaps.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Well-known contract addresses on Base.
const (
	UniswapV3FactoryBase = "0x33128a8fC17869897dcE68Ed026d694621f6FDfD"
	SwapRouter02Base     = "0x2626664c2603336E57B271c5C0b26F421741e481"
)

// DefaultFeeTiers is the order in which pools are probed.
var DefaultFeeTiers = []uint32{500, 3000, 10000}

var chainIDs = map[string]int64{
	"base": 8453,
}

// ChainID resolves a chain name to its numeric id.
func ChainID(name string) (int64, bool) {
	id, ok := chainIDs[strings.ToLower(name)]
	return id, ok
}

// Caller is the read-only subset of an RPC client used for eth_call.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Backend is the subset of *ethclient.Client this package depends on.
type Backend interface {
	Caller
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial connects to rpcURL and checks that the node serves the expected chain.
func Dial(ctx context.Context, rpcURL string, wantChainID int64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}

	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if wantChainID != 0 && id.Int64() != wantChainID {
		client.Close()
		return nil, fmt.Errorf("chain: rpc serves chain %s, want %d", id, wantChainID)
	}
	return client, nil
}

var _ Backend = (*ethclient.Client)(nil)
