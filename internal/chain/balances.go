package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// BalanceReader reads on-chain holdings of both sides of the pair.
type BalanceReader struct {
	backend Backend
	pair    domain.Pair
}

// NewBalanceReader creates a BalanceReader.
func NewBalanceReader(backend Backend, pair domain.Pair) *BalanceReader {
	return &BalanceReader{backend: backend, pair: pair}
}

// GetBalances implements domain.BalanceSource.
func (r *BalanceReader) GetBalances(ctx context.Context, address string, price float64) (domain.Balances, error) {
	if !common.IsHexAddress(address) {
		return domain.Balances{}, fmt.Errorf("chain: balances: invalid address %q", address)
	}
	owner := common.HexToAddress(address)

	vol, err := r.tokenBalance(ctx, r.pair.Volatile, owner)
	if err != nil {
		return domain.Balances{}, fmt.Errorf("chain: balances: %s: %w", r.pair.VolatileSymbol, err)
	}
	stable, err := r.tokenBalance(ctx, r.pair.Stable, owner)
	if err != nil {
		return domain.Balances{}, fmt.Errorf("chain: balances: %s: %w", r.pair.StableSymbol, err)
	}

	return domain.NewBalances(
		FromBaseUnits(vol, r.pair.VolatileDecimals),
		FromBaseUnits(stable, r.pair.StableDecimals),
		price,
	), nil
}

func (r *BalanceReader) tokenBalance(ctx context.Context, token string, owner common.Address) (*big.Int, error) {
	if domain.IsNative(token) {
		return r.backend.BalanceAt(ctx, owner, nil)
	}
	out, err := callContract(ctx, r.backend, common.HexToAddress(token), erc20ABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected type %T", out[0])
	}
	return bal, nil
}

// ToBaseUnits converts a human amount into integer base units, truncating
// any precision beyond decimals.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts integer base units into a human amount.
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

var _ domain.BalanceSource = (*BalanceReader)(nil)
