package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

var testWallet = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newTestSwapper(b *fakeBackend) *Swapper {
	return NewSwapper(b, fakeSigner{addr: testWallet}, SwapperConfig{
		Router: common.HexToAddress(SwapRouter02Base),
		Pair:   domain.BasePair(),
	}, discardLogger())
}

func TestMinAmountOut(t *testing.T) {
	cases := []struct {
		expected int64
		bps      int64
		want     int64
	}{
		{1_000_000, 50, 995_000},
		{999, 30, 996},
		{1_000, 0, 1_000},
		{1_000, 10_000, 0},
	}
	for _, tc := range cases {
		got := MinAmountOut(big.NewInt(tc.expected), tc.bps)
		if got.Int64() != tc.want {
			t.Errorf("MinAmountOut(%d, %d) = %s, want %d", tc.expected, tc.bps, got, tc.want)
		}
	}
	if MinAmountOut(nil, 50).Sign() != 0 {
		t.Error("expected zero for nil input")
	}
}

func TestSwapper_NativeInSendsValueAndReadsTransfer(t *testing.T) {
	usdc := common.HexToAddress(domain.USDCBase)
	b := &fakeBackend{
		receiptFn: func(*types.Transaction) *types.Receipt {
			return &types.Receipt{
				Status: types.ReceiptStatusSuccessful,
				Logs: []*types.Log{{
					Address: usdc,
					Topics: []common.Hash{
						transferTopic,
						common.BytesToHash(testPool.Bytes()),
						common.BytesToHash(testWallet.Bytes()),
					},
					Data: word(big.NewInt(1_745_000_000).Bytes()),
				}},
			}
		},
	}
	s := newTestSwapper(b)

	res, err := s.ExecuteSwap(context.Background(), domain.SwapRequest{
		TokenIn:     domain.NativeETH,
		TokenOut:    domain.USDCBase,
		AmountIn:    decimal.RequireFromString("0.5"),
		ExpectedOut: decimal.RequireFromString("1750"),
		SlippageBps: 50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if !res.AmountOut.Equal(decimal.RequireFromString("1745")) {
		t.Errorf("expected 1745 USDC out, got %s", res.AmountOut)
	}
	if b.calls != 0 {
		t.Errorf("native input must not check allowance, got %d calls", b.calls)
	}
	if len(b.sent) != 1 {
		t.Fatalf("expected 1 tx, got %d", len(b.sent))
	}

	tx := b.sent[0]
	want, _ := new(big.Int).SetString("500000000000000000", 10)
	if tx.Value().Cmp(want) != 0 {
		t.Errorf("expected msg.value %s, got %s", want, tx.Value())
	}
	if *tx.To() != common.HexToAddress(SwapRouter02Base) {
		t.Errorf("expected router as target, got %s", tx.To().Hex())
	}
	if !hasSelector(tx.Data(), routerABI.Methods["exactInputSingle"].ID) {
		t.Fatal("expected exactInputSingle calldata")
	}
	// Static tuple: amountOutMinimum is the sixth word after the selector.
	minOut := new(big.Int).SetBytes(tx.Data()[4+5*32 : 4+6*32])
	if minOut.Int64() != 1_741_250_000 {
		t.Errorf("expected min out 1741250000, got %s", minOut)
	}
	if tx.Gas() != 120_000 {
		t.Errorf("expected 20%% gas headroom, got %d", tx.Gas())
	}
}

func TestSwapper_ERC20InApprovesThenUnwraps(t *testing.T) {
	weth := common.HexToAddress(domain.WETHBase)
	router := common.HexToAddress(SwapRouter02Base)
	b := &fakeBackend{
		onCall: func(msg ethereum.CallMsg) ([]byte, error) {
			// Existing allowance is too small.
			return word(big.NewInt(1).Bytes()), nil
		},
		receiptFn: func(tx *types.Transaction) *types.Receipt {
			if *tx.To() != router {
				return &types.Receipt{Status: types.ReceiptStatusSuccessful}
			}
			return &types.Receipt{
				Status: types.ReceiptStatusSuccessful,
				Logs: []*types.Log{{
					Address: weth,
					Topics:  []common.Hash{withdrawalTopic, common.BytesToHash(router.Bytes())},
					Data:    word(big.NewInt(28_000_000_000_000_000).Bytes()),
				}},
			}
		},
	}
	s := newTestSwapper(b)

	res, err := s.ExecuteSwap(context.Background(), domain.SwapRequest{
		TokenIn:     domain.USDCBase,
		TokenOut:    domain.NativeETH,
		AmountIn:    decimal.RequireFromString("100"),
		ExpectedOut: decimal.RequireFromString("0.0285"),
		SlippageBps: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if !res.AmountOut.Equal(decimal.RequireFromString("0.028")) {
		t.Errorf("expected 0.028 ETH out, got %s", res.AmountOut)
	}
	if len(b.sent) != 2 {
		t.Fatalf("expected approve + swap, got %d txs", len(b.sent))
	}

	approve, swap := b.sent[0], b.sent[1]
	if *approve.To() != common.HexToAddress(domain.USDCBase) || !hasSelector(approve.Data(), erc20ABI.Methods["approve"].ID) {
		t.Error("expected first tx to approve USDC")
	}
	if !hasSelector(swap.Data(), routerABI.Methods["multicall"].ID) {
		t.Error("expected native output to go through multicall")
	}
	if swap.Value().Sign() != 0 {
		t.Errorf("ERC-20 input must not send value, got %s", swap.Value())
	}
}

func TestSwapper_RevertIsFailedResult(t *testing.T) {
	b := &fakeBackend{
		receiptFn: func(*types.Transaction) *types.Receipt {
			return &types.Receipt{Status: types.ReceiptStatusFailed}
		},
	}
	s := newTestSwapper(b)

	res, err := s.ExecuteSwap(context.Background(), domain.SwapRequest{
		TokenIn:     domain.NativeETH,
		TokenOut:    domain.USDCBase,
		AmountIn:    decimal.RequireFromString("0.1"),
		ExpectedOut: decimal.RequireFromString("350"),
		SlippageBps: 50,
	})
	if err != nil {
		t.Fatalf("revert should be reported on the result, got error %v", err)
	}
	if res.Success || res.TxRef == "" {
		t.Errorf("expected failed result with tx ref, got %+v", res)
	}
}

func TestSwapper_RejectsUnknownToken(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSwapper(b)

	res, err := s.ExecuteSwap(context.Background(), domain.SwapRequest{
		TokenIn:  "0x0000000000000000000000000000000000000bad",
		TokenOut: domain.USDCBase,
		AmountIn: decimal.RequireFromString("1"),
	})
	if err == nil || res.Success {
		t.Fatal("expected failure for unsupported token")
	}
	if len(b.sent) != 0 {
		t.Error("no transaction should be sent")
	}
}
