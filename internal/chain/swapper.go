package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const bpsDenominator = 10_000

// TxSigner signs transactions for a single account.
type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// SwapperConfig configures a Swapper.
type SwapperConfig struct {
	Router        common.Address
	PoolFee       uint32
	Pair          domain.Pair
	Deadline      time.Duration
	ReceiptPoll   time.Duration
	GasHeadroomPc uint64
}

// Swapper executes single-hop swaps through Uniswap SwapRouter02. Native ETH
// is routed as WETH: sent as msg.value on the way in, unwrapped by the router
// on the way out. It never retries.
type Swapper struct {
	backend Backend
	signer  TxSigner
	cfg     SwapperConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewSwapper creates a Swapper.
func NewSwapper(backend Backend, signer TxSigner, cfg SwapperConfig, logger *slog.Logger) *Swapper {
	if cfg.PoolFee == 0 {
		cfg.PoolFee = DefaultFeeTiers[0]
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 5 * time.Minute
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if cfg.GasHeadroomPc == 0 {
		cfg.GasHeadroomPc = 20
	}
	return &Swapper{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "swapper")),
		now:     time.Now,
	}
}

// MinAmountOut applies a slippage tolerance in basis points:
// expected * (10000 - bps) / 10000, rounded down.
func MinAmountOut(expected *big.Int, slippageBps int64) *big.Int {
	if expected == nil || expected.Sign() <= 0 {
		return big.NewInt(0)
	}
	if slippageBps < 0 {
		slippageBps = 0
	}
	if slippageBps > bpsDenominator {
		slippageBps = bpsDenominator
	}
	out := new(big.Int).Mul(expected, big.NewInt(bpsDenominator-slippageBps))
	return out.Quo(out, big.NewInt(bpsDenominator))
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// swapLeg is a SwapRequest resolved to on-chain addresses and base units.
type swapLeg struct {
	tokenIn    common.Address
	tokenOut   common.Address
	nativeIn   bool
	nativeOut  bool
	decOut     int32
	amountIn   *big.Int
	minOut     *big.Int
	recipient  common.Address
	outAddress common.Address
}

// ExecuteSwap implements domain.SwapExecutor.
func (s *Swapper) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	leg, err := s.resolve(req)
	if err != nil {
		return domain.SwapResult{Error: err.Error()}, fmt.Errorf("chain: swap: %w: %v", domain.ErrExecutionFailed, err)
	}

	if !leg.nativeIn {
		if err := s.ensureAllowance(ctx, leg.tokenIn, leg.amountIn); err != nil {
			return domain.SwapResult{Error: err.Error()}, fmt.Errorf("chain: swap: %w: %v", domain.ErrExecutionFailed, err)
		}
	}

	data, err := s.buildCalldata(leg)
	if err != nil {
		return domain.SwapResult{Error: err.Error()}, fmt.Errorf("chain: swap: %w: %v", domain.ErrExecutionFailed, err)
	}

	value := big.NewInt(0)
	if leg.nativeIn {
		value = leg.amountIn
	}

	tx, err := s.send(ctx, s.cfg.Router, value, data)
	if err != nil {
		return domain.SwapResult{Error: err.Error()}, fmt.Errorf("chain: swap: %w: %v", domain.ErrExecutionFailed, err)
	}
	ref := tx.Hash().Hex()
	s.logger.InfoContext(ctx, "swap submitted",
		slog.String("tx", ref),
		slog.String("token_in", leg.tokenIn.Hex()),
		slog.String("amount_in", leg.amountIn.String()),
		slog.String("min_out", leg.minOut.String()),
	)

	receipt, err := s.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return domain.SwapResult{TxRef: ref, Error: err.Error()}, fmt.Errorf("chain: swap: %w: %v", domain.ErrExecutionFailed, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.SwapResult{TxRef: ref, Error: "transaction reverted"}, nil
	}

	out := amountOutFromLogs(receipt.Logs, leg)
	return domain.SwapResult{
		Success:   true,
		TxRef:     ref,
		AmountOut: FromBaseUnits(out, leg.decOut),
	}, nil
}

func (s *Swapper) resolve(req domain.SwapRequest) (swapLeg, error) {
	pair := s.cfg.Pair
	var leg swapLeg

	decIn, tokenIn, nativeIn, err := s.token(req.TokenIn)
	if err != nil {
		return leg, err
	}
	decOut, tokenOut, nativeOut, err := s.token(req.TokenOut)
	if err != nil {
		return leg, err
	}
	if tokenIn == tokenOut {
		return leg, errors.New("token in and token out are the same asset")
	}
	if !req.AmountIn.IsPositive() {
		return leg, errors.New("amount in must be positive")
	}

	recipient := s.signer.Address()
	if req.Recipient != "" {
		if !common.IsHexAddress(req.Recipient) {
			return leg, fmt.Errorf("invalid recipient %q", req.Recipient)
		}
		recipient = common.HexToAddress(req.Recipient)
	}

	leg = swapLeg{
		tokenIn:   tokenIn,
		tokenOut:  tokenOut,
		nativeIn:  nativeIn,
		nativeOut: nativeOut,
		decOut:    decOut,
		amountIn:  ToBaseUnits(req.AmountIn, decIn),
		minOut:    MinAmountOut(ToBaseUnits(req.ExpectedOut, decOut), req.SlippageBps),
		recipient: recipient,
	}
	if leg.amountIn.Sign() <= 0 {
		return leg, fmt.Errorf("amount %s rounds to zero base units", req.AmountIn)
	}
	leg.outAddress = tokenOut
	if nativeOut {
		leg.outAddress = common.HexToAddress(pair.Wrapped)
	}
	return leg, nil
}

// token maps a request address to its path address and decimals.
func (s *Swapper) token(addr string) (int32, common.Address, bool, error) {
	pair := s.cfg.Pair
	switch {
	case domain.IsNative(addr):
		return pair.VolatileDecimals, common.HexToAddress(pair.Wrapped), true, nil
	case sameAddress(addr, pair.Wrapped) || sameAddress(addr, pair.Volatile):
		return pair.VolatileDecimals, common.HexToAddress(addr), false, nil
	case sameAddress(addr, pair.Stable):
		return pair.StableDecimals, common.HexToAddress(addr), false, nil
	default:
		return 0, common.Address{}, false, fmt.Errorf("unsupported token %s", addr)
	}
}

func (s *Swapper) buildCalldata(leg swapLeg) ([]byte, error) {
	params := exactInputSingleParams{
		TokenIn:           leg.tokenIn,
		TokenOut:          leg.tokenOut,
		Fee:               new(big.Int).SetUint64(uint64(s.cfg.PoolFee)),
		Recipient:         leg.recipient,
		AmountIn:          leg.amountIn,
		AmountOutMinimum:  leg.minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	}
	if !leg.nativeOut {
		return routerABI.Pack("exactInputSingle", params)
	}

	// Keep the WETH in the router, then unwrap it to the recipient.
	params.Recipient = routerSelf
	swap, err := routerABI.Pack("exactInputSingle", params)
	if err != nil {
		return nil, err
	}
	unwrap, err := routerABI.Pack("unwrapWETH9", leg.minOut, leg.recipient)
	if err != nil {
		return nil, err
	}
	deadline := big.NewInt(s.now().Add(s.cfg.Deadline).Unix())
	return routerABI.Pack("multicall", deadline, [][]byte{swap, unwrap})
}

func (s *Swapper) ensureAllowance(ctx context.Context, token common.Address, amount *big.Int) error {
	out, err := callContract(ctx, s.backend, token, erc20ABI, "allowance", s.signer.Address(), s.cfg.Router)
	if err != nil {
		return err
	}
	current, ok := out[0].(*big.Int)
	if !ok {
		return fmt.Errorf("allowance: unexpected type %T", out[0])
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	data, err := erc20ABI.Pack("approve", s.cfg.Router, amount)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	tx, err := s.send(ctx, token, big.NewInt(0), data)
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	s.logger.InfoContext(ctx, "approval submitted",
		slog.String("tx", tx.Hash().Hex()),
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
	)
	receipt, err := s.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return errors.New("approve reverted")
	}
	return nil
}

// send builds, signs and broadcasts an EIP-1559 transaction.
func (s *Swapper) send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	from := s.signer.Address()

	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * s.cfg.GasHeadroomPc / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := s.signer.SignTx(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return signed, nil
}

func (s *Swapper) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// amountOutFromLogs finds how much of the output token reached the
// recipient: a WETH Withdrawal when unwrapping, otherwise a Transfer.
func amountOutFromLogs(logs []*types.Log, leg swapLeg) *big.Int {
	total := new(big.Int)
	for _, l := range logs {
		if l == nil || l.Address != leg.outAddress || len(l.Topics) == 0 || len(l.Data) < 32 {
			continue
		}
		switch {
		case leg.nativeOut && l.Topics[0] == withdrawalTopic:
			total.Add(total, new(big.Int).SetBytes(l.Data[:32]))
		case !leg.nativeOut && l.Topics[0] == transferTopic && len(l.Topics) == 3 &&
			common.BytesToAddress(l.Topics[2].Bytes()) == leg.recipient:
			total.Add(total, new(big.Int).SetBytes(l.Data[:32]))
		}
	}
	return total
}

var _ domain.SwapExecutor = (*Swapper)(nil)
