package chain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func word(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

func addressWord(a common.Address) []byte {
	return word(a.Bytes())
}

func hasSelector(data, selector []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], selector)
}

// fakeBackend answers eth_call through onCall and records sent transactions.
type fakeBackend struct {
	mu        sync.Mutex
	onCall    func(msg ethereum.CallMsg) ([]byte, error)
	calls     int
	sent      []*types.Transaction
	receiptFn func(tx *types.Transaction) *types.Receipt
	sendErr   error
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.onCall == nil {
		return nil, errors.New("unexpected call")
	}
	return f.onCall(msg)
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			if f.receiptFn == nil {
				return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
			}
			return f.receiptFn(tx), nil
		}
	}
	return nil, ethereum.NotFound
}

type fakeSigner struct {
	addr common.Address
}

func (s fakeSigner) Address() common.Address { return s.addr }
func (s fakeSigner) ChainID() *big.Int       { return big.NewInt(8453) }
func (s fakeSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

type fakePriceCache struct {
	mu      sync.Mutex
	samples map[string]domain.PriceSample
}

func (c *fakePriceCache) SetPrice(_ context.Context, pair string, s domain.PriceSample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samples == nil {
		c.samples = make(map[string]domain.PriceSample)
	}
	c.samples[pair] = s
	return nil
}

func (c *fakePriceCache) GetPrice(_ context.Context, pair string) (domain.PriceSample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.samples[pair]
	if !ok {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	return s, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}
