package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// fallbackAlertInterval bounds how often the degraded-oracle alert fires.
const fallbackAlertInterval = 5 * time.Minute

// OracleConfig configures an Oracle.
type OracleConfig struct {
	Factory       common.Address
	FeeTiers      []uint32
	FallbackPrice float64
	CallTimeout   time.Duration
	Pair          domain.Pair
}

// OracleOption customises an Oracle.
type OracleOption func(*Oracle)

// WithPriceCache stores every market sample in cache.
func WithPriceCache(cache domain.PriceCache) OracleOption {
	return func(o *Oracle) { o.cache = cache }
}

// WithSignalBus publishes fallback events on domain.ChannelOracle.
func WithSignalBus(bus domain.SignalBus) OracleOption {
	return func(o *Oracle) { o.bus = bus }
}

// WithFallbackAlert registers fn to be called, at most once per five
// minutes, when the oracle serves the fallback price.
func WithFallbackAlert(fn func(ctx context.Context, sample domain.PriceSample, cause error)) OracleOption {
	return func(o *Oracle) { o.alert = fn }
}

// Oracle prices the pair from the first Uniswap V3 pool that reports a
// positive price, probing fee tiers in order. When no pool answers it returns
// a fallback sample instead of an error.
type Oracle struct {
	caller Caller
	cfg    OracleConfig
	cache  domain.PriceCache
	bus    domain.SignalBus
	alert  func(ctx context.Context, sample domain.PriceSample, cause error)
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastAlert time.Time
}

// NewOracle creates an Oracle reading pool state through caller.
func NewOracle(caller Caller, cfg OracleConfig, logger *slog.Logger, opts ...OracleOption) *Oracle {
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = DefaultFeeTiers
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	o := &Oracle{
		caller: caller,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "oracle")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PairKey is the cache key for the oracle's pair, e.g. "ETH-USDC".
func (o *Oracle) PairKey() string {
	return o.cfg.Pair.VolatileSymbol + "-" + o.cfg.Pair.StableSymbol
}

// GetPrice implements domain.PriceSource. It never returns an error; a
// degraded sample carries domain.SourceFallback.
func (o *Oracle) GetPrice(ctx context.Context) (domain.PriceSample, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	price, err := o.poolPrice(callCtx)
	if err != nil {
		return o.fallback(ctx, err), nil
	}

	sample := domain.PriceSample{
		Price:     price,
		Timestamp: o.now().UTC(),
		Source:    domain.SourceUniswapV3,
	}
	if o.cache != nil {
		if cerr := o.cache.SetPrice(ctx, o.PairKey(), sample); cerr != nil {
			o.logger.DebugContext(ctx, "price cache write failed", slog.String("error", cerr.Error()))
		}
	}
	return sample, nil
}

func (o *Oracle) poolPrice(ctx context.Context) (float64, error) {
	var lastErr error
	for _, fee := range o.cfg.FeeTiers {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		price, err := o.readPool(ctx, fee)
		if err != nil {
			o.logger.DebugContext(ctx, "pool read failed",
				slog.Int64("fee", int64(fee)),
				slog.String("error", err.Error()),
			)
			lastErr = err
			continue
		}
		if price > 0 && !math.IsInf(price, 0) && !math.IsNaN(price) {
			return price, nil
		}
		lastErr = fmt.Errorf("fee %d: non-positive price", fee)
	}
	if lastErr == nil {
		lastErr = errors.New("no fee tiers configured")
	}
	return 0, fmt.Errorf("%w: %v", domain.ErrOracleDegraded, lastErr)
}

var errNoPool = errors.New("pool not deployed")

func (o *Oracle) readPool(ctx context.Context, fee uint32) (float64, error) {
	pair := o.cfg.Pair
	volatile := common.HexToAddress(pair.Wrapped)
	stable := common.HexToAddress(pair.Stable)

	out, err := o.call(ctx, o.cfg.Factory, factoryABI, "getPool", volatile, stable, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return 0, err
	}
	pool, ok := out[0].(common.Address)
	if !ok {
		return 0, fmt.Errorf("getPool: unexpected type %T", out[0])
	}
	if pool == (common.Address{}) {
		return 0, fmt.Errorf("fee %d: %w", fee, errNoPool)
	}

	out, err = o.call(ctx, pool, poolABI, "slot0")
	if err != nil {
		return 0, err
	}
	sqrtPrice, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("slot0: unexpected type %T", out[0])
	}

	token0, err := o.address(ctx, pool, "token0")
	if err != nil {
		return 0, err
	}
	token1, err := o.address(ctx, pool, "token1")
	if err != nil {
		return 0, err
	}

	volatileIsToken0 := token0 == volatile
	if !volatileIsToken0 && token1 != volatile {
		return 0, fmt.Errorf("pool %s does not hold %s", pool.Hex(), pair.Wrapped)
	}

	dec0, dec1 := pair.VolatileDecimals, pair.StableDecimals
	if !volatileIsToken0 {
		dec0, dec1 = pair.StableDecimals, pair.VolatileDecimals
	}
	return DecodeSqrtPriceX96(sqrtPrice, dec0, dec1, volatileIsToken0), nil
}

func (o *Oracle) address(ctx context.Context, contract common.Address, method string) (common.Address, error) {
	out, err := o.call(ctx, contract, poolABI, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return addr, nil
}

func (o *Oracle) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	return callContract(ctx, o.caller, to, parsed, method, args...)
}

func (o *Oracle) fallback(ctx context.Context, cause error) domain.PriceSample {
	sample := domain.PriceSample{
		Price:     o.cfg.FallbackPrice,
		Timestamp: o.now().UTC(),
		Source:    domain.SourceFallback,
	}
	o.logger.WarnContext(ctx, "oracle degraded, using fallback price",
		slog.Float64("price", sample.Price),
		slog.String("error", cause.Error()),
	)

	if o.bus != nil {
		payload, err := json.Marshal(domain.Event{
			Type:    "oracle_fallback",
			Payload: map[string]any{"price": sample.Price, "reason": cause.Error()},
			At:      sample.Timestamp,
		})
		if err == nil {
			if perr := o.bus.Publish(ctx, domain.ChannelOracle, payload); perr != nil {
				o.logger.DebugContext(ctx, "oracle signal publish failed", slog.String("error", perr.Error()))
			}
		}
	}

	if o.alert != nil && o.shouldAlert(sample.Timestamp) {
		o.alert(ctx, sample, cause)
	}
	return sample
}

func (o *Oracle) shouldAlert(now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.lastAlert.IsZero() && now.Sub(o.lastAlert) < fallbackAlertInterval {
		return false
	}
	o.lastAlert = now
	return true
}

// callContract packs method, performs an eth_call and unpacks the result.
func callContract(ctx context.Context, caller Caller, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
