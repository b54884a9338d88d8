package domain

import (
	"context"
	"time"
)

// PriceSourceTag labels where a price sample came from.
type PriceSourceTag string

const (
	SourceUniswapV3 PriceSourceTag = "uniswap_v3"
	SourceFallback  PriceSourceTag = "fallback"
)

// PriceSample is one observation of the volatile asset priced in the stable
// asset.
type PriceSample struct {
	Price     float64        `json:"price"`
	Timestamp time.Time      `json:"timestamp"`
	Source    PriceSourceTag `json:"source"`
}

// Degraded reports whether the sample is the static fallback rather than a
// market price.
func (p PriceSample) Degraded() bool {
	return p.Source == SourceFallback
}

// PriceSource returns the current exchange rate. Implementations degrade to a
// fallback sample instead of failing whenever they can.
type PriceSource interface {
	GetPrice(ctx context.Context) (PriceSample, error)
}
