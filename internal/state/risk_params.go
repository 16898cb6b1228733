package state

import "errors"

var (
	ErrInvalidMarket   = errors.New("state: market not registered")
	ErrInvalidLeverage = errors.New("state: leverage out of range")
)

// Default risk parameters, e6 ratios.
const (
	DefaultMaintenanceMarginRatio int64 = 25_000 // 2.5%
	DefaultLiquidationPenaltyRate int64 = 10_000 // 1.0%
	DefaultTradingFeeRate         int64 = 1_000  // 0.1%
	DefaultMaxLeverage            uint8 = 100
)

// MarketParams are the per-market risk knobs.
type MarketParams struct {
	MarketIndex            uint8
	Symbol                 string
	MaintenanceMarginRatio int64
	LiquidationPenaltyRate int64
	TradingFeeRate         int64
	MaxLeverage            uint8
}

// DefaultMarketParams fills a market with the standard parameters.
func DefaultMarketParams(market uint8, symbol string) MarketParams {
	return MarketParams{
		MarketIndex:            market,
		Symbol:                 symbol,
		MaintenanceMarginRatio: DefaultMaintenanceMarginRatio,
		LiquidationPenaltyRate: DefaultLiquidationPenaltyRate,
		TradingFeeRate:         DefaultTradingFeeRate,
		MaxLeverage:            DefaultMaxLeverage,
	}
}

// RiskParams holds registered markets. Operations on an unregistered
// market index fail rather than falling back to defaults.
type RiskParams struct {
	markets map[uint8]MarketParams
}

func NewRiskParams() *RiskParams {
	return &RiskParams{markets: make(map[uint8]MarketParams)}
}

// Register adds or replaces a market definition.
func (r *RiskParams) Register(p MarketParams) {
	r.markets[p.MarketIndex] = p
}

// Market returns the params for a registered market.
func (r *RiskParams) Market(market uint8) (MarketParams, error) {
	p, ok := r.markets[market]
	if !ok {
		return MarketParams{}, ErrInvalidMarket
	}
	return p, nil
}

// ValidateLeverage checks a requested leverage against market bounds.
func (r *RiskParams) ValidateLeverage(market uint8, leverage uint8) error {
	p, err := r.Market(market)
	if err != nil {
		return err
	}
	if leverage == 0 || leverage > p.MaxLeverage {
		return ErrInvalidLeverage
	}
	return nil
}

// Markets returns the registered market indexes in ascending order.
func (r *RiskParams) Markets() []uint8 {
	out := make([]uint8, 0, len(r.markets))
	for m := range r.markets {
		out = append(out, m)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
