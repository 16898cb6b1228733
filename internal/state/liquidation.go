package state

import fpmath "BatchLedger/internal/math"

// LiquidationResult splits a liquidated position's margin between the
// user, the penalty pool and any shortfall left for the insurance fund.
type LiquidationResult struct {
	Total         int64 // margin + realized pnl, may be negative
	UserRemainder int64 // returned to the user
	Penalty       int64 // routed to the insurance fund
	Shortfall     int64 // uncovered loss, positive when total < 0
}

// ComputeLiquidationResult settles margin against realized loss.
// When the loss exceeds margin the whole amount is shortfall and the
// user receives nothing; no penalty is charged on top of a bankruptcy.
func ComputeLiquidationResult(margin, realizedPnL, penaltyRate int64) (LiquidationResult, error) {
	total, err := fpmath.Add(margin, realizedPnL)
	if err != nil {
		return LiquidationResult{}, err
	}
	if total <= 0 {
		return LiquidationResult{Total: total, Shortfall: -total}, nil
	}
	penalty, err := fpmath.MulE6(total, penaltyRate)
	if err != nil {
		return LiquidationResult{}, err
	}
	remainder, err := fpmath.Sub(total, penalty)
	if err != nil {
		return LiquidationResult{}, err
	}
	return LiquidationResult{Total: total, UserRemainder: remainder, Penalty: penalty}, nil
}
