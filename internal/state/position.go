package state

import (
	"time"

	"github.com/google/uuid"

	"BatchLedger/internal/event"
	fpmath "BatchLedger/internal/math"
)

// Position is one user's exposure in one market. All monetary fields
// are e6 fixed point. Margin is the collateral locked against the
// position; it never reflects unrealized PnL.
type Position struct {
	UserID            uuid.UUID
	MarketIndex       uint8
	Side              event.Side
	Size              int64
	EntryPrice        int64
	Margin            int64
	Leverage          uint8
	LiquidationPrice  int64
	CumulativeFunding int64
	LastFundingTS     time.Time
	Version           uint64
}

// IsEmpty reports whether the position holds no exposure.
func (p *Position) IsEmpty() bool {
	return p.Size == 0 || p.Side == event.SideFlat
}

// ComputeLiquidationPrice derives the trigger price from the entry
// price, leverage and maintenance margin ratio.
//
//	long:  entry * (1 - 1/leverage + mmr)
//	short: entry * (1 + 1/leverage - mmr)
func ComputeLiquidationPrice(side event.Side, entryPrice int64, leverage uint8, maintenanceMarginRatio int64) (int64, error) {
	inverse := fpmath.Scale / int64(leverage)
	var factor int64
	switch side {
	case event.SideLong:
		factor = fpmath.Scale - inverse + maintenanceMarginRatio
	case event.SideShort:
		factor = fpmath.Scale + inverse - maintenanceMarginRatio
	default:
		return 0, nil
	}
	if factor < 0 {
		factor = 0
	}
	return fpmath.MulE6(entryPrice, factor)
}

// UnrealizedPnLAt values the position at the given price.
func (p *Position) UnrealizedPnLAt(price int64) (int64, error) {
	return fpmath.ComputePnL(int64(p.Side.Sign()), price, p.EntryPrice, p.Size)
}

// ShouldLiquidate reports whether the mark price has crossed the
// liquidation trigger.
func (p *Position) ShouldLiquidate(markPrice int64) bool {
	if p.IsEmpty() {
		return false
	}
	switch p.Side {
	case event.SideLong:
		return markPrice <= p.LiquidationPrice
	case event.SideShort:
		return markPrice >= p.LiquidationPrice
	default:
		return false
	}
}

// Clone returns a deep copy for staged mutation.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
