package state

import (
	"errors"

	"BatchLedger/internal/event"
	fpmath "BatchLedger/internal/math"
)

var ErrNoOpposingPositions = errors.New("state: no profitable opposing positions")

// ADLCandidate is one position eligible for auto-deleveraging, scored
// by profit relative to margin. Higher scores are deleveraged first.
type ADLCandidate struct {
	Position *Position
	PnL      int64
	Score    int64 // DivE6(pnl, margin)
}

// SelectADLCandidates ranks a market's profitable positions on the
// side opposite the bankrupt one. Positions with zero or negative
// unrealized profit at the mark price are never deleveraged.
func SelectADLCandidates(positions []*Position, bankruptSide event.Side, markPrice int64) ([]ADLCandidate, error) {
	target := bankruptSide.Opposite()
	var out []ADLCandidate
	for _, p := range positions {
		if p.Side != target {
			continue
		}
		pnl, err := p.UnrealizedPnLAt(markPrice)
		if err != nil {
			return nil, err
		}
		if pnl <= 0 {
			continue
		}
		score, err := fpmath.DivE6(pnl, p.Margin)
		if err != nil {
			return nil, err
		}
		out = append(out, ADLCandidate{Position: p, PnL: pnl, Score: score})
	}
	if len(out) == 0 {
		return nil, ErrNoOpposingPositions
	}
	// Input is already ordered by user id; a stable insertion keeps
	// ties deterministic.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Score < out[j].Score; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}
