package engine

import "BatchLedger/internal/relayer"

// Restore hooks used when rebuilding an engine from a snapshot. None of
// them emit journals; the snapshot carries the already-settled books.

// RestoreLedgerState overwrites the ledger header wholesale.
func (e *Engine) RestoreLedgerState(ls LedgerState) {
	*e.cfg = ls
}

// ReplaceRelayers swaps in a restored relayer set.
func (e *Engine) ReplaceRelayers(set *relayer.Set) {
	e.relayers = set
}

// RestoreMark reinstates the last known mark price for a market.
func (e *Engine) RestoreMark(market uint8, price int64) {
	e.marks[market] = price
}

// Marks returns a copy of the current mark prices.
func (e *Engine) Marks() map[uint8]int64 {
	out := make(map[uint8]int64, len(e.marks))
	for m, p := range e.marks {
		out[m] = p
	}
	return out
}
