package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// PositionKey identifies one position. A user holds at most one
// position per market.
type PositionKey struct {
	UserID      uuid.UUID
	MarketIndex uint8
}

// PositionManager indexes open positions. Not safe for concurrent use;
// the core serializes all access.
type PositionManager struct {
	positions map[PositionKey]*Position
}

func NewPositionManager() *PositionManager {
	return &PositionManager{positions: make(map[PositionKey]*Position)}
}

// Get returns the position or nil.
func (m *PositionManager) Get(user uuid.UUID, market uint8) *Position {
	return m.positions[PositionKey{UserID: user, MarketIndex: market}]
}

// Put inserts or replaces a position. Empty positions are removed.
func (m *PositionManager) Put(p *Position) {
	key := PositionKey{UserID: p.UserID, MarketIndex: p.MarketIndex}
	if p.IsEmpty() {
		delete(m.positions, key)
		return
	}
	m.positions[key] = p
}

// Remove drops a position regardless of its contents.
func (m *PositionManager) Remove(user uuid.UUID, market uint8) {
	delete(m.positions, PositionKey{UserID: user, MarketIndex: market})
}

// Len returns the number of open positions.
func (m *PositionManager) Len() int { return len(m.positions) }

// PositionsByMarket returns a market's positions ordered by user id
// bytes so iteration is deterministic across runs.
func (m *PositionManager) PositionsByMarket(market uint8) []*Position {
	var out []*Position
	for key, p := range m.positions {
		if key.MarketIndex == market {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].UserID[:], out[j].UserID[:]) < 0
	})
	return out
}

// All returns every position ordered by (market, user) for snapshots.
func (m *PositionManager) All() []*Position {
	out := make([]*Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketIndex != out[j].MarketIndex {
			return out[i].MarketIndex < out[j].MarketIndex
		}
		return bytes.Compare(out[i].UserID[:], out[j].UserID[:]) < 0
	})
	return out
}

// Restore reinserts a position during snapshot recovery.
func (m *PositionManager) Restore(p *Position) {
	m.positions[PositionKey{UserID: p.UserID, MarketIndex: p.MarketIndex}] = p
}
