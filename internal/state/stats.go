package state

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

// UserStats accumulates one user's lifetime trading activity, e6.
// FirstTradeTS and LastTradeTS cover fills only, not funding.
type UserStats struct {
	UserID             uuid.UUID
	TotalVolume        int64
	RealizedPnL        int64
	FeesPaid           int64
	FundingPaid        int64
	TradesOpened       uint64
	TradesClosed       uint64
	LiquidationsCount  uint64
	ADLReductionsCount uint64
	FirstTradeTS       time.Time
	LastTradeTS        time.Time
}

// RecordTradeTime stamps a fill, keeping the first one it ever saw.
func (s *UserStats) RecordTradeTime(at time.Time) {
	if s.FirstTradeTS.IsZero() {
		s.FirstTradeTS = at
	}
	s.LastTradeTS = at
}

// StatsManager auto-creates stats on first touch. Not safe for
// concurrent use; the core serializes all access.
type StatsManager struct {
	stats map[uuid.UUID]*UserStats
}

func NewStatsManager() *StatsManager {
	return &StatsManager{stats: make(map[uuid.UUID]*UserStats)}
}

// Get returns the user's stats, creating a zero record on first use.
func (m *StatsManager) Get(user uuid.UUID) *UserStats {
	s, ok := m.stats[user]
	if !ok {
		s = &UserStats{UserID: user}
		m.stats[user] = s
	}
	return s
}

// Peek returns stats without creating them.
func (m *StatsManager) Peek(user uuid.UUID) (*UserStats, bool) {
	s, ok := m.stats[user]
	return s, ok
}

// Len returns the number of tracked users.
func (m *StatsManager) Len() int { return len(m.stats) }

// All returns stats ordered by user id bytes for snapshots.
func (m *StatsManager) All() []*UserStats {
	out := make([]*UserStats, 0, len(m.stats))
	for _, s := range m.stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].UserID[:], out[j].UserID[:]) < 0
	})
	return out
}

// Restore reinserts a stats record during snapshot recovery.
func (m *StatsManager) Restore(s *UserStats) {
	m.stats[s.UserID] = s
}
