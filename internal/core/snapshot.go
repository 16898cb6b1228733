package core

import (
	"BatchLedger/internal/batch"
	"BatchLedger/internal/engine"
	"BatchLedger/internal/ledger"
	"BatchLedger/internal/relayer"
	"BatchLedger/internal/state"
)

// BalanceEntry pairs an account with its snapshotted balance.
type BalanceEntry struct {
	Key     ledger.AccountKey
	Balance int64
}

// SnapshotState is the full recoverable state at one sequence. The
// persistence layer serializes it; the core only defines the shape.
type SnapshotState struct {
	Sequence  int64 // last applied global sequence
	StateHash [32]byte

	Ledger          engine.LedgerState
	Balances        []BalanceEntry
	JournalSequence int64
	Positions       []*state.Position
	Batches         []*batch.TradeBatch
	RetiredBatches  []uint64
	RelayerMembers  map[string]relayer.Status
	RelayerRequired uint8
	Stats           []*state.UserStats
	FundBalance     int64
	Marks           map[uint8]int64
	Markets         []state.MarketParams
	Partitions      map[string]int64
}

// CreateSnapshotState captures everything needed to resume from the
// current point without replaying the log.
func (c *Core) CreateSnapshotState() *SnapshotState {
	eng := c.engine
	tracker := eng.Custody().Tracker()

	accounts := tracker.Accounts()
	balances := make([]BalanceEntry, 0, len(accounts))
	for _, k := range accounts {
		balances = append(balances, BalanceEntry{Key: k, Balance: tracker.Get(k)})
	}

	members, required := eng.Relayers().Snapshot()

	markets := eng.Params().Markets()
	params := make([]state.MarketParams, 0, len(markets))
	for _, m := range markets {
		if p, err := eng.Params().Market(m); err == nil {
			params = append(params, p)
		}
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Ledger:          *eng.State(),
		Balances:        balances,
		JournalSequence: eng.Custody().Sequence(),
		Positions:       eng.Positions().All(),
		Batches:         eng.Batches().All(),
		RetiredBatches:  eng.Batches().Retired(),
		RelayerMembers:  members,
		RelayerRequired: required,
		Stats:           eng.Stats().All(),
		FundBalance:     eng.Fund().Snapshot(),
		Marks:           eng.Marks(),
		Markets:         params,
		Partitions:      c.sequencer.Partitions(),
	}
}

// RestoreFromSnapshot rebuilds the core and engine from a snapshot.
// The engine should be freshly constructed; restored balances replace
// whatever the constructor seeded.
func (c *Core) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	eng := c.engine
	eng.RestoreLedgerState(snap.Ledger)
	eng.ReplaceRelayers(relayer.Restore(snap.RelayerMembers, snap.RelayerRequired))

	tracker := eng.Custody().Tracker()
	for _, e := range snap.Balances {
		tracker.RestoreBalance(e.Key, e.Balance)
	}
	eng.Custody().RestoreSequence(snap.JournalSequence)

	for _, p := range snap.Positions {
		eng.Positions().Restore(p)
	}
	for _, b := range snap.Batches {
		eng.Batches().Restore(b)
	}
	eng.Batches().RestoreRetired(snap.RetiredBatches)
	for _, s := range snap.Stats {
		eng.Stats().Restore(s)
	}
	eng.Fund().Restore(snap.FundBalance)
	for m, p := range snap.Marks {
		eng.RestoreMark(m, p)
	}
	for _, p := range snap.Markets {
		eng.RegisterMarket(p)
	}
	for partition, seq := range snap.Partitions {
		c.sequencer.SetExpectedSequence(partition, seq)
	}

	if c.metrics != nil {
		c.metrics.SetSequence(c.sequence)
	}
}

// WarmLRU preloads recently processed idempotency keys after restore.
func (c *Core) WarmLRU(keys []string) {
	c.dedup.WarmLRU(keys)
}
