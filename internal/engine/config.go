package engine

import "time"

// DefaultFundingInterval is the minimum gap between funding
// settlements for one position.
const DefaultFundingInterval = time.Hour

// LedgerState is the global ledger header: identity, admin control and
// lifetime counters. Counters are monotone and never reset.
type LedgerState struct {
	LedgerID uint64
	Admin    string
	Paused   bool

	TotalVolume       int64 // e6 notional across all fills
	TotalFees         int64 // e6
	TotalTrades       uint64
	BatchesSubmitted  uint64
	BatchesExecuted   uint64
	BatchesExpired    uint64
	TotalLiquidations uint64
	TotalADLEvents    uint64
	FundingSettled    uint64
}

// Config assembles an Engine.
type Config struct {
	LedgerID        uint64
	Admin           string
	Relayers        []string
	RequiredSigs    uint8
	FundingInterval time.Duration
	InsuranceSeed   int64 // e6, initial fund balance
}
