package state

import (
	"errors"
	"time"

	fpmath "BatchLedger/internal/math"
)

var ErrADLNotRequired = errors.New("state: adl trigger conditions not met")

// TriggerReason classifies why auto-deleveraging fired.
type TriggerReason uint8

const (
	TriggerNone TriggerReason = iota
	TriggerBankruptcy
	TriggerInsufficientBalance
	TriggerRapidDecline
)

func (r TriggerReason) String() string {
	switch r {
	case TriggerBankruptcy:
		return "Bankruptcy"
	case TriggerInsufficientBalance:
		return "InsufficientBalance"
	case TriggerRapidDecline:
		return "RapidDecline"
	default:
		return "None"
	}
}

// Thresholds for the non-bankruptcy ADL triggers, e6.
const (
	// MinFundBalance is the absolute floor below which ADL arms.
	MinFundBalance int64 = 10_000_000_000 // 10,000 USDT
	// RapidDeclineRatio fires when the fund drops by more than this
	// fraction of its balance one hour ago.
	RapidDeclineRatio int64 = 300_000 // 30%

	declineWindow = time.Hour
)

type fundSample struct {
	at      time.Time
	balance int64
}

// InsuranceFund tracks the fund balance view used by risk triggers.
// The authoritative balance lives in the custody ledger; the engine
// mirrors it here after each commit so trigger checks stay cheap.
type InsuranceFund struct {
	balance int64
	samples []fundSample
}

func NewInsuranceFund(initial int64) *InsuranceFund {
	return &InsuranceFund{balance: initial}
}

// Balance returns the mirrored fund balance.
func (f *InsuranceFund) Balance() int64 { return f.balance }

// Observe records the balance after a settlement. Samples older than
// the decline window plus slack are discarded.
func (f *InsuranceFund) Observe(balance int64, now time.Time) {
	f.balance = balance
	f.samples = append(f.samples, fundSample{at: now, balance: balance})
	cutoff := now.Add(-2 * declineWindow)
	trim := 0
	for trim < len(f.samples) && f.samples[trim].at.Before(cutoff) {
		trim++
	}
	f.samples = f.samples[trim:]
}

// balanceAt returns the oldest sample within the window, or false when
// no history covers it yet.
func (f *InsuranceFund) balanceAt(now time.Time) (int64, bool) {
	horizon := now.Add(-declineWindow)
	for _, s := range f.samples {
		if !s.at.After(horizon) {
			continue
		}
		return s.balance, true
	}
	return 0, false
}

// CheckTrigger decides whether auto-deleveraging should run.
// Bankruptcy dominates: a shortfall the fund cannot cover always fires.
func (f *InsuranceFund) CheckTrigger(shortfall int64, now time.Time) TriggerReason {
	if shortfall > f.balance {
		return TriggerBankruptcy
	}
	if f.balance < MinFundBalance {
		return TriggerInsufficientBalance
	}
	if prev, ok := f.balanceAt(now); ok && prev > 0 {
		drop := prev - f.balance
		if drop > 0 {
			limit, err := fpmath.MulE6(prev, RapidDeclineRatio)
			if err == nil && drop > limit {
				return TriggerRapidDecline
			}
		}
	}
	return TriggerNone
}

// Snapshot returns the mirrored balance for persistence.
func (f *InsuranceFund) Snapshot() int64 { return f.balance }

// Restore reinstates a snapshotted balance. The decline history does
// not survive a restart; the rapid-decline window rebuilds from new
// observations.
func (f *InsuranceFund) Restore(balance int64) {
	f.balance = balance
	f.samples = f.samples[:0]
}
