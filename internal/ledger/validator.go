package ledger

import (
	"errors"
	"fmt"
)

var ErrInvariantViolated = errors.New("ledger: invariant violated")

// InvariantValidator checks the tracker's structural guarantees after
// settlements. Intended for tests and the periodic integrity probe,
// not the hot path.
type InvariantValidator struct {
	tracker *BalanceTracker
	asset   AssetID
}

func NewInvariantValidator(tracker *BalanceTracker, asset AssetID) *InvariantValidator {
	return &InvariantValidator{tracker: tracker, asset: asset}
}

// ValidateAll runs every invariant check.
func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidateGlobalZeroSum(); err != nil {
		return err
	}
	return v.ValidateNonNegativity()
}

// ValidateGlobalZeroSum verifies that transfers conserved the total.
func (v *InvariantValidator) ValidateGlobalZeroSum() error {
	if sum := v.tracker.ComputeGlobalBalance(); sum != 0 {
		return fmt.Errorf("%w: global balance %d", ErrInvariantViolated, sum)
	}
	return nil
}

// ValidateNonNegativity verifies that no user or income pool account
// went below zero. The external counterparty and the socialized loss
// account absorb the system's net flow, and the funding pool runs a
// deficit between a receiver's settlement and the matching payer's, so
// all three are exempt.
func (v *InvariantValidator) ValidateNonNegativity() error {
	for _, key := range v.tracker.Accounts() {
		if key.Scope == ScopeExternal || key.SubType == SubTypeSocializedLoss || key.SubType == SubTypeFundingPool {
			continue
		}
		if bal := v.tracker.Get(key); bal < 0 {
			return fmt.Errorf("%w: %s balance %d", ErrInvariantViolated, key.AccountPath(), bal)
		}
	}
	return nil
}
