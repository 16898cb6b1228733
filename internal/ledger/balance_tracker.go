package ledger

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// BalanceTracker holds current balances for every touched account.
// A journal moves Amount from the credit account to the debit account.
// Not safe for concurrent use; the core serializes all access.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{balances: make(map[AccountKey]int64)}
}

// Get returns an account balance, zero for untouched accounts.
func (t *BalanceTracker) Get(key AccountKey) int64 {
	return t.balances[key]
}

// ApplyJournal moves the amount without validation. Callers validate
// batches before applying them.
func (t *BalanceTracker) ApplyJournal(j *Journal) {
	t.balances[j.DebitAccount] += j.Amount
	t.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch validates then applies all journals of a batch.
func (t *BalanceTracker) ApplyBatch(b *Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	for i := range b.Journals {
		t.ApplyJournal(&b.Journals[i])
	}
	return nil
}

// GetUserAvailable returns a user's free collateral.
func (t *BalanceTracker) GetUserAvailable(user uuid.UUID, asset AssetID) int64 {
	return t.Get(NewUserAccountKey(user, SubTypeCollateral, asset))
}

// GetUserReserved returns a user's locked margin.
func (t *BalanceTracker) GetUserReserved(user uuid.UUID, asset AssetID) int64 {
	return t.Get(NewUserAccountKey(user, SubTypeReserved, asset))
}

// ComputeGlobalBalance sums every account. Transfers preserve a zero
// sum, so any nonzero result means corruption.
func (t *BalanceTracker) ComputeGlobalBalance() int64 {
	var sum int64
	for _, v := range t.balances {
		sum += v
	}
	return sum
}

// Snapshot returns balances keyed by account path in sorted order.
func (t *BalanceTracker) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(t.balances))
	for k, v := range t.balances {
		if v != 0 {
			out[k.AccountPath()] = v
		}
	}
	return out
}

// Accounts returns the nonzero account keys ordered by path.
func (t *BalanceTracker) Accounts() []AccountKey {
	out := make([]AccountKey, 0, len(t.balances))
	for k, v := range t.balances {
		if v != 0 {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].AccountPath(), out[j].AccountPath()) < 0
	})
	return out
}

// RestoreBalance sets one account during snapshot recovery.
func (t *BalanceTracker) RestoreBalance(key AccountKey, balance int64) {
	if balance == 0 {
		delete(t.balances, key)
		return
	}
	t.balances[key] = balance
}
