package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// journalNamespace seeds deterministic journal ids so replays from the
// event log reproduce identical rows.
var journalNamespace = uuid.MustParse("87c1ab84-6d1e-46e1-9c8a-4a2f1b5e9d03")

// Custody is the in-process double-entry ledger holding user
// collateral, locked margin and the system pools. All mutations go
// through a Tx so multi-journal settlements land atomically.
type Custody struct {
	tracker *BalanceTracker
	asset   AssetID
	nextSeq int64
}

func NewCustody(asset AssetID) *Custody {
	return &Custody{tracker: NewBalanceTracker(), asset: asset}
}

// Tracker exposes the balance view for queries and invariant checks.
func (c *Custody) Tracker() *BalanceTracker { return c.tracker }

// Asset returns the settlement asset.
func (c *Custody) Asset() AssetID { return c.asset }

// InsuranceFundBalance returns the penalty pool balance.
func (c *Custody) InsuranceFundBalance() int64 {
	return c.tracker.Get(NewSystemAccountKey(SubTypeInsuranceFund, c.asset))
}

// RestoreSequence rewinds the journal counter during snapshot recovery.
func (c *Custody) RestoreSequence(seq int64) { c.nextSeq = seq }

// Sequence returns the next journal sequence number.
func (c *Custody) Sequence() int64 { return c.nextSeq }

// Begin opens a staged transaction for one event. Nothing touches the
// tracker until Commit; dropping the Tx discards all staged journals.
func (c *Custody) Begin(eventRef string, at time.Time) *Tx {
	return &Tx{
		custody:  c,
		eventRef: eventRef,
		at:       at,
		baseSeq:  c.nextSeq,
		delta:    make(map[AccountKey]int64),
	}
}

// Tx accumulates journals for one event. Balance checks see committed
// balances plus the staged deltas, so a settlement can spend funds an
// earlier journal in the same Tx released.
type Tx struct {
	custody  *Custody
	eventRef string
	at       time.Time
	baseSeq  int64
	journals []Journal
	delta    map[AccountKey]int64
}

func (tx *Tx) effective(key AccountKey) int64 {
	return tx.custody.tracker.Get(key) + tx.delta[key]
}

func (tx *Tx) transfer(jt JournalType, credit, debit AccountKey, amount int64) error {
	if amount == 0 {
		return nil
	}
	seq := tx.baseSeq + int64(len(tx.journals))
	j := Journal{
		JournalID:     uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("%s:%d", tx.eventRef, seq))),
		EventRef:      tx.eventRef,
		Sequence:      seq,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       tx.custody.asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     tx.at,
	}
	if err := j.Validate(); err != nil {
		return err
	}
	tx.journals = append(tx.journals, j)
	tx.delta[debit] += amount
	tx.delta[credit] -= amount
	return nil
}

func (tx *Tx) userCollateral(user uuid.UUID) AccountKey {
	return NewUserAccountKey(user, SubTypeCollateral, tx.custody.asset)
}

func (tx *Tx) userReserved(user uuid.UUID) AccountKey {
	return NewUserAccountKey(user, SubTypeReserved, tx.custody.asset)
}

func (tx *Tx) system(sub AccountSubType) AccountKey {
	return NewSystemAccountKey(sub, tx.custody.asset)
}

func (tx *Tx) external() AccountKey {
	return NewExternalAccountKey(tx.custody.asset)
}

// Deposit credits a user's free collateral from outside the ledger.
func (tx *Tx) Deposit(user uuid.UUID, amount int64) error {
	return tx.transfer(JournalDeposit, tx.external(), tx.userCollateral(user), amount)
}

// Withdraw debits a user's free collateral.
func (tx *Tx) Withdraw(user uuid.UUID, amount int64) error {
	if tx.effective(tx.userCollateral(user)) < amount {
		return ErrInsufficientBalance
	}
	return tx.transfer(JournalWithdrawal, tx.userCollateral(user), tx.external(), amount)
}

// SeedInsuranceFund credits the penalty pool from outside the ledger.
func (tx *Tx) SeedInsuranceFund(amount int64) error {
	return tx.transfer(JournalDeposit, tx.external(), tx.system(SubTypeInsuranceFund), amount)
}

// LockMargin moves free collateral into the reserved bucket.
func (tx *Tx) LockMargin(user uuid.UUID, amount int64) error {
	if tx.effective(tx.userCollateral(user)) < amount {
		return ErrInsufficientBalance
	}
	return tx.transfer(JournalMarginLock, tx.userCollateral(user), tx.userReserved(user), amount)
}

// ReleaseMargin returns reserved margin to free collateral.
func (tx *Tx) ReleaseMargin(user uuid.UUID, amount int64) error {
	return tx.transfer(JournalMarginRelease, tx.userReserved(user), tx.userCollateral(user), amount)
}

// ReleaseAndSettle settles a voluntary close: the locked margin comes
// back, realized pnl moves against the settlement counterparty and the
// fee routes to the fee pool. A loss larger than margin plus remaining
// collateral rejects the whole Tx.
func (tx *Tx) ReleaseAndSettle(user uuid.UUID, margin, realizedPnL, fee int64) error {
	if err := tx.ReleaseMargin(user, margin); err != nil {
		return err
	}
	if err := tx.SettlePnL(user, realizedPnL); err != nil {
		return err
	}
	return tx.ChargeFee(user, fee)
}

// SettlePnL moves realized pnl between the user and the settlement
// counterparty.
func (tx *Tx) SettlePnL(user uuid.UUID, pnl int64) error {
	switch {
	case pnl > 0:
		return tx.transfer(JournalTradePnL, tx.external(), tx.userCollateral(user), pnl)
	case pnl < 0:
		if tx.effective(tx.userCollateral(user)) < -pnl {
			return ErrInsufficientBalance
		}
		return tx.transfer(JournalTradePnL, tx.userCollateral(user), tx.external(), -pnl)
	default:
		return nil
	}
}

// ChargeFee routes a trading fee to the fee pool.
func (tx *Tx) ChargeFee(user uuid.UUID, fee int64) error {
	if fee == 0 {
		return nil
	}
	if tx.effective(tx.userCollateral(user)) < fee {
		return ErrInsufficientBalance
	}
	return tx.transfer(JournalTradeFee, tx.userCollateral(user), tx.system(SubTypeFees), fee)
}

// SettleFunding moves a funding payment through the funding pool.
// Positive payment means the user pays.
func (tx *Tx) SettleFunding(user uuid.UUID, payment int64) error {
	switch {
	case payment > 0:
		if tx.effective(tx.userCollateral(user)) < payment {
			return ErrInsufficientBalance
		}
		return tx.transfer(JournalFundingPayment, tx.userCollateral(user), tx.system(SubTypeFundingPool), payment)
	case payment < 0:
		return tx.transfer(JournalFundingPayment, tx.system(SubTypeFundingPool), tx.userCollateral(user), -payment)
	default:
		return nil
	}
}

// LiquidateSettle consumes a liquidated position's full margin: the
// realized loss goes to the settlement counterparty, the penalty to the
// insurance fund and whatever is left back to the user.
func (tx *Tx) LiquidateSettle(user uuid.UUID, margin, remainder, penalty int64) error {
	loss := margin - remainder - penalty
	if loss < 0 {
		// Position was still in profit when force-closed. Top the
		// reserved bucket up before distributing it.
		if err := tx.transfer(JournalTradePnL, tx.external(), tx.userReserved(user), -loss); err != nil {
			return err
		}
	} else if loss > 0 {
		if err := tx.transfer(JournalTradePnL, tx.userReserved(user), tx.external(), loss); err != nil {
			return err
		}
	}
	if err := tx.transfer(JournalLiquidationRemainder, tx.userReserved(user), tx.userCollateral(user), remainder); err != nil {
		return err
	}
	return tx.transfer(JournalLiquidationPenalty, tx.userReserved(user), tx.system(SubTypeInsuranceFund), penalty)
}

// CoverShortfall pays a bankruptcy's uncovered loss from the insurance
// fund, up to its balance. The uncovered remainder is booked against
// the socialized loss account and returned alongside the covered part.
func (tx *Tx) CoverShortfall(shortfall int64) (covered int64, err error) {
	if shortfall <= 0 {
		return 0, nil
	}
	fund := tx.effective(tx.system(SubTypeInsuranceFund))
	covered = shortfall
	if fund < covered {
		covered = fund
	}
	if covered < 0 {
		covered = 0
	}
	if covered > 0 {
		if err = tx.transfer(JournalShortfallCover, tx.system(SubTypeInsuranceFund), tx.external(), covered); err != nil {
			return 0, err
		}
	}
	if uncovered := shortfall - covered; uncovered > 0 {
		if err = tx.transfer(JournalSocializedLoss, tx.system(SubTypeSocializedLoss), tx.external(), uncovered); err != nil {
			return 0, err
		}
	}
	return covered, nil
}

// Journals returns the staged journals in sequence order.
func (tx *Tx) Journals() []Journal { return tx.journals }

// Commit applies every staged journal. After Commit the Tx must not be
// reused.
func (tx *Tx) Commit() error {
	b := Batch{EventRef: tx.eventRef, Journals: tx.journals}
	if err := tx.custody.tracker.ApplyBatch(&b); err != nil {
		return err
	}
	tx.custody.nextSeq = tx.baseSeq + int64(len(tx.journals))
	return nil
}
