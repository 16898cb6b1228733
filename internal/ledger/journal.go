package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNonPositiveAmount = errors.New("ledger: journal amount must be positive")
	ErrSelfTransfer      = errors.New("ledger: debit and credit accounts match")
	ErrAssetMismatch     = errors.New("ledger: journal asset differs from account assets")
)

// JournalType classifies the business meaning of a transfer.
type JournalType uint8

const (
	JournalMarginLock JournalType = iota + 1
	JournalMarginRelease
	JournalTradePnL
	JournalTradeFee
	JournalFundingPayment
	JournalLiquidationPenalty
	JournalLiquidationRemainder
	JournalShortfallCover
	JournalSocializedLoss
	JournalDeposit
	JournalWithdrawal
	JournalAdjustment
)

func (t JournalType) String() string {
	switch t {
	case JournalMarginLock:
		return "margin_lock"
	case JournalMarginRelease:
		return "margin_release"
	case JournalTradePnL:
		return "trade_pnl"
	case JournalTradeFee:
		return "trade_fee"
	case JournalFundingPayment:
		return "funding_payment"
	case JournalLiquidationPenalty:
		return "liquidation_penalty"
	case JournalLiquidationRemainder:
		return "liquidation_remainder"
	case JournalShortfallCover:
		return "shortfall_cover"
	case JournalSocializedLoss:
		return "socialized_loss"
	case JournalDeposit:
		return "deposit"
	case JournalWithdrawal:
		return "withdrawal"
	case JournalAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

// Journal is one transfer: Amount moves from the credit account to the
// debit account. Amount is always positive; direction is carried by
// which account sits on which side.
type Journal struct {
	JournalID     uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  AccountKey
	CreditAccount AccountKey
	AssetID       AssetID
	Amount        int64
	JournalType   JournalType
	Timestamp     time.Time
}

// Validate checks structural journal invariants.
func (j *Journal) Validate() error {
	if j.Amount <= 0 {
		return ErrNonPositiveAmount
	}
	if j.DebitAccount == j.CreditAccount {
		return ErrSelfTransfer
	}
	if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
		return ErrAssetMismatch
	}
	return nil
}

// Batch groups the journals produced by one event. A batch applies
// atomically or not at all.
type Batch struct {
	EventRef string
	Journals []Journal
}

// Validate checks every journal in the batch.
func (b *Batch) Validate() error {
	for i := range b.Journals {
		if err := b.Journals[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
