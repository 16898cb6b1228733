package event

import (
	"time"

	"github.com/google/uuid"
)

// Deposit credits external collateral to a user. Relayers publish one
// after the upstream custody transfer confirms.
type Deposit struct {
	RequestID uuid.UUID // Idempotency key
	User      uuid.UUID
	Amount    int64 // e6
	Relayer   string
	RelaySeq  int64
	Timestamp time.Time
}

func (d *Deposit) IdempotencyKey() string { return d.RequestID.String() }
func (d *Deposit) EventType() EventType   { return EventTypeDeposit }
func (d *Deposit) MarketIndex() *uint8    { return nil }
func (d *Deposit) SourceSequence() int64  { return d.RelaySeq }

// Withdraw debits a user's free collateral back to external custody.
type Withdraw struct {
	RequestID uuid.UUID // Idempotency key
	User      uuid.UUID
	Amount    int64 // e6
	Relayer   string
	RelaySeq  int64
	Timestamp time.Time
}

func (w *Withdraw) IdempotencyKey() string { return w.RequestID.String() }
func (w *Withdraw) EventType() EventType   { return EventTypeWithdraw }
func (w *Withdraw) MarketIndex() *uint8    { return nil }
func (w *Withdraw) SourceSequence() int64  { return w.RelaySeq }
