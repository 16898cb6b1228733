package event

import (
	"time"

	"github.com/google/uuid"
)

// LiquidationRequest asks the engine to force-close an underwater
// position at the given mark price. Anyone may act as liquidator; the
// engine re-verifies eligibility.
type LiquidationRequest struct {
	RequestID  uuid.UUID // Idempotency key
	User       uuid.UUID
	Market     uint8
	MarkPrice  int64 // e6
	Liquidator string
	RelaySeq   int64
	Timestamp  time.Time
}

func (l *LiquidationRequest) IdempotencyKey() string { return l.RequestID.String() }
func (l *LiquidationRequest) EventType() EventType   { return EventTypeLiquidation }
func (l *LiquidationRequest) MarketIndex() *uint8    { m := l.Market; return &m }
func (l *LiquidationRequest) SourceSequence() int64  { return l.RelaySeq }

// ADLTrigger requests auto-deleveraging for a market after a shortfall
// the insurance fund cannot absorb. BankruptSide is the side of the
// bankrupt position; the engine reduces profitable positions on the
// opposite side.
type ADLTrigger struct {
	RequestID    uuid.UUID // Idempotency key
	Market       uint8
	Shortfall    int64 // e6
	BankruptSide Side
	Requester    string
	RelaySeq     int64
	Timestamp    time.Time
}

func (a *ADLTrigger) IdempotencyKey() string { return a.RequestID.String() }
func (a *ADLTrigger) EventType() EventType   { return EventTypeADLTrigger }
func (a *ADLTrigger) MarketIndex() *uint8    { m := a.Market; return &m }
func (a *ADLTrigger) SourceSequence() int64  { return a.RelaySeq }
