package event

import (
	"time"

	"github.com/google/uuid"
)

// FundingSettle applies one funding interval's payment to a position.
type FundingSettle struct {
	RequestID   uuid.UUID // Idempotency key
	User        uuid.UUID
	Market      uint8
	FundingRate int64 // e6, signed: positive means longs pay
	IndexPrice  int64 // e6
	Relayer     string
	RelaySeq    int64
	Timestamp   time.Time
}

func (f *FundingSettle) IdempotencyKey() string { return f.RequestID.String() }
func (f *FundingSettle) EventType() EventType   { return EventTypeFundingSettle }
func (f *FundingSettle) MarketIndex() *uint8    { m := f.Market; return &m }
func (f *FundingSettle) SourceSequence() int64  { return f.RelaySeq }
