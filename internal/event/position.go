package event

import (
	"time"

	"github.com/google/uuid"
)

// PositionOpen opens or increases a position outside the batch path.
// Idempotency key: request_id.
type PositionOpen struct {
	RequestID uuid.UUID // Idempotency key
	User      uuid.UUID
	Market    uint8
	TradeSide Side
	Size      int64 // e6
	Price     int64 // e6
	Leverage  uint8
	BatchID   uint64 // Originating batch reference (0 for direct trades)
	Relayer   string
	RelaySeq  int64
	Timestamp time.Time
}

func (p *PositionOpen) IdempotencyKey() string { return p.RequestID.String() }
func (p *PositionOpen) EventType() EventType   { return EventTypePositionOpen }
func (p *PositionOpen) MarketIndex() *uint8    { m := p.Market; return &m }
func (p *PositionOpen) SourceSequence() int64  { return p.RelaySeq }

// PositionClose reduces or fully closes a position. Size zero closes all.
type PositionClose struct {
	RequestID uuid.UUID // Idempotency key
	User      uuid.UUID
	Market    uint8
	Size      int64 // e6, 0 = close entire position
	Price     int64 // e6
	BatchID   uint64
	Relayer   string
	RelaySeq  int64
	Timestamp time.Time
}

func (p *PositionClose) IdempotencyKey() string { return p.RequestID.String() }
func (p *PositionClose) EventType() EventType   { return EventTypePositionClose }
func (p *PositionClose) MarketIndex() *uint8    { m := p.Market; return &m }
func (p *PositionClose) SourceSequence() int64  { return p.RelaySeq }
