package event

import (
	"time"

	"github.com/google/uuid"
)

// BatchSubmit is the first relayer's submission of a trade batch
// commitment: the batch id plus the content hash the quorum will attest.
// Idempotency key: submit_id (UUID assigned by the relayer).
type BatchSubmit struct {
	SubmitID  uuid.UUID // Idempotency key
	BatchID   uint64
	DataHash  [32]byte
	Relayer   string
	RelaySeq  int64     // Source sequence from the submitting relayer
	Timestamp time.Time // Versioned input timestamp (NOT wall-clock)
}

func (b *BatchSubmit) IdempotencyKey() string { return b.SubmitID.String() }
func (b *BatchSubmit) EventType() EventType   { return EventTypeBatchSubmit }
func (b *BatchSubmit) MarketIndex() *uint8    { return nil }
func (b *BatchSubmit) SourceSequence() int64  { return b.RelaySeq }

// BatchConfirm is a subsequent relayer's attestation over the same hash.
type BatchConfirm struct {
	ConfirmID uuid.UUID // Idempotency key
	BatchID   uint64
	DataHash  [32]byte
	Relayer   string
	RelaySeq  int64
	Timestamp time.Time
}

func (b *BatchConfirm) IdempotencyKey() string { return b.ConfirmID.String() }
func (b *BatchConfirm) EventType() EventType   { return EventTypeBatchConfirm }
func (b *BatchConfirm) MarketIndex() *uint8    { return nil }
func (b *BatchConfirm) SourceSequence() int64  { return b.RelaySeq }

// BatchExecute carries the actual trade list for a quorum-approved batch.
// The engine re-derives the content hash from Trades and rejects the
// execution if it does not match the stored commitment.
type BatchExecute struct {
	ExecuteID uuid.UUID // Idempotency key
	BatchID   uint64
	Trades    []TradeData
	Relayer   string
	RelaySeq  int64
	Timestamp time.Time
}

func (b *BatchExecute) IdempotencyKey() string { return b.ExecuteID.String() }
func (b *BatchExecute) EventType() EventType   { return EventTypeBatchExecute }
func (b *BatchExecute) MarketIndex() *uint8    { return nil }
func (b *BatchExecute) SourceSequence() int64  { return b.RelaySeq }
