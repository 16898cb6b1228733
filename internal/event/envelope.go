package event

import (
	"time"
)

// EventType discriminator for instruction payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeBatchSubmit
	EventTypeBatchConfirm
	EventTypeBatchExecute
	EventTypePositionOpen
	EventTypePositionClose
	EventTypeLiquidation
	EventTypeADLTrigger
	EventTypeFundingSettle
	EventTypeMarkPriceUpdate
	EventTypeRelayerUpdate
	EventTypePauseSet
	EventTypeAdminUpdate
	EventTypeDeposit
	EventTypeWithdraw
)

// Envelope wraps every instruction in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Instruction type discriminator
	EventType EventType

	// Market context (nullable for global instructions)
	MarketIndex *uint8

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded instruction-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this instruction
	StateHash [32]byte

	// Previous instruction's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all instruction payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// MarketIndex returns the market context (nil for global instructions)
	MarketIndex() *uint8

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeBatchSubmit:
		return "BatchSubmit"
	case EventTypeBatchConfirm:
		return "BatchConfirm"
	case EventTypeBatchExecute:
		return "BatchExecute"
	case EventTypePositionOpen:
		return "PositionOpen"
	case EventTypePositionClose:
		return "PositionClose"
	case EventTypeLiquidation:
		return "Liquidation"
	case EventTypeADLTrigger:
		return "ADLTrigger"
	case EventTypeFundingSettle:
		return "FundingSettle"
	case EventTypeMarkPriceUpdate:
		return "MarkPriceUpdate"
	case EventTypeRelayerUpdate:
		return "RelayerUpdate"
	case EventTypePauseSet:
		return "PauseSet"
	case EventTypeAdminUpdate:
		return "AdminUpdate"
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdraw:
		return "Withdraw"
	default:
		return "Unknown"
	}
}
