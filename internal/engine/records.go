package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"BatchLedger/internal/event"
)

// recordNamespace seeds deterministic record ids so replays reproduce
// identical rows.
var recordNamespace = uuid.MustParse("5f1d9a6e-0b3c-4c57-8f21-d4a7e83b91c5")

// RecordKind tags how a fill came about.
type RecordKind uint8

const (
	RecordOpen RecordKind = iota + 1
	RecordClose
	RecordLiquidation
	RecordADL
	RecordFunding
)

func (k RecordKind) String() string {
	switch k {
	case RecordOpen:
		return "open"
	case RecordClose:
		return "close"
	case RecordLiquidation:
		return "liquidation"
	case RecordADL:
		return "adl"
	case RecordFunding:
		return "funding"
	default:
		return "unknown"
	}
}

// TradeRecord is the immutable audit row for one position-changing
// action. RealizedPnL on a funding record is the user's net funding
// flow for that interval.
type TradeRecord struct {
	RecordID    uuid.UUID
	EventRef    string
	User        uuid.UUID
	MarketIndex uint8
	Kind        RecordKind
	TradeSide   event.Side
	Size        int64 // e6
	Price       int64 // e6
	Fee         int64 // e6
	RealizedPnL int64 // e6
	BatchID     uint64
	Timestamp   time.Time
}

func newRecordID(eventRef string, index int) uuid.UUID {
	return uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%s:%d", eventRef, index)))
}
