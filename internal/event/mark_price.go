package event

import (
	"fmt"
	"time"
)

// MarkPriceUpdate carries the latest mark price for a market. Used by
// the engine to value ADL candidates; liquidation eligibility uses the
// mark price carried on the liquidation request itself.
// Idempotency key: market index + upstream price sequence.
type MarkPriceUpdate struct {
	Market        uint8
	Price         int64 // e6
	PriceSequence int64
	Timestamp     time.Time
}

func (m *MarkPriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("mark:%d:%d", m.Market, m.PriceSequence)
}

func (m *MarkPriceUpdate) EventType() EventType  { return EventTypeMarkPriceUpdate }
func (m *MarkPriceUpdate) MarketIndex() *uint8   { mi := m.Market; return &mi }
func (m *MarkPriceUpdate) SourceSequence() int64 { return m.PriceSequence }
