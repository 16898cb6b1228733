package query

import (
	"time"

	"github.com/google/uuid"
)

// Responses carry AsOfSequence, the projection watermark at read time,
// so callers can reason about freshness against the event log.

// BalanceResponse is a user's collateral view.
type BalanceResponse struct {
	UserID           uuid.UUID `json:"user_id"`
	AssetID          int32     `json:"asset_id"`
	TotalBalance     int64     `json:"total_balance"`
	AvailableBalance int64     `json:"available_balance"`
	ReservedBalance  int64     `json:"reserved_balance"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// PositionResponse is one open position.
type PositionResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Market       int16     `json:"market"`
	Side         int32     `json:"side"`
	Size         int64     `json:"size"`
	EntryPrice   int64     `json:"entry_price"`
	RealizedPnL  int64     `json:"realized_pnl"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// BatchResponse is the authorization status of one trade batch.
type BatchResponse struct {
	BatchID       int64      `json:"batch_id"`
	DataHash      []byte     `json:"data_hash"`
	Status        string     `json:"status"`
	Submitter     string     `json:"submitter"`
	Confirmations []string   `json:"confirmations"`
	TradeCount    int32      `json:"trade_count"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	AsOfSequence  int64      `json:"as_of_sequence"`
}

// UserStatsResponse is a user's lifetime trading aggregates.
type UserStatsResponse struct {
	UserID       uuid.UUID  `json:"user_id"`
	TradeCount   int64      `json:"trade_count"`
	TotalFees    int64      `json:"total_fees"`
	RealizedPnL  int64      `json:"realized_pnl"`
	Liquidations int64      `json:"liquidations"`
	FirstTradeAt *time.Time `json:"first_trade_at,omitempty"`
	LastTradeAt  *time.Time `json:"last_trade_at,omitempty"`
	AsOfSequence int64      `json:"as_of_sequence"`
}

// TradeRecordResponse is one immutable fill row.
type TradeRecordResponse struct {
	RecordID    string    `json:"record_id"`
	EventRef    string    `json:"event_ref"`
	Sequence    int64     `json:"sequence"`
	UserID      uuid.UUID `json:"user_id"`
	Market      int16     `json:"market"`
	Kind        string    `json:"kind"`
	Side        int32     `json:"side"`
	Size        int64     `json:"size"`
	Price       int64     `json:"price"`
	Fee         int64     `json:"fee"`
	RealizedPnL int64     `json:"realized_pnl"`
	BatchID     int64     `json:"batch_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// JournalEntryResponse is one double-entry transfer.
type JournalEntryResponse struct {
	JournalID     string    `json:"journal_id"`
	EventRef      string    `json:"event_ref"`
	Sequence      int64     `json:"sequence"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	AssetID       int32     `json:"asset_id"`
	Amount        int64     `json:"amount"`
	JournalType   int32     `json:"journal_type"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventResponse is one applied event header from the log.
type EventResponse struct {
	Sequence       int64     `json:"sequence"`
	EventType      string    `json:"event_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	Market         *int16    `json:"market,omitempty"`
	StateHash      []byte    `json:"state_hash"`
	PrevHash       []byte    `json:"prev_hash"`
	Timestamp      time.Time `json:"timestamp"`
	SourceSequence int64     `json:"source_sequence"`
}

// IntegrityReport is the result of a chain and balance audit.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HighestSequence  int64             `json:"highest_sequence"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset flags an asset whose global balance sum is nonzero.
// Double entry requires the sum over every account to be exactly zero.
type UnbalancedAsset struct {
	AssetID   int32 `json:"asset_id"`
	Imbalance int64 `json:"imbalance"`
}
