package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"BatchLedger/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes plus an event type
// string) into a typed event.Event. The ingestion shell validates and
// converts; the core never sees raw bytes except as the audit payload.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "BatchSubmit":
		return parseBatchSubmit(raw.Data)
	case "BatchConfirm":
		return parseBatchConfirm(raw.Data)
	case "BatchExecute":
		return parseBatchExecute(raw.Data)
	case "PositionOpen":
		return parsePositionOpen(raw.Data)
	case "PositionClose":
		return parsePositionClose(raw.Data)
	case "Liquidation":
		return parseLiquidation(raw.Data)
	case "ADLTrigger":
		return parseADLTrigger(raw.Data)
	case "FundingSettle":
		return parseFundingSettle(raw.Data)
	case "MarkPriceUpdate":
		return parseMarkPriceUpdate(raw.Data)
	case "RelayerUpdate":
		return parseRelayerUpdate(raw.Data)
	case "PauseSet":
		return parsePauseSet(raw.Data)
	case "AdminUpdate":
		return parseAdminUpdate(raw.Data)
	case "Deposit":
		return parseDeposit(raw.Data)
	case "Withdraw":
		return parseWithdraw(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match the relayer producers. Hashes
// travel as lowercase hex; sides and kinds as lowercase words.

func parseHash(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("parse data_hash: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("parse data_hash: got %d bytes, want 32", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func parseSide(s string) (event.Side, error) {
	switch s {
	case "long":
		return event.SideLong, nil
	case "short":
		return event.SideShort, nil
	default:
		return event.SideFlat, fmt.Errorf("parse side: unknown value %q", s)
	}
}

type batchSubmitJSON struct {
	SubmitID    string `json:"submit_id"`
	BatchID     uint64 `json:"batch_id"`
	DataHash    string `json:"data_hash"`
	Relayer     string `json:"relayer"`
	RelaySeq    int64  `json:"relay_seq"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseBatchSubmit(data []byte) (*event.BatchSubmit, error) {
	var j batchSubmitJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BatchSubmit: %w", err)
	}
	submitID, err := uuid.Parse(j.SubmitID)
	if err != nil {
		return nil, fmt.Errorf("parse submit_id: %w", err)
	}
	hash, err := parseHash(j.DataHash)
	if err != nil {
		return nil, err
	}
	return &event.BatchSubmit{
		SubmitID:  submitID,
		BatchID:   j.BatchID,
		DataHash:  hash,
		Relayer:   j.Relayer,
		RelaySeq:  j.RelaySeq,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type batchConfirmJSON struct {
	ConfirmID   string `json:"confirm_id"`
	BatchID     uint64 `json:"batch_id"`
	DataHash    string `json:"data_hash"`
	Relayer     string `json:"relayer"`
	RelaySeq    int64  `json:"relay_seq"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseBatchConfirm(data []byte) (*event.BatchConfirm, error) {
	var j batchConfirmJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BatchConfirm: %w", err)
	}
	confirmID, err := uuid.Parse(j.ConfirmID)
	if err != nil {
		return nil, fmt.Errorf("parse confirm_id: %w", err)
	}
	hash, err := parseHash(j.DataHash)
	if err != nil {
		return nil, err
	}
	return &event.BatchConfirm{
		ConfirmID: confirmID,
		BatchID:   j.BatchID,
		DataHash:  hash,
		Relayer:   j.Relayer,
		RelaySeq:  j.RelaySeq,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type tradeJSON struct {
	UserID   string `json:"user_id"`
	Market   uint8  `json:"market"`
	Kind     string `json:"kind"` // "open" or "close"
	Side     string `json:"side"`
	Size     int64  `json:"size"`
	Price    int64  `json:"price"`
	Leverage uint8  `json:"leverage"`
}

type batchExecuteJSON struct {
	ExecuteID   string      `json:"execute_id"`
	BatchID     uint64      `json:"batch_id"`
	Trades      []tradeJSON `json:"trades"`
	Relayer     string      `json:"relayer"`
	RelaySeq    int64       `json:"relay_seq"`
	TimestampUs int64       `json:"timestamp_us"`
}

func parseBatchExecute(data []byte) (*event.BatchExecute, error) {
	var j batchExecuteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BatchExecute: %w", err)
	}
	executeID, err := uuid.Parse(j.ExecuteID)
	if err != nil {
		return nil, fmt.Errorf("parse execute_id: %w", err)
	}
	trades := make([]event.TradeData, 0, len(j.Trades))
	for i, t := range j.Trades {
		userID, err := uuid.Parse(t.UserID)
		if err != nil {
			return nil, fmt.Errorf("parse trades[%d].user_id: %w", i, err)
		}
		side, err := parseSide(t.Side)
		if err != nil {
			return nil, fmt.Errorf("trades[%d]: %w", i, err)
		}
		var kind event.TradeKind
		switch t.Kind {
		case "open":
			kind = event.TradeKindOpen
		case "close":
			kind = event.TradeKindClose
		default:
			return nil, fmt.Errorf("parse trades[%d].kind: unknown value %q", i, t.Kind)
		}
		trades = append(trades, event.TradeData{
			User:        userID,
			MarketIndex: t.Market,
			Kind:        kind,
			TradeSide:   side,
			Size:        t.Size,
			Price:       t.Price,
			Leverage:    t.Leverage,
		})
	}
	return &event.BatchExecute{
		ExecuteID: executeID,
		BatchID:   j.BatchID,
		Trades:    trades,
		Relayer:   j.Relayer,
		RelaySeq:  j.RelaySeq,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type positionOpenJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Market      uint8  `json:"market"`
	Side        string `json:"side"`
	Size        int64  `json:"size"`
	Price       int64  `json:"price"`
	Leverage    uint8  `json:"leverage"`
	BatchID     uint64 `json:"batch_id,omitempty"`
	Relayer     string `json:"relayer"`
	RelaySeq    int64  `json:"relay_seq"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePositionOpen(data []byte) (*event.PositionOpen, error) {
	var j positionOpenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionOpen: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	side, err := parseSide(j.Side)
	if err != nil {
		return nil, err
	}
	return &event.PositionOpen{
		RequestID: requestID,
		User:      userID,
		Market:    j.Market,
		TradeSide: side,
		Size:      j.Size,
		Price:     j.Price,
		Leverage:  j.Leverage,
		BatchID:   j.BatchID,
		Relayer:   j.Relayer,
		RelaySeq:  j.RelaySeq,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type positionCloseJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Market      uint8  `json:"market"`
	Size        int64  `json:"size"`
	Price       int64  `json:"price"`
	BatchID     uint64 `json:"batch_id,omitempty"`
	Relayer     string `json:"relayer"`
	RelaySeq    int64  `json:"relay_seq"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePositionClose(data []byte) (*event.PositionClose, error) {
	var j positionCloseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionClose: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.PositionClose{
		RequestID: requestID,
		User:      userID,
		Market:    j.Market,
		Size:      j.Size,
		Price:     j.Price,
		BatchID:   j.BatchID,
		Relayer:   j.Relayer,
		RelaySeq:  j.RelaySeq,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type liquidationJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Market      uint8  `json:"market"`
	MarkPrice   int64  `json:"mark_price"`
	Liquidator  string `json:"liquidator"`
	RelaySeq    int64  `json:"relay_seq"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseLiquidation(data []byte) (*event.LiquidationRequest, error) {
	var j liquidationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidation: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.LiquidationRequest{
		RequestID:  requestID,
		User:       userID,
		Market:     j.Market,
		MarkPrice:  j.MarkPrice,
		Liquidator: j.Liquidator,
		RelaySeq:   j.RelaySeq,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type adlTriggerJSON struct {
	RequestID    string `json:"request_id"`
	Market       uint8  `json:"market"`
	Shortfall    int64  `json:"shortfall"`
	BankruptSide string `json:"bankrupt_side"`
	Requester    string `json:"requester"`
	RelaySeq     int64  `json:"relay_seq"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseADLTrigger(data []byte) (*event.ADLTrigger, error) {
	var j adlTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ADLTrigger: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	side, err := parseSide(j.BankruptSide)
	if err != nil {
		return nil, err
	}
	return &event.ADLTrigger{
		RequestID:    requestID,
		Market:       j.Market,
		Shortfall:    j.Shortfall,
		BankruptSide: side,
		Requester:    j.Requester,
		RelaySeq:     j.RelaySeq,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type fundingSettleJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Market      uint8  `json:"market"`
	FundingRate int64  `json:"funding_rate"`
	IndexPrice  int64  `json:"index_price"`
	Relayer     string `json:"relayer"`
	RelaySeq    int64  `json:"relay_seq"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseFundingSettle(data []byte) (*event.FundingSettle, error) {
	var j fundingSettleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingSettle: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.FundingSettle{
		RequestID:   requestID,
		User:        userID,
		Market:      j.Market,
		FundingRate: j.FundingRate,
		IndexPrice:  j.IndexPrice,
		Relayer:     j.Relayer,
		RelaySeq:    j.RelaySeq,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type markPriceJSON struct {
	Market        uint8 `json:"market"`
	Price         int64 `json:"price"`
	PriceSequence int64 `json:"price_sequence"`
	TimestampUs   int64 `json:"timestamp_us"`
}

func parseMarkPriceUpdate(data []byte) (*event.MarkPriceUpdate, error) {
	var j markPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarkPriceUpdate: %w", err)
	}
	return &event.MarkPriceUpdate{
		Market:        j.Market,
		Price:         j.Price,
		PriceSequence: j.PriceSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type relayerUpdateJSON struct {
	RequestID          string `json:"request_id"`
	Action             string `json:"action"` // "add", "remove", "set_required"
	Relayer            string `json:"relayer,omitempty"`
	RequiredSignatures uint8  `json:"required_signatures,omitempty"`
	Admin              string `json:"admin"`
	AdminSeq           int64  `json:"admin_seq"`
	TimestampUs        int64  `json:"timestamp_us"`
}

func parseRelayerUpdate(data []byte) (*event.RelayerUpdate, error) {
	var j relayerUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RelayerUpdate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	var action event.RelayerAction
	switch j.Action {
	case "add":
		action = event.RelayerActionAdd
	case "remove":
		action = event.RelayerActionRemove
	case "set_required":
		action = event.RelayerActionSetRequired
	default:
		return nil, fmt.Errorf("parse action: unknown value %q", j.Action)
	}
	return &event.RelayerUpdate{
		RequestID:          requestID,
		Action:             action,
		Relayer:            j.Relayer,
		RequiredSignatures: j.RequiredSignatures,
		Admin:              j.Admin,
		AdminSeq:           j.AdminSeq,
		Timestamp:          time.UnixMicro(j.TimestampUs),
	}, nil
}

type pauseSetJSON struct {
	RequestID   string `json:"request_id"`
	Paused      bool   `json:"paused"`
	Admin       string `json:"admin"`
	AdminSeq    int64  `json:"admin_seq"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePauseSet(data []byte) (*event.PauseSet, error) {
	var j pauseSetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PauseSet: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.PauseSet{
		RequestID: requestID,
		Paused:    j.Paused,
		Admin:     j.Admin,
		AdminSeq:  j.AdminSeq,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type adminUpdateJSON struct {
	RequestID   string `json:"request_id"`
	NewAdmin    string `json:"new_admin"`
	Admin       string `json:"admin"`
	AdminSeq    int64  `json:"admin_seq"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseAdminUpdate(data []byte) (*event.AdminUpdate, error) {
	var j adminUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AdminUpdate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.AdminUpdate{
		RequestID: requestID,
		NewAdmin:  j.NewAdmin,
		Admin:     j.Admin,
		AdminSeq:  j.AdminSeq,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type transferJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Relayer     string `json:"relayer"`
	RelaySeq    int64  `json:"relay_seq"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDeposit(data []byte) (*event.Deposit, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.Deposit{
		RequestID: requestID,
		User:      userID,
		Amount:    j.Amount,
		Relayer:   j.Relayer,
		RelaySeq:  j.RelaySeq,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseWithdraw(data []byte) (*event.Withdraw, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.Withdraw{
		RequestID: requestID,
		User:      userID,
		Amount:    j.Amount,
		Relayer:   j.Relayer,
		RelaySeq:  j.RelaySeq,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
