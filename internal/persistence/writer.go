package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"BatchLedger/internal/core"
)

// execer is satisfied by *sql.DB and *sql.Tx so batch writes can run
// inside the worker's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events, journals and trade records to Postgres
// using multi-row INSERT. Batched by the persistence worker; every
// statement is idempotent via ON CONFLICT DO NOTHING so replays and
// retries are safe.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row in event_log.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Market         *int16 // nullable for global instructions
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow is a row in event_log.journal.
type JournalRow struct {
	JournalID     string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       int32
	Amount        int64
	JournalType   int32
	Timestamp     time.Time
}

// TradeRecordRow is a row in event_log.trade_records.
type TradeRecordRow struct {
	RecordID    string
	EventRef    string
	Sequence    int64
	UserID      string
	Market      int16
	Kind        string
	Side        int32
	Size        int64
	Price       int64
	Fee         int64
	RealizedPnL int64
	BatchID     int64
	Timestamp   time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromOutput flattens one core output into persistable rows.
func RowsFromOutput(out *core.Output) (EventRow, []JournalRow, []TradeRecordRow) {
	env := out.Envelope

	ev := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
	if env.MarketIndex != nil {
		m := int16(*env.MarketIndex)
		ev.Market = &m
	}

	journals := make([]JournalRow, 0, len(out.Journals))
	for i := range out.Journals {
		j := &out.Journals[i]
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       int32(j.AssetID),
			Amount:        j.Amount,
			JournalType:   int32(j.JournalType),
			Timestamp:     j.Timestamp,
		})
	}

	records := make([]TradeRecordRow, 0, len(out.Records))
	for i := range out.Records {
		r := &out.Records[i]
		records = append(records, TradeRecordRow{
			RecordID:    r.RecordID.String(),
			EventRef:    r.EventRef,
			Sequence:    env.Sequence,
			UserID:      r.User.String(),
			Market:      int16(r.MarketIndex),
			Kind:        r.Kind.String(),
			Side:        int32(r.TradeSide),
			Size:        r.Size,
			Price:       r.Price,
			Fee:         r.Fee,
			RealizedPnL: r.RealizedPnL,
			BatchID:     int64(r.BatchID),
			Timestamp:   r.Timestamp,
		})
	}

	return ev, journals, records
}

// WriteEventBatch writes events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, market, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Market,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*9)

	for i, j := range journals {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			j.JournalID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteTradeRecordBatch writes trade records to event_log.trade_records.
func (w *EventLogWriter) WriteTradeRecordBatch(ctx context.Context, ex execer, records []TradeRecordRow) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.trade_records
		(record_id, event_ref, sequence, user_id, market, kind, side, size, price, fee, realized_pnl, batch_id, timestamp)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*13)

	for i, r := range records {
		base := i * 13
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
			base+8, base+9, base+10, base+11, base+12, base+13,
		))
		args = append(args,
			r.RecordID, r.EventRef, r.Sequence, r.UserID, r.Market,
			r.Kind, r.Side, r.Size, r.Price, r.Fee, r.RealizedPnL,
			r.BatchID, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (record_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteBatchTx writes events, journals and trade records in a single
// transaction so a partially flushed batch never becomes visible.
func (w *EventLogWriter) WriteBatchTx(ctx context.Context, events []EventRow, journals []JournalRow, records []TradeRecordRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := w.WriteEventBatch(ctx, tx, events); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	if err := w.WriteJournalBatch(ctx, tx, journals); err != nil {
		return fmt.Errorf("write journals: %w", err)
	}
	if err := w.WriteTradeRecordBatch(ctx, tx, records); err != nil {
		return fmt.Errorf("write trade records: %w", err)
	}

	return tx.Commit()
}
