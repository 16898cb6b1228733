package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"BatchLedger/internal/core"
	"BatchLedger/internal/event"
)

// Worker maintains read-model tables from the core's projection
// channel. Updates are best effort: the channel drops under
// backpressure and a failed update is logged and skipped, because
// every table here can be rebuilt from the event log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan *core.Output
	lastSeq   int64
	log       zerolog.Logger
}

func NewWorker(db *sql.DB, inputChan <-chan *core.Output, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		log:       log,
	}
}

// Run processes outputs until the context is cancelled or the input
// channel closes. Outputs at or below the stored watermark are skipped
// so event replay after a restart does not double-apply increments.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.loadWatermark(ctx); err != nil {
		w.log.Warn().Err(err).Msg("load watermark failed, starting from zero")
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("projection worker stopped")
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}
			if out.Envelope.Sequence <= w.lastSeq {
				continue
			}

			if err := w.apply(ctx, out); err != nil {
				w.log.Warn().Int64("sequence", out.Envelope.Sequence).Err(err).Msg("projection update failed")
				continue
			}
			w.lastSeq = out.Envelope.Sequence
		}
	}
}

func (w *Worker) loadWatermark(ctx context.Context) error {
	err := w.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'`,
	).Scan(&w.lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

func (w *Worker) apply(ctx context.Context, out *core.Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := out.Envelope.Sequence

	for i := range out.Journals {
		if err := w.applyBalance(ctx, tx, out, i); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	for i := range out.Records {
		if err := w.applyRecord(ctx, tx, out, i); err != nil {
			return fmt.Errorf("record projection: %w", err)
		}
	}
	if err := w.applyBatchStatus(ctx, tx, out); err != nil {
		return fmt.Errorf("batch projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, now())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = now()`,
		seq,
	); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) applyBalance(ctx context.Context, tx *sql.Tx, out *core.Output, i int) error {
	j := &out.Journals[i]
	seq := out.Envelope.Sequence

	// Debit side pays, credit side receives.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4`,
		j.DebitAccount.AccountPath(), int32(j.AssetID), j.Amount, seq,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4`,
		j.CreditAccount.AccountPath(), int32(j.AssetID), j.Amount, seq,
	); err != nil {
		return err
	}

	return nil
}

func (w *Worker) applyRecord(ctx context.Context, tx *sql.Tx, out *core.Output, i int) error {
	r := &out.Records[i]
	seq := out.Envelope.Sequence

	if err := w.applyPosition(ctx, tx, out, i); err != nil {
		return err
	}

	isLiquidation := int64(0)
	if r.Kind.String() == "liquidation" {
		isLiquidation = 1
	}
	isTrade := int64(0)
	var tradeTS interface{} // NULL for funding rows
	if r.Kind.String() != "funding" {
		isTrade = 1
		tradeTS = r.Timestamp
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.user_stats (user_id, trade_count, total_fees, realized_pnl, liquidations, first_trade_ts, last_trade_ts, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			trade_count = projections.user_stats.trade_count + $2,
			total_fees = projections.user_stats.total_fees + $3,
			realized_pnl = projections.user_stats.realized_pnl + $4,
			liquidations = projections.user_stats.liquidations + $5,
			first_trade_ts = COALESCE(projections.user_stats.first_trade_ts, $6),
			last_trade_ts = COALESCE($6, projections.user_stats.last_trade_ts),
			last_sequence = $7`,
		r.User, isTrade, r.Fee, r.RealizedPnL, isLiquidation, tradeTS, seq,
	)
	return err
}

func (w *Worker) applyPosition(ctx context.Context, tx *sql.Tx, out *core.Output, i int) error {
	r := &out.Records[i]
	seq := out.Envelope.Sequence

	switch r.Kind.String() {
	case "open":
		// Weighted average entry on pyramiding into the same side.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions (user_id, market, side, size, entry_price, realized_pnl, last_sequence)
			VALUES ($1, $2, $3, $4, $5, 0, $6)
			ON CONFLICT (user_id, market) DO UPDATE SET
				entry_price = ((projections.positions.size::numeric * projections.positions.entry_price
					+ $4::numeric * $5) / (projections.positions.size + $4))::bigint,
				size = projections.positions.size + $4,
				side = $3,
				last_sequence = $6`,
			r.User, int16(r.MarketIndex), int32(r.TradeSide), r.Size, r.Price, seq)
		return err

	case "close", "liquidation", "adl":
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.positions SET
				size = GREATEST(size - $3, 0),
				realized_pnl = realized_pnl + $4,
				last_sequence = $5
			WHERE user_id = $1 AND market = $2`,
			r.User, int16(r.MarketIndex), r.Size, r.RealizedPnL, seq,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM projections.positions WHERE user_id = $1 AND market = $2 AND size = 0`,
			r.User, int16(r.MarketIndex))
		return err

	case "funding":
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.positions SET
				realized_pnl = realized_pnl + $3,
				last_sequence = $4
			WHERE user_id = $1 AND market = $2`,
			r.User, int16(r.MarketIndex), r.RealizedPnL, seq)
		return err
	}

	return nil
}

type batchPayload struct {
	BatchID  uint64 `json:"batch_id"`
	DataHash string `json:"data_hash"`
	Relayer  string `json:"relayer"`
}

func (w *Worker) applyBatchStatus(ctx context.Context, tx *sql.Tx, out *core.Output) error {
	env := out.Envelope

	switch env.EventType {
	case event.EventTypeBatchSubmit, event.EventTypeBatchConfirm, event.EventTypeBatchExecute:
	default:
		return nil
	}

	var p batchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode batch payload: %w", err)
	}

	switch env.EventType {
	case event.EventTypeBatchSubmit:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.batches (batch_id, data_hash, status, submitter, confirmations, submitted_at, last_sequence)
			VALUES ($1, decode($2, 'hex'), 'pending', $3, ARRAY[$3], $4, $5)
			ON CONFLICT (batch_id) DO NOTHING`,
			int64(p.BatchID), p.DataHash, p.Relayer, env.Timestamp, env.Sequence)
		return err

	case event.EventTypeBatchConfirm:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.batches SET
				confirmations = array_append(confirmations, $2),
				last_sequence = $3
			WHERE batch_id = $1 AND NOT ($2 = ANY(confirmations))`,
			int64(p.BatchID), p.Relayer, env.Sequence)
		return err

	case event.EventTypeBatchExecute:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.batches SET
				status = 'executed',
				trade_count = $2,
				executed_at = $3,
				last_sequence = $4
			WHERE batch_id = $1`,
			int64(p.BatchID), len(out.Records), env.Timestamp, env.Sequence)
		return err
	}

	return nil
}

// Rebuild truncates the balance projection and regenerates it from the
// journal. Positions, batches and stats rebuild by replaying the event
// log through the core.
func Rebuild(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	stmts := []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT credit_account, asset_id, SUM(amount), MAX(sequence)
		FROM event_log.journal
		GROUP BY credit_account, asset_id`,
	); err != nil {
		return fmt.Errorf("rebuild credit side: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT debit_account, asset_id, -SUM(amount), MAX(sequence)
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE SET
			balance = projections.balances.balance + EXCLUDED.balance,
			last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)`,
	); err != nil {
		return fmt.Errorf("rebuild debit side: %w", err)
	}

	log.Info().Msg("balance projection rebuilt from journal")
	return nil
}
