package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"BatchLedger/internal/ledger"
)

var ErrNotFound = errors.New("query: not found")

// Service provides read-only access to the projection tables and the
// event log. It never touches in-memory core state; every answer is a
// database read tagged with the projection watermark.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'`,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (s *Service) balanceOf(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account_path = $1`,
		accountPath,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// GetBalance returns a user's collateral split into available and
// reserved margin.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	available, err := s.balanceOf(ctx,
		ledger.NewUserAccountKey(userID, ledger.SubTypeCollateral, ledger.AssetUSDT).AccountPath())
	if err != nil {
		return nil, err
	}
	reserved, err := s.balanceOf(ctx,
		ledger.NewUserAccountKey(userID, ledger.SubTypeReserved, ledger.AssetUSDT).AccountPath())
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		UserID:           userID,
		AssetID:          int32(ledger.AssetUSDT),
		TotalBalance:     available + reserved,
		AvailableBalance: available,
		ReservedBalance:  reserved,
		AsOfSequence:     asOf,
	}, nil
}

// GetPositions returns a user's open positions.
func (s *Service) GetPositions(ctx context.Context, userID uuid.UUID) ([]PositionResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT market, side, size, entry_price, realized_pnl
		FROM projections.positions
		WHERE user_id = $1 AND size > 0
		ORDER BY market`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		p := PositionResponse{UserID: userID, AsOfSequence: asOf}
		if err := rows.Scan(&p.Market, &p.Side, &p.Size, &p.EntryPrice, &p.RealizedPnL); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetBatch returns the authorization status of one trade batch.
func (s *Service) GetBatch(ctx context.Context, batchID int64) (*BatchResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	b := BatchResponse{BatchID: batchID, AsOfSequence: asOf}
	err = s.db.QueryRowContext(ctx, `
		SELECT data_hash, status, submitter, confirmations, trade_count, submitted_at, executed_at
		FROM projections.batches
		WHERE batch_id = $1`,
		batchID,
	).Scan(&b.DataHash, &b.Status, &b.Submitter, pq.Array(&b.Confirmations),
		&b.TradeCount, &b.SubmittedAt, &b.ExecutedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatches returns recent batches, optionally filtered by status.
func (s *Service) ListBatches(ctx context.Context, status string, limit int) ([]BatchResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT batch_id, data_hash, status, submitter, confirmations, trade_count, submitted_at, executed_at
		FROM projections.batches`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY batch_id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []BatchResponse
	for rows.Next() {
		b := BatchResponse{AsOfSequence: asOf}
		if err := rows.Scan(&b.BatchID, &b.DataHash, &b.Status, &b.Submitter,
			pq.Array(&b.Confirmations), &b.TradeCount, &b.SubmittedAt, &b.ExecutedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetUserStats returns lifetime trading aggregates for a user.
func (s *Service) GetUserStats(ctx context.Context, userID uuid.UUID) (*UserStatsResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	st := UserStatsResponse{UserID: userID, AsOfSequence: asOf}
	err = s.db.QueryRowContext(ctx, `
		SELECT trade_count, total_fees, realized_pnl, liquidations, first_trade_ts, last_trade_ts
		FROM projections.user_stats
		WHERE user_id = $1`,
		userID,
	).Scan(&st.TradeCount, &st.TotalFees, &st.RealizedPnL, &st.Liquidations, &st.FirstTradeAt, &st.LastTradeAt)

	if errors.Is(err, sql.ErrNoRows) {
		return &st, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetTradeHistory returns a user's fills, newest first, with cursor
// pagination on sequence.
func (s *Service) GetTradeHistory(ctx context.Context, userID uuid.UUID, beforeSequence *int64, limit int) ([]TradeRecordResponse, error) {
	query := `
		SELECT record_id, event_ref, sequence, market, kind, side, size, price, fee, realized_pnl, batch_id, timestamp
		FROM event_log.trade_records
		WHERE user_id = $1`
	args := []interface{}{userID}

	if beforeSequence != nil {
		query += fmt.Sprintf(` AND sequence < $%d`, len(args)+1)
		args = append(args, *beforeSequence)
	}
	query += fmt.Sprintf(` ORDER BY sequence DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TradeRecordResponse
	for rows.Next() {
		r := TradeRecordResponse{UserID: userID}
		if err := rows.Scan(&r.RecordID, &r.EventRef, &r.Sequence, &r.Market, &r.Kind,
			&r.Side, &r.Size, &r.Price, &r.Fee, &r.RealizedPnL, &r.BatchID, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's
// accounts, newest first, with cursor pagination on sequence.
func (s *Service) GetJournalHistory(ctx context.Context, userID uuid.UUID, beforeSequence *int64, limit int) ([]JournalEntryResponse, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)`
	args := []interface{}{accountPrefix}

	if beforeSequence != nil {
		query += fmt.Sprintf(` AND sequence < $%d`, len(args)+1)
		args = append(args, *beforeSequence)
	}
	query += fmt.Sprintf(` ORDER BY sequence DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntryResponse
	for rows.Next() {
		var e JournalEntryResponse
		if err := rows.Scan(&e.JournalID, &e.EventRef, &e.Sequence, &e.DebitAccount,
			&e.CreditAccount, &e.AssetID, &e.Amount, &e.JournalType, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEvent returns one applied event header by sequence.
func (s *Service) GetEvent(ctx context.Context, sequence int64) (*EventResponse, error) {
	var e EventResponse
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market, state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence = $1`,
		sequence,
	).Scan(&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Market,
		&e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// VerifyIntegrity audits the hash chain and the global double-entry
// invariant. A healthy log has no prev_hash mismatches and every
// asset's balances sum to zero across all accounts.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM event_log.events`,
	).Scan(&report.HighestSequence); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.sequence
		FROM event_log.events e
		JOIN event_log.events p ON p.sequence = e.sequence - 1
		WHERE e.prev_hash != p.state_hash
		ORDER BY e.sequence
		LIMIT 10`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.AssetID, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}
