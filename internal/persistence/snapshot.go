package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BatchLedger/internal/core"
)

const snapshotFormatVersion = 1

// SnapshotManager persists full-state snapshots so restarts replay
// from the last snapshot instead of from genesis. A snapshot is only
// loadable once marked verified; verification re-derives the state
// hash by replaying the events after the snapshot.
type SnapshotManager struct {
	db  *sql.DB
	log zerolog.Logger
}

// StoredSnapshot is one row of event_log.snapshots.
type StoredSnapshot struct {
	SnapshotID    uuid.UUID
	Sequence      int64
	State         *core.SnapshotState
	StateHash     []byte
	FormatVersion int
	SizeBytes     int64
	CreatedAt     time.Time
}

// StoredEvent is one row of event_log.events as read back for replay.
type StoredEvent struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Market         *int16
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

func NewSnapshotManager(db *sql.DB, log zerolog.Logger) *SnapshotManager {
	return &SnapshotManager{db: db, log: log}
}

// SaveSnapshot writes a snapshot as unverified. ON CONFLICT replaces
// an earlier unverified snapshot at the same sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (uuid.UUID, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, now())
		ON CONFLICT (sequence) DO UPDATE SET
			snapshot_id = EXCLUDED.snapshot_id,
			data = EXCLUDED.data,
			state_hash = EXCLUDED.state_hash,
			format_version = EXCLUDED.format_version,
			size_bytes = EXCLUDED.size_bytes,
			verified = FALSE,
			created_at = now()`,
		snapshotID, snap.Sequence, data, snap.StateHash[:], snapshotFormatVersion, len(data),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert snapshot: %w", err)
	}

	sm.log.Info().
		Str("snapshot_id", snapshotID.String()).
		Int64("sequence", snap.Sequence).
		Int("size_bytes", len(data)).
		Msg("snapshot saved")
	return snapshotID, nil
}

// MarkVerified flags a snapshot as safe to restore from.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, snapshotID uuid.UUID) error {
	res, err := sm.db.ExecContext(ctx,
		`UPDATE event_log.snapshots SET verified = TRUE WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("snapshot %s not found", snapshotID)
	}
	return nil
}

// LoadLatestSnapshot returns the newest verified snapshot, or nil when
// none exists (cold start from genesis).
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*StoredSnapshot, error) {
	var (
		stored StoredSnapshot
		data   []byte
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT snapshot_id, sequence, data, state_hash, format_version, size_bytes, created_at
		FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1`,
	).Scan(&stored.SnapshotID, &stored.Sequence, &data, &stored.StateHash,
		&stored.FormatVersion, &stored.SizeBytes, &stored.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if stored.FormatVersion != snapshotFormatVersion {
		return nil, fmt.Errorf("snapshot format version %d unsupported", stored.FormatVersion)
	}

	var state core.SnapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	stored.State = &state
	return &stored, nil
}

// LoadEventsFrom returns events with sequence > fromSequence in order,
// up to limit rows. Used for replay after a snapshot restore.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]StoredEvent, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market, payload, state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2`,
		fromSequence, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Market,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest persisted sequence, 0 when the
// event log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// LoadRecentIdempotencyKeys returns composite dedup keys for the most
// recent events, oldest first, to warm the in-memory LRU after a
// restart.
func (sm *SnapshotManager) LoadRecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key FROM (
			SELECT sequence, event_type, idempotency_key
			FROM event_log.events
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load idempotency keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var eventType, key string
		if err := rows.Scan(&eventType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, eventType+":"+key)
	}
	return keys, rows.Err()
}
