package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresIdempotencyChecker is the second dedup tier behind the
// in-memory LRU. A lookup that errors reports "not duplicate"; the
// unique constraint on event_log.events is the final backstop.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate reports whether an event with this type and idempotency
// key was already applied.
func (c *PostgresIdempotencyChecker) IsDuplicate(eventType, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_log.events WHERE event_type = $1 AND idempotency_key = $2`,
		eventType, idempotencyKey,
	).Scan(&one)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return true, nil
}
