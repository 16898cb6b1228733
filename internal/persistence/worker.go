package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"BatchLedger/internal/core"
	"BatchLedger/internal/observability"
)

// PersistenceWorker drains the core's persist channel and writes event
// batches to Postgres. Flushes happen on batch size or timeout,
// whichever comes first. A flush retries indefinitely with exponential
// backoff; the core blocks on a full channel rather than lose events.
type PersistenceWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan *core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	writer *EventLogWriter,
	inputChan <-chan *core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &PersistenceWorker{
		writer:       writer,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run processes outputs until the context is cancelled or the input
// channel closes. On shutdown the pending batch is flushed with a
// background context so buffered events still reach the database.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	var (
		events   []EventRow
		journals []JournalRow
		records  []TradeRecordRow
	)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(flushCtx context.Context) {
		if len(events) == 0 {
			return
		}
		pw.flushWithRetry(flushCtx, events, journals, records)
		events = events[:0]
		journals = journals[:0]
		records = records[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			pw.log.Info().Msg("persistence worker stopped")
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background())
				return nil
			}

			ev, js, rs := RowsFromOutput(out)
			events = append(events, ev)
			journals = append(journals, js...)
			records = append(records, rs...)

			if len(events) >= pw.batchSize {
				flush(ctx)
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry keeps retrying until the batch lands. The event log
// is the source of truth, so giving up is not an option; backoff caps
// at 30s and every insert is idempotent.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow, records []TradeRecordRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := pw.writer.WriteBatchTx(ctx, events, journals, records)
		if err == nil {
			if pw.metrics != nil {
				pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
				pw.metrics.PersistBatchSize.Observe(float64(len(events)))
				pw.metrics.PersistEventsWritten.Add(float64(len(events)))
				pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
				pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
			}
			if attempt > 1 {
				pw.log.Info().Int("attempt", attempt).Int("events", len(events)).Msg("flush succeeded after retry")
			}
			return
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("flush").Inc()
			pw.metrics.PersistRetry.Inc()
		}
		pw.log.Error().Err(err).
			Int("attempt", attempt).
			Int("events", len(events)).
			Dur("backoff", backoff).
			Msg("flush failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			// One last try with a fresh context before the buffered
			// batch would be lost.
			if err := pw.writer.WriteBatchTx(context.Background(), events, journals, records); err != nil {
				pw.log.Error().Err(err).Int("events", len(events)).Msg("final flush failed, batch dropped")
			}
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
