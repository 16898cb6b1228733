package main

import (
	"bytes"
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"BatchLedger/internal/config"
	"BatchLedger/internal/core"
	"BatchLedger/internal/engine"
	"BatchLedger/internal/ingestion"
	"BatchLedger/internal/observability"
	"BatchLedger/internal/persistence"
	"BatchLedger/internal/projection"
	"BatchLedger/internal/query"
	"BatchLedger/internal/server"
	"BatchLedger/internal/state"
)

func main() {
	configPath := flag.String("config", "batchledger.toml", "path to TOML config file")
	flag.Parse()

	log := observability.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetimeDuration())

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Persist.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	snapMgr := persistence.NewSnapshotManager(db, observability.NewLogger("snapshot"))

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Engine + core ---
	eng, err := engine.New(engine.Config{
		LedgerID:     cfg.Ledger.LedgerID,
		Admin:        cfg.Ledger.Admin,
		Relayers:     cfg.Ledger.Relayers,
		RequiredSigs: cfg.Ledger.RequiredSignatures,
	}, observability.NewLogger("engine"))
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}
	for _, m := range cfg.Markets {
		eng.RegisterMarket(state.DefaultMarketParams(m.Index, m.Symbol))
	}

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	dedup := core.NewIdempotencyChecker(cfg.Core.LRUCapacity, dbChecker)

	// Persist channel blocks under backpressure; projection channel
	// drops and rebuilds from the event log.
	persistChan := make(chan *core.Output, cfg.Core.PersistChanSize)
	projectionChan := make(chan *core.Output, cfg.Core.ProjectionChanSize)

	pipeline := core.NewCore(eng, dedup, persistChan, projectionChan,
		&core.PromSink{M: metrics}, observability.NewLogger("core"))

	// --- Persist and projection workers ---
	// Started before replay: replayed outputs flow through the same
	// channels, and every downstream write is idempotent.
	errChan := make(chan error, 8)
	projWorkerChan := make(chan *core.Output, cfg.Core.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.Core.PublishChanSize)

	persistWorker := persistence.NewPersistenceWorker(
		persistence.NewEventLogWriter(db), persistChan,
		cfg.Persist.BatchSize, cfg.Persist.FlushTimeout(),
		metrics, observability.NewLogger("persistence"))
	projWorker := projection.NewWorker(db, projWorkerChan, observability.NewLogger("projection"))

	go func() { errChan <- persistWorker.Run(ctx) }()
	go func() { errChan <- projWorker.Run(ctx) }()
	go fanOutProjection(ctx, projectionChan, projWorkerChan, publishChan)

	// --- Recovery: snapshot restore, LRU warm, event replay ---
	startHash := recoverState(ctx, log, pipeline, snapMgr, cfg.Snapshot.WarmLRUKeys)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.Core.RawEventChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan, observability.NewLogger("subscriber"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}

	publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))

	// --- Servers ---
	queries := query.NewService(db)
	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, queries, js,
		healthChecker, metrics, observability.NewLogger("http"))
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, observability.NewLogger("grpc"))

	go func() { errChan <- publisher.Run(ctx) }()
	go func() { errChan <- httpServer.Run(ctx) }()
	go func() { errChan <- grpcServer.Run(ctx) }()

	go runIngestionLoop(ctx, rawEventChan, pipeline, observability.NewLogger("ingest"))
	go runPeriodicSnapshots(ctx, pipeline, snapMgr, cfg.Snapshot.IntervalEvents, metrics, log)

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	log.Info().
		Int64("sequence", pipeline.GetSequence()).
		Hex("state_hash", startHash[:8]).
		Str("http", cfg.Server.HTTPAddr).
		Str("grpc", cfg.Server.GRPCAddr).
		Msg("ledger ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("worker failed, shutting down")
	}

	cancel()
	subscriber.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := takeSnapshot(shutdownCtx, pipeline, snapMgr, metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	}

	log.Info().Msg("shutdown complete")
}

// recoverState restores from the newest verified snapshot, warms the
// dedup LRU from the event log and replays events written after the
// snapshot. Returns the state hash after recovery.
func recoverState(
	ctx context.Context,
	log zerolog.Logger,
	pipeline *core.Core,
	snapMgr *persistence.SnapshotManager,
	warmKeys int,
) [32]byte {
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load snapshot")
	}

	fromSequence := int64(0)
	if snap != nil {
		pipeline.RestoreFromSnapshot(snap.State)
		fromSequence = snap.Sequence
		log.Info().Int64("sequence", snap.Sequence).Msg("restored from snapshot")
	} else {
		log.Info().Msg("no snapshot, cold start from genesis")
	}

	keys, err := snapMgr.LoadRecentIdempotencyKeys(ctx, warmKeys)
	if err != nil {
		log.Warn().Err(err).Msg("warm lru failed")
	} else if len(keys) > 0 {
		pipeline.WarmLRU(keys)
		log.Info().Int("keys", len(keys)).Msg("dedup lru warmed")
	}

	replayed, lastHash, err := replayEvents(ctx, snapMgr, pipeline, fromSequence, log)
	if err != nil {
		log.Fatal().Err(err).Msg("event replay")
	}
	if replayed > 0 {
		log.Info().Int64("events", replayed).Int64("sequence", pipeline.GetSequence()).Msg("replay complete")
	}

	got := pipeline.GetStateHash()
	switch {
	case replayed > 0:
		if !bytes.Equal(got[:], lastHash) {
			log.Fatal().
				Hex("expected", lastHash).
				Hex("got", got[:]).
				Msg("state hash mismatch after replay")
		}
	case snap != nil:
		if !bytes.Equal(got[:], snap.StateHash) {
			log.Fatal().
				Hex("expected", snap.StateHash).
				Hex("got", got[:]).
				Msg("state hash mismatch after restore")
		}
	}
	return got
}

func replayEvents(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	pipeline *core.Core,
	fromSequence int64,
	log zerolog.Logger,
) (int64, []byte, error) {
	const batchSize = 1000
	var (
		replayed int64
		lastHash []byte
	)

	for {
		events, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return replayed, lastHash, err
		}
		if len(events) == 0 {
			return replayed, lastHash, nil
		}

		for _, row := range events {
			evt, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: row.Payload}, row.EventType)
			if err != nil {
				log.Warn().Int64("sequence", row.Sequence).Str("type", row.EventType).
					Err(err).Msg("skip unparseable event during replay")
				continue
			}
			if _, err := pipeline.ProcessEvent(evt, row.Payload); err != nil {
				log.Debug().Int64("sequence", row.Sequence).Err(err).Msg("replay skip")
			}
			replayed++
			lastHash = row.StateHash
		}

		fromSequence = events[len(events)-1].Sequence
	}
}

// fanOutProjection forwards core projection outputs to the projection
// worker and the outbound publisher. Both sends are non-blocking: a
// lagging consumer drops and catches up from the event log.
func fanOutProjection(
	ctx context.Context,
	in <-chan *core.Output,
	projOut chan<- *core.Output,
	publishOut chan<- ingestion.PublishableEvent,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-in:
			if !ok {
				return
			}

			select {
			case projOut <- out:
			default:
			}

			env := out.Envelope
			select {
			case publishOut <- ingestion.PublishableEvent{
				Sequence:       env.Sequence,
				EventType:      env.EventType.String(),
				IdempotencyKey: env.IdempotencyKey,
				Market:         env.MarketIndex,
				Payload:        env.Payload,
				StateHash:      env.StateHash[:],
				Timestamp:      env.Timestamp,
			}:
			default:
			}
		}
	}
}

// runIngestionLoop parses raw NATS events and drives the single-writer
// core. Messages are acked once the core has either applied or
// deliberately skipped them; parse failures are acked to stop
// redelivery of garbage.
func runIngestionLoop(ctx context.Context, rawChan <-chan ingestion.RawEvent, pipeline *core.Core, log zerolog.Logger) {
	subjectToType := make(map[string]string)
	for _, cfg := range ingestion.DefaultSubjects() {
		prefix := strings.TrimSuffix(cfg.Subject, ".>")
		subjectToType[prefix] = cfg.EventType
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			eventType := resolveEventType(raw.Subject, subjectToType)
			if eventType == "" {
				log.Warn().Str("subject", raw.Subject).Msg("unknown subject")
				raw.AckFunc()
				continue
			}

			evt, err := ingestion.ParseRawEvent(raw, eventType)
			if err != nil {
				log.Warn().Str("subject", raw.Subject).Err(err).Msg("parse failed")
				raw.AckFunc()
				continue
			}

			if _, err := pipeline.ProcessEvent(evt, raw.Data); err != nil {
				log.Warn().
					Str("type", eventType).
					Str("key", evt.IdempotencyKey()).
					Err(err).Msg("event rejected")
			}
			// Rejections are deterministic; retrying the same event
			// yields the same answer, so ack either way.
			raw.AckFunc()
		}
	}
}

func resolveEventType(subject string, prefixes map[string]string) string {
	best := ""
	bestType := ""
	for prefix, evtType := range prefixes {
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(best) {
			best = prefix
			bestType = evtType
		}
	}
	return bestType
}

func runPeriodicSnapshots(
	ctx context.Context,
	pipeline *core.Core,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSeq := pipeline.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := pipeline.GetSequence()
			if current-lastSeq < interval {
				continue
			}
			if err := takeSnapshot(ctx, pipeline, snapMgr, metrics); err != nil {
				log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSeq = current
		}
	}
}

func takeSnapshot(
	ctx context.Context,
	pipeline *core.Core,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	snap := pipeline.CreateSnapshotState()
	snapshotID, err := snapMgr.SaveSnapshot(ctx, snap)
	if err != nil {
		return err
	}

	// Captured from live state, so it is trusted as-is.
	if err := snapMgr.MarkVerified(ctx, snapshotID); err != nil {
		return err
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return nil
}
