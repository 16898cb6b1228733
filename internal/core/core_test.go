package core_test

import (
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BatchLedger/internal/core"
	"BatchLedger/internal/engine"
	"BatchLedger/internal/event"
	"BatchLedger/internal/ledger"
	"BatchLedger/internal/state"
)

func userN(n byte) uuid.UUID {
	var u uuid.UUID
	u[0] = n
	u[15] = 0x01
	return u
}

func reqN(n byte) uuid.UUID {
	var u uuid.UUID
	u[0] = 0xAB
	u[1] = n
	return u
}

func t0() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newCore(t *testing.T) *core.Core {
	t.Helper()
	eng, err := engine.New(engine.Config{
		LedgerID:     1,
		Admin:        "admin",
		Relayers:     []string{"r1", "r2", "r3"},
		RequiredSigs: 2,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	eng.RegisterMarket(state.DefaultMarketParams(0, "BTC-PERP"))
	dedup := core.NewIdempotencyChecker(128, nil)
	return core.NewCore(eng, dedup, nil, nil, nil, zerolog.Nop())
}

func depositEvent(req byte, user uuid.UUID, amount, seq int64) *event.Deposit {
	return &event.Deposit{
		RequestID: reqN(req),
		User:      user,
		Amount:    amount,
		Relayer:   "r1",
		RelaySeq:  seq,
		Timestamp: t0(),
	}
}

func mustProcess(t *testing.T, c *core.Core, evt event.Event) *core.Output {
	t.Helper()
	out, err := c.ProcessEvent(evt, nil)
	if err != nil {
		t.Fatalf("ProcessEvent(%s): %v", evt.EventType(), err)
	}
	if out == nil {
		t.Fatalf("ProcessEvent(%s): skipped unexpectedly", evt.EventType())
	}
	return out
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

func TestPipelineAssignsSequenceAndChains(t *testing.T) {
	c := newCore(t)
	alice := userN(1)

	out1 := mustProcess(t, c, depositEvent(1, alice, 10_000_000_000, 1))
	out2 := mustProcess(t, c, depositEvent(2, alice, 5_000_000_000, 2))

	if out1.Envelope.Sequence != 1 || out2.Envelope.Sequence != 2 {
		t.Fatalf("sequences = %d, %d; want 1, 2", out1.Envelope.Sequence, out2.Envelope.Sequence)
	}

	genesis := sha256.Sum256([]byte(core.GenesisHashSeed))
	if out1.Envelope.PrevHash != genesis {
		t.Fatal("first envelope should chain from genesis")
	}
	if out2.Envelope.PrevHash != out1.Envelope.StateHash {
		t.Fatal("second envelope must chain from the first state hash")
	}
	if out1.Envelope.StateHash == out2.Envelope.StateHash {
		t.Fatal("distinct events must produce distinct state hashes")
	}

	avail := c.Engine().Custody().Tracker().GetUserAvailable(alice, ledger.AssetUSDT)
	if avail != 15_000_000_000 {
		t.Fatalf("available = %d, want 15_000_000_000", avail)
	}
}

func TestDuplicateEventSkipped(t *testing.T) {
	c := newCore(t)
	alice := userN(1)
	ev := depositEvent(1, alice, 1_000_000_000, 1)

	mustProcess(t, c, ev)
	out, err := c.ProcessEvent(ev, nil)
	if err != nil {
		t.Fatalf("replay returned error: %v", err)
	}
	if out != nil {
		t.Fatal("replayed duplicate must be skipped")
	}

	avail := c.Engine().Custody().Tracker().GetUserAvailable(alice, ledger.AssetUSDT)
	if avail != 1_000_000_000 {
		t.Fatalf("duplicate applied twice: available = %d", avail)
	}
	if c.GetSequence() != 2 {
		t.Fatalf("sequence advanced on duplicate: %d", c.GetSequence())
	}
}

func TestSequenceGapRejected(t *testing.T) {
	c := newCore(t)

	_, err := c.ProcessEvent(depositEvent(1, userN(1), 1_000_000, 3), nil)
	if !errors.Is(err, core.ErrSequenceGap) {
		t.Fatalf("err = %v, want ErrSequenceGap", err)
	}
}

func TestOutOfOrderRejected(t *testing.T) {
	c := newCore(t)

	mustProcess(t, c, depositEvent(1, userN(1), 1_000_000, 1))
	_, err := c.ProcessEvent(depositEvent(2, userN(1), 1_000_000, 1), nil)
	if !errors.Is(err, core.ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
}

func TestRelayerPartitionsIndependent(t *testing.T) {
	c := newCore(t)
	alice := userN(1)

	mustProcess(t, c, depositEvent(1, alice, 1_000_000, 1))

	ev := &event.Deposit{
		RequestID: reqN(9),
		User:      alice,
		Amount:    2_000_000,
		Relayer:   "r2",
		RelaySeq:  1,
		Timestamp: t0(),
	}
	mustProcess(t, c, ev)
}

func TestStalePriceSkipped(t *testing.T) {
	c := newCore(t)

	mustProcess(t, c, &event.MarkPriceUpdate{Market: 0, Price: 50_000_000_000, PriceSequence: 5, Timestamp: t0()})

	out, err := c.ProcessEvent(&event.MarkPriceUpdate{Market: 0, Price: 1, PriceSequence: 3, Timestamp: t0()}, nil)
	if err != nil || out != nil {
		t.Fatalf("stale price should be skipped silently, got out=%v err=%v", out, err)
	}

	mark, ok := c.Engine().MarkPrice(0)
	if !ok || mark != 50_000_000_000 {
		t.Fatalf("mark = %d, want 50_000_000_000", mark)
	}
}

func TestDomainErrorRejected(t *testing.T) {
	c := newCore(t)

	ev := &event.Deposit{
		RequestID: reqN(1),
		User:      userN(1),
		Amount:    1_000_000,
		Relayer:   "intruder",
		RelaySeq:  1,
		Timestamp: t0(),
	}
	_, err := c.ProcessEvent(ev, nil)
	if !errors.Is(err, engine.ErrInvalidRelayer) {
		t.Fatalf("err = %v, want ErrInvalidRelayer", err)
	}
	if c.GetSequence() != 1 {
		t.Fatalf("rejected event advanced global sequence: %d", c.GetSequence())
	}
}

func TestEnvelopeCarriesPayload(t *testing.T) {
	c := newCore(t)
	raw := []byte(`{"amount":1000000}`)

	out := mustProcessPayload(t, c, depositEvent(1, userN(1), 1_000_000, 1), raw)
	if string(out.Envelope.Payload) != string(raw) {
		t.Fatal("payload must pass through untouched")
	}
	if !out.Envelope.Timestamp.Equal(t0()) {
		t.Fatal("envelope timestamp must come from the event, not the clock")
	}
}

func mustProcessPayload(t *testing.T, c *core.Core, evt event.Event, payload []byte) *core.Output {
	t.Helper()
	out, err := c.ProcessEvent(evt, payload)
	if err != nil || out == nil {
		t.Fatalf("ProcessEvent: out=%v err=%v", out, err)
	}
	return out
}

// ---------------------------------------------------------------------------
// Determinism
// ---------------------------------------------------------------------------

func TestIdenticalStreamsYieldIdenticalHashes(t *testing.T) {
	run := func() [32]byte {
		c := newCore(t)
		alice := userN(1)
		mustProcess(t, c, depositEvent(1, alice, 100_000_000_000, 1))
		mustProcess(t, c, &event.PositionOpen{
			RequestID: reqN(10),
			User:      alice,
			Market:    0,
			TradeSide: event.SideLong,
			Size:      1_000_000,
			Price:     50_000_000_000,
			Leverage:  10,
			Relayer:   "r1",
			RelaySeq:  2,
			Timestamp: t0(),
		})
		mustProcess(t, c, &event.PositionClose{
			RequestID: reqN(11),
			User:      alice,
			Market:    0,
			Size:      0,
			Price:     55_000_000_000,
			Relayer:   "r1",
			RelaySeq:  3,
			Timestamp: t0().Add(time.Minute),
		})
		return c.GetStateHash()
	}

	if run() != run() {
		t.Fatal("same event stream must produce the same chain head")
	}
}

// ---------------------------------------------------------------------------
// Snapshot and restore
// ---------------------------------------------------------------------------

func TestSnapshotRoundTrip(t *testing.T) {
	c := newCore(t)
	alice := userN(1)

	mustProcess(t, c, depositEvent(1, alice, 100_000_000_000, 1))
	mustProcess(t, c, &event.PositionOpen{
		RequestID: reqN(10),
		User:      alice,
		Market:    0,
		TradeSide: event.SideLong,
		Size:      1_000_000,
		Price:     50_000_000_000,
		Leverage:  10,
		Relayer:   "r1",
		RelaySeq:  2,
		Timestamp: t0(),
	})
	mustProcess(t, c, &event.MarkPriceUpdate{Market: 0, Price: 51_000_000_000, PriceSequence: 1, Timestamp: t0()})

	snap := c.CreateSnapshotState()
	if snap.Sequence != 3 {
		t.Fatalf("snapshot sequence = %d, want 3", snap.Sequence)
	}

	restored := newCore(t)
	restored.RestoreFromSnapshot(snap)

	if restored.GetSequence() != c.GetSequence() {
		t.Fatalf("restored sequence = %d, want %d", restored.GetSequence(), c.GetSequence())
	}
	if restored.GetStateHash() != c.GetStateHash() {
		t.Fatal("restored chain head differs")
	}

	origAvail := c.Engine().Custody().Tracker().GetUserAvailable(alice, ledger.AssetUSDT)
	restAvail := restored.Engine().Custody().Tracker().GetUserAvailable(alice, ledger.AssetUSDT)
	if origAvail != restAvail {
		t.Fatalf("restored available = %d, want %d", restAvail, origAvail)
	}
	if restored.Engine().Positions().Get(alice, 0) == nil {
		t.Fatal("restored core lost the open position")
	}
	if mark, ok := restored.Engine().MarkPrice(0); !ok || mark != 51_000_000_000 {
		t.Fatalf("restored mark = %d, want 51_000_000_000", mark)
	}

	// Both instances must agree on the next event after a restore.
	next := &event.PositionClose{
		RequestID: reqN(11),
		User:      alice,
		Market:    0,
		Size:      0,
		Price:     55_000_000_000,
		Relayer:   "r1",
		RelaySeq:  3,
		Timestamp: t0().Add(time.Minute),
	}
	out1 := mustProcess(t, c, next)
	out2 := mustProcess(t, restored, next)
	if out1.Envelope.StateHash != out2.Envelope.StateHash {
		t.Fatal("restored core diverged on the next event")
	}
}

func TestRestoreRejectsReplayedSourceSequence(t *testing.T) {
	c := newCore(t)
	mustProcess(t, c, depositEvent(1, userN(1), 1_000_000, 1))

	restored := newCore(t)
	restored.RestoreFromSnapshot(c.CreateSnapshotState())

	// Same source sequence again, new idempotency key: out of order.
	_, err := restored.ProcessEvent(depositEvent(2, userN(1), 1_000_000, 1), nil)
	if !errors.Is(err, core.ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
}

// ---------------------------------------------------------------------------
// Idempotency LRU
// ---------------------------------------------------------------------------

func TestLRUEvictsOldest(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Add("c")

	if lru.Contains("a") {
		t.Fatal("oldest entry should have been evicted")
	}
	if !lru.Contains("b") || !lru.Contains("c") {
		t.Fatal("recent entries must survive")
	}
	if lru.Evictions() != 1 {
		t.Fatalf("evictions = %d, want 1", lru.Evictions())
	}
}

func TestLRUContainsRefreshesRecency(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a")
	lru.Add("c")

	if lru.Contains("b") {
		t.Fatal("b should have been evicted after a was refreshed")
	}
	if !lru.Contains("a") {
		t.Fatal("refreshed entry must survive")
	}
}

func TestWarmFromKeys(t *testing.T) {
	lru := core.NewIdempotencyLRU(8)
	lru.WarmFromKeys([]string{"x", "y", "z"})
	if lru.Size() != 3 {
		t.Fatalf("size = %d, want 3", lru.Size())
	}
	if !lru.Contains("y") {
		t.Fatal("warmed key missing")
	}
}

// ---------------------------------------------------------------------------
// Sequence validator
// ---------------------------------------------------------------------------

func TestValidatorDuplicateBelowWatermarkPasses(t *testing.T) {
	v := core.NewSequenceValidator()
	if err := v.ValidateSequence("relayer:r1", 1, false); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := v.ValidateSequence("relayer:r1", 1, true); err != nil {
		t.Fatalf("duplicate replay should pass: %v", err)
	}
	if err := v.ValidateSequence("relayer:r1", 1, false); err == nil {
		t.Fatal("non-duplicate below watermark must be rejected")
	}
}

func TestValidatorPriceGapTolerated(t *testing.T) {
	v := core.NewSequenceValidator()
	if !v.ValidatePriceSequence("price:0", 10) {
		t.Fatal("gap-ahead price must apply")
	}
	if v.ValidatePriceSequence("price:0", 9) {
		t.Fatal("stale price must be skipped")
	}
	if !v.ValidatePriceSequence("price:0", 11) {
		t.Fatal("next price must apply")
	}
	if v.Metrics().PriceGaps["price:0"] != 1 {
		t.Fatalf("price gaps = %d, want 1", v.Metrics().PriceGaps["price:0"])
	}
}
