package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BatchLedger/internal/batch"
	"BatchLedger/internal/engine"
	"BatchLedger/internal/event"
	"BatchLedger/internal/ledger"
	"BatchLedger/internal/state"
)

const e6 = 1_000_000

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func userN(n byte) uuid.UUID {
	var u uuid.UUID
	u[15] = n
	return u
}

func reqN(n byte) uuid.UUID {
	var u uuid.UUID
	u[0] = 0xAB
	u[15] = n
	return u
}

func newEngine(t *testing.T, seed int64) *engine.Engine {
	t.Helper()
	e, err := engine.New(engine.Config{
		LedgerID:      1,
		Admin:         "admin",
		Relayers:      []string{"r1", "r2", "r3"},
		RequiredSigs:  2,
		InsuranceSeed: seed,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.RegisterMarket(state.DefaultMarketParams(0, "BTC-PERP"))
	return e
}

func deposit(t *testing.T, e *engine.Engine, user uuid.UUID, amount int64) {
	t.Helper()
	if _, err := e.Deposit(user, amount, "dep:"+user.String(), t0); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
}

func openLong(t *testing.T, e *engine.Engine, user uuid.UUID, size, price int64, lev uint8) {
	t.Helper()
	_, err := e.OpenPosition(&event.PositionOpen{
		RequestID: uuid.NewSHA1(uuid.NameSpaceOID, append([]byte("open"), user[:]...)),
		User:      user, Market: 0, TradeSide: event.SideLong,
		Size: size, Price: price, Leverage: lev,
		Relayer: "r1", Timestamp: t0,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Batch authorization lifecycle
// ---------------------------------------------------------------------------

func TestBatchLifecycleTwoOfThree(t *testing.T) {
	e := newEngine(t, 0)
	alice := userN(1)
	deposit(t, e, alice, 10_000*e6)

	trades := []event.TradeData{{
		User: alice, MarketIndex: 0, Kind: event.TradeKindOpen,
		TradeSide: event.SideLong, Size: 1 * e6, Price: 50_000 * e6, Leverage: 10,
	}}
	hash := batch.ComputeBatchHash(1, 7, event.EncodeTrades(trades))

	if err := e.SubmitTradeBatch(&event.BatchSubmit{
		SubmitID: reqN(1), BatchID: 7, DataHash: hash, Relayer: "r1", Timestamp: t0,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	exec := &event.BatchExecute{
		ExecuteID: reqN(2), BatchID: 7, Trades: trades, Relayer: "r1", Timestamp: t0.Add(time.Second),
	}
	if _, err := e.ExecuteTradeBatch(exec); !errors.Is(err, engine.ErrInsufficientSignatures) {
		t.Fatalf("execute with 1 of 2 sigs: got %v", err)
	}

	confirm := &event.BatchConfirm{ConfirmID: reqN(3), BatchID: 7, DataHash: hash, Relayer: "r2", Timestamp: t0.Add(time.Second)}
	if err := e.ConfirmTradeBatch(confirm); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	confirm2 := &event.BatchConfirm{ConfirmID: reqN(4), BatchID: 7, DataHash: hash, Relayer: "r2", Timestamp: t0.Add(2 * time.Second)}
	if err := e.ConfirmTradeBatch(confirm2); !errors.Is(err, engine.ErrDuplicateSignature) {
		t.Fatalf("double confirm: got %v", err)
	}
	outsider := &event.BatchConfirm{ConfirmID: reqN(5), BatchID: 7, DataHash: hash, Relayer: "mallory", Timestamp: t0}
	if err := e.ConfirmTradeBatch(outsider); !errors.Is(err, engine.ErrInvalidRelayer) {
		t.Fatalf("unauthorized confirm: got %v", err)
	}

	res, err := e.ExecuteTradeBatch(exec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Kind != engine.RecordOpen {
		t.Fatalf("records = %+v, want one open", res.Records)
	}
	pos := e.Positions().Get(alice, 0)
	if pos == nil || pos.Size != 1*e6 || pos.Side != event.SideLong {
		t.Fatalf("position after execute = %+v", pos)
	}
	// Margin 5,000, fee 50.
	if got := e.Custody().Tracker().GetUserAvailable(alice, ledger.AssetUSDT); got != 4_950*e6 {
		t.Fatalf("available = %d, want %d", got, int64(4_950*e6))
	}

	if _, err := e.ExecuteTradeBatch(exec); !errors.Is(err, engine.ErrBatchAlreadyExecuted) {
		t.Fatalf("re-execute: got %v", err)
	}
}

func TestConfirmWrongHash(t *testing.T) {
	e := newEngine(t, 0)
	hash := batch.ComputeBatchHash(1, 7, []byte("payload"))
	if err := e.SubmitTradeBatch(&event.BatchSubmit{SubmitID: reqN(1), BatchID: 7, DataHash: hash, Relayer: "r1", Timestamp: t0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	wrong := batch.ComputeBatchHash(1, 8, []byte("payload"))
	err := e.ConfirmTradeBatch(&event.BatchConfirm{ConfirmID: reqN(2), BatchID: 7, DataHash: wrong, Relayer: "r2", Timestamp: t0})
	if !errors.Is(err, engine.ErrInvalidDataHash) {
		t.Fatalf("wrong hash confirm: got %v", err)
	}
}

func TestExecuteExpiredBatch(t *testing.T) {
	e := newEngine(t, 0)
	alice := userN(1)
	deposit(t, e, alice, 10_000*e6)
	trades := []event.TradeData{{
		User: alice, MarketIndex: 0, Kind: event.TradeKindOpen,
		TradeSide: event.SideLong, Size: 1 * e6, Price: 50_000 * e6, Leverage: 10,
	}}
	hash := batch.ComputeBatchHash(1, 7, event.EncodeTrades(trades))
	e.SubmitTradeBatch(&event.BatchSubmit{SubmitID: reqN(1), BatchID: 7, DataHash: hash, Relayer: "r1", Timestamp: t0})
	e.ConfirmTradeBatch(&event.BatchConfirm{ConfirmID: reqN(2), BatchID: 7, DataHash: hash, Relayer: "r2", Timestamp: t0})

	late := &event.BatchExecute{ExecuteID: reqN(3), BatchID: 7, Trades: trades, Relayer: "r1", Timestamp: t0.Add(batch.TTL + time.Second)}
	if _, err := e.ExecuteTradeBatch(late); !errors.Is(err, engine.ErrBatchExpired) {
		t.Fatalf("execute after TTL: got %v", err)
	}
}

func TestSubmitPrunedBatchIDRejected(t *testing.T) {
	e := newEngine(t, 0)
	hashA := batch.ComputeBatchHash(1, 1, []byte("payload-a"))
	if err := e.SubmitTradeBatch(&event.BatchSubmit{SubmitID: reqN(1), BatchID: 1, DataHash: hashA, Relayer: "r1", Timestamp: t0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// A later submit sweeps batch 1 out past its TTL.
	later := t0.Add(batch.TTL + time.Minute)
	hash2 := batch.ComputeBatchHash(1, 2, []byte("payload-b"))
	if err := e.SubmitTradeBatch(&event.BatchSubmit{SubmitID: reqN(2), BatchID: 2, DataHash: hash2, Relayer: "r1", Timestamp: later}); err != nil {
		t.Fatalf("Submit sweep: %v", err)
	}

	// The swept id must stay burned even under a fresh hash.
	hashB := batch.ComputeBatchHash(1, 1, []byte("payload-c"))
	err := e.SubmitTradeBatch(&event.BatchSubmit{SubmitID: reqN(3), BatchID: 1, DataHash: hashB, Relayer: "r2", Timestamp: later})
	if !errors.Is(err, engine.ErrBatchAlreadyExists) {
		t.Fatalf("resubmit of pruned id: got %v", err)
	}
}

func TestExecuteTamperedPayload(t *testing.T) {
	e := newEngine(t, 0)
	alice := userN(1)
	deposit(t, e, alice, 10_000*e6)
	trades := []event.TradeData{{
		User: alice, MarketIndex: 0, Kind: event.TradeKindOpen,
		TradeSide: event.SideLong, Size: 1 * e6, Price: 50_000 * e6, Leverage: 10,
	}}
	hash := batch.ComputeBatchHash(1, 7, event.EncodeTrades(trades))
	e.SubmitTradeBatch(&event.BatchSubmit{SubmitID: reqN(1), BatchID: 7, DataHash: hash, Relayer: "r1", Timestamp: t0})
	e.ConfirmTradeBatch(&event.BatchConfirm{ConfirmID: reqN(2), BatchID: 7, DataHash: hash, Relayer: "r2", Timestamp: t0})

	tampered := []event.TradeData{{
		User: alice, MarketIndex: 0, Kind: event.TradeKindOpen,
		TradeSide: event.SideLong, Size: 2 * e6, Price: 50_000 * e6, Leverage: 10,
	}}
	exec := &event.BatchExecute{ExecuteID: reqN(3), BatchID: 7, Trades: tampered, Relayer: "r1", Timestamp: t0.Add(time.Second)}
	if _, err := e.ExecuteTradeBatch(exec); !errors.Is(err, engine.ErrInvalidDataHash) {
		t.Fatalf("tampered payload: got %v", err)
	}
}

func TestExecuteAtomicAcrossTrades(t *testing.T) {
	e := newEngine(t, 0)
	alice, bob := userN(1), userN(2)
	deposit(t, e, alice, 10_000*e6)
	// bob has no collateral; his open must fail and void alice's fill.
	trades := []event.TradeData{
		{User: alice, MarketIndex: 0, Kind: event.TradeKindOpen, TradeSide: event.SideLong, Size: 1 * e6, Price: 50_000 * e6, Leverage: 10},
		{User: bob, MarketIndex: 0, Kind: event.TradeKindOpen, TradeSide: event.SideLong, Size: 1 * e6, Price: 50_000 * e6, Leverage: 10},
	}
	hash := batch.ComputeBatchHash(1, 7, event.EncodeTrades(trades))
	e.SubmitTradeBatch(&event.BatchSubmit{SubmitID: reqN(1), BatchID: 7, DataHash: hash, Relayer: "r1", Timestamp: t0})
	e.ConfirmTradeBatch(&event.BatchConfirm{ConfirmID: reqN(2), BatchID: 7, DataHash: hash, Relayer: "r2", Timestamp: t0})

	exec := &event.BatchExecute{ExecuteID: reqN(3), BatchID: 7, Trades: trades, Relayer: "r1", Timestamp: t0.Add(time.Second)}
	if _, err := e.ExecuteTradeBatch(exec); !errors.Is(err, engine.ErrInsufficientMargin) {
		t.Fatalf("underfunded batch: got %v", err)
	}
	if e.Positions().Get(alice, 0) != nil {
		t.Fatal("failed batch must not leave alice's position behind")
	}
	if got := e.Custody().Tracker().GetUserAvailable(alice, ledger.AssetUSDT); got != 10_000*e6 {
		t.Fatalf("alice available = %d, want untouched", got)
	}
	b, _ := e.Batches().Get(7)
	if b.Executed {
		t.Fatal("failed batch must stay unexecuted")
	}
}

// ---------------------------------------------------------------------------
// Position rules
// ---------------------------------------------------------------------------

func TestOppositeSideOpenRejected(t *testing.T) {
	e := newEngine(t, 0)
	alice := userN(1)
	deposit(t, e, alice, 20_000*e6)
	openLong(t, e, alice, 1*e6, 50_000*e6, 10)

	_, err := e.OpenPosition(&event.PositionOpen{
		RequestID: reqN(9), User: alice, Market: 0, TradeSide: event.SideShort,
		Size: 1 * e6, Price: 50_000 * e6, Leverage: 10, Relayer: "r1", Timestamp: t0,
	})
	if !errors.Is(err, engine.ErrInvalidPositionSide) {
		t.Fatalf("opposite side open: got %v", err)
	}
}

func TestIncreaseAveragesEntry(t *testing.T) {
	e := newEngine(t, 0)
	alice := userN(1)
	deposit(t, e, alice, 30_000*e6)
	openLong(t, e, alice, 1*e6, 50_000*e6, 10)

	_, err := e.OpenPosition(&event.PositionOpen{
		RequestID: reqN(9), User: alice, Market: 0, TradeSide: event.SideLong,
		Size: 1 * e6, Price: 60_000 * e6, Leverage: 10, Relayer: "r1", Timestamp: t0,
	})
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	pos := e.Positions().Get(alice, 0)
	if pos.Size != 2*e6 {
		t.Fatalf("size = %d, want %d", pos.Size, int64(2*e6))
	}
	if pos.EntryPrice != 55_000*e6 {
		t.Fatalf("entry = %d, want %d", pos.EntryPrice, int64(55_000*e6))
	}
}

func TestPartialClose(t *testing.T) {
	e := newEngine(t, 0)
	alice := userN(1)
	deposit(t, e, alice, 12_000*e6)
	openLong(t, e, alice, 2*e6, 50_000*e6, 10) // margin 10,000, fee 100

	res, err := e.ClosePosition(&event.PositionClose{
		RequestID: reqN(9), User: alice, Market: 0, Size: 1 * e6, Price: 55_000 * e6,
		Relayer: "r1", Timestamp: t0.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].RealizedPnL != 5_000*e6 {
		t.Fatalf("close record = %+v, want pnl 5000", res.Records)
	}
	pos := e.Positions().Get(alice, 0)
	if pos == nil || pos.Size != 1*e6 || pos.Margin != 5_000*e6 {
		t.Fatalf("remaining position = %+v", pos)
	}

	// Close the rest with size zero.
	if _, err := e.ClosePosition(&event.PositionClose{
		RequestID: reqN(10), User: alice, Market: 0, Size: 0, Price: 55_000 * e6,
		Relayer: "r1", Timestamp: t0.Add(2 * time.Minute),
	}); err != nil {
		t.Fatalf("full close: %v", err)
	}
	if e.Positions().Get(alice, 0) != nil {
		t.Fatal("position must be removed after full close")
	}
}

func TestStatsTradeTimestamps(t *testing.T) {
	e := newEngine(t, 0)
	alice := userN(1)
	deposit(t, e, alice, 12_000*e6)
	openLong(t, e, alice, 1*e6, 50_000*e6, 10)

	st := e.Stats().Get(alice)
	if !st.FirstTradeTS.Equal(t0) || !st.LastTradeTS.Equal(t0) {
		t.Fatalf("after open: first %v last %v, want both %v", st.FirstTradeTS, st.LastTradeTS, t0)
	}

	later := t0.Add(3 * time.Hour)
	if _, err := e.ClosePosition(&event.PositionClose{
		RequestID: reqN(9), User: alice, Market: 0, Size: 0, Price: 55_000 * e6,
		Relayer: "r1", Timestamp: later,
	}); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if !st.FirstTradeTS.Equal(t0) {
		t.Fatalf("first trade = %v, must not move on later fills", st.FirstTradeTS)
	}
	if !st.LastTradeTS.Equal(later) {
		t.Fatalf("last trade = %v, want %v", st.LastTradeTS, later)
	}
}

func TestCloseOversized(t *testing.T) {
	e := newEngine(t, 0)
	alice := userN(1)
	deposit(t, e, alice, 12_000*e6)
	openLong(t, e, alice, 1*e6, 50_000*e6, 10)

	_, err := e.ClosePosition(&event.PositionClose{
		RequestID: reqN(9), User: alice, Market: 0, Size: 2 * e6, Price: 55_000 * e6,
		Relayer: "r1", Timestamp: t0,
	})
	if !errors.Is(err, engine.ErrInvalidTradeAmount) {
		t.Fatalf("oversized close: got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Liquidation
// ---------------------------------------------------------------------------

func TestLiquidationSolvent(t *testing.T) {
	e := newEngine(t, 0)
	// 0.5% maintenance margin reproduces the canonical trigger prices.
	e.RegisterMarket(state.MarketParams{
		MarketIndex: 0, Symbol: "BTC-PERP",
		MaintenanceMarginRatio: 5_000, LiquidationPenaltyRate: 10_000,
		TradingFeeRate: 1_000, MaxLeverage: 100,
	})
	alice := userN(1)
	deposit(t, e, alice, 10_000*e6)
	openLong(t, e, alice, 1*e6, 50_000*e6, 10) // margin 5,000, fee 50, liq at 45,250

	above := &event.LiquidationRequest{RequestID: reqN(1), User: alice, Market: 0, MarkPrice: 45_251 * e6, Liquidator: "bot", Timestamp: t0}
	if _, err := e.Liquidate(above); !errors.Is(err, engine.ErrPositionNotLiquidatable) {
		t.Fatalf("above trigger: got %v", err)
	}

	at := &event.LiquidationRequest{RequestID: reqN(2), User: alice, Market: 0, MarkPrice: 45_250 * e6, Liquidator: "bot", Timestamp: t0}
	res, err := e.Liquidate(at)
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	if res.Shortfall != 0 {
		t.Fatalf("shortfall = %d, want 0", res.Shortfall)
	}
	if e.Positions().Get(alice, 0) != nil {
		t.Fatal("liquidated position must be removed")
	}
	// Loss 4,750 against 5,000 margin: total 250, penalty 2.5, user 247.5.
	if got := e.Custody().InsuranceFundBalance(); got != 2_500_000 {
		t.Fatalf("fund = %d, want 2500000", got)
	}
	wantAvail := int64(4_950*e6 + 247_500_000)
	if got := e.Custody().Tracker().GetUserAvailable(alice, ledger.AssetUSDT); got != wantAvail {
		t.Fatalf("available = %d, want %d", got, wantAvail)
	}
}

func TestLiquidationBankruptcyThenADL(t *testing.T) {
	e := newEngine(t, 0)
	alice, bob := userN(1), userN(2)
	// alice: long 1 BTC at 50k with 1,000 margin (50x). Default 2.5%
	// maintenance margin puts her trigger above entry; a drop to
	// 48,500 realizes a 1,500 loss against 1,000 margin.
	deposit(t, e, alice, 1_100*e6)
	openLong(t, e, alice, 1*e6, 50_000*e6, 50) // margin 1,000, fee 50
	// bob: short 1 BTC at 50k, the profitable counterparty.
	deposit(t, e, bob, 5_100*e6)
	if _, err := e.OpenPosition(&event.PositionOpen{
		RequestID: reqN(3), User: bob, Market: 0, TradeSide: event.SideShort,
		Size: 1 * e6, Price: 50_000 * e6, Leverage: 10, Relayer: "r1", Timestamp: t0,
	}); err != nil {
		t.Fatalf("open short: %v", err)
	}

	liq := &event.LiquidationRequest{RequestID: reqN(4), User: alice, Market: 0, MarkPrice: 48_500 * e6, Liquidator: "bot", Timestamp: t0.Add(time.Minute)}
	res, err := e.Liquidate(liq)
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	if res.Shortfall != 500*e6 {
		t.Fatalf("uncovered shortfall = %d, want %d", res.Shortfall, int64(500*e6))
	}
	if res.TriggerReason != state.TriggerBankruptcy {
		t.Fatalf("trigger = %v, want Bankruptcy", res.TriggerReason)
	}
	if got := e.Custody().Tracker().GetUserAvailable(alice, ledger.AssetUSDT); got != 50*e6 {
		t.Fatalf("alice available = %d, want %d", got, int64(50*e6))
	}

	if err := e.ApplyMarkPrice(&event.MarkPriceUpdate{Market: 0, Price: 48_500 * e6, PriceSequence: 1, Timestamp: t0}); err != nil {
		t.Fatalf("ApplyMarkPrice: %v", err)
	}
	adl := &event.ADLTrigger{
		RequestID: reqN(5), Market: 0, Shortfall: 500 * e6,
		BankruptSide: event.SideLong, Requester: "admin", Timestamp: t0.Add(2 * time.Minute),
	}
	adlRes, err := e.TriggerADL(adl)
	if err != nil {
		t.Fatalf("TriggerADL: %v", err)
	}
	if adlRes.Shortfall != 0 {
		t.Fatalf("residual = %d, want 0", adlRes.Shortfall)
	}
	if adlRes.TriggerReason != state.TriggerBankruptcy {
		t.Fatalf("adl trigger = %v, want Bankruptcy", adlRes.TriggerReason)
	}
	// bob's profit at 48,500 is 1,500 against a 500 shortfall, so only a
	// third of his position goes: ceil(500/1500 of 1 BTC) = 0.333334.
	pos := e.Positions().Get(bob, 0)
	if pos == nil {
		t.Fatal("deleveraged position must survive a partial reduction")
	}
	if pos.Size != 666_666 {
		t.Fatalf("remaining size = %d, want 666666", pos.Size)
	}
	// bob: 50 left after open, a third of the 5,000 margin back plus the
	// realized slice of profit, no fee on forced closes.
	if got := e.Custody().Tracker().GetUserAvailable(bob, ledger.AssetUSDT); got != 2_216_671_000 {
		t.Fatalf("bob available = %d, want 2216671000", got)
	}
	if got := e.Stats().Get(bob).ADLReductionsCount; got != 1 {
		t.Fatalf("adl reductions = %d, want 1", got)
	}
}

func TestADLExhaustsCandidates(t *testing.T) {
	e := newEngine(t, 0)
	bob := userN(2)
	deposit(t, e, bob, 5_100*e6)
	if _, err := e.OpenPosition(&event.PositionOpen{
		RequestID: reqN(1), User: bob, Market: 0, TradeSide: event.SideShort,
		Size: 1 * e6, Price: 50_000 * e6, Leverage: 10, Relayer: "r1", Timestamp: t0,
	}); err != nil {
		t.Fatalf("open short: %v", err)
	}
	if err := e.ApplyMarkPrice(&event.MarkPriceUpdate{Market: 0, Price: 48_500 * e6, PriceSequence: 1, Timestamp: t0}); err != nil {
		t.Fatalf("ApplyMarkPrice: %v", err)
	}

	// bob can realize at most 1,500; a 2,000 shortfall wipes him out and
	// leaves the rest uncovered.
	adl := &event.ADLTrigger{
		RequestID: reqN(2), Market: 0, Shortfall: 2_000 * e6,
		BankruptSide: event.SideLong, Requester: "admin", Timestamp: t0.Add(time.Minute),
	}
	res, err := e.TriggerADL(adl)
	if err != nil {
		t.Fatalf("TriggerADL: %v", err)
	}
	if res.Shortfall != 500*e6 {
		t.Fatalf("residual = %d, want %d", res.Shortfall, int64(500*e6))
	}
	if e.Positions().Get(bob, 0) != nil {
		t.Fatal("exhausted candidate must be fully closed")
	}
}

func TestADLUnauthorizedRequester(t *testing.T) {
	e := newEngine(t, 0)
	adl := &event.ADLTrigger{
		RequestID: reqN(1), Market: 0, Shortfall: 10 * e6,
		BankruptSide: event.SideLong, Requester: "mallory", Timestamp: t0,
	}
	if _, err := e.TriggerADL(adl); !errors.Is(err, engine.ErrInvalidAdmin) {
		t.Fatalf("unauthorized requester: got %v", err)
	}
}

func TestADLNotRequired(t *testing.T) {
	e := newEngine(t, 100_000*e6) // healthy fund
	adl := &event.ADLTrigger{RequestID: reqN(1), Market: 0, Shortfall: 10 * e6, BankruptSide: event.SideLong, Requester: "admin", Timestamp: t0}
	if _, err := e.TriggerADL(adl); !errors.Is(err, engine.ErrADLNotRequired) {
		t.Fatalf("healthy fund: got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Funding
// ---------------------------------------------------------------------------

func TestFundingSettlement(t *testing.T) {
	e := newEngine(t, 0)
	alice := userN(1)
	deposit(t, e, alice, 10_000*e6)
	openLong(t, e, alice, 1*e6, 50_000*e6, 10)

	ev := &event.FundingSettle{
		RequestID: reqN(1), User: alice, Market: 0,
		FundingRate: 100, IndexPrice: 50_000 * e6,
		Relayer: "r1", Timestamp: t0.Add(time.Hour),
	}
	res, err := e.SettleFunding(ev)
	if err != nil {
		t.Fatalf("SettleFunding: %v", err)
	}
	// value 50,000 at rate 0.01%: the long pays 5.
	if len(res.Records) != 1 || res.Records[0].RealizedPnL != -5*e6 {
		t.Fatalf("funding record = %+v, want pnl -5", res.Records)
	}
	pos := e.Positions().Get(alice, 0)
	if pos.CumulativeFunding != 5*e6 {
		t.Fatalf("cumulative funding = %d, want %d", pos.CumulativeFunding, int64(5*e6))
	}
	if pos.Size != 1*e6 || pos.EntryPrice != 50_000*e6 || pos.Margin != 5_000*e6 {
		t.Fatalf("funding must not change exposure: %+v", pos)
	}
	if got := e.Custody().Tracker().GetUserAvailable(alice, ledger.AssetUSDT); got != 4_945*e6 {
		t.Fatalf("available = %d, want %d", got, int64(4_945*e6))
	}

	again := &event.FundingSettle{
		RequestID: reqN(2), User: alice, Market: 0,
		FundingRate: 100, IndexPrice: 50_000 * e6,
		Relayer: "r1", Timestamp: t0.Add(90 * time.Minute),
	}
	if _, err := e.SettleFunding(again); !errors.Is(err, engine.ErrFundingNotDue) {
		t.Fatalf("early second settlement: got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Administration
// ---------------------------------------------------------------------------

func TestPauseBlocksMutations(t *testing.T) {
	e := newEngine(t, 0)
	if err := e.SetPaused(&event.PauseSet{RequestID: reqN(1), Paused: true, Admin: "mallory", Timestamp: t0}); !errors.Is(err, engine.ErrInvalidAdmin) {
		t.Fatalf("non-admin pause: got %v", err)
	}
	if err := e.SetPaused(&event.PauseSet{RequestID: reqN(2), Paused: true, Admin: "admin", Timestamp: t0}); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}

	hash := batch.ComputeBatchHash(1, 7, []byte("x"))
	err := e.SubmitTradeBatch(&event.BatchSubmit{SubmitID: reqN(3), BatchID: 7, DataHash: hash, Relayer: "r1", Timestamp: t0})
	if !errors.Is(err, engine.ErrLedgerPaused) {
		t.Fatalf("submit while paused: got %v", err)
	}

	// Admin ops still work while paused.
	if err := e.ApplyRelayerUpdate(&event.RelayerUpdate{RequestID: reqN(4), Action: event.RelayerActionAdd, Relayer: "r4", Admin: "admin", Timestamp: t0}); err != nil {
		t.Fatalf("relayer update while paused: %v", err)
	}
	if err := e.SetPaused(&event.PauseSet{RequestID: reqN(5), Paused: false, Admin: "admin", Timestamp: t0}); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := e.SubmitTradeBatch(&event.BatchSubmit{SubmitID: reqN(6), BatchID: 7, DataHash: hash, Relayer: "r1", Timestamp: t0}); err != nil {
		t.Fatalf("submit after unpause: %v", err)
	}
}

func TestAdminTransfer(t *testing.T) {
	e := newEngine(t, 0)
	if err := e.UpdateAdmin(&event.AdminUpdate{RequestID: reqN(1), NewAdmin: "", Admin: "admin", Timestamp: t0}); !errors.Is(err, engine.ErrInvalidAdmin) {
		t.Fatalf("empty new admin: got %v", err)
	}
	if err := e.UpdateAdmin(&event.AdminUpdate{RequestID: reqN(2), NewAdmin: "admin2", Admin: "admin", Timestamp: t0}); err != nil {
		t.Fatalf("UpdateAdmin: %v", err)
	}
	// Old admin is locked out.
	if err := e.SetPaused(&event.PauseSet{RequestID: reqN(3), Paused: true, Admin: "admin", Timestamp: t0}); !errors.Is(err, engine.ErrInvalidAdmin) {
		t.Fatalf("old admin: got %v", err)
	}
	if err := e.SetPaused(&event.PauseSet{RequestID: reqN(4), Paused: true, Admin: "admin2", Timestamp: t0}); err != nil {
		t.Fatalf("new admin: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Ledger invariants after mixed traffic
// ---------------------------------------------------------------------------

func TestCustodyInvariantsAfterMixedFlow(t *testing.T) {
	e := newEngine(t, 1_000*e6)
	alice := userN(1)
	deposit(t, e, alice, 12_000*e6)
	openLong(t, e, alice, 1*e6, 50_000*e6, 10)
	if _, err := e.ClosePosition(&event.PositionClose{
		RequestID: reqN(1), User: alice, Market: 0, Size: 0, Price: 48_000 * e6,
		Relayer: "r1", Timestamp: t0.Add(time.Minute),
	}); err != nil {
		t.Fatalf("close: %v", err)
	}

	v := ledger.NewInvariantValidator(e.Custody().Tracker(), ledger.AssetUSDT)
	if err := v.ValidateAll(); err != nil {
		t.Fatalf("ValidateAll: %v", err)
	}
}
