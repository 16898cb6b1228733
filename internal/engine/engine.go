package engine

import (
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BatchLedger/internal/batch"
	"BatchLedger/internal/event"
	"BatchLedger/internal/ledger"
	fpmath "BatchLedger/internal/math"
	"BatchLedger/internal/relayer"
	"BatchLedger/internal/state"
)

// Result carries the side effects of one applied event for persistence
// and projections.
type Result struct {
	Records       []TradeRecord
	Journals      []ledger.Journal
	Shortfall     int64 // e6, loss left uncovered after the fund
	TriggerReason state.TriggerReason
}

// Engine owns all in-memory ledger state and applies events one at a
// time. It has no locks; the core pipeline is its only caller.
type Engine struct {
	cfg       *LedgerState
	relayers  *relayer.Set
	batches   *batch.Store
	positions *state.PositionManager
	params    *state.RiskParams
	stats     *state.StatsManager
	fund      *state.InsuranceFund
	custody   *ledger.Custody
	marks     map[uint8]int64

	fundingInterval time.Duration
	log             zerolog.Logger
}

// New assembles an engine and seeds the insurance fund.
func New(cfg Config, log zerolog.Logger) (*Engine, error) {
	set, err := relayer.NewSet(cfg.Relayers, cfg.RequiredSigs)
	if err != nil {
		return nil, err
	}
	interval := cfg.FundingInterval
	if interval <= 0 {
		interval = DefaultFundingInterval
	}
	e := &Engine{
		cfg:             &LedgerState{LedgerID: cfg.LedgerID, Admin: cfg.Admin},
		relayers:        set,
		batches:         batch.NewStore(),
		positions:       state.NewPositionManager(),
		params:          state.NewRiskParams(),
		stats:           state.NewStatsManager(),
		fund:            state.NewInsuranceFund(cfg.InsuranceSeed),
		custody:         ledger.NewCustody(ledger.AssetUSDT),
		marks:           make(map[uint8]int64),
		fundingInterval: interval,
		log:             log,
	}
	if cfg.InsuranceSeed > 0 {
		tx := e.custody.Begin("genesis:insurance", time.Time{})
		if err := tx.SeedInsuranceFund(cfg.InsuranceSeed); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// State returns the mutable ledger header. Callers outside the core
// must treat it as read-only.
func (e *Engine) State() *LedgerState { return e.cfg }

func (e *Engine) Relayers() *relayer.Set             { return e.relayers }
func (e *Engine) Batches() *batch.Store              { return e.batches }
func (e *Engine) Positions() *state.PositionManager  { return e.positions }
func (e *Engine) Params() *state.RiskParams          { return e.params }
func (e *Engine) Stats() *state.StatsManager         { return e.stats }
func (e *Engine) Fund() *state.InsuranceFund         { return e.fund }
func (e *Engine) Custody() *ledger.Custody           { return e.custody }

// RegisterMarket installs or replaces a market's risk parameters.
func (e *Engine) RegisterMarket(p state.MarketParams) { e.params.Register(p) }

// MarkPrice returns the last mark price for a market.
func (e *Engine) MarkPrice(market uint8) (int64, bool) {
	p, ok := e.marks[market]
	return p, ok
}

func (e *Engine) checkPaused() error {
	if e.cfg.Paused {
		return ErrLedgerPaused
	}
	return nil
}

func (e *Engine) checkRelayer(identity string) error {
	if !e.relayers.IsAuthorized(identity) {
		return ErrInvalidRelayer
	}
	return nil
}

func (e *Engine) checkAdmin(identity string) error {
	if identity != e.cfg.Admin {
		return ErrInvalidAdmin
	}
	return nil
}

// ---------------------------------------------------------------------------
// Staged sessions
// ---------------------------------------------------------------------------

// session stages one event's mutations. Positions are cloned into an
// overlay, custody journals accumulate in a Tx and stat updates are
// deferred, so a failure at any point leaves the engine untouched.
type session struct {
	e        *Engine
	tx       *ledger.Tx
	eventRef string
	now      time.Time
	overlay  map[state.PositionKey]*state.Position
	records  []TradeRecord
	deferred []func()
}

func (e *Engine) begin(eventRef string, now time.Time) *session {
	return &session{
		e:        e,
		tx:       e.custody.Begin(eventRef, now),
		eventRef: eventRef,
		now:      now,
		overlay:  make(map[state.PositionKey]*state.Position),
	}
}

// position returns the staged copy, cloning on first touch.
func (s *session) position(user uuid.UUID, market uint8) *state.Position {
	key := state.PositionKey{UserID: user, MarketIndex: market}
	if p, ok := s.overlay[key]; ok {
		return p
	}
	committed := s.e.positions.Get(user, market)
	if committed == nil {
		return nil
	}
	p := committed.Clone()
	s.overlay[key] = p
	return p
}

func (s *session) stage(p *state.Position) {
	s.overlay[state.PositionKey{UserID: p.UserID, MarketIndex: p.MarketIndex}] = p
}

func (s *session) emit(r TradeRecord) {
	r.RecordID = newRecordID(s.eventRef, len(s.records))
	r.EventRef = s.eventRef
	r.Timestamp = s.now
	s.records = append(s.records, r)
}

func (s *session) defer_(fn func()) { s.deferred = append(s.deferred, fn) }

// commit lands everything: journals first, then positions, stats and
// counters, then the fund balance mirror.
func (s *session) commit() (*Result, error) {
	if err := s.tx.Commit(); err != nil {
		return nil, err
	}
	for _, p := range s.overlay {
		s.e.positions.Put(p)
	}
	for _, fn := range s.deferred {
		fn()
	}
	s.e.fund.Observe(s.e.custody.InsuranceFundBalance(), s.now)
	return &Result{Records: s.records, Journals: s.tx.Journals()}, nil
}

// ---------------------------------------------------------------------------
// Batch authorization
// ---------------------------------------------------------------------------

// SubmitTradeBatch registers a batch hash under a fresh batch id. The
// submitting relayer counts as the first attestation.
func (e *Engine) SubmitTradeBatch(ev *event.BatchSubmit) error {
	if err := e.checkPaused(); err != nil {
		return err
	}
	if err := e.checkRelayer(ev.Relayer); err != nil {
		return err
	}
	if _, err := e.batches.Submit(ev.BatchID, ev.DataHash, ev.Relayer, ev.Timestamp); err != nil {
		return err
	}
	if pruned := e.batches.PruneExpired(ev.Timestamp); len(pruned) > 0 {
		e.cfg.BatchesExpired += uint64(len(pruned))
		e.log.Info().Uints64("batch_ids", pruned).Msg("expired batches pruned")
	}
	e.cfg.BatchesSubmitted++
	e.log.Info().Uint64("batch_id", ev.BatchID).Str("relayer", ev.Relayer).Msg("batch submitted")
	return nil
}

// ConfirmTradeBatch adds one relayer attestation. The confirming
// relayer must present the exact hash it is vouching for.
func (e *Engine) ConfirmTradeBatch(ev *event.BatchConfirm) error {
	if err := e.checkPaused(); err != nil {
		return err
	}
	if err := e.checkRelayer(ev.Relayer); err != nil {
		return err
	}
	b, err := e.batches.Get(ev.BatchID)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(ev.DataHash[:], b.DataHash[:]) != 1 {
		return ErrInvalidDataHash
	}
	if err := b.AddAttestation(ev.Relayer, ev.Timestamp); err != nil {
		return err
	}
	e.log.Info().Uint64("batch_id", ev.BatchID).Str("relayer", ev.Relayer).
		Int("signatures", b.SignatureCount()).Msg("batch confirmed")
	return nil
}

// ExecuteTradeBatch verifies quorum and hash, then applies every trade
// in the batch atomically. Any failing trade rejects the whole batch
// and leaves it unexecuted.
func (e *Engine) ExecuteTradeBatch(ev *event.BatchExecute) (*Result, error) {
	if err := e.checkPaused(); err != nil {
		return nil, err
	}
	if err := e.checkRelayer(ev.Relayer); err != nil {
		return nil, err
	}
	b, err := e.batches.Get(ev.BatchID)
	if err != nil {
		return nil, err
	}
	if b.Executed {
		return nil, ErrBatchAlreadyExecuted
	}
	if b.IsExpired(ev.Timestamp) {
		return nil, ErrBatchExpired
	}
	if !e.relayers.HasQuorum(b.SignatureCount()) {
		return nil, ErrInsufficientSignatures
	}
	if len(ev.Trades) == 0 {
		return nil, ErrInvalidTradeAmount
	}
	payload := event.EncodeTrades(ev.Trades)
	if !batch.VerifyBatchHash(b.DataHash, e.cfg.LedgerID, ev.BatchID, payload) {
		return nil, ErrInvalidDataHash
	}

	sess := e.begin(ev.IdempotencyKey(), ev.Timestamp)
	for i := range ev.Trades {
		t := &ev.Trades[i]
		switch t.Kind {
		case event.TradeKindOpen:
			err = e.applyOpen(sess, t.User, t.MarketIndex, t.TradeSide, t.Size, t.Price, t.Leverage, ev.BatchID)
		case event.TradeKindClose:
			_, err = e.applyClose(sess, t.User, t.MarketIndex, t.Size, t.Price, ev.BatchID, RecordClose, true)
		default:
			err = ErrInvalidTradeAmount
		}
		if err != nil {
			return nil, err
		}
	}
	if err := b.MarkExecuted(); err != nil {
		return nil, err
	}
	res, err := sess.commit()
	if err != nil {
		return nil, err
	}
	e.cfg.BatchesExecuted++
	e.log.Info().Uint64("batch_id", ev.BatchID).Int("trades", len(ev.Trades)).Msg("batch executed")
	return res, nil
}

// ---------------------------------------------------------------------------
// Position lifecycle
// ---------------------------------------------------------------------------

// OpenPosition opens or increases a position outside the batch path.
func (e *Engine) OpenPosition(ev *event.PositionOpen) (*Result, error) {
	if err := e.checkPaused(); err != nil {
		return nil, err
	}
	if err := e.checkRelayer(ev.Relayer); err != nil {
		return nil, err
	}
	sess := e.begin(ev.IdempotencyKey(), ev.Timestamp)
	if err := e.applyOpen(sess, ev.User, ev.Market, ev.TradeSide, ev.Size, ev.Price, ev.Leverage, ev.BatchID); err != nil {
		return nil, err
	}
	return sess.commit()
}

// ClosePosition reduces or fully closes a position outside the batch
// path. Size zero closes the whole position.
func (e *Engine) ClosePosition(ev *event.PositionClose) (*Result, error) {
	if err := e.checkPaused(); err != nil {
		return nil, err
	}
	if err := e.checkRelayer(ev.Relayer); err != nil {
		return nil, err
	}
	sess := e.begin(ev.IdempotencyKey(), ev.Timestamp)
	if _, err := e.applyClose(sess, ev.User, ev.Market, ev.Size, ev.Price, ev.BatchID, RecordClose, true); err != nil {
		return nil, err
	}
	return sess.commit()
}

func (e *Engine) applyOpen(sess *session, user uuid.UUID, market uint8, side event.Side, size, price int64, leverage uint8, batchID uint64) error {
	params, err := e.params.Market(market)
	if err != nil {
		return err
	}
	if err := e.params.ValidateLeverage(market, leverage); err != nil {
		return err
	}
	if side != event.SideLong && side != event.SideShort {
		return ErrInvalidPositionSide
	}
	if size <= 0 {
		return ErrInvalidTradeAmount
	}
	if price <= 0 {
		return ErrInvalidPrice
	}

	pos := sess.position(user, market)
	if pos != nil && pos.Side != side {
		return ErrInvalidPositionSide
	}

	notional, err := fpmath.ComputeNotional(size, price)
	if err != nil {
		return err
	}
	margin := notional / int64(leverage)
	fee, err := fpmath.MulE6(notional, params.TradingFeeRate)
	if err != nil {
		return err
	}
	if err := sess.tx.LockMargin(user, margin); err != nil {
		return err
	}
	if err := sess.tx.ChargeFee(user, fee); err != nil {
		return err
	}

	if pos == nil {
		pos = &state.Position{UserID: user, MarketIndex: market, Side: side}
		sess.stage(pos)
	}
	entry, err := fpmath.ComputeAvgEntryPrice(pos.Size, pos.EntryPrice, size, price)
	if err != nil {
		return err
	}
	newSize, err := fpmath.Add(pos.Size, size)
	if err != nil {
		return err
	}
	newMargin, err := fpmath.Add(pos.Margin, margin)
	if err != nil {
		return err
	}
	liq, err := state.ComputeLiquidationPrice(side, entry, leverage, params.MaintenanceMarginRatio)
	if err != nil {
		return err
	}
	pos.Size = newSize
	pos.EntryPrice = entry
	pos.Margin = newMargin
	pos.Leverage = leverage
	pos.LiquidationPrice = liq
	pos.Version++

	sess.emit(TradeRecord{
		User: user, MarketIndex: market, Kind: RecordOpen, TradeSide: side,
		Size: size, Price: price, Fee: fee, BatchID: batchID,
	})
	now := sess.now
	sess.defer_(func() {
		st := e.stats.Get(user)
		st.TradesOpened++
		st.TotalVolume += notional
		st.FeesPaid += fee
		st.RecordTradeTime(now)
		e.cfg.TotalTrades++
		e.cfg.TotalVolume += notional
		e.cfg.TotalFees += fee
	})
	return nil
}

// applyClose settles a reduction at the given price. Margin is
// released pro rata; a full close releases the exact remainder so no
// dust is stranded.
func (e *Engine) applyClose(sess *session, user uuid.UUID, market uint8, size, price int64, batchID uint64, kind RecordKind, chargeFee bool) (int64, error) {
	params, err := e.params.Market(market)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	pos := sess.position(user, market)
	if pos == nil {
		return 0, ErrPositionNotFound
	}
	closeSize := size
	if closeSize == 0 {
		closeSize = pos.Size
	}
	if closeSize < 0 || closeSize > pos.Size {
		return 0, ErrInvalidTradeAmount
	}

	marginShare := pos.Margin
	if closeSize != pos.Size {
		ratio, err := fpmath.DivE6(closeSize, pos.Size)
		if err != nil {
			return 0, err
		}
		marginShare, err = fpmath.MulE6(pos.Margin, ratio)
		if err != nil {
			return 0, err
		}
	}
	pnl, err := fpmath.ComputePnL(int64(pos.Side.Sign()), price, pos.EntryPrice, closeSize)
	if err != nil {
		return 0, err
	}
	var fee int64
	if chargeFee {
		fee, err = fpmath.ComputeFee(closeSize, price, params.TradingFeeRate)
		if err != nil {
			return 0, err
		}
	}
	notional, err := fpmath.ComputeNotional(closeSize, price)
	if err != nil {
		return 0, err
	}
	if err := sess.tx.ReleaseAndSettle(user, marginShare, pnl, fee); err != nil {
		return 0, err
	}

	pos.Size -= closeSize
	pos.Margin -= marginShare
	pos.Version++

	sess.emit(TradeRecord{
		User: user, MarketIndex: market, Kind: kind, TradeSide: pos.Side,
		Size: closeSize, Price: price, Fee: fee, RealizedPnL: pnl, BatchID: batchID,
	})
	now := sess.now
	sess.defer_(func() {
		st := e.stats.Get(user)
		st.TradesClosed++
		st.TotalVolume += notional
		st.RealizedPnL += pnl
		st.FeesPaid += fee
		st.RecordTradeTime(now)
		if kind == RecordADL {
			st.ADLReductionsCount++
		}
		e.cfg.TotalTrades++
		e.cfg.TotalVolume += notional
		e.cfg.TotalFees += fee
	})
	return pnl, nil
}

// ---------------------------------------------------------------------------
// Risk operations
// ---------------------------------------------------------------------------

// Liquidate force-closes a position whose mark price crossed its
// trigger. The position is removed whether or not the margin covered
// the loss; any shortfall draws down the insurance fund.
func (e *Engine) Liquidate(ev *event.LiquidationRequest) (*Result, error) {
	if err := e.checkPaused(); err != nil {
		return nil, err
	}
	if ev.MarkPrice <= 0 {
		return nil, ErrInvalidPrice
	}
	params, err := e.params.Market(ev.Market)
	if err != nil {
		return nil, err
	}
	pos := e.positions.Get(ev.User, ev.Market)
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	if !pos.ShouldLiquidate(ev.MarkPrice) {
		return nil, ErrPositionNotLiquidatable
	}
	pnl, err := pos.UnrealizedPnLAt(ev.MarkPrice)
	if err != nil {
		return nil, err
	}
	split, err := state.ComputeLiquidationResult(pos.Margin, pnl, params.LiquidationPenaltyRate)
	if err != nil {
		return nil, err
	}

	sess := e.begin(ev.IdempotencyKey(), ev.Timestamp)
	staged := sess.position(ev.User, ev.Market)

	var uncovered int64
	if split.Shortfall > 0 {
		if err := sess.tx.LiquidateSettle(ev.User, staged.Margin, 0, 0); err != nil {
			return nil, err
		}
		covered, err := sess.tx.CoverShortfall(split.Shortfall)
		if err != nil {
			return nil, err
		}
		uncovered = split.Shortfall - covered
	} else {
		if err := sess.tx.LiquidateSettle(ev.User, staged.Margin, split.UserRemainder, split.Penalty); err != nil {
			return nil, err
		}
	}

	staged.Size = 0
	staged.Margin = 0
	staged.Version++

	sess.emit(TradeRecord{
		User: ev.User, MarketIndex: ev.Market, Kind: RecordLiquidation, TradeSide: staged.Side,
		Size: pos.Size, Price: ev.MarkPrice, RealizedPnL: pnl,
	})
	user := ev.User
	sess.defer_(func() {
		e.stats.Get(user).LiquidationsCount++
		e.cfg.TotalLiquidations++
	})
	res, err := sess.commit()
	if err != nil {
		return nil, err
	}
	res.Shortfall = uncovered
	res.TriggerReason = e.fund.CheckTrigger(uncovered, ev.Timestamp)
	e.log.Info().Str("user", ev.User.String()).Uint8("market", ev.Market).
		Int64("pnl", pnl).Int64("shortfall", split.Shortfall).Msg("position liquidated")
	return res, nil
}

// TriggerADL force-closes profitable opposing positions until their
// realized profit covers the shortfall. Only the admin may request it.
// The last candidate is reduced just far enough to cover the residual;
// if candidates run out first, what is left is reported on the result.
func (e *Engine) TriggerADL(ev *event.ADLTrigger) (*Result, error) {
	if err := e.checkPaused(); err != nil {
		return nil, err
	}
	if err := e.checkAdmin(ev.Requester); err != nil {
		return nil, err
	}
	reason := e.fund.CheckTrigger(ev.Shortfall, ev.Timestamp)
	if reason == state.TriggerNone {
		return nil, ErrADLNotRequired
	}
	mark, ok := e.marks[ev.Market]
	if !ok {
		return nil, ErrInvalidPrice
	}
	candidates, err := state.SelectADLCandidates(e.positions.PositionsByMarket(ev.Market), ev.BankruptSide, mark)
	if err != nil {
		return nil, err
	}

	sess := e.begin(ev.IdempotencyKey(), ev.Timestamp)
	var recovered int64
	for _, c := range candidates {
		remaining := ev.Shortfall - recovered
		var closeSize int64 // zero closes the whole position
		if c.PnL > remaining {
			num := fpmath.MultiplyInt128(remaining, c.Position.Size)
			sz, err := fpmath.DivideInt128(num, c.PnL, fpmath.RoundDown)
			fpmath.ReleaseInt128(num)
			if err != nil {
				return nil, err
			}
			// One extra unit absorbs the truncation in the realized
			// profit so the residual cannot come up short.
			if sz < c.Position.Size {
				sz++
			}
			closeSize = sz
		}
		pnl, err := e.applyClose(sess, c.Position.UserID, ev.Market, closeSize, mark, 0, RecordADL, false)
		if err != nil {
			return nil, err
		}
		recovered += pnl
		if recovered >= ev.Shortfall {
			break
		}
	}
	res, err := sess.commit()
	if err != nil {
		return nil, err
	}
	if recovered < ev.Shortfall {
		res.Shortfall = ev.Shortfall - recovered
	}
	res.TriggerReason = reason
	e.cfg.TotalADLEvents++
	e.log.Warn().Uint8("market", ev.Market).Str("reason", reason.String()).
		Int64("shortfall", ev.Shortfall).Int64("recovered", recovered).Msg("auto-deleveraging executed")
	return res, nil
}

// SettleFunding applies one funding interval to one position. Only the
// cumulative funding total and the settlement timestamp move on the
// position itself.
func (e *Engine) SettleFunding(ev *event.FundingSettle) (*Result, error) {
	if err := e.checkPaused(); err != nil {
		return nil, err
	}
	if err := e.checkRelayer(ev.Relayer); err != nil {
		return nil, err
	}
	if ev.IndexPrice <= 0 {
		return nil, ErrInvalidPrice
	}
	if _, err := e.params.Market(ev.Market); err != nil {
		return nil, err
	}
	pos := e.positions.Get(ev.User, ev.Market)
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	if !pos.LastFundingTS.IsZero() && ev.Timestamp.Before(pos.LastFundingTS.Add(e.fundingInterval)) {
		return nil, ErrFundingNotDue
	}
	payment, err := fpmath.ComputeFundingPayment(pos.Size, ev.IndexPrice, ev.FundingRate, int64(pos.Side.Sign()))
	if err != nil {
		return nil, err
	}

	sess := e.begin(ev.IdempotencyKey(), ev.Timestamp)
	if err := sess.tx.SettleFunding(ev.User, payment); err != nil {
		return nil, err
	}
	staged := sess.position(ev.User, ev.Market)
	cumulative, err := fpmath.Add(staged.CumulativeFunding, payment)
	if err != nil {
		return nil, err
	}
	staged.CumulativeFunding = cumulative
	staged.LastFundingTS = ev.Timestamp
	staged.Version++

	sess.emit(TradeRecord{
		User: ev.User, MarketIndex: ev.Market, Kind: RecordFunding, TradeSide: staged.Side,
		Size: staged.Size, Price: ev.IndexPrice, RealizedPnL: -payment,
	})
	user := ev.User
	sess.defer_(func() {
		e.stats.Get(user).FundingPaid += payment
		e.cfg.FundingSettled++
	})
	return sess.commit()
}

// ApplyMarkPrice records the latest mark for a market. Accepted while
// paused; stale risk inputs are worse than none.
func (e *Engine) ApplyMarkPrice(ev *event.MarkPriceUpdate) error {
	if ev.Price <= 0 {
		return ErrInvalidPrice
	}
	e.marks[ev.Market] = ev.Price
	return nil
}

// ---------------------------------------------------------------------------
// Administration
// ---------------------------------------------------------------------------

// ApplyRelayerUpdate mutates the whitelist. Admin only; works while
// paused so a stuck ledger can still rotate relayers.
func (e *Engine) ApplyRelayerUpdate(ev *event.RelayerUpdate) error {
	if err := e.checkAdmin(ev.Admin); err != nil {
		return err
	}
	switch ev.Action {
	case event.RelayerActionAdd:
		return e.relayers.Add(ev.Relayer)
	case event.RelayerActionRemove:
		return e.relayers.Remove(ev.Relayer)
	case event.RelayerActionSetRequired:
		return e.relayers.SetRequired(ev.RequiredSignatures)
	default:
		return ErrInvalidAdmin
	}
}

// SetPaused flips the global pause flag.
func (e *Engine) SetPaused(ev *event.PauseSet) error {
	if err := e.checkAdmin(ev.Admin); err != nil {
		return err
	}
	e.cfg.Paused = ev.Paused
	e.log.Warn().Bool("paused", ev.Paused).Msg("pause flag changed")
	return nil
}

// UpdateAdmin transfers admin control.
func (e *Engine) UpdateAdmin(ev *event.AdminUpdate) error {
	if err := e.checkAdmin(ev.Admin); err != nil {
		return err
	}
	if ev.NewAdmin == "" {
		return ErrInvalidAdmin
	}
	e.cfg.Admin = ev.NewAdmin
	return nil
}

// Deposit credits a user's collateral. Used by the admin API and by
// replay of external transfer confirmations.
func (e *Engine) Deposit(user uuid.UUID, amount int64, eventRef string, now time.Time) (*Result, error) {
	if amount <= 0 {
		return nil, ErrInvalidTradeAmount
	}
	sess := e.begin(eventRef, now)
	if err := sess.tx.Deposit(user, amount); err != nil {
		return nil, err
	}
	return sess.commit()
}

// Withdraw debits a user's free collateral.
func (e *Engine) Withdraw(user uuid.UUID, amount int64, eventRef string, now time.Time) (*Result, error) {
	if err := e.checkPaused(); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidTradeAmount
	}
	sess := e.begin(eventRef, now)
	if err := sess.tx.Withdraw(user, amount); err != nil {
		return nil, err
	}
	return sess.commit()
}

// ApplyDeposit credits collateral from a relayed custody confirmation.
func (e *Engine) ApplyDeposit(ev *event.Deposit) (*Result, error) {
	if err := e.checkRelayer(ev.Relayer); err != nil {
		return nil, err
	}
	return e.Deposit(ev.User, ev.Amount, ev.IdempotencyKey(), ev.Timestamp)
}

// ApplyWithdraw debits free collateral back to external custody.
func (e *Engine) ApplyWithdraw(ev *event.Withdraw) (*Result, error) {
	if err := e.checkRelayer(ev.Relayer); err != nil {
		return nil, err
	}
	return e.Withdraw(ev.User, ev.Amount, ev.IdempotencyKey(), ev.Timestamp)
}
