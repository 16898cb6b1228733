package core

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"BatchLedger/internal/engine"
	"BatchLedger/internal/event"
	"BatchLedger/internal/ledger"
)

// Output is what leaves the core for one applied event: the sealed
// envelope plus the side effects the engine produced. The persistence
// worker consumes it on the blocking channel; projections get a
// best-effort copy.
type Output struct {
	Envelope *event.Envelope
	Records  []engine.TradeRecord
	Journals []ledger.Journal

	// Uncovered loss and the reason auto-deleveraging fired, when the
	// event was a risk operation.
	Shortfall     int64
	TriggerReason string
}

// Core is the single-writer deterministic pipeline. Exactly one
// goroutine calls ProcessEvent; everything downstream hangs off the two
// output channels. The core never reads the wall clock, so replaying
// the same events yields the same envelopes bit for bit.
type Core struct {
	engine    *engine.Engine
	hasher    *StateHasher
	dedup     *IdempotencyChecker
	sequencer *SequenceValidator

	sequence int64 // next global sequence to assign

	persistCh    chan<- *Output
	projectionCh chan<- *Output

	metrics MetricsSink
	log     zerolog.Logger
}

// MetricsSink is the slice of observability the core touches. Nil-safe
// wrappers keep tests free of a Prometheus registry.
type MetricsSink interface {
	EventApplied(eventType string, dur time.Duration)
	EventRejected(eventType, reason string)
	ProjectionDropped()
	PersistBlocked()
	SetSequence(seq int64)
}

// NewCore assembles the pipeline around an existing engine.
func NewCore(eng *engine.Engine, dedup *IdempotencyChecker, persistCh, projectionCh chan<- *Output, metrics MetricsSink, log zerolog.Logger) *Core {
	return &Core{
		engine:       eng,
		hasher:       NewStateHasher(),
		dedup:        dedup,
		sequencer:    NewSequenceValidator(),
		sequence:     1,
		persistCh:    persistCh,
		projectionCh: projectionCh,
		metrics:      metrics,
		log:          log,
	}
}

// Engine exposes the wrapped engine for read paths.
func (c *Core) Engine() *engine.Engine { return c.engine }

// Sequencer exposes the ordering watermarks, used by snapshots.
func (c *Core) Sequencer() *SequenceValidator { return c.sequencer }

// GetSequence returns the next global sequence the core will assign.
func (c *Core) GetSequence() int64 { return c.sequence }

// GetStateHash returns the current hash-chain head.
func (c *Core) GetStateHash() [32]byte { return c.hasher.GetPrevHash() }

// partitionOf maps an event to its upstream ordering domain. Every
// relayer runs its own monotone counter; risk callers and the admin
// likewise. Mark prices never reach here; they take the price path.
func partitionOf(evt event.Event) string {
	switch ev := evt.(type) {
	case *event.BatchSubmit:
		return "relayer:" + ev.Relayer
	case *event.BatchConfirm:
		return "relayer:" + ev.Relayer
	case *event.BatchExecute:
		return "relayer:" + ev.Relayer
	case *event.PositionOpen:
		return "relayer:" + ev.Relayer
	case *event.PositionClose:
		return "relayer:" + ev.Relayer
	case *event.FundingSettle:
		return "relayer:" + ev.Relayer
	case *event.Deposit:
		return "relayer:" + ev.Relayer
	case *event.Withdraw:
		return "relayer:" + ev.Relayer
	case *event.LiquidationRequest:
		return "risk:" + ev.Liquidator
	case *event.ADLTrigger:
		return "risk:" + ev.Requester
	default:
		return "admin"
	}
}

// eventTimestamp pulls the versioned input timestamp off the concrete
// payload. The core clocks everything off these; it never calls
// time.Now.
func eventTimestamp(evt event.Event) time.Time {
	switch ev := evt.(type) {
	case *event.BatchSubmit:
		return ev.Timestamp
	case *event.BatchConfirm:
		return ev.Timestamp
	case *event.BatchExecute:
		return ev.Timestamp
	case *event.PositionOpen:
		return ev.Timestamp
	case *event.PositionClose:
		return ev.Timestamp
	case *event.LiquidationRequest:
		return ev.Timestamp
	case *event.ADLTrigger:
		return ev.Timestamp
	case *event.FundingSettle:
		return ev.Timestamp
	case *event.MarkPriceUpdate:
		return ev.Timestamp
	case *event.RelayerUpdate:
		return ev.Timestamp
	case *event.PauseSet:
		return ev.Timestamp
	case *event.AdminUpdate:
		return ev.Timestamp
	case *event.Deposit:
		return ev.Timestamp
	case *event.Withdraw:
		return ev.Timestamp
	default:
		return time.Time{}
	}
}

// ProcessEvent runs one event through the full pipeline: dedup,
// ordering, apply, digest, hash chain, emit. payload is the raw encoded
// event for the audit log; it is carried, never re-parsed. A nil Output
// with nil error means the event was skipped (duplicate or stale
// price).
func (c *Core) ProcessEvent(evt event.Event, payload []byte) (*Output, error) {
	start := time.Now()
	typ := evt.EventType().String()

	isDup := c.dedup.IsDuplicate(evt)

	if mp, ok := evt.(*event.MarkPriceUpdate); ok {
		partition := fmt.Sprintf("price:%d", mp.Market)
		if !c.sequencer.ValidatePriceSequence(partition, mp.PriceSequence) {
			c.reject(typ, "stale_price")
			return nil, nil
		}
	} else {
		if err := c.sequencer.ValidateSequence(partitionOf(evt), evt.SourceSequence(), isDup); err != nil {
			c.reject(typ, "sequence")
			return nil, err
		}
	}

	if isDup {
		c.reject(typ, "duplicate")
		return nil, nil
	}

	result, err := c.dispatch(evt)
	if err != nil {
		c.reject(typ, "domain")
		return nil, err
	}

	digest := c.computeStateDigest(result)
	prev := c.hasher.GetPrevHash()
	seq := c.sequence
	stateHash := c.hasher.ComputeHash(seq, digest)

	env := &event.Envelope{
		Sequence:       seq,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		MarketIndex:    evt.MarketIndex(),
		Timestamp:      eventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prev,
	}

	out := &Output{Envelope: env}
	if result != nil {
		out.Records = result.Records
		out.Journals = result.Journals
		out.Shortfall = result.Shortfall
		out.TriggerReason = result.TriggerReason.String()
	}

	if c.persistCh != nil {
		select {
		case c.persistCh <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBlocked()
			}
			c.persistCh <- out
		}
	}
	if c.projectionCh != nil {
		select {
		case c.projectionCh <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDropped()
			}
		}
	}

	c.dedup.MarkProcessed(evt)
	c.sequence = seq + 1
	if c.metrics != nil {
		c.metrics.EventApplied(typ, time.Since(start))
		c.metrics.SetSequence(c.sequence)
	}
	return out, nil
}

func (c *Core) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.EventRejected(eventType, reason)
	}
}

// dispatch routes by concrete type. Operations without journal output
// return a nil result; the envelope still enters the chain so control
// events are auditable.
func (c *Core) dispatch(evt event.Event) (*engine.Result, error) {
	switch ev := evt.(type) {
	case *event.BatchSubmit:
		return nil, c.engine.SubmitTradeBatch(ev)
	case *event.BatchConfirm:
		return nil, c.engine.ConfirmTradeBatch(ev)
	case *event.BatchExecute:
		return c.engine.ExecuteTradeBatch(ev)
	case *event.PositionOpen:
		return c.engine.OpenPosition(ev)
	case *event.PositionClose:
		return c.engine.ClosePosition(ev)
	case *event.LiquidationRequest:
		return c.engine.Liquidate(ev)
	case *event.ADLTrigger:
		return c.engine.TriggerADL(ev)
	case *event.FundingSettle:
		return c.engine.SettleFunding(ev)
	case *event.MarkPriceUpdate:
		return nil, c.engine.ApplyMarkPrice(ev)
	case *event.RelayerUpdate:
		return nil, c.engine.ApplyRelayerUpdate(ev)
	case *event.PauseSet:
		return nil, c.engine.SetPaused(ev)
	case *event.AdminUpdate:
		return nil, c.engine.UpdateAdmin(ev)
	case *event.Deposit:
		return c.engine.ApplyDeposit(ev)
	case *event.Withdraw:
		return c.engine.ApplyWithdraw(ev)
	default:
		return nil, fmt.Errorf("core: unhandled event type %s", evt.EventType())
	}
}

// computeStateDigest commits to every account the event touched:
// accounts sorted by path, each as len-prefixed path plus post-apply
// balance in little-endian. Control events digest to empty, which still
// advances the chain.
func (c *Core) computeStateDigest(result *engine.Result) []byte {
	if result == nil || len(result.Journals) == 0 {
		return nil
	}
	touched := make(map[ledger.AccountKey]struct{}, len(result.Journals)*2)
	for i := range result.Journals {
		touched[result.Journals[i].DebitAccount] = struct{}{}
		touched[result.Journals[i].CreditAccount] = struct{}{}
	}
	keys := make([]ledger.AccountKey, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})

	tracker := c.engine.Custody().Tracker()
	var buf []byte
	var scratch [8]byte
	for _, k := range keys {
		path := k.AccountPath()
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(path)))
		buf = append(buf, scratch[:4]...)
		buf = append(buf, path...)
		binary.LittleEndian.PutUint64(scratch[:], uint64(tracker.Get(k)))
		buf = append(buf, scratch[:]...)
	}
	return buf
}
