package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to JetStream subjects and feeds raw events
// into the shell via eventChan. NATS is the sole write path; the HTTP
// API never mutates core state directly.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawEvent is the parsed-but-untyped event straight off the wire. The
// shell converts it to a typed event.Event before handing it to the
// core; Data is carried through as the audit payload.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the core accepted or skipped the event
	NakFunc   func() // NAK on transient failure (redelivered)
}

// SubjectConfig maps one NATS subject to an event type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject layout. Each event type
// gets its own durable consumer so redelivery stays isolated.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "ledger.batches.submit.>", EventType: "BatchSubmit", ConsumerName: "ledger-batch-submit", StreamName: "LEDGER_BATCHES"},
		{Subject: "ledger.batches.confirm.>", EventType: "BatchConfirm", ConsumerName: "ledger-batch-confirm", StreamName: "LEDGER_BATCHES"},
		{Subject: "ledger.batches.execute.>", EventType: "BatchExecute", ConsumerName: "ledger-batch-execute", StreamName: "LEDGER_BATCHES"},
		{Subject: "ledger.positions.open.>", EventType: "PositionOpen", ConsumerName: "ledger-pos-open", StreamName: "LEDGER_POSITIONS"},
		{Subject: "ledger.positions.close.>", EventType: "PositionClose", ConsumerName: "ledger-pos-close", StreamName: "LEDGER_POSITIONS"},
		{Subject: "ledger.risk.liquidate.>", EventType: "Liquidation", ConsumerName: "ledger-risk-liquidate", StreamName: "LEDGER_RISK"},
		{Subject: "ledger.risk.adl.>", EventType: "ADLTrigger", ConsumerName: "ledger-risk-adl", StreamName: "LEDGER_RISK"},
		{Subject: "ledger.funding.settle.>", EventType: "FundingSettle", ConsumerName: "ledger-funding-settle", StreamName: "LEDGER_FUNDING"},
		{Subject: "ledger.prices.>", EventType: "MarkPriceUpdate", ConsumerName: "ledger-prices", StreamName: "LEDGER_PRICES"},
		{Subject: "ledger.admin.relayers.>", EventType: "RelayerUpdate", ConsumerName: "ledger-admin-relayers", StreamName: "LEDGER_ADMIN"},
		{Subject: "ledger.admin.pause.>", EventType: "PauseSet", ConsumerName: "ledger-admin-pause", StreamName: "LEDGER_ADMIN"},
		{Subject: "ledger.admin.transfer.>", EventType: "AdminUpdate", ConsumerName: "ledger-admin-transfer", StreamName: "LEDGER_ADMIN"},
		{Subject: "ledger.transfers.deposit.>", EventType: "Deposit", ConsumerName: "ledger-deposit", StreamName: "LEDGER_TRANSFERS"},
		{Subject: "ledger.transfers.withdraw.>", EventType: "Withdraw", ConsumerName: "ledger-withdraw", StreamName: "LEDGER_TRANSFERS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       log,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if absent.
// Streams use FileStorage, Limits retention, 72h max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "LEDGER_BATCHES",
			Subjects:  []string{"ledger.batches.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEDGER_POSITIONS",
			Subjects:  []string{"ledger.positions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEDGER_RISK",
			Subjects:  []string{"ledger.risk.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEDGER_FUNDING",
			Subjects:  []string{"ledger.funding.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEDGER_PRICES",
			Subjects:  []string{"ledger.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEDGER_ADMIN",
			Subjects:  []string{"ledger.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEDGER_TRANSFERS",
			Subjects:  []string{"ledger.transfers.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream
// context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
