// Package ingress mirrors finalized chain state into the node-local
// store over NATS JetStream. A relayer watching the chain publishes
// one message per finalized fact; this subscriber copies each fact
// into the KV mirror and signals the sync worker on every finalized
// block.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"ObSync/internal/chain"
	"ObSync/internal/observability"
	"ObSync/internal/store"
	"ObSync/internal/types"
)

// Chain feed subjects. One subject per mirrored fact so consumers can
// be tuned independently.
const (
	SubjectFinalizedBlocks = "obsync.chain.blocks.finalized"
	SubjectIngressQueue    = "obsync.chain.ingress"
	SubjectSnapshotNonce   = "obsync.chain.snapshot_nonce"
	SubjectValidatorSet    = "obsync.chain.validator_set"
	SubjectLMPEpoch        = "obsync.chain.lmp_epoch"
	SubjectTradingPairs    = "obsync.chain.trading_pairs"
	SubjectEgressQueue     = "obsync.chain.egress"
)

const streamName = "OBSYNC_CHAIN"

// FinalizedBlock announces one finalized block. IngressMessages for
// that block are published on SubjectIngressQueue before it.
type FinalizedBlock struct {
	Number uint64 `json:"number"`
}

// IngressQueue carries the on-chain events queued for one block.
type IngressQueue struct {
	Block    uint64                 `json:"block"`
	Messages []types.IngressMessage `json:"messages"`
}

// SnapshotNonce announces the nonce of the latest snapshot accepted
// on-chain.
type SnapshotNonce struct {
	Nonce uint64 `json:"nonce"`
}

// EgressQueue carries bridge egress queued for one snapshot nonce.
type EgressQueue struct {
	Nonce    uint64                `json:"nonce"`
	Messages []types.EgressMessage `json:"messages"`
}

// Subscriber consumes the chain feed and maintains the local mirror.
type Subscriber struct {
	js        jetstream.JetStream
	db        store.Database
	blocks    chan<- uint64
	metrics   *observability.Metrics
	consumers []jetstream.ConsumeContext
}

// NewSubscriber returns a subscriber that writes mirrored facts into
// db and sends every finalized block number to blocks.
func NewSubscriber(js jetstream.JetStream, db store.Database, blocks chan<- uint64, metrics *observability.Metrics) *Subscriber {
	return &Subscriber{js: js, db: db, blocks: blocks, metrics: metrics}
}

// EnsureStream creates the chain feed stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"obsync.chain.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}
	log.Printf("INFO: ensured stream %s", streamName)
	return nil
}

// Handle mirrors one chain feed message. Unknown subjects error.
func (s *Subscriber) Handle(subject string, data []byte) error {
	switch subject {
	case SubjectFinalizedBlocks:
		return s.handleFinalizedBlock(data)
	case SubjectIngressQueue:
		return s.handleIngressQueue(data)
	case SubjectSnapshotNonce:
		return s.handleSnapshotNonce(data)
	case SubjectValidatorSet:
		return s.handleValidatorSet(data)
	case SubjectLMPEpoch:
		return s.handleLMPEpoch(data)
	case SubjectTradingPairs:
		return s.handleTradingPairs(data)
	case SubjectEgressQueue:
		return s.handleEgressQueue(data)
	default:
		return fmt.Errorf("unknown chain feed subject %q", subject)
	}
}

// Subscribe creates durable consumers for every chain feed subject.
// Consumers use explicit ACK; a handler failure NAKs for redelivery.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	subjects := []struct {
		subject  string
		consumer string
	}{
		{SubjectFinalizedBlocks, "obsync-blocks"},
		{SubjectIngressQueue, "obsync-ingress"},
		{SubjectSnapshotNonce, "obsync-nonce"},
		{SubjectValidatorSet, "obsync-validators"},
		{SubjectLMPEpoch, "obsync-epoch"},
		{SubjectTradingPairs, "obsync-pairs"},
		{SubjectEgressQueue, "obsync-egress"},
	}

	for _, sub := range subjects {
		sub := sub
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
			Durable:       sub.consumer,
			FilterSubject: sub.subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", sub.consumer, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			if err := s.Handle(msg.Subject(), msg.Data()); err != nil {
				log.Printf("WARN: %s: %v", msg.Subject(), err)
				s.metrics.MirrorUpdateFailures.WithLabelValues(msg.Subject()).Inc()
				msg.Nak()
				return
			}
			msg.Ack()
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", sub.consumer, err)
		}

		s.consumers = append(s.consumers, cc)
		log.Printf("INFO: subscribed to %s (consumer=%s)", sub.subject, sub.consumer)
	}

	return nil
}

func (s *Subscriber) handleFinalizedBlock(data []byte) error {
	var blk FinalizedBlock
	if err := json.Unmarshal(data, &blk); err != nil {
		return fmt.Errorf("decode finalized block: %w", err)
	}
	// Non-blocking: a busy worker catches up on the next signal.
	select {
	case s.blocks <- blk.Number:
	default:
	}
	return nil
}

func (s *Subscriber) handleIngressQueue(data []byte) error {
	var queue IngressQueue
	if err := json.Unmarshal(data, &queue); err != nil {
		return fmt.Errorf("decode ingress queue: %w", err)
	}
	if err := store.StoreIngressMessages(s.db, queue.Block, queue.Messages); err != nil {
		return err
	}
	for i := range queue.Messages {
		s.metrics.IngressMessagesStored.WithLabelValues(string(queue.Messages[i].Type)).Inc()
	}
	return nil
}

func (s *Subscriber) handleSnapshotNonce(data []byte) error {
	var nonce SnapshotNonce
	if err := json.Unmarshal(data, &nonce); err != nil {
		return fmt.Errorf("decode snapshot nonce: %w", err)
	}
	return chain.StoreSnapshotNonce(s.db, nonce.Nonce)
}

func (s *Subscriber) handleValidatorSet(data []byte) error {
	var set types.ValidatorSet
	if err := json.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("decode validator set: %w", err)
	}
	set.Sort()
	return chain.StoreValidatorSet(s.db, set)
}

func (s *Subscriber) handleLMPEpoch(data []byte) error {
	var epoch struct {
		Epoch uint32 `json:"epoch"`
	}
	if err := json.Unmarshal(data, &epoch); err != nil {
		return fmt.Errorf("decode lmp epoch: %w", err)
	}
	return chain.StoreLMPEpoch(s.db, epoch.Epoch)
}

func (s *Subscriber) handleTradingPairs(data []byte) error {
	var configs []types.TradingPairConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("decode trading pairs: %w", err)
	}
	return chain.StoreTradingPairs(s.db, configs)
}

func (s *Subscriber) handleEgressQueue(data []byte) error {
	var queue EgressQueue
	if err := json.Unmarshal(data, &queue); err != nil {
		return fmt.Errorf("decode egress queue: %w", err)
	}
	return store.StoreEgressMessages(s.db, queue.Nonce, queue.Messages)
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	log.Println("INFO: chain feed subscribers stopped")
}

// Connect establishes a NATS connection and returns a JetStream
// context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	return nc, js, nil
}
