// Package eventbus fans deal lifecycle events (deal.Event, §3's
// append-only log) out to an operational Kafka topic, so downstream
// consumers (dashboards, alerting, reconciliation jobs) see every
// stage transition and queue outcome without polling the repository.
// Grounded on the teacher's
// datasync/chaindatafetcher/event/kafka/kafka.go KafkaBroker: the same
// sarama.AsyncProducer construction (RequiredAcks/Compression/Flush),
// the same "CreateTopic before Publish" shape, and JSON-encoded
// message values.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/internal/logutil"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// Producer is the narrow surface Publisher needs; NewSaramaProducer
// backs it with a real broker connection, tests back it with a
// fake that records published messages.
type Producer interface {
	Publish(topic, key string, value []byte) error
	Close() error
}

// saramaProducer wraps sarama.AsyncProducer and sarama.ClusterAdmin
// exactly as the teacher's KafkaBroker does, minus the consumer side
// this package has no use for — it only ever publishes.
type saramaProducer struct {
	producer sarama.AsyncProducer
	admin    sarama.ClusterAdmin
	replicas int16
	logger   *zap.SugaredLogger
}

// NewSaramaProducer dials brokers and returns a Producer. replicas
// sets the replication factor used when a topic doesn't exist yet.
func NewSaramaProducer(brokers []string, replicas int16) (Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 500 * time.Millisecond
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("eventbus: failed to start producer: %w", err)
	}

	adminCfg := sarama.NewConfig()
	adminCfg.Version = sarama.MaxVersion
	admin, err := sarama.NewClusterAdmin(brokers, adminCfg)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("eventbus: failed to start cluster admin: %w", err)
	}

	sp := &saramaProducer{
		producer: producer,
		admin:    admin,
		replicas: replicas,
		logger:   logutil.NewModuleLogger(logutil.ModuleEventBus),
	}
	go sp.drainErrors()
	return sp, nil
}

func (s *saramaProducer) drainErrors() {
	for perr := range s.producer.Errors() {
		s.logger.Errorw("failed to publish deal event", "topic", perr.Msg.Topic, "err", perr.Err)
	}
}

func (s *saramaProducer) ensureTopic(topic string) {
	_ = s.admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     10,
		ReplicationFactor: s.replicas,
	}, false)
}

func (s *saramaProducer) Publish(topic, key string, value []byte) error {
	s.ensureTopic(topic)
	s.producer.Input() <- &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	return nil
}

func (s *saramaProducer) Close() error {
	if err := s.producer.Close(); err != nil {
		return err
	}
	return s.admin.Close()
}

// message is the wire shape published to the topic: the deal it
// belongs to alongside the event itself, so a consumer with no prior
// state can still attribute every event to its deal.
type message struct {
	DealID string     `json:"deal_id"`
	Event  deal.Event `json:"event"`
}

// Publisher turns deal.Event records into Kafka messages keyed by
// deal id, so all of one deal's events land on the same partition and
// are read back in order.
type Publisher struct {
	producer Producer
	topic    string
	logger   *zap.SugaredLogger
}

func NewPublisher(producer Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic, logger: logutil.NewModuleLogger(logutil.ModuleEventBus)}
}

func (p *Publisher) PublishEvent(dealID string, e deal.Event) error {
	payload, err := json.Marshal(message{DealID: dealID, Event: e})
	if err != nil {
		return fmt.Errorf("eventbus: failed to marshal event: %w", err)
	}
	return p.producer.Publish(p.topic, dealID, payload)
}

// publishingDealRepo decorates a repository.DealRepo so every
// successful AddEvent also reaches the event bus. A publish failure is
// logged, never surfaced to the caller — the append-only log in the
// repository is the system of record; Kafka is a downstream mirror.
type publishingDealRepo struct {
	repository.DealRepo
	publisher *Publisher
	logger    *zap.SugaredLogger
}

// NewPublishingDealRepo wraps inner so every AddEvent call also
// publishes to the bus. Every other DealRepo method passes straight
// through via the embedded interface.
func NewPublishingDealRepo(inner repository.DealRepo, publisher *Publisher) repository.DealRepo {
	return &publishingDealRepo{DealRepo: inner, publisher: publisher, logger: logutil.NewModuleLogger(logutil.ModuleEventBus)}
}

func (r *publishingDealRepo) AddEvent(ctx context.Context, tx repository.Tx, dealID string, e deal.Event) error {
	if err := r.DealRepo.AddEvent(ctx, tx, dealID, e); err != nil {
		return err
	}
	if err := r.publisher.PublishEvent(dealID, e); err != nil {
		r.logger.Errorw("failed to publish deal event", "deal_id", dealID, "err", err)
	}
	return nil
}
