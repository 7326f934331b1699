// Package audit publishes the audit trail to downstream consumers.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/loyalty/fraud-service/internal/config"
	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/pkg/logger"
	"github.com/loyalty/fraud-service/internal/scoring"
)

// Event types published by the service
const (
	EventAuditRecorded = "fraud.audit.recorded"
	EventAlert         = "fraud.alert"
)

// Event is the envelope of a published audit entry
type Event struct {
	EventID   uuid.UUID         `json:"event_id"`
	EventType string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   domain.AuditEntry `json:"payload"`
}

// NewSyncProducer creates a Kafka producer that waits for all in-sync replicas
func NewSyncProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = "fraud-service"
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = 3
	if cfg.ProduceTimeout > 0 {
		sc.Producer.Timeout = cfg.ProduceTimeout
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaPublisher publishes audit entries to the audit topic and alert
// entries to the alerts topic as well. A circuit breaker stops calling
// the brokers after repeated failures.
type KafkaPublisher struct {
	producer    sarama.SyncProducer
	breaker     *gobreaker.CircuitBreaker
	auditTopic  string
	alertsTopic string
	log         *logger.Logger
}

var _ scoring.AuditSink = (*KafkaPublisher)(nil)

// NewKafkaPublisher wraps a producer
func NewKafkaPublisher(producer sarama.SyncProducer, cfg config.KafkaConfig, log *logger.Logger) *KafkaPublisher {
	log = log.Named("kafka-publisher")

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-audit",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.StringField("breaker", name),
				logger.StringField("from", from.String()),
				logger.StringField("to", to.String()),
			)
		},
	})

	return &KafkaPublisher{
		producer:    producer,
		breaker:     breaker,
		auditTopic:  cfg.AuditTopic,
		alertsTopic: cfg.AlertsTopic,
		log:         log,
	}
}

// Record publishes one entry, keyed by entity id
func (p *KafkaPublisher) Record(ctx context.Context, e domain.AuditEntry) error {
	msgs, err := p.messages(ctx, e)
	if err != nil {
		return err
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.producer.SendMessages(msgs)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Action, err)
	}
	return nil
}

// Close closes the underlying producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

func (p *KafkaPublisher) messages(ctx context.Context, e domain.AuditEntry) ([]*sarama.ProducerMessage, error) {
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := make([]sarama.RecordHeader, 0, len(carrier))
	for _, k := range carrier.Keys() {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(carrier.Get(k))})
	}

	build := func(topic, eventType string) (*sarama.ProducerMessage, error) {
		body, err := json.Marshal(Event{
			EventID:   uuid.New(),
			EventType: eventType,
			Timestamp: ts,
			Payload:   e,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal audit event: %w", err)
		}
		return &sarama.ProducerMessage{
			Topic:     topic,
			Key:       sarama.StringEncoder(e.EntityID),
			Value:     sarama.ByteEncoder(body),
			Headers:   headers,
			Timestamp: ts,
		}, nil
	}

	msg, err := build(p.auditTopic, EventAuditRecorded)
	if err != nil {
		return nil, err
	}
	msgs := []*sarama.ProducerMessage{msg}

	if p.alertsTopic != "" && isAlertAction(e.Action) {
		alert, err := build(p.alertsTopic, EventAlert)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, alert)
	}
	return msgs, nil
}

func isAlertAction(a domain.AuditAction) bool {
	return strings.HasPrefix(string(a), "ALERT_")
}
