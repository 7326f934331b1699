// Package consumer feeds transaction-created events from Kafka into the scoring engine.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/loyalty/fraud-service/internal/config"
	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/metrics"
	"github.com/loyalty/fraud-service/internal/pkg/logger"
)

// Ingester evaluates a newly created transaction
type Ingester interface {
	Ingest(ctx context.Context, tx *domain.Transaction) (*domain.EvaluationResult, error)
}

// Consumed event results
const (
	resultIngested  = "ingested"
	resultDuplicate = "duplicate"
	resultRejected  = "rejected"
	resultFailed    = "failed"
)

// Handler decodes transaction events and ingests them.
// Undecodable, invalid and already ingested events are skipped; any other
// failure ends the session so the event is delivered again.
type Handler struct {
	ingester Ingester
	log      *logger.Logger
}

var _ sarama.ConsumerGroupHandler = (*Handler)(nil)

// NewHandler creates a consumer group handler
func NewHandler(ingester Ingester, log *logger.Logger) *Handler {
	return &Handler{ingester: ingester, log: log}
}

// Setup is run at the beginning of a new session
func (h *Handler) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup is run at the end of a session
func (h *Handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes the messages of one partition claim in order
func (h *Handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.Handle(session.Context(), msg); err != nil {
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// Handle processes one message. A nil error means the message may be committed.
func (h *Handler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = extractTrace(ctx, msg.Headers)
	log := h.log.WithContext(ctx)

	tx, err := Decode(msg.Value)
	if err != nil {
		metrics.ConsumedEventsTotal.WithLabelValues(resultRejected).Inc()
		log.Warn("skipping undecodable transaction event",
			logger.StringField("topic", msg.Topic),
			logger.IntField("partition", int(msg.Partition)),
			logger.ErrorField(err),
		)
		return nil
	}

	res, err := h.ingester.Ingest(ctx, tx)
	switch {
	case err == nil:
		metrics.ConsumedEventsTotal.WithLabelValues(resultIngested).Inc()
		log.Debug("transaction event ingested",
			logger.StringField("transaction_ref", res.Transaction.Reference),
			logger.StringField("risk_level", string(res.Transaction.RiskLevel)),
		)
		return nil
	case errors.Is(err, domain.ErrDuplicate):
		metrics.ConsumedEventsTotal.WithLabelValues(resultDuplicate).Inc()
		log.Info("skipping already ingested transaction", logger.StringField("transaction_id", tx.ID.String()))
		return nil
	case domain.IsInvalidInput(err):
		metrics.ConsumedEventsTotal.WithLabelValues(resultRejected).Inc()
		log.Warn("skipping invalid transaction event",
			logger.StringField("transaction_id", tx.ID.String()),
			logger.ErrorField(err),
		)
		return nil
	default:
		metrics.ConsumedEventsTotal.WithLabelValues(resultFailed).Inc()
		return fmt.Errorf("ingest transaction %s: %w", tx.ID, err)
	}
}

// Decode parses a transaction-created event. A transaction without an id
// takes the event id, so a redelivered event is detected as a duplicate.
func Decode(value []byte) (*domain.Transaction, error) {
	var ev domain.TransactionCreatedEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.Transaction == nil {
		return nil, errors.New("event has no transaction payload")
	}
	if ev.Transaction.ID == uuid.Nil {
		ev.Transaction.ID = ev.EventID
	}
	return ev.Transaction, nil
}

func extractTrace(ctx context.Context, headers []*sarama.RecordHeader) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		if h != nil {
			carrier.Set(string(h.Key), string(h.Value))
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// Consumer runs a consumer group over the transaction topic
type Consumer struct {
	group      sarama.ConsumerGroup
	topic      string
	handler    sarama.ConsumerGroupHandler
	retryDelay time.Duration
	log        *logger.Logger
}

// NewConsumerGroup creates a consumer group that starts from the oldest offset
func NewConsumerGroup(cfg config.KafkaConfig) (sarama.ConsumerGroup, error) {
	sc := sarama.NewConfig()
	sc.ClientID = "fraud-service"
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return group, nil
}

// New creates a consumer of the topic
func New(group sarama.ConsumerGroup, topic string, handler sarama.ConsumerGroupHandler, log *logger.Logger) *Consumer {
	return &Consumer{
		group:      group,
		topic:      topic,
		handler:    handler,
		retryDelay: 5 * time.Second,
		log:        log.Named("consumer"),
	}
}

// Run consumes until ctx is cancelled or the group is closed
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.log.Error("consumer group error", logger.ErrorField(err))
		}
	}()

	c.log.Info("consumer started", logger.StringField("topic", c.topic))
	for {
		err := c.group.Consume(ctx, []string{c.topic}, c.handler)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case err != nil:
			c.log.Error("consume session ended", logger.ErrorField(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the group
func (c *Consumer) Close() error {
	return c.group.Close()
}
