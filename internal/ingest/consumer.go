// Package ingest consumes domain events from Kafka and hands them to the
// event router. Each event type has its own topic; producers own durability
// and retries, the hub only redistributes.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/deliverly/go-fanout/internal/hub"
)

// Topic names, one per domain event type.
const (
	TopicOrderStatusChanged    = "ORDER_STATUS_CHANGED"
	TopicDeliveryStatusChanged = "DELIVERY_STATUS_CHANGED"
	TopicDeliveryLocation      = "DELIVERY_LOCATION_UPDATE"
	TopicChatMessage           = "CHAT_MESSAGE_RECEIVED"
	TopicNotification          = "NOTIFICATION_RECEIVED"
	TopicPresenceUpdate        = "PRESENCE_UPDATE"
)

var topicEventTypes = map[string]hub.EventType{
	TopicOrderStatusChanged:    hub.EventOrderStatusChanged,
	TopicDeliveryStatusChanged: hub.EventDeliveryStatusChanged,
	TopicDeliveryLocation:      hub.EventDeliveryLocation,
	TopicChatMessage:           hub.EventChatMessage,
	TopicNotification:          hub.EventNotification,
	TopicPresenceUpdate:        hub.EventPresenceUpdate,
}

func Topics() []string {
	topics := make([]string, 0, len(topicEventTypes))
	for t := range topicEventTypes {
		topics = append(topics, t)
	}
	return topics
}

// message is the wire shape producers publish: a payload plus an optional
// explicit target and event timestamp.
type message struct {
	Payload   json.RawMessage `json:"payload"`
	Target    hub.Target      `json:"target"`
	Timestamp time.Time       `json:"timestamp"`
}

type Consumer struct {
	group  sarama.ConsumerGroup
	topics []string
	router *hub.Router
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewConsumer(logger *slog.Logger, brokers []string, groupID string, router *hub.Router) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger = logger.With(slog.String("component", "kafka_ingest"))
	logger.Info("Kafka consumer initialized",
		slog.Any("brokers", brokers),
		slog.String("groupID", groupID),
	)

	return &Consumer{
		group:  group,
		topics: Topics(),
		router: router,
		logger: logger,
	}, nil
}

func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume must be called in a loop; each rebalance starts a new
			// session.
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.Error("Consumer session failed", slog.Any("error", err))
			}
			if ctx.Err() != nil {
				c.logger.Info("Consumer context cancelled")
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.Error("Consumer group error", slog.Any("error", err))
		}
	}()

	c.logger.Info("Kafka consumer started")
}

func (c *Consumer) Close() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("Kafka consumer closed")
	return nil
}

func (c *Consumer) processMessage(msg *sarama.ConsumerMessage) error {
	eventType, ok := topicEventTypes[msg.Topic]
	if !ok {
		c.logger.Warn("Message on unknown topic", slog.String("topic", msg.Topic))
		return nil
	}

	var in message
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return fmt.Errorf("failed to unmarshal event from topic %s: %w", msg.Topic, err)
	}

	ev := hub.NewEvent(eventType, in.Payload, in.Target)
	if !in.Timestamp.IsZero() {
		ev.Timestamp = in.Timestamp
	}
	c.router.Route(ev)
	return nil
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Debug("Consumer group session started")
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.logger.Debug("Consumer group session ended")
	return nil
}

// ConsumeClaim drains one partition claim, marking every message regardless
// of handler outcome; routing is fire-and-forget.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg := <-claim.Messages():
			if msg == nil {
				return nil
			}
			if err := c.processMessage(msg); err != nil {
				c.logger.Error("Failed to process message",
					slog.String("topic", msg.Topic),
					slog.Int64("offset", msg.Offset),
					slog.Any("error", err),
				)
			}
			session.MarkMessage(msg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
