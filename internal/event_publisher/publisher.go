package event_publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const producer = "whatsapp-sync"

// Event types, also used as routing keys.
const (
	EventSyncCompleted   = "sync.completed"
	EventMessageReceived = "message.received"
	EventMessageEdited   = "message.edited"
	EventMessageDeleted  = "message.deleted"
	EventMessageSent     = "message.sent"
	EventGroupCreated    = "group.created"
)

type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope stamps data with a fresh id and the current time.
func NewEnvelope(eventType string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Producer: producer,
			Time:     time.Now().UTC(),
			Type:     eventType,
		},
		Data: data,
	}
}

// WithCorrelation returns a copy of e carrying the correlation id.
func (e Envelope) WithCorrelation(id string) Envelope {
	if id != "" {
		e.Meta.CorrelationID = &id
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type amqpPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger
}

// NewAMQPPublisher dials the broker and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &amqpPublisher{conn: conn, exchange: exchange, logger: logger}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirms: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	correlationID := msgID
	if msg.Meta.CorrelationID != nil {
		correlationID = *msg.Meta.CorrelationID
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msgID,
		CorrelationId: correlationID,
		Type:          msg.Meta.Type,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", key)
	}

	p.logger.Debug("Event published", zap.String("key", key), zap.String("exchange", p.exchange))
	return nil
}

func (p *amqpPublisher) Close() error {
	return p.conn.Close()
}

// NopPublisher drops events. It is used when the broker is disabled.
type NopPublisher struct {
	logger *zap.Logger
}

func NewNopPublisher(logger *zap.Logger) *NopPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NopPublisher{logger: logger}
}

func (p *NopPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	p.logger.Debug("Event publishing disabled, skipped", zap.String("key", key))
	return nil
}

func (p *NopPublisher) Close() error {
	return nil
}

// Emit publishes and logs failures instead of returning them. Event
// delivery never fails the operation that produced the event.
func Emit(ctx context.Context, p Publisher, logger *zap.Logger, eventType string, data any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, eventType, NewEnvelope(eventType, data)); err != nil {
		logger.Warn("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
