// Package event publishes identity lifecycle events to the message bus.
// Publishing is best-effort: events are queued, sent in the background, and
// failures are logged and never reach the caller.
package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/utafrali/promptbase/pkg/kafka"
	"github.com/utafrali/promptbase/pkg/logger"
)

// Event types published by the identity service. Each maps to the topic
// promptbase.identity.<type>.
const (
	UserRegistered         = "user.registered"
	UserVerified           = "user.verified"
	UserUpdated            = "user.updated"
	PasswordResetRequested = "user.password_reset_requested"
	PasswordChanged        = "user.password_changed"
	UserRoleChanged        = "user.role_changed"
	UserDeleted            = "user.deleted"
	SessionOpened          = "session.opened"
	SessionRevoked         = "session.revoked"
	TwoFactorEnabled       = "two_factor.enabled"
	TwoFactorDisabled      = "two_factor.disabled"
)

const (
	topicDomain    = "identity"
	aggregateUser  = "user"
	source         = "promptbase-identity"
	publishTimeout = 5 * time.Second
	queueSize      = 256
)

// UserData is the payload of user.* events.
type UserData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// SessionData is the payload of session.* events.
type SessionData struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Device    string `json:"device,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Count     int64  `json:"count,omitempty"`
}

// Publisher emits an event about the user identified by userID.
type Publisher interface {
	Publish(ctx context.Context, eventType, userID string, data any)
}

// Sink is the part of the Kafka producer the publisher needs.
type Sink interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// Producer publishes identity events through a Kafka sink. Publish only
// enqueues; Run sends.
type Producer struct {
	sink   Sink
	logger *slog.Logger
	queue  chan outbound
}

type outbound struct {
	ctx   context.Context
	topic string
	evt   *kafka.Event
}

// NewProducer creates a publisher backed by sink.
func NewProducer(sink Sink, logger *slog.Logger) *Producer {
	return &Producer{sink: sink, logger: logger, queue: make(chan outbound, queueSize)}
}

// Topic returns the topic an event type is published to.
func Topic(eventType string) string {
	return kafka.Topic(topicDomain, eventType)
}

// Publish wraps data in an event envelope and queues it. The request's
// correlation id travels with the event. When the queue is full the event is
// dropped so a slow broker never holds up the request.
func (p *Producer) Publish(ctx context.Context, eventType, userID string, data any) {
	evt, err := kafka.NewEvent(eventType, userID, aggregateUser, source, data)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}
	// Admin actions carry the acting user, which differs from the aggregate.
	evt.WithMetadata("actor_id", logger.UserIDFromContext(ctx)).
		WithMetadata("actor_session_id", logger.SessionIDFromContext(ctx))

	select {
	case p.queue <- outbound{ctx: context.WithoutCancel(ctx), topic: Topic(eventType), evt: evt}:
	default:
		eventsDropped.Inc()
		p.logger.WarnContext(ctx, "event queue full, dropping event",
			slog.String("event_type", eventType),
			slog.String("user_id", userID),
		)
	}
}

// Run sends queued events until ctx is canceled.
func (p *Producer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-p.queue:
			p.send(o)
		}
	}
}

// Flush sends whatever is still queued. It returns when the queue is empty or
// ctx ends, reporting how many events were left behind.
func (p *Producer) Flush(ctx context.Context) int {
	for {
		select {
		case <-ctx.Done():
			return len(p.queue)
		case o := <-p.queue:
			p.send(o)
		default:
			return 0
		}
	}
}

func (p *Producer) send(o outbound) {
	ctx, cancel := context.WithTimeout(o.ctx, publishTimeout)
	defer cancel()

	if err := p.sink.Publish(ctx, o.topic, o.evt); err != nil {
		p.logger.WarnContext(ctx, "failed to publish event",
			slog.String("event_type", o.evt.EventType),
			slog.String("user_id", o.evt.AggregateID),
			slog.String("error", err.Error()),
		)
	}
}

// LogPublisher records events in the log only. It is used when no brokers
// are configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a log-only publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, eventType, userID string, _ any) {
	p.logger.DebugContext(ctx, "event",
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
	)
}
