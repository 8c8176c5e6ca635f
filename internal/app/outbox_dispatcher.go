package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/affiliatehub/commission-service/internal/store"
)

const (
	defaultOutboxBatchSize       = 50
	defaultOutboxPollInterval    = 1200 * time.Millisecond
	defaultOutboxStaleProcessing = 2 * time.Minute
	defaultOutboxMaxAttempts     = 12
)

var errInvalidOutboxPayload = errors.New("outbox payload is not valid json")

// OutboxRepository is the persistence the dispatcher needs.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
	MarkOutboxDead(ctx context.Context, id int64, reason string) error
}

// EventPublisher publishes events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// PublisherFactory opens a publisher connection.
type PublisherFactory func() (EventPublisher, error)

// OutboxDispatcher relays committed outbox events to the broker. Delivery is
// at-least-once; a broken connection is dropped and reopened on the next
// message.
type OutboxDispatcher struct {
	repo                OutboxRepository
	connect             PublisherFactory
	logger              *slog.Logger
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	maxAttempts         int
	publisher           EventPublisher
}

// NewOutboxDispatcher creates a dispatcher. A non-positive pollInterval uses the default.
func NewOutboxDispatcher(repo OutboxRepository, connect PublisherFactory, logger *slog.Logger, pollInterval time.Duration) *OutboxDispatcher {
	if pollInterval <= 0 {
		pollInterval = defaultOutboxPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxDispatcher{
		repo:                repo,
		connect:             connect,
		logger:              logger,
		batchSize:           defaultOutboxBatchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: defaultOutboxStaleProcessing,
		maxAttempts:         defaultOutboxMaxAttempts,
	}
}

// Run polls until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closePublisher()

	d.logger.Info("outbox dispatcher started", "poll_interval", d.pollInterval.String())
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.FlushOnce(ctx); err != nil {
				d.logger.Error("outbox flush error", "error", err)
			}
		}
	}
}

// FlushOnce publishes one batch and returns how many messages were delivered.
func (d *OutboxDispatcher) FlushOnce(ctx context.Context) (int, error) {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			d.handleFailure(ctx, message, err)
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			d.logger.Error("failed to mark outbox message published", "id", message.ID, "error", err)
			continue
		}
		published++
	}
	return published, nil
}

func (d *OutboxDispatcher) handleFailure(ctx context.Context, message store.OutboxMessage, cause error) {
	if message.Attempts >= d.maxAttempts || errors.Is(cause, errInvalidOutboxPayload) {
		d.logger.Error("outbox message exhausted retries", "id", message.ID, "routing_key", message.RoutingKey, "attempts", message.Attempts, "error", cause)
		if err := d.repo.MarkOutboxDead(ctx, message.ID, cause.Error()); err != nil {
			d.logger.Error("failed to park outbox message", "id", message.ID, "error", err)
		}
		return
	}
	retryAfter := retryDelaySeconds(message.Attempts)
	d.logger.Warn("outbox publish failed, will retry", "id", message.ID, "routing_key", message.RoutingKey, "retry_after_seconds", retryAfter, "error", cause)
	if err := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, cause.Error()); err != nil {
		d.logger.Error("failed to reschedule outbox message", "id", message.ID, "error", err)
	}
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if !json.Valid(message.Payload) {
		return errInvalidOutboxPayload
	}
	if d.publisher == nil {
		publisher, err := d.connect()
		if err != nil {
			return err
		}
		d.publisher = publisher
	}

	if err := d.publisher.Publish(ctx, message.Exchange, message.RoutingKey, json.RawMessage(message.Payload)); err != nil {
		d.closePublisher()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closePublisher() {
	if d.publisher != nil {
		d.publisher.Close()
		d.publisher = nil
	}
}

// retryDelaySeconds backs off exponentially, capped at five minutes.
func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 9)
	if delay > 300 {
		return 300
	}
	return delay
}
