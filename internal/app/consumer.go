package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/affiliatehub/commission-service/internal/domain"
)

const consumerTimeout = 15 * time.Second

// EventHandler is the business logic triggered by broker events.
type EventHandler interface {
	OnUserRegistered(ctx context.Context, userID, referralCode string) (*RegistrationResult, error)
	ProcessOrderCommission(ctx context.Context, orderID string) (*domain.CommissionResult, error)
	ProcessSubscriptionCommission(ctx context.Context, subscriptionID, customerID string, planPrice decimal.Decimal) (*domain.CommissionResult, error)
}

// EventConsumer turns broker deliveries into service calls. Handlers return
// false only for errors worth redelivering; malformed or permanently
// rejected events are acknowledged and logged.
type EventConsumer struct {
	handler EventHandler
	logger  *slog.Logger
}

// NewEventConsumer creates a consumer for handler.
func NewEventConsumer(handler EventHandler, logger *slog.Logger) *EventConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventConsumer{handler: handler, logger: logger}
}

// Bindings maps routing keys to message handlers.
func (c *EventConsumer) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		domain.RoutingUserRegistered:        c.HandleUserRegistered,
		domain.RoutingOrderPaymentConfirmed: c.HandleOrderPaymentConfirmed,
		domain.RoutingSubscriptionPurchased: c.HandleSubscriptionPurchased,
	}
}

func (c *EventConsumer) HandleUserRegistered(body []byte) bool {
	var event domain.UserRegisteredEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("consumer: failed to unmarshal user.registered", "error", err)
		return true
	}
	if strings.TrimSpace(event.UserID) == "" {
		c.logger.Warn("consumer: user.registered missing user id")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	_, err := c.handler.OnUserRegistered(ctx, event.UserID, event.ReferralCode)
	return c.settle(domain.RoutingUserRegistered, event.UserID, err)
}

func (c *EventConsumer) HandleOrderPaymentConfirmed(body []byte) bool {
	var event domain.OrderPaymentConfirmedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("consumer: failed to unmarshal order.payment.confirmed", "error", err)
		return true
	}
	if strings.TrimSpace(event.OrderID) == "" {
		c.logger.Warn("consumer: order.payment.confirmed missing order id")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	_, err := c.handler.ProcessOrderCommission(ctx, event.OrderID)
	return c.settle(domain.RoutingOrderPaymentConfirmed, event.OrderID, err)
}

func (c *EventConsumer) HandleSubscriptionPurchased(body []byte) bool {
	var event domain.SubscriptionPurchasedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("consumer: failed to unmarshal subscription.purchased", "error", err)
		return true
	}
	if strings.TrimSpace(event.SubscriptionID) == "" || strings.TrimSpace(event.CustomerID) == "" {
		c.logger.Warn("consumer: subscription.purchased missing ids")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	_, err := c.handler.ProcessSubscriptionCommission(ctx, event.SubscriptionID, event.CustomerID, event.PlanPrice)
	return c.settle(domain.RoutingSubscriptionPurchased, event.SubscriptionID, err)
}

func (c *EventConsumer) settle(routingKey, subject string, err error) bool {
	if err == nil {
		return true
	}
	if domain.KindOf(err) != domain.KindInternal {
		c.logger.Warn("consumer: event rejected", "routing_key", routingKey, "subject", subject, "code", domain.ErrorCode(err))
		return true
	}
	c.logger.Error("consumer: processing error, requeueing", "routing_key", routingKey, "subject", subject, "error", err)
	return false
}
