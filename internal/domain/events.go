/**
 * @description
 * Event payloads exchanged over the message broker.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Routing keys.
const (
	RoutingUserRegistered        = "user.registered"
	RoutingOrderPaymentConfirmed = "order.payment.confirmed"
	RoutingSubscriptionPurchased = "subscription.purchased"

	RoutingCommissionEarned    = "commission.earned"
	RoutingSubscriptionExpired = "subscription.expired"
	RoutingPayoutPaid          = "payout.paid"
)

// UserRegisteredEvent is emitted by the identity provider after signup.
type UserRegisteredEvent struct {
	UserID       string `json:"user_id"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// OrderPaymentConfirmedEvent is emitted once the gateway verifies payment.
type OrderPaymentConfirmedEvent struct {
	OrderID string `json:"order_id"`
}

// SubscriptionPurchasedEvent is emitted when a paid plan is bought outside
// this service.
type SubscriptionPurchasedEvent struct {
	SubscriptionID string          `json:"subscription_id"`
	CustomerID     string          `json:"customer_id"`
	PlanPrice      decimal.Decimal `json:"plan_price"`
}

// CommissionEarnedEvent asks the notification service to email the earner.
type CommissionEarnedEvent struct {
	CommissionID string               `json:"commission_id"`
	UserID       string               `json:"user_id"`
	SourceType   CommissionSourceType `json:"source_type"`
	SourceID     string               `json:"source_id"`
	Amount       decimal.Decimal      `json:"amount"`
	OccurredAt   time.Time            `json:"occurred_at"`
}

// SubscriptionExpiredEvent asks the notification service to email the customer.
type SubscriptionExpiredEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	CustomerID     string    `json:"customer_id"`
	PlanID         string    `json:"plan_id"`
	FallbackToFree bool      `json:"fallback_to_free"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// PayoutPaidEvent asks the notification service to email the recipient.
type PayoutPaidEvent struct {
	PayoutRequestID string          `json:"payout_request_id"`
	UserID          string          `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	CommissionIDs   []string        `json:"commission_ids"`
	ProcessedBy     string          `json:"processed_by"`
	OccurredAt      time.Time       `json:"occurred_at"`
}
