/**
 * @description
 * Subscription plan and enrollment models.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// FreePlanName is the plan used as default and fallback access tier.
	FreePlanName         = "Free"
	// FreePlanDurationDays keeps the free plan effectively permanent.
	FreePlanDurationDays = 36500
)

// SubscriptionStatus is the enrollment state. Only ACTIVE is non-terminal.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
)

// SubscriptionPlan is a purchasable plan. AffiliateCommissionPercentage is a
// whole percent (10 means 10%) and overrides the flat affiliate setting.
type SubscriptionPlan struct {
	ID                            string              `json:"id"`
	Name                          string              `json:"name"`
	Price                         decimal.Decimal     `json:"price"`
	DurationDays                  int                 `json:"duration_days"`
	AffiliateCommissionPercentage decimal.NullDecimal `json:"affiliate_commission_percentage"`
	IsActive                      bool                `json:"is_active"`
}

// IsFree reports whether the plan costs nothing.
func (p SubscriptionPlan) IsFree() bool {
	return !p.Price.IsPositive()
}

// Subscription is a customer's enrollment in a plan.
type Subscription struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customer_id"`
	PlanID     string             `json:"plan_id"`
	Status     SubscriptionStatus `json:"status"`
	StartDate  time.Time          `json:"start_date"`
	EndDate    time.Time          `json:"end_date"`
	AutoRenew  bool               `json:"auto_renew"`
	CreatedAt  time.Time          `json:"created_at"`
}

// NewSubscription builds an ACTIVE enrollment starting at start.
func NewSubscription(customerID string, plan SubscriptionPlan, start time.Time, autoRenew bool) Subscription {
	return Subscription{
		CustomerID: customerID,
		PlanID:     plan.ID,
		Status:     SubscriptionActive,
		StartDate:  start,
		EndDate:    start.AddDate(0, 0, plan.DurationDays),
		AutoRenew:  autoRenew,
	}
}

// IsCurrent reports whether the subscription grants access at now.
func (s Subscription) IsCurrent(now time.Time) bool {
	return s.Status == SubscriptionActive && !s.EndDate.Before(now)
}

// SubscriptionWithPlan pairs an enrollment with its plan.
type SubscriptionWithPlan struct {
	Subscription
	Plan SubscriptionPlan `json:"plan"`
}

// SweepResult summarizes one expiration sweep.
type SweepResult struct {
	Evaluated      int `json:"evaluated"`
	Expired        int `json:"expired"`
	FellBackToFree int `json:"fell_back_to_free"`
	Failed         int `json:"failed"`
}

// SubscribeResult reports the new enrollment and any commission it produced.
type SubscribeResult struct {
	Subscription Subscription      `json:"subscription"`
	Cancelled    int               `json:"cancelled"`
	Commission   *CommissionResult `json:"commission,omitempty"`
}
