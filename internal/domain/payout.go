/**
 * @description
 * Payout request models.
 */
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the request state. PAID is terminal.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "PENDING"
	PayoutPaid    PayoutStatus = "PAID"
)

var supportedPaymentMethods = map[string]struct{}{
	"bank_transfer": {},
	"paypal":        {},
	"mobile_money":  {},
	"crypto":        {},
}

// PaymentMethod is the opaque destination for a payout.
type PaymentMethod struct {
	Type    string                 `json:"type"`
	Details map[string]interface{} `json:"details"`
}

// Validate checks that the method type is supported and carries details.
func (m PaymentMethod) Validate() error {
	kind := strings.ToLower(strings.TrimSpace(m.Type))
	if _, ok := supportedPaymentMethods[kind]; !ok {
		return ErrInvalidPaymentMethod
	}
	if len(m.Details) == 0 {
		return ErrInvalidPaymentMethod
	}
	return nil
}

// PayoutRequest is a user's request to cash out approved balance.
type PayoutRequest struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        PayoutStatus    `json:"status"`
	RequestedAt   time.Time       `json:"requested_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	ProcessedBy   *string         `json:"processed_by,omitempty"`
}

// PayoutApproval is the result of settling a payout request.
type PayoutApproval struct {
	Request             PayoutRequest   `json:"request"`
	PaidCommissionIDs   []string        `json:"paid_commission_ids"`
	Consumed            decimal.Decimal `json:"consumed"`
	NotificationsQueued int             `json:"notifications_queued"`
}
