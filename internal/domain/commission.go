/**
 * @description
 * Commission ledger models. A commission is money owed to a user for one
 * earning event and moves PENDING -> APPROVED -> PAID.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionSourceType tags the earning event.
type CommissionSourceType string

const (
	SourceSignup       CommissionSourceType = "SIGNUP"
	SourceProduct      CommissionSourceType = "PRODUCT"
	SourceOrder        CommissionSourceType = "ORDER"
	SourceSubscription CommissionSourceType = "SUBSCRIPTION"
)

// SourceKey is the uniqueness bucket for a source type. PRODUCT and ORDER
// describe the same sale and share a key.
func (s CommissionSourceType) SourceKey() string {
	switch s {
	case SourceProduct, SourceOrder:
		return "SALE"
	default:
		return string(s)
	}
}

// CommissionStatus is the ledger state.
type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "PENDING"
	CommissionApproved CommissionStatus = "APPROVED"
	CommissionPaid     CommissionStatus = "PAID"
)

// Valid reports whether s is a known status.
func (s CommissionStatus) Valid() bool {
	switch s {
	case CommissionPending, CommissionApproved, CommissionPaid:
		return true
	}
	return false
}

// Commission is one ledger row.
type Commission struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	SourceType      CommissionSourceType `json:"source_type"`
	SourceID        string               `json:"source_id"`
	Amount          decimal.Decimal      `json:"amount"`
	Status          CommissionStatus     `json:"status"`
	CreatedAt       time.Time            `json:"created_at"`
	ApprovedAt      *time.Time           `json:"approved_at,omitempty"`
	PaidAt          *time.Time           `json:"paid_at,omitempty"`
	PayoutRequestID *string              `json:"payout_request_id,omitempty"`
}

// Beneficiary describes which leg of the referral chain a draft pays.
type Beneficiary string

const (
	BeneficiaryAffiliate Beneficiary = "AFFILIATE"
	BeneficiaryManager   Beneficiary = "MANAGER"
)

// CommissionDraft is a commission the rules engine wants to exist. The store
// turns it into a PENDING row unless one already exists for the same key.
type CommissionDraft struct {
	UserID      string               `json:"user_id"`
	SourceType  CommissionSourceType `json:"source_type"`
	SourceID    string               `json:"source_id"`
	Amount      decimal.Decimal      `json:"amount"`
	Beneficiary Beneficiary          `json:"beneficiary"`
}

// CommissionResult separates what the ledger did from what was queued for
// notification.
type CommissionResult struct {
	Created             []Commission `json:"created"`
	Skipped             int          `json:"skipped"`
	NotificationsQueued int          `json:"notifications_queued"`
}

// Balance summarizes a user's ledger.
type Balance struct {
	Pending         decimal.Decimal `json:"pending"`
	Approved        decimal.Decimal `json:"approved"`
	Paid            decimal.Decimal `json:"paid"`
	PendingPayouts  decimal.Decimal `json:"pending_payouts"`
	AvailableToDraw decimal.Decimal `json:"available_to_draw"`
}

// ApprovalOutcome is the per-item result of a bulk approval.
type ApprovalOutcome struct {
	CommissionID string `json:"commission_id"`
	Approved     bool   `json:"approved"`
	ErrorCode    string `json:"error_code,omitempty"`
}
