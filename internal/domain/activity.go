package domain

import "time"

// Activity actions written to the audit trail.
const (
	ActionCommissionEarned      = "COMMISSION_EARNED"
	ActionCommissionApproved    = "COMMISSION_APPROVED"
	ActionPayoutRequested       = "PAYOUT_REQUESTED"
	ActionPayoutReceived        = "PAYOUT_RECEIVED"
	ActionPayoutApproved        = "PAYOUT_APPROVED"
	ActionSubscriptionCreated   = "SUBSCRIPTION_CREATED"
	ActionSubscriptionCancelled = "SUBSCRIPTION_CANCELLED"
	ActionSubscriptionExpired   = "SUBSCRIPTION_EXPIRED"
	ActionManagerAssigned       = "MANAGER_ASSIGNED"
	ActionRoleChanged           = "ROLE_CHANGED"
	ActionUserDeleted           = "USER_DELETED"
)

// ActivityLog is one append-only audit row.
type ActivityLog struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details"`
	CreatedAt time.Time              `json:"created_at"`
}
