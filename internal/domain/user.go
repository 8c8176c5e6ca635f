/**
 * @description
 * Domain models for platform users and the referral graph.
 */
package domain

import "time"

// Role is the access tier of a user.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleManager   Role = "MANAGER"
	RoleAffiliate Role = "AFFILIATE"
	RoleCustomer  Role = "CUSTOMER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleAffiliate, RoleCustomer:
		return true
	}
	return false
}

// UserStatus is the account state set by admins.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is a flat identity row. ManagerID is only ever set for affiliates and
// ReferredByID points at whoever's invite code the user registered with.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	Role         Role       `json:"role"`
	Status       UserStatus `json:"status"`
	ManagerID    *string    `json:"manager_id,omitempty"`
	ReferredByID *string    `json:"referred_by_id,omitempty"`
	InviteCode   *string    `json:"invite_code,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ReferralChain is the resolved fan-out for a referred event: the direct
// referrer and, when the referrer is an affiliate, that affiliate's manager.
type ReferralChain struct {
	Referrer          *User `json:"referrer,omitempty"`
	ManagerOfReferrer *User `json:"manager_of_referrer,omitempty"`
}

// Empty reports whether no referrer was found.
func (c ReferralChain) Empty() bool {
	return c.Referrer == nil
}
