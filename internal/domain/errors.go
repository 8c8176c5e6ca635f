package domain

import "errors"

// Validation errors.
var (
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrBelowMinimumPayout      = errors.New("amount is below the minimum payout")
	ErrInvalidPaymentMethod    = errors.New("payment method is invalid")
	ErrInsufficientBalance     = errors.New("insufficient approved balance")
	ErrPayoutNotExactlyCovered = errors.New("approved commissions cannot exactly cover the payout amount")
	ErrInvalidRole             = errors.New("invalid role")
	ErrInvalidManager          = errors.New("manager can only be assigned to an affiliate and must be a manager")
	ErrCannotDeleteSelf        = errors.New("admins cannot delete their own account")
	ErrInvalidInput            = errors.New("invalid input")
	ErrRateLimited             = errors.New("too many requests")
)

// Not-found errors.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrCommissionNotFound   = errors.New("commission not found")
	ErrPayoutNotFound       = errors.New("payout request not found")
	ErrPlanNotFound         = errors.New("subscription plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrInviteCodeMissing    = errors.New("user has no invite code")
)

// Already-processed errors.
var (
	ErrCommissionNotPending = errors.New("commission is not pending")
	ErrPayoutNotPending     = errors.New("payout request is not pending")
	ErrOrderNotPaid         = errors.New("order payment is not confirmed")
)

// ErrorKind groups errors for callers that map them onto a transport.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindRateLimited
)

type codedError struct {
	err  error
	code string
	kind ErrorKind
}

var errorCatalog = []codedError{
	{ErrInvalidAmount, "INVALID_AMOUNT", KindValidation},
	{ErrBelowMinimumPayout, "BELOW_MINIMUM_PAYOUT", KindValidation},
	{ErrInvalidPaymentMethod, "INVALID_PAYMENT_METHOD", KindValidation},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE", KindValidation},
	{ErrPayoutNotExactlyCovered, "PAYOUT_NOT_EXACTLY_COVERED", KindConflict},
	{ErrInvalidRole, "INVALID_ROLE", KindValidation},
	{ErrInvalidManager, "INVALID_MANAGER", KindValidation},
	{ErrCannotDeleteSelf, "CANNOT_DELETE_SELF", KindValidation},
	{ErrInvalidInput, "INVALID_INPUT", KindValidation},
	{ErrRateLimited, "RATE_LIMITED", KindRateLimited},
	{ErrUserNotFound, "USER_NOT_FOUND", KindNotFound},
	{ErrCommissionNotFound, "COMMISSION_NOT_FOUND", KindNotFound},
	{ErrPayoutNotFound, "PAYOUT_NOT_FOUND", KindNotFound},
	{ErrPlanNotFound, "PLAN_NOT_FOUND", KindNotFound},
	{ErrSubscriptionNotFound, "SUBSCRIPTION_NOT_FOUND", KindNotFound},
	{ErrOrderNotFound, "ORDER_NOT_FOUND", KindNotFound},
	{ErrNoActiveSubscription, "NO_ACTIVE_SUBSCRIPTION", KindNotFound},
	{ErrInviteCodeMissing, "INVITE_CODE_MISSING", KindNotFound},
	{ErrCommissionNotPending, "COMMISSION_NOT_PENDING", KindConflict},
	{ErrPayoutNotPending, "PAYOUT_NOT_PENDING", KindConflict},
	{ErrOrderNotPaid, "ORDER_NOT_PAID", KindConflict},
}

func lookup(err error) (codedError, bool) {
	for _, entry := range errorCatalog {
		if errors.Is(err, entry.err) {
			return entry, true
		}
	}
	return codedError{}, false
}

// ErrorCode returns the stable code for err, or INTERNAL_ERROR.
func ErrorCode(err error) string {
	if entry, ok := lookup(err); ok {
		return entry.code
	}
	return "INTERNAL_ERROR"
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	if entry, ok := lookup(err); ok {
		return entry.kind
	}
	return KindInternal
}

// PublicMessage returns a caller-safe message. Internal errors never leak
// their text.
func PublicMessage(err error) string {
	if entry, ok := lookup(err); ok {
		return entry.err.Error()
	}
	return "internal server error"
}
