/**
 * @description
 * Core business logic for commissions, payouts and subscriptions.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/affiliatehub/commission-service/internal/domain"
	"github.com/affiliatehub/commission-service/internal/referral"
	"github.com/affiliatehub/commission-service/internal/settings"
	"github.com/affiliatehub/commission-service/internal/store"
)

const (
	defaultEventExchange     = "affiliate.events"
	defaultSweepBatchSize    = 500
	defaultBackfillBatchSize = 200
)

// Repository defines the database operations the service needs.
type Repository interface {
	GetSetting(ctx context.Context, key string) (*string, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByInviteCode(ctx context.Context, code string) (*domain.User, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetPlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	GetActiveSubscription(ctx context.Context, customerID string) (*domain.SubscriptionWithPlan, error)
	ListCommissions(ctx context.Context, filter store.CommissionFilter) ([]domain.Commission, error)
	GetBalance(ctx context.Context, userID string) (domain.Balance, error)
	ListPayoutRequests(ctx context.Context, filter store.PayoutFilter) ([]domain.PayoutRequest, error)
	ListExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error)
	ListReferredCustomers(ctx context.Context, afterID string, limit int) ([]domain.User, error)
	ListPaidReferredOrders(ctx context.Context, afterID string, limit int) ([]domain.Order, error)
	ListReferredPaidSubscriptions(ctx context.Context, afterID string, limit int) ([]domain.SubscriptionWithPlan, error)
	WithinTx(ctx context.Context, fn func(tx store.Tx) error) error
}

// PayoutLimiter throttles payout requests per user.
type PayoutLimiter interface {
	AllowPayoutRequest(ctx context.Context, userID string, perHour int) (PayoutRateDecision, error)
}

// Options tunes the service.
type Options struct {
	EventExchange         string
	PayoutRequestsPerHour int
	SweepBatchSize        int
	BackfillBatchSize     int
	InviteBaseURL         string
}

// Service provides the commission, payout and subscription business logic.
type Service struct {
	repo     Repository
	settings settings.Provider
	resolver *referral.Resolver
	invites  *referral.InviteLinks
	limiter  PayoutLimiter
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewService creates a new Service. limiter may be nil.
func NewService(repo Repository, settingsProvider settings.Provider, limiter PayoutLimiter, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EventExchange == "" {
		opts.EventExchange = defaultEventExchange
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = defaultSweepBatchSize
	}
	if opts.BackfillBatchSize <= 0 {
		opts.BackfillBatchSize = defaultBackfillBatchSize
	}
	if settingsProvider == nil {
		settingsProvider = settings.NewProvider(repo, logger)
	}

	return &Service{
		repo:     repo,
		settings: settingsProvider,
		resolver: referral.NewResolver(repo),
		invites:  referral.NewInviteLinks(opts.InviteBaseURL),
		limiter:  limiter,
		logger:   logger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// enqueue writes an outbox event. Failures are logged and never fail the
// surrounding ledger write.
func (s *Service) enqueue(ctx context.Context, tx store.Tx, routingKey string, payload interface{}) bool {
	if err := tx.EnqueueOutbox(ctx, s.opts.EventExchange, routingKey, payload); err != nil {
		s.logger.Warn("failed to enqueue notification", "routing_key", routingKey, "error", err)
		return false
	}
	return true
}
