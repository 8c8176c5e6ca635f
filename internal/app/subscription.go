package app

import (
	"context"
	"errors"
	"time"

	"github.com/affiliatehub/commission-service/internal/domain"
	"github.com/affiliatehub/commission-service/internal/store"
)

const freePlanLockKey = "subscription_plan:free"

func subscriptionLockKey(customerID string) string {
	return "subscription:" + customerID
}

// Subscribe enrolls the customer in planID, cancelling any ACTIVE
// subscription first. A paid plan then pays the referral chain.
func (s *Service) Subscribe(ctx context.Context, customerID, planID string, autoRenew bool) (*domain.SubscribeResult, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, domain.ErrPlanNotFound
	}
	customer, err := s.repo.GetUserByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	result := &domain.SubscribeResult{}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.AcquireLock(ctx, subscriptionLockKey(customerID)); err != nil {
			return err
		}
		sub, cancelled, err := s.enrollTx(ctx, tx, customerID, *plan, autoRenew)
		if err != nil {
			return err
		}
		result.Subscription = *sub
		result.Cancelled = int(cancelled)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if plan.IsFree() {
		return result, nil
	}
	commission, err := s.subscriptionCommission(ctx, result.Subscription, *plan, plan.Price, *customer)
	if err != nil {
		// The enrollment stands; the subscription backfill picks up the commission.
		s.logger.Error("failed to process subscription commission", "subscription_id", result.Subscription.ID, "error", err)
		return result, nil
	}
	result.Commission = commission
	return result, nil
}

// EnrollFreePlan puts the customer on the free plan, creating it on first use.
func (s *Service) EnrollFreePlan(ctx context.Context, customerID string) (*domain.Subscription, error) {
	var enrolled *domain.Subscription
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.AcquireLock(ctx, subscriptionLockKey(customerID)); err != nil {
			return err
		}
		plan, err := s.freePlanTx(ctx, tx)
		if err != nil {
			return err
		}
		sub, _, err := s.enrollTx(ctx, tx, customerID, *plan, false)
		if err != nil {
			return err
		}
		enrolled = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enrolled, nil
}

// CancelSubscription cancels the customer's paid subscription and falls back
// to the free plan. Cancelling the free plan itself changes nothing.
func (s *Service) CancelSubscription(ctx context.Context, customerID string) (*domain.Subscription, error) {
	current, err := s.repo.GetActiveSubscription(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if current.Plan.IsFree() {
		return &current.Subscription, nil
	}

	var fallback *domain.Subscription
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.AcquireLock(ctx, subscriptionLockKey(customerID)); err != nil {
			return err
		}
		plan, err := s.freePlanTx(ctx, tx)
		if err != nil {
			return err
		}
		sub, cancelled, err := s.enrollTx(ctx, tx, customerID, *plan, false)
		if err != nil {
			return err
		}
		if cancelled == 0 {
			return domain.ErrNoActiveSubscription
		}
		if err := tx.InsertActivity(ctx, domain.ActivityLog{
			UserID: customerID,
			Action: domain.ActionSubscriptionCancelled,
			Details: map[string]interface{}{
				"subscriptionId": current.ID,
				"planId":         current.PlanID,
				"fallbackToFree": true,
			},
		}); err != nil {
			return err
		}
		fallback = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fallback, nil
}

func (s *Service) freePlanTx(ctx context.Context, tx store.Tx) (*domain.SubscriptionPlan, error) {
	if err := tx.AcquireLock(ctx, freePlanLockKey); err != nil {
		return nil, err
	}
	return tx.FindOrCreateFreePlan(ctx)
}

// enrollTx cancels every ACTIVE row for the customer and inserts the new one.
// Callers hold the customer's subscription lock.
func (s *Service) enrollTx(ctx context.Context, tx store.Tx, customerID string, plan domain.SubscriptionPlan, autoRenew bool) (*domain.Subscription, int64, error) {
	cancelled, err := tx.CancelActiveSubscriptions(ctx, customerID)
	if err != nil {
		return nil, 0, err
	}
	sub, err := tx.InsertSubscription(ctx, domain.NewSubscription(customerID, plan, s.now(), autoRenew))
	if err != nil {
		return nil, 0, err
	}
	if err := tx.InsertActivity(ctx, domain.ActivityLog{
		UserID: customerID,
		Action: domain.ActionSubscriptionCreated,
		Details: map[string]interface{}{
			"subscriptionId": sub.ID,
			"planId":         plan.ID,
			"planName":       plan.Name,
			"price":          plan.Price.StringFixed(2),
			"endDate":        sub.EndDate,
			"cancelledPrior": cancelled,
		},
	}); err != nil {
		return nil, 0, err
	}
	return sub, cancelled, nil
}

// RunExpirationSweep expires ACTIVE subscriptions past their end date. Each
// subscription is handled in its own transaction and one failure never stops
// the batch.
func (s *Service) RunExpirationSweep(ctx context.Context) (*domain.SweepResult, error) {
	now := s.now()
	expired, err := s.repo.ListExpiredSubscriptions(ctx, now, s.opts.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	result := &domain.SweepResult{}
	for _, sub := range expired {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Evaluated++

		fellBack, changed, err := s.expireOne(ctx, sub, now)
		if err != nil {
			result.Failed++
			s.logger.Error("failed to expire subscription", "subscription_id", sub.ID, "customer_id", sub.CustomerID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		result.Expired++
		if fellBack {
			result.FellBackToFree++
		}
	}

	s.logger.Info("expiration sweep finished",
		"evaluated", result.Evaluated,
		"expired", result.Expired,
		"fell_back_to_free", result.FellBackToFree,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *Service) expireOne(ctx context.Context, candidate domain.Subscription, now time.Time) (fellBack bool, changed bool, err error) {
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		fellBack, changed = false, false
		if err := tx.AcquireLock(ctx, subscriptionLockKey(candidate.CustomerID)); err != nil {
			return err
		}
		sub, err := tx.GetSubscriptionForUpdate(ctx, candidate.ID)
		if err != nil {
			return err
		}
		// Renewed or cancelled since it was listed.
		if sub.Status != domain.SubscriptionActive || !sub.EndDate.Before(now) {
			return nil
		}

		if err := tx.UpdateSubscriptionStatus(ctx, sub.ID, domain.SubscriptionExpired); err != nil {
			return err
		}
		changed = true

		hasOther, err := tx.HasCurrentActiveSubscription(ctx, sub.CustomerID, sub.ID, now)
		if err != nil {
			return err
		}
		if !hasOther {
			plan, err := s.freePlanTx(ctx, tx)
			if err != nil {
				return err
			}
			if _, _, err := s.enrollTx(ctx, tx, sub.CustomerID, *plan, false); err != nil {
				return err
			}
			fellBack = true
		}

		if err := tx.InsertActivity(ctx, domain.ActivityLog{
			UserID: sub.CustomerID,
			Action: domain.ActionSubscriptionExpired,
			Details: map[string]interface{}{
				"subscriptionId": sub.ID,
				"planId":         sub.PlanID,
				"fallbackToFree": fellBack,
			},
		}); err != nil {
			return err
		}

		s.enqueue(ctx, tx, domain.RoutingSubscriptionExpired, domain.SubscriptionExpiredEvent{
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			PlanID:         sub.PlanID,
			FallbackToFree: fellBack,
			OccurredAt:     now,
		})
		return nil
	})
	return fellBack, changed, err
}

// CanAccessContent reports whether the customer may open a piece of content.
// Free content is always visible; anything else needs a current paid plan.
func (s *Service) CanAccessContent(ctx context.Context, customerID string, contentIsFree bool) (bool, error) {
	if contentIsFree {
		return true, nil
	}
	current, err := s.repo.GetActiveSubscription(ctx, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSubscription) {
			return false, nil
		}
		return false, err
	}
	return current.IsCurrent(s.now()) && !current.Plan.IsFree(), nil
}

// GetActiveSubscription returns the customer's current subscription.
func (s *Service) GetActiveSubscription(ctx context.Context, customerID string) (*domain.SubscriptionWithPlan, error) {
	return s.repo.GetActiveSubscription(ctx, customerID)
}
