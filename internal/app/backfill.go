package app

import (
	"context"

	"github.com/affiliatehub/commission-service/internal/domain"
)

// BackfillResult summarizes one backfill run.
type BackfillResult struct {
	Job     string `json:"job"`
	Scanned int    `json:"scanned"`
	Created int    `json:"created"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

func (r *BackfillResult) record(result *domain.CommissionResult, err error) {
	if err != nil {
		r.Failed++
		return
	}
	r.Created += len(result.Created)
	r.Skipped += result.Skipped
}

// BackfillSignupCommissions synthesizes missing signup bonuses for referred
// customers. Existing rows are skipped, so reruns create nothing new.
func (s *Service) BackfillSignupCommissions(ctx context.Context) (*BackfillResult, error) {
	result := &BackfillResult{Job: "signup"}
	bonus := s.settings.SignupBonus(ctx)
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		customers, err := s.repo.ListReferredCustomers(ctx, cursor, s.opts.BackfillBatchSize)
		if err != nil {
			return result, err
		}
		for _, customer := range customers {
			result.Scanned++
			chain, err := s.resolver.ResolveForUser(ctx, customer)
			if err != nil {
				result.Failed++
				s.logger.Error("backfill: failed to resolve referrer", "job", result.Job, "user_id", customer.ID, "error", err)
				continue
			}
			drafts := domain.PlanSignupCommission(customer, chain, bonus)
			if len(drafts) == 0 {
				result.Skipped++
				continue
			}
			created, err := s.persistDrafts(ctx, domain.SourceSignup, customer.ID, drafts)
			if err != nil {
				s.logger.Error("backfill: failed to persist commission", "job", result.Job, "user_id", customer.ID, "error", err)
			}
			result.record(created, err)
		}
		if len(customers) < s.opts.BackfillBatchSize {
			break
		}
		cursor = customers[len(customers)-1].ID
	}

	s.logBackfill(result)
	return result, nil
}

// BackfillOrderCommissions synthesizes missing commissions for paid referred orders.
func (s *Service) BackfillOrderCommissions(ctx context.Context) (*BackfillResult, error) {
	result := &BackfillResult{Job: "order"}
	managerPct := s.settings.ManagerCommissionPercentage(ctx)
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		orders, err := s.repo.ListPaidReferredOrders(ctx, cursor, s.opts.BackfillBatchSize)
		if err != nil {
			return result, err
		}
		for _, order := range orders {
			result.Scanned++
			if order.ReferredByID == nil {
				result.Skipped++
				continue
			}
			chain, err := s.resolver.ResolveByReferrerID(ctx, *order.ReferredByID)
			if err != nil {
				result.Failed++
				s.logger.Error("backfill: failed to resolve referrer", "job", result.Job, "order_id", order.ID, "error", err)
				continue
			}
			drafts := domain.PlanOrderCommissions(order, chain, managerPct)
			if len(drafts) == 0 {
				result.Skipped++
				continue
			}
			created, err := s.persistDrafts(ctx, domain.SourceProduct, order.ID, drafts)
			if err != nil {
				s.logger.Error("backfill: failed to persist commission", "job", result.Job, "order_id", order.ID, "error", err)
			}
			result.record(created, err)
		}
		if len(orders) < s.opts.BackfillBatchSize {
			break
		}
		cursor = orders[len(orders)-1].ID
	}

	s.logBackfill(result)
	return result, nil
}

// BackfillSubscriptionCommissions synthesizes missing commissions for paid
// subscriptions of referred customers, priced at the plan's current price.
func (s *Service) BackfillSubscriptionCommissions(ctx context.Context) (*BackfillResult, error) {
	result := &BackfillResult{Job: "subscription"}
	flat := s.settings.AffiliateSubscriptionFlat(ctx)
	managerPct := s.settings.ManagerCommissionPercentage(ctx)
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		subs, err := s.repo.ListReferredPaidSubscriptions(ctx, cursor, s.opts.BackfillBatchSize)
		if err != nil {
			return result, err
		}
		for _, sub := range subs {
			result.Scanned++
			customer, err := s.repo.GetUserByID(ctx, sub.CustomerID)
			if err != nil {
				result.Failed++
				s.logger.Error("backfill: failed to load customer", "job", result.Job, "subscription_id", sub.ID, "error", err)
				continue
			}
			chain, err := s.resolver.ResolveForUser(ctx, *customer)
			if err != nil {
				result.Failed++
				s.logger.Error("backfill: failed to resolve referrer", "job", result.Job, "subscription_id", sub.ID, "error", err)
				continue
			}
			drafts := domain.PlanSubscriptionCommissions(sub.ID, sub.CustomerID, sub.Plan, sub.Plan.Price, chain, flat, managerPct)
			if len(drafts) == 0 {
				result.Skipped++
				continue
			}
			created, err := s.persistDrafts(ctx, domain.SourceSubscription, sub.ID, drafts)
			if err != nil {
				s.logger.Error("backfill: failed to persist commission", "job", result.Job, "subscription_id", sub.ID, "error", err)
			}
			result.record(created, err)
		}
		if len(subs) < s.opts.BackfillBatchSize {
			break
		}
		cursor = subs[len(subs)-1].ID
	}

	s.logBackfill(result)
	return result, nil
}

// RunAllBackfills runs every backfill in turn. A failing job does not stop
// the ones after it.
func (s *Service) RunAllBackfills(ctx context.Context) ([]BackfillResult, error) {
	jobs := []func(context.Context) (*BackfillResult, error){
		s.BackfillSignupCommissions,
		s.BackfillOrderCommissions,
		s.BackfillSubscriptionCommissions,
	}

	results := make([]BackfillResult, 0, len(jobs))
	var firstErr error
	for _, job := range jobs {
		result, err := job(ctx)
		if result != nil {
			results = append(results, *result)
		}
		if err != nil {
			s.logger.Error("backfill job failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
		}
	}
	return results, firstErr
}

func (s *Service) logBackfill(result *BackfillResult) {
	s.logger.Info("backfill finished",
		"job", result.Job,
		"scanned", result.Scanned,
		"created", result.Created,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
}
