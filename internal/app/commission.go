package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/affiliatehub/commission-service/internal/domain"
	"github.com/affiliatehub/commission-service/internal/store"
)

// ProcessSignupCommission awards the signup bonus to the affiliate owning
// inviteCode. An unknown code is a no-op.
func (s *Service) ProcessSignupCommission(ctx context.Context, newUserID, inviteCode string) (*domain.CommissionResult, error) {
	user, err := s.repo.GetUserByID(ctx, newUserID)
	if err != nil {
		return nil, err
	}

	chain, err := s.resolver.ResolveByInviteCode(ctx, inviteCode)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve invite code: %w", err)
	}
	if chain.Referrer == nil {
		return &domain.CommissionResult{}, nil
	}
	// The bonus belongs to whoever the user is attributed to.
	if user.ReferredByID != nil && *user.ReferredByID != chain.Referrer.ID {
		s.logger.Info("invite code does not match attributed referrer, skipping signup bonus",
			"user_id", user.ID, "referrer_id", chain.Referrer.ID)
		return &domain.CommissionResult{}, nil
	}

	drafts := domain.PlanSignupCommission(*user, chain, s.settings.SignupBonus(ctx))
	return s.persistDrafts(ctx, domain.SourceSignup, user.ID, drafts)
}

// ProcessOrderCommission pays the referral chain for a paid order. Commission
// is earned when payment is confirmed, independent of fulfilment.
func (s *Service) ProcessOrderCommission(ctx context.Context, orderID string) (*domain.CommissionResult, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != domain.PaymentPaid {
		return nil, domain.ErrOrderNotPaid
	}
	if order.ReferredByID == nil {
		return &domain.CommissionResult{}, nil
	}

	chain, err := s.resolver.ResolveByReferrerID(ctx, *order.ReferredByID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve order referrer: %w", err)
	}

	drafts := domain.PlanOrderCommissions(*order, chain, s.settings.ManagerCommissionPercentage(ctx))
	return s.persistDrafts(ctx, domain.SourceProduct, order.ID, drafts)
}

// ProcessSubscriptionCommission pays the customer's referral chain for a
// subscription bought at planPrice. Free plans never pay.
func (s *Service) ProcessSubscriptionCommission(ctx context.Context, subscriptionID, customerID string, planPrice decimal.Decimal) (*domain.CommissionResult, error) {
	if !planPrice.IsPositive() {
		return &domain.CommissionResult{}, nil
	}

	sub, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.CustomerID != customerID {
		return nil, fmt.Errorf("subscription %s does not belong to customer %s: %w", subscriptionID, customerID, domain.ErrInvalidInput)
	}
	plan, err := s.repo.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	customer, err := s.repo.GetUserByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return s.subscriptionCommission(ctx, *sub, *plan, planPrice, *customer)
}

func (s *Service) subscriptionCommission(
	ctx context.Context,
	sub domain.Subscription,
	plan domain.SubscriptionPlan,
	price decimal.Decimal,
	customer domain.User,
) (*domain.CommissionResult, error) {
	chain, err := s.resolver.ResolveForUser(ctx, customer)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer referrer: %w", err)
	}

	drafts := domain.PlanSubscriptionCommissions(
		sub.ID,
		customer.ID,
		plan,
		price,
		chain,
		s.settings.AffiliateSubscriptionFlat(ctx),
		s.settings.ManagerCommissionPercentage(ctx),
	)
	return s.persistDrafts(ctx, domain.SourceSubscription, sub.ID, drafts)
}

// persistDrafts writes all drafts for one event in a single transaction under
// an advisory lock on the event, so duplicate triggers cannot interleave.
func (s *Service) persistDrafts(ctx context.Context, source domain.CommissionSourceType, sourceID string, drafts []domain.CommissionDraft) (*domain.CommissionResult, error) {
	result := &domain.CommissionResult{}
	if len(drafts) == 0 {
		return result, nil
	}

	lockKey := fmt.Sprintf("commission:%s:%s", source.SourceKey(), sourceID)
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		result = &domain.CommissionResult{}
		if err := tx.AcquireLock(ctx, lockKey); err != nil {
			return err
		}

		for _, draft := range drafts {
			commission, inserted, err := tx.InsertCommission(ctx, draft)
			if err != nil {
				return err
			}
			if !inserted {
				result.Skipped++
				continue
			}
			result.Created = append(result.Created, *commission)

			if err := tx.InsertActivity(ctx, domain.ActivityLog{
				UserID: commission.UserID,
				Action: domain.ActionCommissionEarned,
				Details: map[string]interface{}{
					"commissionId": commission.ID,
					"sourceType":   commission.SourceType,
					"sourceId":     commission.SourceID,
					"amount":       commission.Amount.StringFixed(2),
					"beneficiary":  draft.Beneficiary,
				},
			}); err != nil {
				return err
			}

			if s.enqueue(ctx, tx, domain.RoutingCommissionEarned, domain.CommissionEarnedEvent{
				CommissionID: commission.ID,
				UserID:       commission.UserID,
				SourceType:   commission.SourceType,
				SourceID:     commission.SourceID,
				Amount:       commission.Amount,
				OccurredAt:   commission.CreatedAt,
			}) {
				result.NotificationsQueued++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.Created) > 0 {
		s.logger.Info("commissions created", "source_type", source, "source_id", sourceID, "created", len(result.Created), "skipped", result.Skipped)
	}
	return result, nil
}

// ApproveCommission moves a PENDING commission to APPROVED and records the
// approval for the earner and the admin.
func (s *Service) ApproveCommission(ctx context.Context, commissionID, adminID string) (*domain.Commission, error) {
	var approved *domain.Commission
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		commission, err := tx.GetCommissionForUpdate(ctx, commissionID)
		if err != nil {
			return err
		}
		if commission.Status != domain.CommissionPending {
			return domain.ErrCommissionNotPending
		}

		now := s.now()
		if err := tx.ApproveCommission(ctx, commission.ID, now); err != nil {
			return err
		}
		commission.Status = domain.CommissionApproved
		commission.ApprovedAt = &now

		details := map[string]interface{}{
			"commissionId": commission.ID,
			"amount":       commission.Amount.StringFixed(2),
			"approvedBy":   adminID,
			"earnerId":     commission.UserID,
		}
		if err := tx.InsertActivity(ctx, domain.ActivityLog{UserID: commission.UserID, Action: domain.ActionCommissionApproved, Details: details}); err != nil {
			return err
		}
		if adminID != "" && adminID != commission.UserID {
			if err := tx.InsertActivity(ctx, domain.ActivityLog{UserID: adminID, Action: domain.ActionCommissionApproved, Details: details}); err != nil {
				return err
			}
		}
		approved = commission
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// ApproveCommissions approves each id independently and reports per-item
// outcomes.
func (s *Service) ApproveCommissions(ctx context.Context, commissionIDs []string, adminID string) []domain.ApprovalOutcome {
	outcomes := make([]domain.ApprovalOutcome, 0, len(commissionIDs))
	for _, id := range commissionIDs {
		outcome := domain.ApprovalOutcome{CommissionID: id}
		if _, err := s.ApproveCommission(ctx, id, adminID); err != nil {
			outcome.ErrorCode = domain.ErrorCode(err)
			if domain.KindOf(err) == domain.KindInternal {
				s.logger.Error("failed to approve commission", "commission_id", id, "error", err)
			}
		} else {
			outcome.Approved = true
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// ListCommissions returns a user's commissions, optionally by status.
func (s *Service) ListCommissions(ctx context.Context, userID string, status domain.CommissionStatus) ([]domain.Commission, error) {
	if status != "" && !status.Valid() {
		return nil, domain.ErrInvalidInput
	}
	return s.repo.ListCommissions(ctx, store.CommissionFilter{UserID: userID, Status: status})
}

// GetBalance summarizes a user's ledger.
func (s *Service) GetBalance(ctx context.Context, userID string) (domain.Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

// SearchCommissions lists commissions across users for reporting.
func (s *Service) SearchCommissions(ctx context.Context, filter store.CommissionFilter) ([]domain.Commission, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.ErrInvalidInput
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, domain.ErrInvalidInput
	}
	return s.repo.ListCommissions(ctx, filter)
}
