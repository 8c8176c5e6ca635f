package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/affiliatehub/commission-service/internal/domain"
	"github.com/affiliatehub/commission-service/internal/store"
)

// RequestPayout validates and records a payout request. The balance check
// and the insert happen under a per-user lock, so concurrent requests cannot
// overdraw the approved balance. The amount must be exactly coverable by the
// approved rows older pending requests leave free, so every accepted request
// can later be approved.
func (s *Service) RequestPayout(ctx context.Context, userID string, amount decimal.Decimal, method domain.PaymentMethod) (*domain.PayoutRequest, error) {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, domain.ErrInvalidAmount
	}
	if amount.LessThan(s.settings.MinimumPayoutAmount(ctx)) {
		return nil, domain.ErrBelowMinimumPayout
	}
	if err := method.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkPayoutRateLimit(ctx, userID); err != nil {
		return nil, err
	}

	var created *domain.PayoutRequest
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.AcquireLock(ctx, "payout:"+userID); err != nil {
			return err
		}
		balance, err := tx.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(balance.AvailableToDraw) {
			return domain.ErrInsufficientBalance
		}
		free, err := s.unreservedCommissions(ctx, tx, userID, nil)
		if err != nil {
			return err
		}
		if plan := domain.PlanPayout(free, amount); !plan.ExactlyCovered() {
			return fmt.Errorf("%w: closest amount is %s", domain.ErrPayoutNotExactlyCovered, plan.Consumed.StringFixed(2))
		}

		req, err := tx.InsertPayoutRequest(ctx, domain.PayoutRequest{
			UserID:        userID,
			Amount:        amount,
			PaymentMethod: method,
			Status:        domain.PayoutPending,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertActivity(ctx, domain.ActivityLog{
			UserID: userID,
			Action: domain.ActionPayoutRequested,
			Details: map[string]interface{}{
				"payoutRequestId": req.ID,
				"amount":          amount.StringFixed(2),
				"method":          method.Type,
			},
		}); err != nil {
			return err
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) checkPayoutRateLimit(ctx context.Context, userID string) error {
	if s.limiter == nil || s.opts.PayoutRequestsPerHour <= 0 {
		return nil
	}
	decision, err := s.limiter.AllowPayoutRequest(ctx, userID, s.opts.PayoutRequestsPerHour)
	if err != nil {
		s.logger.Warn("payout rate limiter unavailable, allowing request", "user_id", userID, "error", err)
		return nil
	}
	if !decision.Allowed {
		return fmt.Errorf("%w: retry after %ds", domain.ErrRateLimited, int(decision.RetryAfter.Seconds()))
	}
	return nil
}

// ApprovePayout settles a PENDING payout request. Approved commissions are
// consumed oldest first without splitting rows, and the request must be
// covered exactly; otherwise nothing changes.
func (s *Service) ApprovePayout(ctx context.Context, requestID, adminID string) (*domain.PayoutApproval, error) {
	var approval *domain.PayoutApproval
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		req, err := tx.GetPayoutRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != domain.PayoutPending {
			return domain.ErrPayoutNotPending
		}
		if err := tx.AcquireLock(ctx, "payout:"+req.UserID); err != nil {
			return err
		}

		free, err := s.unreservedCommissions(ctx, tx, req.UserID, req)
		if err != nil {
			return err
		}
		plan := domain.PlanPayout(free, req.Amount)
		if !plan.ExactlyCovered() {
			return fmt.Errorf("%w: consumed %s of %s", domain.ErrPayoutNotExactlyCovered,
				plan.Consumed.StringFixed(2), req.Amount.StringFixed(2))
		}

		now := s.now()
		ids := plan.SelectedIDs()
		if _, err := tx.MarkCommissionsPaid(ctx, ids, req.ID, now); err != nil {
			return err
		}
		if err := tx.MarkPayoutRequestPaid(ctx, req.ID, adminID, now); err != nil {
			return err
		}
		req.Status = domain.PayoutPaid
		req.ProcessedAt = &now
		req.ProcessedBy = &adminID

		details := map[string]interface{}{
			"payoutRequestId": req.ID,
			"amount":          req.Amount.StringFixed(2),
			"commissionIds":   ids,
		}
		if err := tx.InsertActivity(ctx, domain.ActivityLog{UserID: req.UserID, Action: domain.ActionPayoutReceived, Details: details}); err != nil {
			return err
		}
		adminDetails := map[string]interface{}{
			"payoutRequestId": req.ID,
			"amount":          req.Amount.StringFixed(2),
			"recipientId":     req.UserID,
		}
		if err := tx.InsertActivity(ctx, domain.ActivityLog{UserID: adminID, Action: domain.ActionPayoutApproved, Details: adminDetails}); err != nil {
			return err
		}

		approval = &domain.PayoutApproval{Request: *req, PaidCommissionIDs: ids, Consumed: plan.Consumed}
		if s.enqueue(ctx, tx, domain.RoutingPayoutPaid, domain.PayoutPaidEvent{
			PayoutRequestID: req.ID,
			UserID:          req.UserID,
			Amount:          req.Amount,
			CommissionIDs:   ids,
			ProcessedBy:     adminID,
			OccurredAt:      now,
		}) {
			approval.NotificationsQueued++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payout approved", "payout_request_id", requestID, "admin_id", adminID, "commissions", len(approval.PaidCommissionIDs))
	return approval, nil
}

// unreservedCommissions returns the user's approved rows not claimed by
// pending requests made before current. A nil current counts every pending
// request.
func (s *Service) unreservedCommissions(ctx context.Context, tx store.Tx, userID string, current *domain.PayoutRequest) ([]domain.Commission, error) {
	approved, err := tx.ListApprovedCommissionsForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	pending, err := tx.ListPendingPayoutRequests(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		older := pending[:0:0]
		for _, p := range pending {
			if p.ID != current.ID && p.RequestedBefore(*current) {
				older = append(older, p)
			}
		}
		pending = older
	}
	return domain.UnreservedCommissions(approved, pending), nil
}

// ListPayoutRequests returns payout requests, optionally for one user and status.
func (s *Service) ListPayoutRequests(ctx context.Context, userID string, status domain.PayoutStatus) ([]domain.PayoutRequest, error) {
	if status != "" && status != domain.PayoutPending && status != domain.PayoutPaid {
		return nil, domain.ErrInvalidInput
	}
	return s.repo.ListPayoutRequests(ctx, store.PayoutFilter{UserID: userID, Status: status})
}
