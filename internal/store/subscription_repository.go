package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/affiliatehub/commission-service/internal/domain"
)

const (
	planColumns         = `id, name, price, duration_days, affiliate_commission_percentage, is_active`
	subscriptionColumns = `id, customer_id, plan_id, status, start_date, end_date, auto_renew, created_at`
)

func scanPlan(row rowScanner) (*domain.SubscriptionPlan, error) {
	var p domain.SubscriptionPlan
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.DurationDays, &p.AffiliateCommissionPercentage, &p.IsActive); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var s domain.Subscription
	if err := row.Scan(&s.ID, &s.CustomerID, &s.PlanID, &s.Status, &s.StartDate, &s.EndDate, &s.AutoRenew, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func getPlan(ctx context.Context, q querier, id string) (*domain.SubscriptionPlan, error) {
	p, err := scanPlan(q.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return p, nil
}

// GetPlan loads a subscription plan.
func (r *PostgresRepository) GetPlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	return getPlan(ctx, r.db, id)
}

// GetSubscription loads a subscription.
func (r *PostgresRepository) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return s, nil
}

// GetActiveSubscription returns the customer's ACTIVE subscription with its plan.
func (r *PostgresRepository) GetActiveSubscription(ctx context.Context, customerID string) (*domain.SubscriptionWithPlan, error) {
	var out domain.SubscriptionWithPlan
	err := r.db.QueryRow(ctx, `
		SELECT s.id, s.customer_id, s.plan_id, s.status, s.start_date, s.end_date, s.auto_renew, s.created_at,
		       p.id, p.name, p.price, p.duration_days, p.affiliate_commission_percentage, p.is_active
		FROM subscriptions s
		JOIN subscription_plans p ON p.id = s.plan_id
		WHERE s.customer_id = $1 AND s.status = 'ACTIVE'
		ORDER BY s.end_date DESC
		LIMIT 1
	`, customerID).Scan(
		&out.ID, &out.CustomerID, &out.PlanID, &out.Status, &out.StartDate, &out.EndDate, &out.AutoRenew, &out.CreatedAt,
		&out.Plan.ID, &out.Plan.Name, &out.Plan.Price, &out.Plan.DurationDays, &out.Plan.AffiliateCommissionPercentage, &out.Plan.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("failed to load active subscription: %w", err)
	}
	return &out, nil
}

// ListExpiredSubscriptions returns ACTIVE rows whose end date has passed.
func (r *PostgresRepository) ListExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'ACTIVE' AND end_date < $1
		ORDER BY end_date ASC, id ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired subscriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListReferredPaidSubscriptions pages through subscriptions on paid plans
// whose customer was referred, ordered by id.
func (r *PostgresRepository) ListReferredPaidSubscriptions(ctx context.Context, afterID string, limit int) ([]domain.SubscriptionWithPlan, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.id, s.customer_id, s.plan_id, s.status, s.start_date, s.end_date, s.auto_renew, s.created_at,
		       p.id, p.name, p.price, p.duration_days, p.affiliate_commission_percentage, p.is_active
		FROM subscriptions s
		JOIN subscription_plans p ON p.id = s.plan_id
		JOIN users u ON u.id = s.customer_id
		WHERE u.referred_by_id IS NOT NULL
		  AND p.price > 0
		  AND s.id > `+afterCursor("$1")+`
		ORDER BY s.id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list referred subscriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.SubscriptionWithPlan
	for rows.Next() {
		var s domain.SubscriptionWithPlan
		if err := rows.Scan(
			&s.ID, &s.CustomerID, &s.PlanID, &s.Status, &s.StartDate, &s.EndDate, &s.AutoRenew, &s.CreatedAt,
			&s.Plan.ID, &s.Plan.Name, &s.Plan.Price, &s.Plan.DurationDays, &s.Plan.AffiliateCommissionPercentage, &s.Plan.IsActive,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) GetPlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	return getPlan(ctx, t.q, id)
}

// FindOrCreateFreePlan returns the zero-price plan, creating it on first use.
// Callers serialise creation with an advisory lock.
func (t *pgTx) FindOrCreateFreePlan(ctx context.Context) (*domain.SubscriptionPlan, error) {
	p, err := scanPlan(t.q.QueryRow(ctx, `
		SELECT `+planColumns+`
		FROM subscription_plans
		WHERE price = 0
		ORDER BY is_active DESC, created_at ASC
		LIMIT 1
	`))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to load free plan: %w", err)
	}

	p, err = scanPlan(t.q.QueryRow(ctx, `
		INSERT INTO subscription_plans (name, price, duration_days, is_active)
		VALUES ($1, 0, $2, TRUE)
		RETURNING `+planColumns,
		domain.FreePlanName, domain.FreePlanDurationDays,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create free plan: %w", err)
	}
	return p, nil
}

func (t *pgTx) CancelActiveSubscriptions(ctx context.Context, customerID string) (int64, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE customer_id = $1 AND status = 'ACTIVE'
	`, customerID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel active subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	s, err := scanSubscription(t.q.QueryRow(ctx, `
		INSERT INTO subscriptions (customer_id, plan_id, status, start_date, end_date, auto_renew)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+subscriptionColumns,
		sub.CustomerID, sub.PlanID, string(sub.Status), sub.StartDate, sub.EndDate, sub.AutoRenew,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("customer %s already has an active subscription: %w", sub.CustomerID, err)
		}
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}
	return s, nil
}

func (t *pgTx) GetSubscriptionForUpdate(ctx context.Context, id string) (*domain.Subscription, error) {
	s, err := scanSubscription(t.q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return s, nil
}

func (t *pgTx) UpdateSubscriptionStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error {
	_, err := t.q.Exec(ctx, `UPDATE subscriptions SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	return nil
}

func (t *pgTx) HasCurrentActiveSubscription(ctx context.Context, customerID, excludeID string, now time.Time) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE customer_id = $1 AND id <> $2 AND status = 'ACTIVE' AND end_date >= $3
		)
	`, customerID, excludeID, now).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active subscriptions: %w", err)
	}
	return exists, nil
}
