package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/affiliatehub/commission-service/internal/domain"
)

const commissionColumns = `id, user_id, source_type, source_id, amount, status, created_at, approved_at, paid_at, payout_request_id`

func scanCommission(row rowScanner) (*domain.Commission, error) {
	var c domain.Commission
	if err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.SourceType,
		&c.SourceID,
		&c.Amount,
		&c.Status,
		&c.CreatedAt,
		&c.ApprovedAt,
		&c.PaidAt,
		&c.PayoutRequestID,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCommissions(rows pgx.Rows) ([]domain.Commission, error) {
	defer rows.Close()
	var out []domain.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListCommissions returns commissions matching filter, newest first.
func (r *PostgresRepository) ListCommissions(ctx context.Context, filter CommissionFilter) ([]domain.Commission, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 5000 {
		limit = 500
	}
	args = append(args, limit)

	query := `SELECT ` + commissionColumns + ` FROM commissions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	return collectCommissions(rows)
}

// GetBalance summarizes a user's ledger outside a transaction.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID string) (domain.Balance, error) {
	return getBalance(ctx, r.db, userID)
}

func getBalance(ctx context.Context, q querier, userID string) (domain.Balance, error) {
	var b domain.Balance
	err := q.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(amount) FROM commissions WHERE user_id = $1 AND status = 'PENDING'), 0),
			COALESCE((SELECT SUM(amount) FROM commissions WHERE user_id = $1 AND status = 'APPROVED'), 0),
			COALESCE((SELECT SUM(amount) FROM commissions WHERE user_id = $1 AND status = 'PAID'), 0),
			COALESCE((SELECT SUM(amount) FROM payout_requests WHERE user_id = $1 AND status = 'PENDING'), 0)
	`, userID).Scan(&b.Pending, &b.Approved, &b.Paid, &b.PendingPayouts)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("failed to compute balance: %w", err)
	}
	b.AvailableToDraw = b.Approved.Sub(b.PendingPayouts)
	if b.AvailableToDraw.IsNegative() {
		b.AvailableToDraw = decimal.Zero
	}
	return b, nil
}

func (t *pgTx) GetBalance(ctx context.Context, userID string) (domain.Balance, error) {
	return getBalance(ctx, t.q, userID)
}

func (t *pgTx) InsertCommission(ctx context.Context, draft domain.CommissionDraft) (*domain.Commission, bool, error) {
	c, err := scanCommission(t.q.QueryRow(ctx, `
		INSERT INTO commissions (user_id, source_type, source_key, source_id, amount, status)
		VALUES ($1, $2, $3, $4, $5::numeric, 'PENDING')
		ON CONFLICT (user_id, source_key, source_id) DO NOTHING
		RETURNING `+commissionColumns,
		draft.UserID,
		string(draft.SourceType),
		draft.SourceType.SourceKey(),
		draft.SourceID,
		draft.Amount.StringFixed(2),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to insert commission: %w", err)
	}
	return c, true, nil
}

func (t *pgTx) GetCommissionForUpdate(ctx context.Context, id string) (*domain.Commission, error) {
	c, err := scanCommission(t.q.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCommissionNotFound
		}
		return nil, fmt.Errorf("failed to load commission: %w", err)
	}
	return c, nil
}

func (t *pgTx) ApproveCommission(ctx context.Context, id string, approvedAt time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE commissions
		SET status = 'APPROVED', approved_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, approvedAt)
	if err != nil {
		return fmt.Errorf("failed to approve commission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCommissionNotPending
	}
	return nil
}

func (t *pgTx) ListApprovedCommissionsForUpdate(ctx context.Context, userID string) ([]domain.Commission, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+commissionColumns+`
		FROM commissions
		WHERE user_id = $1 AND status = 'APPROVED'
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved commissions: %w", err)
	}
	return collectCommissions(rows)
}

func (t *pgTx) MarkCommissionsPaid(ctx context.Context, ids []string, payoutRequestID string, paidAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE commissions
		SET status = 'PAID', paid_at = $3, payout_request_id = $2
		WHERE id = ANY($1::uuid[]) AND status = 'APPROVED'
	`, ids, payoutRequestID, paidAt)
	if err != nil {
		return 0, fmt.Errorf("failed to mark commissions paid: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return tag.RowsAffected(), fmt.Errorf("marked %d of %d commissions paid", tag.RowsAffected(), len(ids))
	}
	return tag.RowsAffected(), nil
}
