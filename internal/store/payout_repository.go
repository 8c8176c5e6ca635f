package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/affiliatehub/commission-service/internal/domain"
)

const payoutColumns = `id, user_id, amount, payment_method::text, status, requested_at, processed_at, processed_by`

func scanPayoutRequest(row rowScanner) (*domain.PayoutRequest, error) {
	var (
		p      domain.PayoutRequest
		method string
	)
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Amount,
		&method,
		&p.Status,
		&p.RequestedAt,
		&p.ProcessedAt,
		&p.ProcessedBy,
	); err != nil {
		return nil, err
	}
	if method != "" {
		if err := json.Unmarshal([]byte(method), &p.PaymentMethod); err != nil {
			log.Printf("Warning: failed to unmarshal payment_method for payout request %s: %v", p.ID, err)
		}
	}
	return &p, nil
}

// ListPayoutRequests returns requests matching filter, newest first.
func (r *PostgresRepository) ListPayoutRequests(ctx context.Context, filter PayoutFilter) ([]domain.PayoutRequest, error) {
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
	limit := filter.Limit
	if limit <= 0 || limit > 5000 {
		limit = 500
	}
	args = append(args, limit)

	query := `SELECT ` + payoutColumns + ` FROM payout_requests`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY requested_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout requests: %w", err)
	}
	defer rows.Close()

	var out []domain.PayoutRequest
	for rows.Next() {
		p, err := scanPayoutRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertPayoutRequest(ctx context.Context, req domain.PayoutRequest) (*domain.PayoutRequest, error) {
	method, err := json.Marshal(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	p, err := scanPayoutRequest(t.q.QueryRow(ctx, `
		INSERT INTO payout_requests (user_id, amount, payment_method, status)
		VALUES ($1, $2::numeric, $3::jsonb, 'PENDING')
		RETURNING `+payoutColumns,
		req.UserID,
		req.Amount.StringFixed(2),
		string(method),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert payout request: %w", err)
	}
	return p, nil
}

func (t *pgTx) GetPayoutRequestForUpdate(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	p, err := scanPayoutRequest(t.q.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("failed to load payout request: %w", err)
	}
	return p, nil
}

func (t *pgTx) ListPendingPayoutRequests(ctx context.Context, userID string) ([]domain.PayoutRequest, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payout_requests
		WHERE user_id = $1 AND status = 'PENDING'
		ORDER BY requested_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payout requests: %w", err)
	}
	defer rows.Close()

	var out []domain.PayoutRequest
	for rows.Next() {
		p, err := scanPayoutRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (t *pgTx) MarkPayoutRequestPaid(ctx context.Context, id, processedBy string, processedAt time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE payout_requests
		SET status = 'PAID', processed_at = $3, processed_by = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, processedBy, processedAt)
	if err != nil {
		return fmt.Errorf("failed to mark payout request paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPayoutNotPending
	}
	return nil
}
