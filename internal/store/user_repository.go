package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/affiliatehub/commission-service/internal/domain"
)

const userColumns = `id, email, full_name, role, status, manager_id, referred_by_id, invite_code, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FullName,
		&u.Role,
		&u.Status,
		&u.ManagerID,
		&u.ReferredByID,
		&u.InviteCode,
		&u.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

func getUser(ctx context.Context, q querier, query string, arg any) (*domain.User, error) {
	u, err := scanUser(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// GetSetting returns the raw value for key, or nil when unset.
func (r *PostgresRepository) GetSetting(ctx context.Context, key string) (*string, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &value, nil
}

// GetUserByID loads a user.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return getUser(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByInviteCode loads the owner of an invite code.
func (r *PostgresRepository) GetUserByInviteCode(ctx context.Context, code string) (*domain.User, error) {
	return getUser(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE invite_code = $1`, code)
}

// ListReferredCustomers pages through referred customers ordered by id.
func (r *PostgresRepository) ListReferredCustomers(ctx context.Context, afterID string, limit int) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'CUSTOMER'
		  AND referred_by_id IS NOT NULL
		  AND id > `+afterCursor("$1")+`
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list referred customers: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (t *pgTx) GetUserForUpdate(ctx context.Context, id string) (*domain.User, error) {
	return getUser(ctx, t.q, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) SetReferrer(ctx context.Context, userID, referrerID string, managerID *string) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE users
		SET referred_by_id = $2,
			manager_id = COALESCE($3, manager_id),
			updated_at = NOW()
		WHERE id = $1
	`, userID, referrerID, managerID)
	if err != nil {
		return fmt.Errorf("failed to set referrer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (t *pgTx) SetManager(ctx context.Context, userID string, managerID *string) error {
	tag, err := t.q.Exec(ctx, `UPDATE users SET manager_id = $2, updated_at = NOW() WHERE id = $1`, userID, managerID)
	if err != nil {
		return fmt.Errorf("failed to set manager: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SetRole changes a user's role. Leaving the affiliate role drops the manager
// link, and a user who stops being a manager loses their affiliates.
func (t *pgTx) SetRole(ctx context.Context, userID string, role domain.Role) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE users
		SET role = $2,
			manager_id = CASE WHEN $2 = 'AFFILIATE' THEN manager_id ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1
	`, userID, string(role))
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	if role != domain.RoleManager {
		if _, err := t.q.Exec(ctx, `UPDATE users SET manager_id = NULL, updated_at = NOW() WHERE manager_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to detach affiliates: %w", err)
		}
	}
	return nil
}

// DeleteUserCascade detaches every reference to the user and removes the
// rows the user owns.
func (t *pgTx) DeleteUserCascade(ctx context.Context, userID string) error {
	statements := []struct {
		name  string
		query string
	}{
		{"detach managed users", `UPDATE users SET manager_id = NULL WHERE manager_id = $1`},
		{"detach referred users", `UPDATE users SET referred_by_id = NULL WHERE referred_by_id = $1`},
		{"detach referred orders", `UPDATE orders SET referred_by_id = NULL WHERE referred_by_id = $1`},
		{"detach processed payouts", `UPDATE payout_requests SET processed_by = NULL WHERE processed_by = $1`},
		{"delete activity logs", `DELETE FROM activity_logs WHERE user_id = $1`},
		{"delete commissions", `DELETE FROM commissions WHERE user_id = $1`},
		{"release commissions", `UPDATE commissions SET payout_request_id = NULL WHERE payout_request_id IN (SELECT id FROM payout_requests WHERE user_id = $1)`},
		{"delete payout requests", `DELETE FROM payout_requests WHERE user_id = $1`},
		{"delete subscriptions", `DELETE FROM subscriptions WHERE customer_id = $1`},
		{"delete order items", `DELETE FROM order_items WHERE order_id IN (SELECT id FROM orders WHERE customer_id = $1)`},
		{"delete orders", `DELETE FROM orders WHERE customer_id = $1`},
		{"delete flipbooks", `DELETE FROM flipbooks WHERE owner_id = $1`},
	}
	for _, stmt := range statements {
		if _, err := t.q.Exec(ctx, stmt.query, userID); err != nil {
			return fmt.Errorf("failed to %s: %w", stmt.name, err)
		}
	}

	tag, err := t.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
