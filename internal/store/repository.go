/**
 * @description
 * Data access layer for the commission service. Reads go straight to the
 * pool; every mutation runs inside WithinTx so multi-row changes commit or
 * roll back together.
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/affiliatehub/commission-service/internal/domain"
)

// Tx is the set of operations available inside one database transaction.
type Tx interface {
	// AcquireLock takes a transaction-scoped advisory lock on key.
	AcquireLock(ctx context.Context, key string) error

	// InsertCommission writes a PENDING row for draft. It reports false when a
	// row for the same (user, source key, source id) already exists.
	InsertCommission(ctx context.Context, draft domain.CommissionDraft) (*domain.Commission, bool, error)
	GetCommissionForUpdate(ctx context.Context, id string) (*domain.Commission, error)
	ApproveCommission(ctx context.Context, id string, approvedAt time.Time) error
	ListApprovedCommissionsForUpdate(ctx context.Context, userID string) ([]domain.Commission, error)
	MarkCommissionsPaid(ctx context.Context, ids []string, payoutRequestID string, paidAt time.Time) (int64, error)
	GetBalance(ctx context.Context, userID string) (domain.Balance, error)

	InsertPayoutRequest(ctx context.Context, req domain.PayoutRequest) (*domain.PayoutRequest, error)
	GetPayoutRequestForUpdate(ctx context.Context, id string) (*domain.PayoutRequest, error)
	// ListPendingPayoutRequests returns a user's PENDING requests, oldest first.
	ListPendingPayoutRequests(ctx context.Context, userID string) ([]domain.PayoutRequest, error)
	MarkPayoutRequestPaid(ctx context.Context, id, processedBy string, processedAt time.Time) error

	GetPlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error)
	FindOrCreateFreePlan(ctx context.Context) (*domain.SubscriptionPlan, error)
	CancelActiveSubscriptions(ctx context.Context, customerID string) (int64, error)
	InsertSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error)
	GetSubscriptionForUpdate(ctx context.Context, id string) (*domain.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error
	HasCurrentActiveSubscription(ctx context.Context, customerID, excludeID string, now time.Time) (bool, error)

	GetUserForUpdate(ctx context.Context, id string) (*domain.User, error)
	SetReferrer(ctx context.Context, userID, referrerID string, managerID *string) error
	SetManager(ctx context.Context, userID string, managerID *string) error
	SetRole(ctx context.Context, userID string, role domain.Role) error
	DeleteUserCascade(ctx context.Context, userID string) error

	InsertActivity(ctx context.Context, entry domain.ActivityLog) error
	// EnqueueOutbox writes an event for later publication. It runs in a
	// savepoint, so a failure leaves the surrounding transaction usable.
	EnqueueOutbox(ctx context.Context, exchange, routingKey string, payload interface{}) error
}

// CommissionFilter narrows commission listings.
type CommissionFilter struct {
	UserID string
	Status domain.CommissionStatus
	From   *time.Time
	To     *time.Time
	Limit  int
}

// PayoutFilter narrows payout request listings.
type PayoutFilter struct {
	UserID string
	Status domain.PayoutStatus
	Limit  int
}

// OutboxMessage is a claimed event awaiting publication.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// querier is satisfied by both the pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements persistence on PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithinTx runs fn in a transaction. It commits when fn returns nil and rolls
// back otherwise.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

type pgTx struct {
	q  querier
	tx pgx.Tx
}

func (t *pgTx) AcquireLock(ctx context.Context, key string) error {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}

// afterCursor renders a keyset cursor parameter. An empty cursor starts from
// the lowest uuid.
func afterCursor(param string) string {
	return fmt.Sprintf("COALESCE(NULLIF(%s, '')::uuid, '00000000-0000-0000-0000-000000000000'::uuid)", param)
}

func isUniqueViolation(err error) bool {
	pgErr, ok := err.(*pgconn.PgError)
	return ok && pgErr.Code == "23505"
}
