package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/affiliatehub/commission-service/internal/domain"
	"github.com/affiliatehub/commission-service/internal/store"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type outboxEntry struct {
	Exchange   string
	RoutingKey string
	Payload    []byte
}

type memoryState struct {
	users       map[string]domain.User
	settings    map[string]string
	orders      map[string]domain.Order
	plans       map[string]domain.SubscriptionPlan
	subs        map[string]domain.Subscription
	commissions map[string]domain.Commission
	payouts     map[string]domain.PayoutRequest
	activity    []domain.ActivityLog
	outbox      []outboxEntry
	seq         int
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		users:       make(map[string]domain.User, len(s.users)),
		settings:    make(map[string]string, len(s.settings)),
		orders:      make(map[string]domain.Order, len(s.orders)),
		plans:       make(map[string]domain.SubscriptionPlan, len(s.plans)),
		subs:        make(map[string]domain.Subscription, len(s.subs)),
		commissions: make(map[string]domain.Commission, len(s.commissions)),
		payouts:     make(map[string]domain.PayoutRequest, len(s.payouts)),
		activity:    append([]domain.ActivityLog(nil), s.activity...),
		outbox:      append([]outboxEntry(nil), s.outbox...),
		seq:         s.seq,
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.settings {
		out.settings[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	for k, v := range s.plans {
		out.plans[k] = v
	}
	for k, v := range s.subs {
		out.subs[k] = v
	}
	for k, v := range s.commissions {
		out.commissions[k] = v
	}
	for k, v := range s.payouts {
		out.payouts[k] = v
	}
	return out
}

// memoryStore is an in-memory Repository. WithinTx serializes transactions
// and restores a snapshot when fn fails, mirroring a database rollback.
type memoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	state memoryState
	locks []string

	failActivity       map[string]error
	failEnqueue        error
	failMarkPayoutPaid error
	failGetOrder       map[string]error
	failSubUpdate      map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		state: memoryState{
			users:       map[string]domain.User{},
			settings:    map[string]string{},
			orders:      map[string]domain.Order{},
			plans:       map[string]domain.SubscriptionPlan{},
			subs:        map[string]domain.Subscription{},
			commissions: map[string]domain.Commission{},
			payouts:     map[string]domain.PayoutRequest{},
		},
		failActivity:  map[string]error{},
		failGetOrder:  map[string]error{},
		failSubUpdate: map[string]error{},
	}
}

func (m *memoryStore) nextID(prefix string) string {
	m.state.seq++
	return fmt.Sprintf("%s-%04d", prefix, m.state.seq)
}

func (m *memoryStore) nextTime() time.Time {
	return baseTime.Add(time.Duration(m.state.seq) * time.Second)
}

// Fixtures.

func (m *memoryStore) addUser(u domain.User) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.Status == "" {
		u.Status = domain.UserStatusActive
	}
	m.state.users[u.ID] = u
	return u
}

func (m *memoryStore) addPlan(p domain.SubscriptionPlan) domain.SubscriptionPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.plans[p.ID] = p
	return p
}

func (m *memoryStore) addOrder(o domain.Order) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.orders[o.ID] = o
	return o
}

func (m *memoryStore) addSubscription(s domain.Subscription) domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.subs[s.ID] = s
	return s
}

func (m *memoryStore) addCommission(c domain.Commission) domain.Commission {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.commissions[c.ID] = c
	return c
}

func (m *memoryStore) setSetting(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.settings[key] = value
}

// Inspection.

func (m *memoryStore) commissionsFor(userID string) []domain.Commission {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Commission
	for _, c := range m.state.commissions {
		if userID == "" || c.UserID == userID {
			out = append(out, c)
		}
	}
	sortCommissions(out)
	return out
}

func (m *memoryStore) subscriptionsFor(customerID string) []domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, s := range m.state.subs {
		if s.CustomerID == customerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryStore) activeCount(customerID string) int {
	count := 0
	for _, s := range m.subscriptionsFor(customerID) {
		if s.Status == domain.SubscriptionActive {
			count++
		}
	}
	return count
}

func (m *memoryStore) activityActions(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.state.activity {
		if a.UserID == userID {
			out = append(out, a.Action)
		}
	}
	return out
}

func (m *memoryStore) outboxKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.state.outbox))
	for _, e := range m.state.outbox {
		out = append(out, e.RoutingKey)
	}
	return out
}

// addPendingPayout stores a PENDING request as-is, bypassing request-time checks.
func (m *memoryStore) addPendingPayout(req domain.PayoutRequest) domain.PayoutRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.Status = domain.PayoutPending
	if req.RequestedAt.IsZero() {
		req.RequestedAt = baseTime
	}
	m.state.payouts[req.ID] = req
	return req
}

func (m *memoryStore) payout(id string) domain.PayoutRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.payouts[id]
}

func (m *memoryStore) user(id string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.users[id]
}

func sortCommissions(list []domain.Commission) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// Repository reads.

func (m *memoryStore) GetSetting(ctx context.Context, key string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.state.settings[key]
	if !ok {
		return nil, nil
	}
	return &value, nil
}

func (m *memoryStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (m *memoryStore) GetUserByInviteCode(ctx context.Context, code string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.state.users {
		if u.InviteCode != nil && *u.InviteCode == code {
			found := u
			return &found, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *memoryStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failGetOrder[id]; err != nil {
		return nil, err
	}
	o, ok := m.state.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (m *memoryStore) GetPlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getPlanLocked(id)
}

func (m *memoryStore) getPlanLocked(id string) (*domain.SubscriptionPlan, error) {
	p, ok := m.state.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return &p, nil
}

func (m *memoryStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &s, nil
}

func (m *memoryStore) GetActiveSubscription(ctx context.Context, customerID string) (*domain.SubscriptionWithPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.SubscriptionWithPlan
	for _, s := range m.state.subs {
		if s.CustomerID != customerID || s.Status != domain.SubscriptionActive {
			continue
		}
		if best == nil || s.EndDate.After(best.EndDate) {
			best = &domain.SubscriptionWithPlan{Subscription: s, Plan: m.state.plans[s.PlanID]}
		}
	}
	if best == nil {
		return nil, domain.ErrNoActiveSubscription
	}
	return best, nil
}

func (m *memoryStore) ListCommissions(ctx context.Context, filter store.CommissionFilter) ([]domain.Commission, error) {
	var out []domain.Commission
	for _, c := range m.commissionsFor(filter.UserID) {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memoryStore) GetBalance(ctx context.Context, userID string) (domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(userID), nil
}

func (m *memoryStore) balanceLocked(userID string) domain.Balance {
	b := domain.Balance{Pending: decimal.Zero, Approved: decimal.Zero, Paid: decimal.Zero, PendingPayouts: decimal.Zero}
	for _, c := range m.state.commissions {
		if c.UserID != userID {
			continue
		}
		switch c.Status {
		case domain.CommissionPending:
			b.Pending = b.Pending.Add(c.Amount)
		case domain.CommissionApproved:
			b.Approved = b.Approved.Add(c.Amount)
		case domain.CommissionPaid:
			b.Paid = b.Paid.Add(c.Amount)
		}
	}
	for _, p := range m.state.payouts {
		if p.UserID == userID && p.Status == domain.PayoutPending {
			b.PendingPayouts = b.PendingPayouts.Add(p.Amount)
		}
	}
	b.AvailableToDraw = b.Approved.Sub(b.PendingPayouts)
	if b.AvailableToDraw.IsNegative() {
		b.AvailableToDraw = decimal.Zero
	}
	return b
}

func (m *memoryStore) ListPayoutRequests(ctx context.Context, filter store.PayoutFilter) ([]domain.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PayoutRequest
	for _, p := range m.state.payouts {
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) ListExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, s := range m.state.subs {
		if s.Status == domain.SubscriptionActive && s.EndDate.Before(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) ListReferredCustomers(ctx context.Context, afterID string, limit int) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.User
	for _, u := range m.state.users {
		if u.Role == domain.RoleCustomer && u.ReferredByID != nil && u.ID > afterID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) ListPaidReferredOrders(ctx context.Context, afterID string, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.state.orders {
		if o.PaymentStatus == domain.PaymentPaid && o.ReferredByID != nil && o.ID > afterID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) ListReferredPaidSubscriptions(ctx context.Context, afterID string, limit int) ([]domain.SubscriptionWithPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SubscriptionWithPlan
	for _, s := range m.state.subs {
		customer, ok := m.state.users[s.CustomerID]
		plan := m.state.plans[s.PlanID]
		if !ok || customer.ReferredByID == nil || !plan.Price.IsPositive() || s.ID <= afterID {
			continue
		}
		out = append(out, domain.SubscriptionWithPlan{Subscription: s, Plan: plan})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	if err := fn(&memoryTx{m: m}); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

type memoryTx struct {
	m *memoryStore
}

func (t *memoryTx) AcquireLock(ctx context.Context, key string) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.locks = append(t.m.locks, key)
	return nil
}

func (t *memoryTx) InsertCommission(ctx context.Context, draft domain.CommissionDraft) (*domain.Commission, bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, c := range t.m.state.commissions {
		if c.UserID == draft.UserID && c.SourceType.SourceKey() == draft.SourceType.SourceKey() && c.SourceID == draft.SourceID {
			return nil, false, nil
		}
	}
	c := domain.Commission{
		ID:         t.m.nextID("com"),
		UserID:     draft.UserID,
		SourceType: draft.SourceType,
		SourceID:   draft.SourceID,
		Amount:     draft.Amount,
		Status:     domain.CommissionPending,
	}
	c.CreatedAt = t.m.nextTime()
	t.m.state.commissions[c.ID] = c
	return &c, true, nil
}

func (t *memoryTx) GetCommissionForUpdate(ctx context.Context, id string) (*domain.Commission, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	c, ok := t.m.state.commissions[id]
	if !ok {
		return nil, domain.ErrCommissionNotFound
	}
	return &c, nil
}

func (t *memoryTx) ApproveCommission(ctx context.Context, id string, approvedAt time.Time) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	c, ok := t.m.state.commissions[id]
	if !ok || c.Status != domain.CommissionPending {
		return domain.ErrCommissionNotPending
	}
	c.Status = domain.CommissionApproved
	c.ApprovedAt = &approvedAt
	t.m.state.commissions[id] = c
	return nil
}

func (t *memoryTx) ListApprovedCommissionsForUpdate(ctx context.Context, userID string) ([]domain.Commission, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var out []domain.Commission
	for _, c := range t.m.state.commissions {
		if c.UserID == userID && c.Status == domain.CommissionApproved {
			out = append(out, c)
		}
	}
	sortCommissions(out)
	return out, nil
}

func (t *memoryTx) MarkCommissionsPaid(ctx context.Context, ids []string, payoutRequestID string, paidAt time.Time) (int64, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var updated int64
	for _, id := range ids {
		c, ok := t.m.state.commissions[id]
		if !ok || c.Status != domain.CommissionApproved {
			continue
		}
		c.Status = domain.CommissionPaid
		c.PaidAt = &paidAt
		requestID := payoutRequestID
		c.PayoutRequestID = &requestID
		t.m.state.commissions[id] = c
		updated++
	}
	if updated != int64(len(ids)) {
		return updated, fmt.Errorf("marked %d of %d commissions paid", updated, len(ids))
	}
	return updated, nil
}

func (t *memoryTx) GetBalance(ctx context.Context, userID string) (domain.Balance, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.balanceLocked(userID), nil
}

func (t *memoryTx) InsertPayoutRequest(ctx context.Context, req domain.PayoutRequest) (*domain.PayoutRequest, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	req.ID = t.m.nextID("pay")
	req.RequestedAt = t.m.nextTime()
	t.m.state.payouts[req.ID] = req
	return &req, nil
}

func (t *memoryTx) GetPayoutRequestForUpdate(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	p, ok := t.m.state.payouts[id]
	if !ok {
		return nil, domain.ErrPayoutNotFound
	}
	return &p, nil
}

func (t *memoryTx) ListPendingPayoutRequests(ctx context.Context, userID string) ([]domain.PayoutRequest, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var out []domain.PayoutRequest
	for _, p := range t.m.state.payouts {
		if p.UserID == userID && p.Status == domain.PayoutPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedBefore(out[j]) })
	return out, nil
}

func (t *memoryTx) MarkPayoutRequestPaid(ctx context.Context, id, processedBy string, processedAt time.Time) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.failMarkPayoutPaid != nil {
		return t.m.failMarkPayoutPaid
	}
	p, ok := t.m.state.payouts[id]
	if !ok || p.Status != domain.PayoutPending {
		return domain.ErrPayoutNotPending
	}
	p.Status = domain.PayoutPaid
	p.ProcessedAt = &processedAt
	p.ProcessedBy = &processedBy
	t.m.state.payouts[id] = p
	return nil
}

func (t *memoryTx) GetPlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.getPlanLocked(id)
}

func (t *memoryTx) FindOrCreateFreePlan(ctx context.Context) (*domain.SubscriptionPlan, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, p := range t.m.state.plans {
		if p.IsFree() {
			found := p
			return &found, nil
		}
	}
	p := domain.SubscriptionPlan{
		ID:           t.m.nextID("plan"),
		Name:         domain.FreePlanName,
		Price:        decimal.Zero,
		DurationDays: domain.FreePlanDurationDays,
		IsActive:     true,
	}
	t.m.state.plans[p.ID] = p
	return &p, nil
}

func (t *memoryTx) CancelActiveSubscriptions(ctx context.Context, customerID string) (int64, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var cancelled int64
	for id, s := range t.m.state.subs {
		if s.CustomerID == customerID && s.Status == domain.SubscriptionActive {
			s.Status = domain.SubscriptionCancelled
			t.m.state.subs[id] = s
			cancelled++
		}
	}
	return cancelled, nil
}

func (t *memoryTx) InsertSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if sub.Status == domain.SubscriptionActive {
		for _, s := range t.m.state.subs {
			if s.CustomerID == sub.CustomerID && s.Status == domain.SubscriptionActive {
				return nil, errors.New("duplicate active subscription")
			}
		}
	}
	sub.ID = t.m.nextID("sub")
	sub.CreatedAt = t.m.nextTime()
	t.m.state.subs[sub.ID] = sub
	return &sub, nil
}

func (t *memoryTx) GetSubscriptionForUpdate(ctx context.Context, id string) (*domain.Subscription, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	s, ok := t.m.state.subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &s, nil
}

func (t *memoryTx) UpdateSubscriptionStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if err := t.m.failSubUpdate[id]; err != nil {
		return err
	}
	s, ok := t.m.state.subs[id]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	s.Status = status
	t.m.state.subs[id] = s
	return nil
}

func (t *memoryTx) HasCurrentActiveSubscription(ctx context.Context, customerID, excludeID string, now time.Time) (bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, s := range t.m.state.subs {
		if s.CustomerID == customerID && s.ID != excludeID && s.IsCurrent(now) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) GetUserForUpdate(ctx context.Context, id string) (*domain.User, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	u, ok := t.m.state.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (t *memoryTx) SetReferrer(ctx context.Context, userID, referrerID string, managerID *string) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	u := t.m.state.users[userID]
	u.ReferredByID = &referrerID
	if managerID != nil {
		u.ManagerID = managerID
	}
	t.m.state.users[userID] = u
	return nil
}

func (t *memoryTx) SetManager(ctx context.Context, userID string, managerID *string) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	u := t.m.state.users[userID]
	u.ManagerID = managerID
	t.m.state.users[userID] = u
	return nil
}

func (t *memoryTx) SetRole(ctx context.Context, userID string, role domain.Role) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	u := t.m.state.users[userID]
	u.Role = role
	if role != domain.RoleAffiliate {
		u.ManagerID = nil
	}
	t.m.state.users[userID] = u
	if role != domain.RoleManager {
		for id, other := range t.m.state.users {
			if other.ManagerID != nil && *other.ManagerID == userID {
				other.ManagerID = nil
				t.m.state.users[id] = other
			}
		}
	}
	return nil
}

func (t *memoryTx) DeleteUserCascade(ctx context.Context, userID string) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.state.users[userID]; !ok {
		return domain.ErrUserNotFound
	}
	for id, u := range t.m.state.users {
		if u.ManagerID != nil && *u.ManagerID == userID {
			u.ManagerID = nil
		}
		if u.ReferredByID != nil && *u.ReferredByID == userID {
			u.ReferredByID = nil
		}
		t.m.state.users[id] = u
	}
	for id, c := range t.m.state.commissions {
		if c.UserID == userID {
			delete(t.m.state.commissions, id)
		}
	}
	for id, p := range t.m.state.payouts {
		if p.UserID == userID {
			delete(t.m.state.payouts, id)
		}
	}
	for id, s := range t.m.state.subs {
		if s.CustomerID == userID {
			delete(t.m.state.subs, id)
		}
	}
	delete(t.m.state.users, userID)
	return nil
}

func (t *memoryTx) InsertActivity(ctx context.Context, entry domain.ActivityLog) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if err := t.m.failActivity[entry.Action]; err != nil {
		return err
	}
	entry.ID = t.m.nextID("act")
	entry.CreatedAt = t.m.nextTime()
	t.m.state.activity = append(t.m.state.activity, entry)
	return nil
}

func (t *memoryTx) EnqueueOutbox(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.failEnqueue != nil {
		return t.m.failEnqueue
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.m.state.outbox = append(t.m.state.outbox, outboxEntry{Exchange: exchange, RoutingKey: routingKey, Payload: body})
	return nil
}

// Helpers for building fixtures.

func strPtr(s string) *string { return &s }

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(repo *memoryStore) *Service {
	svc := NewService(repo, nil, nil, discardLogger(), Options{BackfillBatchSize: 2})
	svc.now = func() time.Time { return baseTime }
	return svc
}

// referralFixture seeds a manager, an affiliate under that manager, a
// standalone affiliate and a paid plan.
type referralFixture struct {
	manager   domain.User
	affiliate domain.User
	solo      domain.User
	gold      domain.SubscriptionPlan
}

func seedReferrals(repo *memoryStore) referralFixture {
	manager := repo.addUser(domain.User{ID: "mgr-1", Email: "m@example.com", Role: domain.RoleManager, InviteCode: strPtr("MGR1")})
	affiliate := repo.addUser(domain.User{ID: "aff-1", Email: "a@example.com", Role: domain.RoleAffiliate, ManagerID: strPtr(manager.ID), InviteCode: strPtr("AFF1")})
	solo := repo.addUser(domain.User{ID: "aff-2", Email: "s@example.com", Role: domain.RoleAffiliate, InviteCode: strPtr("AFF2")})
	gold := repo.addPlan(domain.SubscriptionPlan{
		ID:                            "plan-gold",
		Name:                          "Gold",
		Price:                         money("50.00"),
		DurationDays:                  30,
		AffiliateCommissionPercentage: decimal.NewNullDecimal(money("10")),
		IsActive:                      true,
	})
	return referralFixture{manager: manager, affiliate: affiliate, solo: solo, gold: gold}
}
