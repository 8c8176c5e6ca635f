package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/affiliatehub/commission-service/internal/app"
	"github.com/affiliatehub/commission-service/internal/domain"
	"github.com/affiliatehub/commission-service/internal/report"
	"github.com/affiliatehub/commission-service/internal/store"
)

// Service is the subset of the application service the HTTP layer calls.
type Service interface {
	ListCommissions(ctx context.Context, userID string, status domain.CommissionStatus) ([]domain.Commission, error)
	SearchCommissions(ctx context.Context, filter store.CommissionFilter) ([]domain.Commission, error)
	GetBalance(ctx context.Context, userID string) (domain.Balance, error)
	ApproveCommission(ctx context.Context, commissionID, adminID string) (*domain.Commission, error)
	ApproveCommissions(ctx context.Context, commissionIDs []string, adminID string) []domain.ApprovalOutcome

	RequestPayout(ctx context.Context, userID string, amount decimal.Decimal, method domain.PaymentMethod) (*domain.PayoutRequest, error)
	ApprovePayout(ctx context.Context, requestID, adminID string) (*domain.PayoutApproval, error)
	ListPayoutRequests(ctx context.Context, userID string, status domain.PayoutStatus) ([]domain.PayoutRequest, error)

	Subscribe(ctx context.Context, customerID, planID string, autoRenew bool) (*domain.SubscribeResult, error)
	CancelSubscription(ctx context.Context, customerID string) (*domain.Subscription, error)
	GetActiveSubscription(ctx context.Context, customerID string) (*domain.SubscriptionWithPlan, error)
	CanAccessContent(ctx context.Context, customerID string, contentIsFree bool) (bool, error)
	RunExpirationSweep(ctx context.Context) (*domain.SweepResult, error)

	OnUserRegistered(ctx context.Context, userID, referralCode string) (*app.RegistrationResult, error)
	ProcessOrderCommission(ctx context.Context, orderID string) (*domain.CommissionResult, error)
	ProcessSubscriptionCommission(ctx context.Context, subscriptionID, customerID string, planPrice decimal.Decimal) (*domain.CommissionResult, error)
	RunAllBackfills(ctx context.Context) ([]app.BackfillResult, error)

	AssignManager(ctx context.Context, affiliateID, managerID, adminID string) (*domain.User, error)
	ChangeRole(ctx context.Context, userID string, role domain.Role, adminID string) (*domain.User, error)
	DeleteUser(ctx context.Context, userID, adminID string) error
	InviteLink(ctx context.Context, userID string) (string, error)
	InviteQRCode(ctx context.Context, userID string) ([]byte, error)
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (string, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("%w: %s must be a uuid", domain.ErrInvalidInput, name)
	}
	return id.String(), nil
}

func optionalUUID(r *http.Request, name string) (string, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return "", nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s must be a uuid", domain.ErrInvalidInput, name)
	}
	return id.String(), nil
}

func caller(r *http.Request) Identity {
	identity, _ := IdentityFromContext(r.Context())
	return identity
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondOK(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListMyCommissions(w http.ResponseWriter, r *http.Request) {
	status := domain.CommissionStatus(strings.ToUpper(r.URL.Query().Get("status")))
	commissions, err := h.service.ListCommissions(r.Context(), caller(r).UserID, status)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, commissions)
}

func (h *Handler) GetMyBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), caller(r).UserID)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, balance)
}

type payoutRequestBody struct {
	Amount        decimal.Decimal      `json:"amount"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
}

func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	var body payoutRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	req, err := h.service.RequestPayout(r.Context(), caller(r).UserID, body.Amount, body.PaymentMethod)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusCreated, req)
}

func (h *Handler) ListMyPayouts(w http.ResponseWriter, r *http.Request) {
	status := domain.PayoutStatus(strings.ToUpper(r.URL.Query().Get("status")))
	requests, err := h.service.ListPayoutRequests(r.Context(), caller(r).UserID, status)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, requests)
}

func (h *Handler) GetInviteLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.InviteLink(r.Context(), caller(r).UserID)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]string{"link": link})
}

func (h *Handler) GetInviteQRCode(w http.ResponseWriter, r *http.Request) {
	png, err := h.service.InviteQRCode(r.Context(), caller(r).UserID)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

type subscribeBody struct {
	PlanID    string `json:"planId"`
	AutoRenew bool   `json:"autoRenew"`
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var body subscribeBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if _, err := uuid.Parse(body.PlanID); err != nil {
		h.badID(w, "planId")
		return
	}

	result, err := h.service.Subscribe(r.Context(), caller(r).UserID, body.PlanID, body.AutoRenew)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusCreated, result)
}

func (h *Handler) GetMySubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.GetActiveSubscription(r.Context(), caller(r).UserID)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, sub)
}

func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.CancelSubscription(r.Context(), caller(r).UserID)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, sub)
}

func (h *Handler) CheckContentAccess(w http.ResponseWriter, r *http.Request) {
	free := false
	if raw := r.URL.Query().Get("free"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithMessage(w, http.StatusBadRequest, domain.ErrorCode(domain.ErrInvalidInput), "free must be a boolean")
			return
		}
		free = parsed
	}

	allowed, err := h.service.CanAccessContent(r.Context(), caller(r).UserID, free)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) ApproveCommission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	commission, err := h.service.ApproveCommission(r.Context(), id, caller(r).UserID)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, commission)
}

type bulkApproveBody struct {
	CommissionIDs []string `json:"commissionIds"`
}

func (h *Handler) ApproveCommissions(w http.ResponseWriter, r *http.Request) {
	var body bulkApproveBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if len(body.CommissionIDs) == 0 {
		respondWithMessage(w, http.StatusBadRequest, domain.ErrorCode(domain.ErrInvalidInput), "commissionIds is required")
		return
	}
	for _, id := range body.CommissionIDs {
		if _, err := uuid.Parse(id); err != nil {
			respondWithMessage(w, http.StatusBadRequest, domain.ErrorCode(domain.ErrInvalidInput), "commissionIds must be uuids")
			return
		}
	}

	outcomes := h.service.ApproveCommissions(r.Context(), body.CommissionIDs, caller(r).UserID)
	respondOK(w, http.StatusOK, outcomes)
}

func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	userID, err := optionalUUID(r, "userId")
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	status := domain.PayoutStatus(strings.ToUpper(r.URL.Query().Get("status")))
	requests, err := h.service.ListPayoutRequests(r.Context(), userID, status)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, requests)
}

func (h *Handler) ApprovePayout(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	approval, err := h.service.ApprovePayout(r.Context(), id, caller(r).UserID)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, approval)
}

type assignManagerBody struct {
	ManagerID string `json:"managerId"`
}

func (h *Handler) AssignManager(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	var body assignManagerBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if body.ManagerID != "" {
		if _, err := uuid.Parse(body.ManagerID); err != nil {
			h.badID(w, "managerId")
			return
		}
	}

	user, err := h.service.AssignManager(r.Context(), id, body.ManagerID, caller(r).UserID)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, user)
}

type changeRoleBody struct {
	Role string `json:"role"`
}

func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	var body changeRoleBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithError(w, h.logger, err)
		return
	}

	role := domain.Role(strings.ToUpper(strings.TrimSpace(body.Role)))
	user, err := h.service.ChangeRole(r.Context(), id, role, caller(r).UserID)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, user)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if err := h.service.DeleteUser(r.Context(), id, caller(r).UserID); err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]string{"deleted": id})
}

// CommissionsReport exports commissions matching the query as a spreadsheet.
func (h *Handler) CommissionsReport(w http.ResponseWriter, r *http.Request) {
	filter, err := commissionFilterFromQuery(r)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	commissions, err := h.service.SearchCommissions(r.Context(), filter)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	data, err := report.CommissionsWorkbook(commissions)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	writeWorkbook(w, "commissions", data)
}

// PayoutsReport exports payout requests as a spreadsheet.
func (h *Handler) PayoutsReport(w http.ResponseWriter, r *http.Request) {
	userID, err := optionalUUID(r, "userId")
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	status := domain.PayoutStatus(strings.ToUpper(r.URL.Query().Get("status")))
	requests, err := h.service.ListPayoutRequests(r.Context(), userID, status)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	data, err := report.PayoutsWorkbook(requests)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	writeWorkbook(w, "payouts", data)
}

func writeWorkbook(w http.ResponseWriter, name string, data []byte) {
	filename := fmt.Sprintf("%s-%s.xlsx", name, time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// commissionFilterFromQuery reads userId, status and an inclusive from/to date range.
func commissionFilterFromQuery(r *http.Request) (store.CommissionFilter, error) {
	q := r.URL.Query()
	filter := store.CommissionFilter{
		Status: domain.CommissionStatus(strings.ToUpper(q.Get("status"))),
	}
	userID, err := optionalUUID(r, "userId")
	if err != nil {
		return filter, err
	}
	filter.UserID = userID
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be YYYY-MM-DD", domain.ErrInvalidInput, name)
		}
		if name == "to" {
			parsed = parsed.AddDate(0, 0, 1)
		}
		*dst = &parsed
	}
	return filter, nil
}

func (h *Handler) badID(w http.ResponseWriter, field string) {
	respondWithMessage(w, http.StatusBadRequest, domain.ErrorCode(domain.ErrInvalidInput), field+" must be a uuid")
}

// UserRegistered accepts the user.registered payload over HTTP.
func (h *Handler) UserRegistered(w http.ResponseWriter, r *http.Request) {
	var event domain.UserRegisteredEvent
	if err := decodeJSON(w, r, &event); err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if _, err := uuid.Parse(event.UserID); err != nil {
		h.badID(w, "user_id")
		return
	}

	result, err := h.service.OnUserRegistered(r.Context(), event.UserID, event.ReferralCode)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, result)
}

func (h *Handler) OrderPaid(w http.ResponseWriter, r *http.Request) {
	var event domain.OrderPaymentConfirmedEvent
	if err := decodeJSON(w, r, &event); err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if _, err := uuid.Parse(event.OrderID); err != nil {
		h.badID(w, "order_id")
		return
	}

	result, err := h.service.ProcessOrderCommission(r.Context(), event.OrderID)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, result)
}

func (h *Handler) SubscriptionPurchased(w http.ResponseWriter, r *http.Request) {
	var event domain.SubscriptionPurchasedEvent
	if err := decodeJSON(w, r, &event); err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	if _, err := uuid.Parse(event.SubscriptionID); err != nil {
		h.badID(w, "subscription_id")
		return
	}
	if _, err := uuid.Parse(event.CustomerID); err != nil {
		h.badID(w, "customer_id")
		return
	}

	result, err := h.service.ProcessSubscriptionCommission(r.Context(), event.SubscriptionID, event.CustomerID, event.PlanPrice)
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, result)
}

func (h *Handler) ExpireSubscriptions(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RunExpirationSweep(r.Context())
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	h.logger.Info("expiration sweep triggered over http", "expired", result.Expired, "failed", result.Failed)
	respondOK(w, http.StatusOK, result)
}

func (h *Handler) RunBackfills(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.RunAllBackfills(r.Context())
	if err != nil {
		respondWithError(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, results)
}
