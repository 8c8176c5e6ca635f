package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/affiliatehub/commission-service/internal/domain"
	"github.com/affiliatehub/commission-service/internal/report"
	"github.com/affiliatehub/commission-service/internal/store"
)

const (
	adminID     = "8a1c2b4e-0000-4000-8000-000000000001"
	affiliateID = "8a1c2b4e-0000-4000-8000-000000000002"
	payoutID    = "8a1c2b4e-0000-4000-8000-000000000003"
	customerID  = "8a1c2b4e-0000-4000-8000-000000000004"
)

// serviceStub implements the calls a test needs; anything else panics
// through the nil embedded interface.
type serviceStub struct {
	Service

	balance       domain.Balance
	payoutErr     error
	payoutUserID  string
	payoutAmount  decimal.Decimal
	payoutMethod  domain.PaymentMethod
	approvedBy    string
	approvedID    string
	filter        store.CommissionFilter
	commissions   []domain.Commission
	registeredFor string
	accessFree    bool
}

func (s *serviceStub) GetBalance(ctx context.Context, userID string) (domain.Balance, error) {
	return s.balance, nil
}

func (s *serviceStub) RequestPayout(ctx context.Context, userID string, amount decimal.Decimal, method domain.PaymentMethod) (*domain.PayoutRequest, error) {
	s.payoutUserID = userID
	s.payoutAmount = amount
	s.payoutMethod = method
	if s.payoutErr != nil {
		return nil, s.payoutErr
	}
	return &domain.PayoutRequest{ID: payoutID, UserID: userID, Amount: amount, Status: domain.PayoutPending}, nil
}

func (s *serviceStub) ApprovePayout(ctx context.Context, requestID, adminID string) (*domain.PayoutApproval, error) {
	s.approvedID = requestID
	s.approvedBy = adminID
	return &domain.PayoutApproval{Request: domain.PayoutRequest{ID: requestID, Status: domain.PayoutPaid}}, nil
}

func (s *serviceStub) SearchCommissions(ctx context.Context, filter store.CommissionFilter) ([]domain.Commission, error) {
	s.filter = filter
	return s.commissions, nil
}

func (s *serviceStub) CanAccessContent(ctx context.Context, customerID string, contentIsFree bool) (bool, error) {
	s.accessFree = contentIsFree
	return contentIsFree, nil
}

func (s *serviceStub) RunExpirationSweep(ctx context.Context) (*domain.SweepResult, error) {
	return nil, errors.New("pq: relation \"subscriptions\" does not exist")
}

type verifierStub struct {
	identities map[string]Identity
}

func (v verifierStub) Verify(ctx context.Context, token string) (Identity, error) {
	identity, ok := v.identities[token]
	if !ok {
		return Identity{}, errors.New("bad token")
	}
	return identity, nil
}

func newTestRouter(svc *serviceStub, internalKey string) http.Handler {
	verifier := verifierStub{identities: map[string]Identity{
		"admin-token":     {UserID: adminID, Role: domain.RoleAdmin},
		"affiliate-token": {UserID: affiliateID, Role: domain.RoleAffiliate},
		"customer-token":  {UserID: customerID, Role: domain.RoleCustomer},
	}}
	h := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewRouter(h, verifier, internalKey)
}

func doRequest(router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("expected json envelope, got %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestRouter_Authentication(t *testing.T) {
	router := newTestRouter(&serviceStub{}, "")

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"missing token", "/me/balance", "", http.StatusUnauthorized},
		{"unknown token", "/me/balance", "forged", http.StatusUnauthorized},
		{"affiliate reads own balance", "/me/balance", "affiliate-token", http.StatusOK},
		{"affiliate on admin route", "/admin/payouts/" + payoutID + "/approve", "affiliate-token", http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			method := http.MethodGet
			if strings.HasSuffix(tc.path, "/approve") {
				method = http.MethodPost
			}
			rec := doRequest(router, method, tc.path, tc.token, "")
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRequestPayout_PassesCallerAndDecimalAmount(t *testing.T) {
	svc := &serviceStub{}
	router := newTestRouter(svc, "")

	body := `{"amount":"60.10","paymentMethod":{"type":"bank_transfer","details":{"account":"0123456789"}}}`
	rec := doRequest(router, http.MethodPost, "/me/payouts", "affiliate-token", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.payoutUserID != affiliateID {
		t.Fatalf("expected caller %s, got %s", affiliateID, svc.payoutUserID)
	}
	if !svc.payoutAmount.Equal(decimal.RequireFromString("60.10")) {
		t.Fatalf("expected 60.10, got %s", svc.payoutAmount)
	}
	if svc.payoutMethod.Type != "bank_transfer" {
		t.Fatalf("expected bank_transfer, got %q", svc.payoutMethod.Type)
	}
}

func TestRequestPayout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"insufficient balance", domain.ErrInsufficientBalance, http.StatusBadRequest, "INSUFFICIENT_BALANCE"},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"storage failure", errors.New("dial tcp 10.0.0.5:5432: connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&serviceStub{payoutErr: tc.err}, "")
			rec := doRequest(router, http.MethodPost, "/me/payouts", "affiliate-token", `{"amount":"60","paymentMethod":{"type":"paypal","details":{"email":"a@b.c"}}}`)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			env := decodeEnvelope(t, rec)
			if env.Success || env.Error == nil || env.Error.Code != tc.code {
				t.Fatalf("expected error code %s, got %+v", tc.code, env)
			}
			if strings.Contains(rec.Body.String(), "10.0.0.5") {
				t.Fatal("expected storage details to stay out of the response")
			}
		})
	}
}

func TestRequestPayout_MalformedBody(t *testing.T) {
	router := newTestRouter(&serviceStub{}, "")
	rec := doRequest(router, http.MethodPost, "/me/payouts", "affiliate-token", `{"amount":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %+v", env)
	}
}

func TestApprovePayout_UsesAdminIdentity(t *testing.T) {
	svc := &serviceStub{}
	router := newTestRouter(svc, "")

	rec := doRequest(router, http.MethodPost, "/admin/payouts/"+payoutID+"/approve", "admin-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.approvedID != payoutID || svc.approvedBy != adminID {
		t.Fatalf("expected %s approved by %s, got %s by %s", payoutID, adminID, svc.approvedID, svc.approvedBy)
	}

	rec = doRequest(router, http.MethodPost, "/admin/payouts/not-a-uuid/approve", "admin-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestCheckContentAccess_Query(t *testing.T) {
	svc := &serviceStub{}
	router := newTestRouter(svc, "")

	rec := doRequest(router, http.MethodGet, "/me/content-access?free=true", "affiliate-token", "")
	if rec.Code != http.StatusOK || !svc.accessFree {
		t.Fatalf("expected free content lookup, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/me/content-access?free=maybe", "affiliate-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCommissionsReport(t *testing.T) {
	svc := &serviceStub{commissions: []domain.Commission{{
		ID:         "c-1",
		UserID:     affiliateID,
		SourceType: domain.SourceProduct,
		SourceID:   "o-1",
		Amount:     decimal.RequireFromString("12.50"),
		Status:     domain.CommissionApproved,
	}}}
	router := newTestRouter(svc, "")

	rec := doRequest(router, http.MethodGet, "/admin/reports/commissions.xlsx?status=approved&from=2025-03-01&to=2025-03-31", "admin-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != report.ContentType {
		t.Fatalf("expected %s, got %s", report.ContentType, got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(got, "attachment; filename=\"commissions-") {
		t.Fatalf("unexpected Content-Disposition %q", got)
	}
	if svc.filter.Status != domain.CommissionApproved {
		t.Fatalf("expected APPROVED filter, got %q", svc.filter.Status)
	}
	if svc.filter.To == nil || svc.filter.To.Format("2006-01-02") != "2025-04-01" {
		t.Fatalf("expected exclusive upper bound 2025-04-01, got %v", svc.filter.To)
	}

	rec = doRequest(router, http.MethodGet, "/admin/reports/commissions.xlsx?from=03/01/2025", "admin-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", rec.Code)
	}
}

func TestInternalRoutes_RequireKey(t *testing.T) {
	router := newTestRouter(&serviceStub{}, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/expire-subscriptions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/jobs/expire-subscriptions", nil)
	req.Header.Set("X-Internal-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	// The stub sweep fails with a storage error, which must surface as a bare 500.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from failing sweep, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "relation") {
		t.Fatal("expected storage error text to be hidden")
	}
}

func TestInternalRoutes_ClosedWithoutConfiguredKey(t *testing.T) {
	router := newTestRouter(&serviceStub{}, "")

	for _, path := range []string{
		"/internal/events/order-paid",
		"/internal/events/subscription-purchased",
		"/internal/jobs/backfill",
		"/internal/jobs/expire-subscriptions",
	} {
		rec := doRequest(router, http.MethodPost, path, "", `{}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestSubscriptionRoutes_CustomersOnly(t *testing.T) {
	router := newTestRouter(&serviceStub{}, "")

	tests := []struct {
		name   string
		method string
		token  string
		status int
	}{
		{"affiliate cannot subscribe", http.MethodPost, "affiliate-token", http.StatusForbidden},
		{"admin cannot subscribe", http.MethodPost, "admin-token", http.StatusForbidden},
		{"affiliate cannot cancel", http.MethodDelete, "affiliate-token", http.StatusForbidden},
		// The customer passes the role check and is stopped by body validation.
		{"customer reaches handler", http.MethodPost, "customer-token", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(router, tc.method, "/me/subscriptions", tc.token, `{"planId":"gold","autoRenew":true}`)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&serviceStub{}, "s3cret")
	rec := doRequest(router, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
