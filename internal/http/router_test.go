package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger-backend/internal/auth"
	"ledger-backend/internal/config"
	"ledger-backend/internal/handlers"
	"ledger-backend/internal/health"
	"ledger-backend/internal/middleware"
	"ledger-backend/internal/models"
	"ledger-backend/internal/repositories/memory"
	"ledger-backend/internal/services"
	"ledger-backend/internal/timeutil"
	"ledger-backend/pkg/utils"
)

const webhookSecret = "whsec_router"

type testServer struct {
	router *mux.Router
	jwt    *auth.JWTManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	zone := timeutil.NewZone("Asia/Riyadh")

	ledgerStore := memory.NewLedgerStore()
	directory := memory.NewDirectory()
	mappings := memory.NewMappingStore()
	snapshots := memory.NewSnapshotStore()

	audit := services.NewAuditService(memory.NewAuditStore(), logger, 0)
	ledger := services.NewLedgerService(ledgerStore, audit, logger, "SAR", 5)
	renewals := services.NewRenewalService(memory.NewExtensionStore(), directory, mappings, ledger, audit, zone, services.RenewalConfig{
		MaxRenewals:   3,
		WindowDays:    60,
		DefaultMonths: 12,
	}, logger)
	webhooks := services.NewWebhookService(ledger, renewals, directory, audit, webhookSecret, "moyasar", logger)
	occupancy := services.NewOccupancyService(directory, directory, mappings, mappings, snapshots, audit, zone, services.OccupancyConfig{
		CalendarTimeout: time.Second,
		ICalStaleAfter:  time.Hour,
		Concurrency:     2,
	}, logger)
	kpis := services.NewKPIService(ledgerStore, directory, snapshots, zone, "SAR", logger)

	cfg := &config.Config{}
	cfg.JWT.Secret = "router-test-secret"
	cfg.JWT.Issuer = "ledger-backend"
	jwtManager := auth.NewJWTManager(cfg)

	router := NewRouter(Handlers{
		Ledger:    handlers.NewLedgerHandler(ledger, services.NewInvoiceRenderer(ledger, zone, "Test Co"), zone, logger),
		KPI:       handlers.NewKPIHandler(kpis, logger),
		Renewal:   handlers.NewRenewalHandler(renewals, logger),
		Occupancy: handlers.NewOccupancyHandler(occupancy, zone, logger),
		Webhook:   handlers.NewWebhookHandler(webhooks, "", "moyasar", 0, logger),
		Audit:     handlers.NewAuditHandler(audit, zone, logger),
		Health:    handlers.NewHealthHandler(health.NewHealthChecker()),
	}, middleware.NewAuthMiddleware(jwtManager))

	return &testServer{router: router, jwt: jwtManager}
}

func (s *testServer) token(t *testing.T, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(models.Actor{ID: "u-" + role, Name: role, Role: role})
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, role))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body utils.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func (s *testServer) createEntry(t *testing.T) models.CreateLedgerEntryResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/ledger", auth.RoleOperator, models.CreateLedgerEntryRequest{
		Type:      models.LedgerEntryTypeRent,
		Direction: models.DirectionIn,
		Amount:    "750.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.CreateLedgerEntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/ready", "", nil).Code)
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t)
	create := models.CreateLedgerEntryRequest{Type: models.LedgerEntryTypeRent, Direction: models.DirectionIn, Amount: "10"}

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		body   any
		want   int
	}{
		{name: "no token", method: http.MethodGet, path: "/api/ledger", want: http.StatusUnauthorized},
		{name: "viewer reads", method: http.MethodGet, path: "/api/ledger", role: auth.RoleViewer, want: http.StatusOK},
		{name: "viewer cannot create", method: http.MethodPost, path: "/api/ledger", role: auth.RoleViewer, body: create, want: http.StatusForbidden},
		{name: "operator cannot transition", method: http.MethodPost, path: "/api/ledger/x/status", role: auth.RoleOperator, body: map[string]string{"status": "VOID"}, want: http.StatusForbidden},
		{name: "operator cannot read audit", method: http.MethodGet, path: "/api/audit-logs", role: auth.RoleOperator, want: http.StatusForbidden},
		{name: "admin reads audit", method: http.MethodGet, path: "/api/audit-logs", role: auth.RoleAdmin, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.role, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestLedgerErrorMapping(t *testing.T) {
	s := newTestServer(t)
	created := s.createEntry(t)
	assert.Regexp(t, `^RNT-\d{4}-[0-9A-F]{6}$`, created.InvoiceNumber)

	rec := s.do(t, http.MethodGet, "/api/ledger/"+created.ID, auth.RoleViewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry models.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, models.LedgerStatusDue, entry.Status)
	assert.Equal(t, "SAR", entry.Currency)

	rec = s.do(t, http.MethodGet, "/api/ledger/missing", auth.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/api/ledger", auth.RoleOperator, models.CreateLedgerEntryRequest{
		Type: models.LedgerEntryTypeRent, Direction: models.DirectionIn, Amount: "-5",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", errorCode(t, rec))

	status := "/api/ledger/" + created.ID + "/status"
	rec = s.do(t, http.MethodPost, status, auth.RoleAdmin, models.TransitionRequest{Status: models.LedgerStatusPaid})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "WEBHOOK_REQUIRED", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, status, auth.RoleAdmin, models.TransitionRequest{Status: models.LedgerStatusVoid})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, status, auth.RoleAdmin, models.TransitionRequest{Status: models.LedgerStatusDue})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TERMINAL_STATUS", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/api/ledger?limit=abc", auth.RoleViewer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentWebhook(t *testing.T) {
	s := newTestServer(t)
	created := s.createEntry(t)

	provider, reference := "moyasar", "pay_router"
	rec := s.do(t, http.MethodPost, "/api/ledger/"+created.ID+"/status", auth.RoleAdmin, models.TransitionRequest{
		Status: models.LedgerStatusPending,
		TransitionExtras: models.TransitionExtras{
			ProviderName:      &provider,
			ProviderReference: &reference,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := []byte(`{"provider_reference":"pay_router","status":"paid","amount":"750.00","currency":"SAR"}`)
	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payments", bytes.NewReader(body))
		req.Header.Set("X-Signature", signature)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	bad := send(services.Sign("wrong", body))
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
	assert.Equal(t, "INVALID_SIGNATURE", errorCode(t, bad))

	ok := send(services.Sign(webhookSecret, body))
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	var result models.WebhookResult
	require.NoError(t, json.Unmarshal(ok.Body.Bytes(), &result))
	assert.Equal(t, models.WebhookOutcomeApplied, result.Outcome)

	again := send(services.Sign(webhookSecret, body))
	require.Equal(t, http.StatusOK, again.Code)
	require.NoError(t, json.Unmarshal(again.Body.Bytes(), &result))
	assert.Equal(t, models.WebhookOutcomeDuplicate, result.Outcome)

	rec = s.do(t, http.MethodGet, "/api/ledger/"+created.ID, auth.RoleViewer, nil)
	var entry models.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, models.LedgerStatusPaid, entry.Status)

	rec = s.do(t, http.MethodGet, "/api/ledger/"+created.ID+"/invoice.pdf", auth.RoleViewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestRenewalEligibilityUnknownBooking(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/renewals/eligibility/nope", auth.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKPIEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.createEntry(t)

	rec := s.do(t, http.MethodGet, "/api/kpis", auth.RoleViewer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report models.KPIReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "750", report.OutstandingBalance.String())

	rec = s.do(t, http.MethodGet, "/api/kpis/occupancy", auth.RoleViewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
