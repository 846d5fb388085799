package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger-backend/internal/models"
	"ledger-backend/internal/repositories/memory"
	"ledger-backend/internal/timeutil"
)

const testSecret = "whsec_test"

var staff = models.Actor{ID: "u-1", Name: "Front Desk", Role: "operator"}

// testEnv wires every service over the in-memory stores with a fixed clock
type testEnv struct {
	ledgerStore *memory.LedgerStore
	directory   *memory.Directory
	mappings    *memory.MappingStore
	snapshots   *memory.SnapshotStore
	extensions  *memory.ExtensionStore
	auditStore  *memory.AuditStore

	zone      *timeutil.Zone
	audit     *AuditService
	ledger    *LedgerService
	renewals  *RenewalService
	webhooks  *WebhookService
	occupancy *OccupancyService
	kpis      *KPIService
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	env := &testEnv{
		ledgerStore: memory.NewLedgerStore(),
		directory:   memory.NewDirectory(),
		mappings:    memory.NewMappingStore(),
		snapshots:   memory.NewSnapshotStore(),
		extensions:  memory.NewExtensionStore(),
		auditStore:  memory.NewAuditStore(),
		zone:        timeutil.NewZone("Asia/Riyadh").FixedClock(now),
	}
	env.audit = NewAuditService(env.auditStore, logger, 0)
	env.ledger = NewLedgerService(env.ledgerStore, env.audit, logger, "SAR", 5)
	env.ledger.now = func() time.Time { return now }
	env.renewals = NewRenewalService(env.extensions, env.directory, env.mappings, env.ledger, env.audit, env.zone, RenewalConfig{
		MaxRenewals:   3,
		WindowDays:    60,
		DefaultMonths: 12,
	}, logger)
	env.webhooks = NewWebhookService(env.ledger, env.renewals, env.directory, env.audit, testSecret, "moyasar", logger)
	env.occupancy = NewOccupancyService(env.directory, env.directory, env.mappings, env.mappings, env.snapshots, env.audit, env.zone, OccupancyConfig{
		CalendarTimeout: time.Second,
		ICalStaleAfter:  2 * time.Hour,
		Concurrency:     4,
	}, logger)
	env.kpis = NewKPIService(env.ledgerStore, env.directory, env.snapshots, env.zone, "SAR", logger)
	return env
}

func (e *testEnv) auditActions(t *testing.T, entityID string) []string {
	t.Helper()
	records, _, err := e.auditStore.List(context.Background(), models.AuditFilter{EntityID: entityID, Limit: 100})
	require.NoError(t, err)
	actions := make([]string, 0, len(records))
	for _, r := range records {
		actions = append(actions, r.Action)
	}
	return actions
}

// createEntry creates a DUE entry and returns it
func (e *testEnv) createEntry(t *testing.T, typ models.LedgerEntryType, amount string) *models.LedgerEntry {
	t.Helper()
	ctx := context.Background()
	res, err := e.ledger.Create(ctx, staff, &models.CreateLedgerEntryRequest{
		Type:      typ,
		Direction: models.DirectionIn,
		Amount:    amount,
	})
	require.NoError(t, err)
	entry, err := e.ledger.GetByID(ctx, res.ID)
	require.NoError(t, err)
	return entry
}

// markPending moves an entry to PENDING with a provider reference, the way
// checkout does before redirecting to the provider
func (e *testEnv) markPending(t *testing.T, id, reference string) {
	t.Helper()
	provider := "moyasar"
	_, err := e.ledger.TransitionStatus(context.Background(), staff, id, models.TransitionRequest{
		Status: models.LedgerStatusPending,
		TransitionExtras: models.TransitionExtras{
			ProviderName:      &provider,
			ProviderReference: &reference,
		},
	}, false)
	require.NoError(t, err)
}

// markPaid drives an entry to PAID through the verified path
func (e *testEnv) markPaid(t *testing.T, id string) *models.LedgerEntry {
	t.Helper()
	res, err := e.ledger.TransitionStatus(context.Background(), models.WebhookActor, id,
		models.TransitionRequest{Status: models.LedgerStatusPaid}, true)
	require.NoError(t, err)
	return res.Entry
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}
