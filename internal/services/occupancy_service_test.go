package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/calendar"
	"ledger-backend/internal/models"
	"ledger-backend/internal/repositories/memory"
)

// fakePMS answers per external room id; rooms missing from the map fail
type fakePMS struct {
	booked map[string]bool
	calls  atomic.Int32
}

func (f *fakePMS) DayStatus(_ context.Context, mapping *models.UnitExternalMapping, _ time.Time) (bool, string, error) {
	f.calls.Add(1)
	booked, ok := f.booked[*mapping.ExternalRoomID]
	if !ok {
		return false, "", errors.New("pms: connection refused")
	}
	return booked, "", nil
}

// flakyBookings fails lookups for one unit
type flakyBookings struct {
	*memory.Directory
	failUnit string
}

func (f flakyBookings) FindCovering(ctx context.Context, unitID string, day time.Time) (*models.Booking, error) {
	if unitID == f.failUnit {
		return nil, errors.New("connection reset")
	}
	return f.Directory.FindCovering(ctx, unitID, day)
}

const feedBody = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//channel//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:res-1@channel\r\n" +
	"DTSTART;VALUE=DATE:20260314\r\n" +
	"DTEND;VALUE=DATE:20260317\r\n" +
	"SUMMARY:Reserved\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:res-2@channel\r\n" +
	"DTSTART;VALUE=DATE:20260401\r\n" +
	"DTEND;VALUE=DATE:20260405\r\n" +
	"STATUS:CANCELLED\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func rentable(id, building string) *models.Unit {
	return &models.Unit{
		ID:              id,
		BuildingID:      building,
		UnitNumber:      id,
		Status:          models.UnitStatusAvailable,
		MonthlyBaseRent: dec("1000"),
		Active:          true,
	}
}

func localBooking(id, unitID string) *models.Booking {
	return &models.Booking{
		ID:        id,
		UnitID:    unitID,
		Status:    models.BookingStatusActive,
		StartDate: date(2026, 3, 1),
		EndDate:   date(2026, 4, 1),
	}
}

func apiMapping(unitID, room string, source models.SourceOfTruth) *models.UnitExternalMapping {
	return &models.UnitExternalMapping{
		UnitID:             unitID,
		ConnectionStyle:    models.ConnectionStyleAPI,
		SourceOfTruth:      source,
		ExternalPropertyID: ptr("prop-1"),
		ExternalRoomID:     ptr(room),
	}
}

func (e *testEnv) putMapping(t *testing.T, m *models.UnitExternalMapping) {
	t.Helper()
	_, err := e.mappings.Upsert(context.Background(), m)
	require.NoError(t, err)
}

func feedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateDailySnapshot(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()

	env.directory.PutUnit(rentable("u-local", "b1"))
	env.directory.PutUnit(rentable("u-vacant", "b1"))
	env.directory.PutUnit(rentable("u-down", "b1"))
	env.directory.PutUnit(rentable("u-pms", "b1"))
	maint := rentable("u-maint", "b1")
	maint.Status = models.UnitStatusMaintenance
	env.directory.PutUnit(maint)
	env.directory.PutBooking(localBooking("bk-1", "u-local"))

	env.putMapping(t, apiMapping("u-down", "room-down", models.SourceOfTruthExternalPMS))
	env.putMapping(t, apiMapping("u-pms", "room-ok", models.SourceOfTruthExternalPMS))
	env.occupancy.SetPMSClient(&fakePMS{booked: map[string]bool{"room-ok": true}})

	res, err := env.occupancy.GenerateDailySnapshot(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", res.Date)
	assert.Equal(t, 5, res.Units)
	assert.Equal(t, 5, res.Written)
	assert.Equal(t, 2, res.Occupied)
	assert.Equal(t, 1, res.Unknown)

	day := date(2026, 3, 15)
	tests := []struct {
		unit      string
		occupied  bool
		source    models.OccupancySource
		available bool
	}{
		{unit: "u-local", occupied: true, source: models.OccupancySourceLocal, available: true},
		{unit: "u-vacant", occupied: false, source: models.OccupancySourceLocal, available: true},
		{unit: "u-down", occupied: false, source: models.OccupancySourceUnknown, available: true},
		{unit: "u-pms", occupied: true, source: models.OccupancySourceExternalPMS, available: true},
		{unit: "u-maint", occupied: false, source: models.OccupancySourceLocal, available: false},
	}
	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			snap, err := env.snapshots.Get(ctx, tt.unit, day)
			require.NoError(t, err)
			assert.Equal(t, tt.occupied, snap.Occupied)
			assert.Equal(t, tt.source, snap.Source)
			assert.Equal(t, tt.available, snap.Available)
			assert.Equal(t, "b1", snap.BuildingID)
		})
	}

	local, err := env.snapshots.Get(ctx, "u-local", day)
	require.NoError(t, err)
	require.NotNil(t, local.BookingID)
	assert.Equal(t, "bk-1", *local.BookingID)
}

func TestSnapshotOverwriteRules(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutUnit(rentable("u-1", "b1"))

	yesterday := fixedNow.AddDate(0, 0, -1)
	res, err := env.occupancy.GenerateDailySnapshot(ctx, &yesterday)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)

	res, err = env.occupancy.GenerateDailySnapshot(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)

	env.directory.PutBooking(localBooking("bk-1", "u-1"))

	// Past days are history and keep their first row
	res, err = env.occupancy.GenerateDailySnapshot(ctx, &yesterday)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Written)
	assert.Equal(t, 1, res.Skipped)
	past, err := env.snapshots.Get(ctx, "u-1", date(2026, 3, 14))
	require.NoError(t, err)
	assert.False(t, past.Occupied)

	// Today is recomputed
	res, err = env.occupancy.GenerateDailySnapshot(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	today, err := env.snapshots.Get(ctx, "u-1", date(2026, 3, 15))
	require.NoError(t, err)
	assert.True(t, today.Occupied)
}

func TestSnapshotPartialFailure(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutUnit(rentable("u-ok", "b1"))
	env.directory.PutUnit(rentable("u-bad", "b1"))

	svc := NewOccupancyService(env.directory, flakyBookings{Directory: env.directory, failUnit: "u-bad"},
		env.mappings, env.mappings, env.snapshots, env.audit, env.zone, OccupancyConfig{}, zap.NewNop())

	res, err := svc.GenerateDailySnapshot(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "u-bad")
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Written)

	_, err = env.snapshots.Get(ctx, "u-ok", date(2026, 3, 15))
	assert.NoError(t, err)
	_, err = env.snapshots.Get(ctx, "u-bad", date(2026, 3, 15))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestIsUnitOccupiedFailsClosed(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutUnit(rentable("u-1", "b1"))
	env.putMapping(t, apiMapping("u-1", "room-down", models.SourceOfTruthExternalPMS))
	pms := &fakePMS{booked: map[string]bool{}}
	env.occupancy.SetPMSClient(pms)

	got, err := env.occupancy.IsUnitOccupied(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.OccupancySourceUnknown, got.Source)
	assert.False(t, got.Occupied)
	assert.False(t, got.Bookable)
	assert.Equal(t, int32(1), pms.calls.Load())

	// A local booking still answers when the PMS is down
	env.directory.PutBooking(localBooking("bk-1", "u-1"))
	got, err = env.occupancy.IsUnitOccupied(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.OccupancySourceLocal, got.Source)
	assert.True(t, got.Occupied)
	assert.False(t, got.Bookable)
}

func TestIsUnitOccupiedWithoutPMSClient(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	env.directory.PutUnit(rentable("u-1", "b1"))
	env.putMapping(t, apiMapping("u-1", "room-1", models.SourceOfTruthExternalPMS))

	got, err := env.occupancy.IsUnitOccupied(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.OccupancySourceUnknown, got.Source)
	assert.False(t, got.Bookable)
}

func TestIsUnitOccupiedExternalWinsOverLocal(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	env.directory.PutUnit(rentable("u-1", "b1"))
	env.directory.PutBooking(localBooking("bk-1", "u-1"))
	env.putMapping(t, apiMapping("u-1", "room-1", models.SourceOfTruthExternalPMS))
	env.occupancy.SetPMSClient(&fakePMS{booked: map[string]bool{"room-1": false}})

	got, err := env.occupancy.IsUnitOccupied(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.OccupancySourceExternalPMS, got.Source)
	assert.False(t, got.Occupied)
	assert.True(t, got.Bookable)
}

func TestIsUnitOccupiedUnavailableUnit(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	unit := rentable("u-1", "b1")
	unit.Status = models.UnitStatusOffMarket
	env.directory.PutUnit(unit)

	got, err := env.occupancy.IsUnitOccupied(context.Background(), "u-1")
	require.NoError(t, err)
	assert.False(t, got.Occupied)
	assert.False(t, got.Bookable)

	_, err = env.occupancy.IsUnitOccupied(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSyncICalUnit(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	srv := feedServer(t, http.StatusOK, feedBody)
	env.occupancy.SetFeedFetcher(calendar.NewFeedFetcher(srv.Client(), calendar.RetryConfig{Timeout: time.Second}))

	env.directory.PutUnit(rentable("u-1", "b1"))
	env.putMapping(t, &models.UnitExternalMapping{
		UnitID:          "u-1",
		ConnectionStyle: models.ConnectionStyleICal,
		SourceOfTruth:   models.SourceOfTruthExternalPMS,
		ICalImportURL:   ptr(srv.URL + "/feed.ics"),
	})

	// Never synced: the feed cannot be trusted yet
	got, err := env.occupancy.IsUnitOccupied(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.OccupancySourceUnknown, got.Source)

	outcome, err := env.occupancy.SyncICalUnit(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, outcome.Status)
	assert.Equal(t, 1, outcome.BlocksCount)

	mapping, err := env.occupancy.GetMapping(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, mapping.LastSyncStatus)
	assert.Equal(t, models.SyncStatusSuccess, *mapping.LastSyncStatus)

	got, err = env.occupancy.IsUnitOccupied(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.OccupancySourceExternalPMS, got.Source)
	assert.True(t, got.Occupied)
}

func TestSyncICalUnitFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	srv := feedServer(t, http.StatusNotFound, "gone")
	env.occupancy.SetFeedFetcher(calendar.NewFeedFetcher(srv.Client(), calendar.RetryConfig{Timeout: time.Second}))

	env.directory.PutUnit(rentable("u-1", "b1"))
	env.putMapping(t, &models.UnitExternalMapping{
		UnitID:          "u-1",
		ConnectionStyle: models.ConnectionStyleICal,
		SourceOfTruth:   models.SourceOfTruthLocal,
		ICalImportURL:   ptr(srv.URL),
	})

	outcome, err := env.occupancy.SyncICalUnit(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "404")

	mapping, err := env.occupancy.GetMapping(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, *mapping.LastSyncStatus)
	require.NotNil(t, mapping.LastSyncError)

	_, err = env.occupancy.SyncICalUnit(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSyncAllICalUnitsContinuesPastFailures(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	good := feedServer(t, http.StatusOK, feedBody)
	bad := feedServer(t, http.StatusOK, "not a calendar")
	env.occupancy.SetFeedFetcher(calendar.NewFeedFetcher(http.DefaultClient, calendar.RetryConfig{Timeout: time.Second}))

	for _, id := range []string{"u-1", "u-2"} {
		env.directory.PutUnit(rentable(id, "b1"))
	}
	env.putMapping(t, &models.UnitExternalMapping{UnitID: "u-1", ConnectionStyle: models.ConnectionStyleICal, SourceOfTruth: models.SourceOfTruthLocal, ICalImportURL: ptr(good.URL)})
	env.putMapping(t, &models.UnitExternalMapping{UnitID: "u-2", ConnectionStyle: models.ConnectionStyleICal, SourceOfTruth: models.SourceOfTruthLocal, ICalImportURL: ptr(bad.URL)})
	env.putMapping(t, apiMapping("u-3", "room-3", models.SourceOfTruthLocal))

	outcomes, err := env.occupancy.SyncAllICalUnits(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	byUnit := map[string]models.SyncStatus{}
	for _, o := range outcomes {
		byUnit[o.UnitID] = o.Status
	}
	assert.Equal(t, models.SyncStatusSuccess, byUnit["u-1"])
	assert.Equal(t, models.SyncStatusFailed, byUnit["u-2"])

	// Local stays authoritative but the fresh feed still marks the stay
	got, err := env.occupancy.IsUnitOccupied(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, got.Occupied)
	assert.Equal(t, models.OccupancySourceExternalPMS, got.Source)

	// A broken feed cannot vouch for vacancy
	got, err = env.occupancy.IsUnitOccupied(ctx, "u-2")
	require.NoError(t, err)
	assert.False(t, got.Occupied)
	assert.Equal(t, models.OccupancySourceUnknown, got.Source)
	assert.False(t, got.Bookable)
}

func TestStaleFeedIsIgnored(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutUnit(rentable("u-1", "b1"))
	env.putMapping(t, &models.UnitExternalMapping{
		UnitID:          "u-1",
		ConnectionStyle: models.ConnectionStyleICal,
		SourceOfTruth:   models.SourceOfTruthExternalPMS,
		ICalImportURL:   ptr("https://channel.example/feed.ics"),
	})
	require.NoError(t, env.mappings.ReplaceBlocks(ctx, "u-1", []models.CalendarBlock{{
		UnitID: "u-1",
		UID:    "res-1",
		Start:  env.zone.Today().AddDate(0, 0, -1),
		End:    env.zone.Today().AddDate(0, 0, 2),
	}}))
	require.NoError(t, env.mappings.UpdateSyncStatus(ctx, "u-1", models.SyncResult{
		Status: models.SyncStatusSuccess,
		At:     fixedNow.Add(-3 * time.Hour),
	}))

	got, err := env.occupancy.IsUnitOccupied(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.OccupancySourceUnknown, got.Source)

	require.NoError(t, env.mappings.UpdateSyncStatus(ctx, "u-1", models.SyncResult{
		Status: models.SyncStatusSuccess,
		At:     fixedNow.Add(-time.Hour),
	}))
	got, err = env.occupancy.IsUnitOccupied(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.OccupancySourceExternalPMS, got.Source)
	assert.True(t, got.Occupied)
}

func TestLocalSourceMappingFailsClosed(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutUnit(rentable("u-ical", "b1"))
	env.directory.PutUnit(rentable("u-api", "b1"))
	env.directory.PutUnit(rentable("u-quiet", "b1"))
	env.directory.PutUnit(rentable("u-stay", "b1"))
	env.directory.PutBooking(localBooking("bk-1", "u-stay"))

	for _, id := range []string{"u-ical", "u-quiet", "u-stay"} {
		env.putMapping(t, &models.UnitExternalMapping{
			UnitID:          id,
			ConnectionStyle: models.ConnectionStyleICal,
			SourceOfTruth:   models.SourceOfTruthLocal,
			ICalImportURL:   ptr("https://channel.example/" + id + ".ics"),
		})
	}
	require.NoError(t, env.mappings.UpdateSyncStatus(ctx, "u-ical", models.SyncResult{
		Status: models.SyncStatusFailed,
		Error:  "i/o timeout",
		At:     fixedNow.Add(-time.Minute),
	}))
	require.NoError(t, env.mappings.UpdateSyncStatus(ctx, "u-quiet", models.SyncResult{
		Status: models.SyncStatusSuccess,
		At:     fixedNow.Add(-time.Minute),
	}))
	env.putMapping(t, apiMapping("u-api", "room-down", models.SourceOfTruthLocal))
	pms := &fakePMS{booked: map[string]bool{}}
	env.occupancy.SetPMSClient(pms)

	tests := []struct {
		unit     string
		source   models.OccupancySource
		occupied bool
		bookable bool
	}{
		{unit: "u-ical", source: models.OccupancySourceUnknown},
		{unit: "u-api", source: models.OccupancySourceUnknown},
		{unit: "u-quiet", source: models.OccupancySourceLocal, bookable: true},
		{unit: "u-stay", source: models.OccupancySourceLocal, occupied: true},
	}
	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			got, err := env.occupancy.IsUnitOccupied(ctx, tt.unit)
			require.NoError(t, err)
			assert.Equal(t, tt.source, got.Source)
			assert.Equal(t, tt.occupied, got.Occupied)
			assert.Equal(t, tt.bookable, got.Bookable)
		})
	}
	assert.Equal(t, int32(1), pms.calls.Load(), "local-source API units still ask the PMS")

	res, err := env.occupancy.GenerateDailySnapshot(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unknown)
	assert.Equal(t, 1, res.Occupied)
}

func TestBuildMappingValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     models.UpsertMappingRequest
		style   models.ConnectionStyle
		wantErr bool
	}{
		{
			name:  "api",
			req:   models.UpsertMappingRequest{ExternalPropertyID: ptr("p-1"), ExternalRoomID: ptr("r-1")},
			style: models.ConnectionStyleAPI,
		},
		{
			name:  "ical",
			req:   models.UpsertMappingRequest{ICalImportURL: ptr("https://airbnb.example/cal.ics"), ICalExportURL: ptr("webcal://host.example/u.ics")},
			style: models.ConnectionStyleICal,
		},
		{name: "neither", req: models.UpsertMappingRequest{}, wantErr: true},
		{name: "blank values", req: models.UpsertMappingRequest{ExternalPropertyID: ptr("  ")}, wantErr: true},
		{
			name:    "both",
			req:     models.UpsertMappingRequest{ExternalPropertyID: ptr("p-1"), ICalImportURL: ptr("https://a.example/c.ics")},
			wantErr: true,
		},
		{
			name:    "room id on ical",
			req:     models.UpsertMappingRequest{ExternalRoomID: ptr("r-1"), ICalImportURL: ptr("https://a.example/c.ics")},
			wantErr: true,
		},
		{
			name:    "export url on api",
			req:     models.UpsertMappingRequest{ExternalPropertyID: ptr("p-1"), ICalExportURL: ptr("https://a.example/c.ics")},
			wantErr: true,
		},
		{name: "relative url", req: models.UpsertMappingRequest{ICalImportURL: ptr("/cal.ics")}, wantErr: true},
		{name: "ftp url", req: models.UpsertMappingRequest{ICalImportURL: ptr("ftp://a.example/c.ics")}, wantErr: true},
		{
			name:    "bad source",
			req:     models.UpsertMappingRequest{SourceOfTruth: "CHANNEL", ExternalPropertyID: ptr("p-1")},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := buildMapping("u-1", tt.req)
			if tt.wantErr {
				assert.True(t, apperrors.IsValidation(err), "expected validation error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.style, m.ConnectionStyle)
			assert.Equal(t, models.SourceOfTruthLocal, m.SourceOfTruth)
		})
	}
}

func TestUpsertMapping(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutUnit(rentable("u-1", "b1"))

	created, err := env.occupancy.UpsertMapping(ctx, admin, "u-1", models.UpsertMappingRequest{
		SourceOfTruth:      models.SourceOfTruthExternalPMS,
		ExternalPropertyID: ptr("p-1"),
		ExternalRoomID:     ptr("r-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionStyleAPI, created.ConnectionStyle)

	updated, err := env.occupancy.UpsertMapping(ctx, admin, "u-1", models.UpsertMappingRequest{
		SourceOfTruth:      models.SourceOfTruthLocal,
		ExternalPropertyID: ptr("p-1"),
		ExternalRoomID:     ptr("r-2"),
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "r-2", *updated.ExternalRoomID)

	_, err = env.occupancy.UpsertMapping(ctx, admin, "u-1", models.UpsertMappingRequest{
		ICalImportURL: ptr("https://airbnb.example/cal.ics"),
	})
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, apperrors.ReasonMappingTypeMismatch, apperrors.ReasonOf(err))

	_, err = env.occupancy.UpsertMapping(ctx, admin, "missing", models.UpsertMappingRequest{ExternalPropertyID: ptr("p-1")})
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, env.occupancy.DeleteMapping(ctx, admin, "u-1"))
	_, err = env.occupancy.GetMapping(ctx, "u-1")
	assert.True(t, apperrors.IsNotFound(err))

	// Switching style works once the old mapping is gone
	switched, err := env.occupancy.UpsertMapping(ctx, admin, "u-1", models.UpsertMappingRequest{
		ICalImportURL: ptr("https://airbnb.example/cal.ics"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionStyleICal, switched.ConnectionStyle)

	actions := env.auditActions(t, created.ID)
	assert.ElementsMatch(t, []string{models.AuditActionCreate, models.AuditActionUpdate, models.AuditActionDelete}, actions)

	list, err := env.occupancy.ListMappings(ctx, models.ConnectionStyleICal)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = env.occupancy.ListMappings(ctx, "SMOKE")
	assert.True(t, apperrors.IsValidation(err))
}

func TestExportFeed(t *testing.T) {
	env := newTestEnv(t, fixedNow)
	ctx := context.Background()
	env.directory.PutUnit(rentable("u-1", "b1"))
	env.directory.PutBooking(localBooking("bk-1", "u-1"))
	cancelled := localBooking("bk-2", "u-1")
	cancelled.Status = models.BookingStatusCancelled
	env.directory.PutBooking(cancelled)

	feed, err := env.occupancy.ExportFeed(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(feed, "BEGIN:VCALENDAR"))
	assert.Contains(t, feed, "bk-1@ledger-backend")
	assert.NotContains(t, feed, "bk-2@ledger-backend")
	assert.NotContains(t, feed, "Omar")

	blocks, err := calendar.ParseBlocks("u-1", []byte(feed), env.zone.Loc)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}
