package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkngo/backend/parking"
	"parkngo/backend/store"
)

func newTestService(t *testing.T) (*IngestService, *parking.Records) {
	t.Helper()
	records := parking.NewRecords(store.NewMemory())
	svc := NewIngestService(records, parking.Tariff{}, zap.NewNop())
	svc.now = func() time.Time { return time.Unix(10_000, 0) }
	return svc, records
}

func TestEntryCreatesPendingSession(t *testing.T) {
	ctx := context.Background()
	svc, records := newTestService(t)

	sessionID, err := svc.HandleScan(ctx, ScanInput{
		Type:      EventEntry,
		VehicleID: "AB123CD",
		SlotID:    "lot1/slot42",
		ScannerID: "scanner-1",
		TS:        9000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	session, err := records.Session(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, parking.StatusPending, session.Status)
	assert.Equal(t, "AB123CD", session.VehicleID)
	assert.Equal(t, int64(9000), session.StartTS)
	assert.Equal(t, int64(10), session.RatePerMinCents, "tariff default applies")
	assert.Equal(t, int64(500), session.EscrowDepositCents, "tariff default applies")
	assert.Zero(t, session.AccruedCents)
	assert.Zero(t, session.ReleasedCents)
	assert.NotEmpty(t, session.EntryEventID)

	vehicle, err := records.Vehicle(ctx, "AB123CD")
	require.NoError(t, err)
	assert.Equal(t, int64(1), vehicle.SessionCount)
	assert.Equal(t, sessionID, vehicle.LastSessionID)
}

func TestEntryHonorsScannerOverrides(t *testing.T) {
	ctx := context.Background()
	svc, records := newTestService(t)

	sessionID, err := svc.HandleScan(ctx, ScanInput{
		Type:               EventEntry,
		VehicleID:          "AB123CD",
		TS:                 9000,
		RatePerMinCents:    15,
		EscrowDepositCents: 800,
	})
	require.NoError(t, err)

	session, err := records.Session(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), session.RatePerMinCents)
	assert.Equal(t, int64(800), session.EscrowDepositCents)
}

func TestDuplicateEntryRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.HandleScan(ctx, ScanInput{Type: EventEntry, VehicleID: "AB123CD", TS: 9000})
	require.NoError(t, err)

	_, err = svc.HandleScan(ctx, ScanInput{Type: EventEntry, VehicleID: "AB123CD", TS: 9100})
	assert.ErrorIs(t, err, parking.ErrConflict)
}

func TestExitFlipsSessionToEnding(t *testing.T) {
	ctx := context.Background()
	svc, records := newTestService(t)

	sessionID, err := svc.HandleScan(ctx, ScanInput{Type: EventEntry, VehicleID: "AB123CD", TS: 9000})
	require.NoError(t, err)

	closedID, err := svc.HandleScan(ctx, ScanInput{Type: EventExit, VehicleID: "AB123CD", TS: 9600})
	require.NoError(t, err)
	assert.Equal(t, sessionID, closedID)

	session, err := records.Session(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, parking.StatusEnding, session.Status)
	assert.NotEmpty(t, session.ExitEventID)
}

func TestReplayedExitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, records := newTestService(t)

	sessionID, err := svc.HandleScan(ctx, ScanInput{Type: EventEntry, VehicleID: "AB123CD", TS: 9000})
	require.NoError(t, err)
	_, err = svc.HandleScan(ctx, ScanInput{Type: EventExit, VehicleID: "AB123CD", TS: 9600})
	require.NoError(t, err)

	session, err := records.Session(ctx, sessionID)
	require.NoError(t, err)
	firstExitEvent := session.ExitEventID

	replayedID, err := svc.HandleScan(ctx, ScanInput{Type: EventExit, VehicleID: "AB123CD", TS: 9660})
	require.NoError(t, err)
	assert.Equal(t, sessionID, replayedID)

	session, err = records.Session(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, parking.StatusEnding, session.Status)
	assert.Equal(t, firstExitEvent, session.ExitEventID, "replay never rewrites the exit event")
}

func TestExitWithoutSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.HandleScan(ctx, ScanInput{Type: EventExit, VehicleID: "GHOST", TS: 9000})
	assert.ErrorIs(t, err, ErrNoLiveSession)
}

func TestUnknownEventType(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.HandleScan(ctx, ScanInput{Type: "drive-through", VehicleID: "AB123CD"})
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestEntryAfterEndedSessionAllowed(t *testing.T) {
	ctx := context.Background()
	svc, records := newTestService(t)

	firstID, err := svc.HandleScan(ctx, ScanInput{Type: EventEntry, VehicleID: "AB123CD", TS: 9000})
	require.NoError(t, err)
	_, err = svc.HandleScan(ctx, ScanInput{Type: EventExit, VehicleID: "AB123CD", TS: 9600})
	require.NoError(t, err)
	require.NoError(t, records.FinalizeSession(ctx, firstID, 9700))

	secondID, err := svc.HandleScan(ctx, ScanInput{Type: EventEntry, VehicleID: "AB123CD", TS: 9800})
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	vehicle, err := records.Vehicle(ctx, "AB123CD")
	require.NoError(t, err)
	assert.Equal(t, int64(2), vehicle.SessionCount)
}

func TestLiveSessions(t *testing.T) {
	ctx := context.Background()
	svc, records := newTestService(t)

	id, err := svc.HandleScan(ctx, ScanInput{Type: EventEntry, VehicleID: "AB123CD", TS: 9000})
	require.NoError(t, err)

	// pending sessions are not metered yet
	live, err := svc.LiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	require.NoError(t, records.CreatePayment(ctx, "pay-1", parking.Payment{SessionID: id}))
	require.NoError(t, records.AttachPayment(ctx, id, "pay-1"))
	require.NoError(t, records.ActivateSession(ctx, id, 9060))

	live, err = svc.LiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, id, live[0].ID)
}
