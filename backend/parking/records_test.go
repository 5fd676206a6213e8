package parking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkngo/backend/store"
)

func newTestRecords(t *testing.T) *Records {
	t.Helper()
	return NewRecords(store.NewMemory())
}

func seedSession(t *testing.T, r *Records, s Session) string {
	t.Helper()
	id, err := r.CreateSession(context.Background(), s)
	require.NoError(t, err)
	return id
}

func TestCreateAndReadSession(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	id := seedSession(t, r, Session{
		VehicleID:          "AB123CD",
		SlotID:             "lot1/slot42",
		StartTS:            1000,
		Status:             StatusPending,
		RatePerMinCents:    10,
		EscrowDepositCents: 500,
	})

	got, err := r.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "AB123CD", got.VehicleID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, int64(500), got.EscrowDepositCents)
}

func TestActiveSessionForVehicle(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	_, err := r.ActiveSessionForVehicle(ctx, "AB123CD")
	assert.ErrorIs(t, err, store.ErrNotFound)

	id := seedSession(t, r, Session{VehicleID: "AB123CD", Status: StatusActive})
	seedSession(t, r, Session{VehicleID: "AB123CD", Status: StatusEnded})
	seedSession(t, r, Session{VehicleID: "XY999ZZ", Status: StatusActive})

	live, err := r.ActiveSessionForVehicle(ctx, "AB123CD")
	require.NoError(t, err)
	assert.Equal(t, id, live.ID)
}

func TestSessionsByStatus(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	seedSession(t, r, Session{VehicleID: "v1", Status: StatusActive})
	seedSession(t, r, Session{VehicleID: "v2", Status: StatusEnding})
	seedSession(t, r, Session{VehicleID: "v3", Status: StatusEnded})
	seedSession(t, r, Session{VehicleID: "v4", Status: StatusPending})

	metered, err := r.SessionsByStatus(ctx, StatusActive, StatusEnding)
	require.NoError(t, err)
	assert.Len(t, metered, 2)
}

func TestMarkEnding(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	id := seedSession(t, r, Session{VehicleID: "v1", Status: StatusActive})
	require.NoError(t, r.MarkEnding(ctx, id, "ev-exit"))

	got, err := r.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusEnding, got.Status)
	assert.Equal(t, "ev-exit", got.ExitEventID)

	// a second exit scan must not regress or double-flip
	err = r.MarkEnding(ctx, id, "ev-exit-2")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAttachPaymentAndActivate(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	id := seedSession(t, r, Session{VehicleID: "v1", Status: StatusPending})
	require.NoError(t, r.CreatePayment(ctx, "pay-1", Payment{SessionID: id}))
	require.NoError(t, r.AttachPayment(ctx, id, "pay-1"))

	got, err := r.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingFunding, got.Status)
	assert.Equal(t, "pay-1", got.PaymentID)

	require.NoError(t, r.ActivateSession(ctx, id, 2000))
	got, err = r.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, int64(2000), got.LastTickTS)

	// attaching again from active is a state violation
	assert.ErrorIs(t, r.AttachPayment(ctx, id, "pay-2"), ErrInvalidState)
}

func TestMarkFundedAndUnfundedPayments(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	require.NoError(t, r.CreatePayment(ctx, "pay-1", Payment{SessionID: "s1"}))
	require.NoError(t, r.CreatePayment(ctx, "pay-2", Payment{SessionID: "s2"}))

	unfunded, err := r.UnfundedPayments(ctx)
	require.NoError(t, err)
	assert.Len(t, unfunded, 2)

	require.NoError(t, r.MarkFunded(ctx, "pay-1", "FundsLocked"))

	unfunded, err = r.UnfundedPayments(ctx)
	require.NoError(t, err)
	require.Len(t, unfunded, 1)
	assert.Equal(t, "pay-2", unfunded[0].ID)

	payment, err := r.Payment(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, payment.Funded)
	assert.Equal(t, "FundsLocked", payment.LastGatewayStatus)
}

func TestUpdateMeterIsMonotonic(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	id := seedSession(t, r, Session{
		VehicleID:          "v1",
		Status:             StatusActive,
		AccruedCents:       200,
		ReleasedCents:      100,
		EscrowDepositCents: 500,
	})

	// a lower accrual never shrinks the counter
	require.NoError(t, r.UpdateMeter(ctx, id, 150, 3000))
	got, err := r.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.AccruedCents)
	assert.Equal(t, int64(3000), got.LastTickTS)

	require.NoError(t, r.UpdateMeter(ctx, id, 300, 3060))
	got, err = r.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.AccruedCents)
	assert.Equal(t, 60.0, got.PercentEscrowUsed)
	assert.Equal(t, 33.33, got.PercentPaidOfAccrued)
}

func TestApplyRelease(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	id := seedSession(t, r, Session{
		VehicleID:          "v1",
		Status:             StatusActive,
		AccruedCents:       105,
		EscrowDepositCents: 500,
	})

	require.NoError(t, r.ApplyRelease(ctx, id, 105))

	got, err := r.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(105), got.ReleasedCents)
	assert.Equal(t, 21.0, got.PercentEscrowUsed)
	assert.Equal(t, 100.0, got.PercentPaidOfAccrued)
}

func TestReleaseAuditTrail(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	_, err := r.AppendRelease(ctx, "pay-1", Release{
		AmountCents:    105,
		TxHash:         "tx-abc",
		TS:             5000,
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	found, err := r.FindReleaseByKey(ctx, "pay-1", "key-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "tx-abc", found.TxHash)
	assert.Equal(t, int64(105), found.AmountCents)

	missing, err := r.FindReleaseByKey(ctx, "pay-1", "key-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFinalizeSession(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	id := seedSession(t, r, Session{VehicleID: "v1", Status: StatusEnding})
	require.NoError(t, r.FinalizeSession(ctx, id, 9000))

	got, err := r.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)
	assert.Equal(t, int64(9000), got.EndTS)

	// finalizing twice is a state violation
	assert.ErrorIs(t, r.FinalizeSession(ctx, id, 9060), ErrInvalidState)
}

func TestEventStamping(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	eventID, err := r.AppendEvent(ctx, ScanEvent{Type: "entry", VehicleID: "v1", TS: 1000})
	require.NoError(t, err)

	require.NoError(t, r.SetEventSessionCreated(ctx, eventID, "sess-1"))
	require.NoError(t, r.SetEventSessionClosed(ctx, eventID, "sess-1"))

	listed, err := r.store.List(ctx, "events")
	require.NoError(t, err)
	require.Len(t, listed, 1)
}
