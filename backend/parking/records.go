package parking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"parkngo/backend/store"
)

// Persisted layout consumed and produced by the settlement core.
const (
	sessionsCollection = "sessions"
	paymentsCollection = "payments"
	vehiclesCollection = "vehicles"
	eventsCollection   = "events"
)

func sessionPath(id string) string { return sessionsCollection + "/" + id }
func paymentPath(id string) string { return paymentsCollection + "/" + id }
func vehiclePath(id string) string { return vehiclesCollection + "/" + id }
func eventPath(id string) string   { return eventsCollection + "/" + id }

func releasesCollection(paymentID string) string {
	return paymentPath(paymentID) + "/releases"
}

// Records is the typed adapter over the document store. Each mutating method
// touches only the fields owned by one component: the ingest gateway creates
// sessions and flips them to ending, the payment orchestrator owns payment_id
// and the awaiting_funding/active transitions plus released_cents, and the
// metering engine owns accrual, percentages, and the ending→ended transition.
type Records struct {
	store store.Store
}

// NewRecords wraps a document store.
func NewRecords(s store.Store) *Records {
	return &Records{store: s}
}

// Session reads one session by id.
func (r *Records) Session(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.store.Get(ctx, sessionPath(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Payment reads one payment by id.
func (r *Records) Payment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	if err := r.store.Get(ctx, paymentPath(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Vehicle reads one vehicle by plate number.
func (r *Records) Vehicle(ctx context.Context, plate string) (*Vehicle, error) {
	var v Vehicle
	if err := r.store.Get(ctx, vehiclePath(plate), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ActiveSessionForVehicle returns the vehicle's live session, or
// store.ErrNotFound when it has none.
func (r *Records) ActiveSessionForVehicle(ctx context.Context, vehicleID string) (*SessionRecord, error) {
	raw, err := r.store.List(ctx, sessionsCollection)
	if err != nil {
		return nil, err
	}
	for id, data := range raw {
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parking: decode session %s: %w", id, err)
		}
		if s.VehicleID == vehicleID && s.Status.Live() {
			return &SessionRecord{ID: id, Session: s}, nil
		}
	}
	return nil, store.ErrNotFound
}

// SessionsByStatus returns all sessions whose status is in the given set.
// The metering engine re-derives its working set through this on every tick,
// so nothing survives a restart except the store itself.
func (r *Records) SessionsByStatus(ctx context.Context, statuses ...Status) ([]SessionRecord, error) {
	raw, err := r.store.List(ctx, sessionsCollection)
	if err != nil {
		return nil, err
	}
	var out []SessionRecord
	for id, data := range raw {
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parking: decode session %s: %w", id, err)
		}
		for _, want := range statuses {
			if s.Status == want {
				out = append(out, SessionRecord{ID: id, Session: s})
				break
			}
		}
	}
	return out, nil
}

// UnfundedPayments returns payments still waiting for funds to lock.
func (r *Records) UnfundedPayments(ctx context.Context) ([]PaymentRecord, error) {
	raw, err := r.store.List(ctx, paymentsCollection)
	if err != nil {
		return nil, err
	}
	var out []PaymentRecord
	for id, data := range raw {
		var p Payment
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parking: decode payment %s: %w", id, err)
		}
		if !p.Funded {
			out = append(out, PaymentRecord{ID: id, Payment: p})
		}
	}
	return out, nil
}

// FindReleaseByKey returns the release recorded under the given idempotency
// key, or nil when no such release exists.
func (r *Records) FindReleaseByKey(ctx context.Context, paymentID, key string) (*Release, error) {
	raw, err := r.store.List(ctx, releasesCollection(paymentID))
	if err != nil {
		return nil, err
	}
	for id, data := range raw {
		var rel Release
		if err := json.Unmarshal(data, &rel); err != nil {
			return nil, fmt.Errorf("parking: decode release %s: %w", id, err)
		}
		if rel.IdempotencyKey == key {
			return &rel, nil
		}
	}
	return nil, nil
}

// --- ingest gateway writes ---

// CreateSession stores a new pending session and returns its id.
func (r *Records) CreateSession(ctx context.Context, s Session) (string, error) {
	id := uuid.New().String()
	if err := r.store.Set(ctx, sessionPath(id), s); err != nil {
		return "", err
	}
	return id, nil
}

// PutVehicle creates or replaces a vehicle record.
func (r *Records) PutVehicle(ctx context.Context, plate string, v Vehicle) error {
	return r.store.Set(ctx, vehiclePath(plate), v)
}

// AppendEvent stores a write-once scan event and returns its id.
func (r *Records) AppendEvent(ctx context.Context, ev ScanEvent) (string, error) {
	return r.store.Push(ctx, eventsCollection, ev)
}

// SetEventSessionCreated stamps the session created from an entry event.
func (r *Records) SetEventSessionCreated(ctx context.Context, eventID, sessionID string) error {
	return r.store.Update(ctx, eventPath(eventID), map[string]interface{}{
		"session_created": sessionID,
	})
}

// MarkEnding flips a live session to ending and records the exit event that
// triggered it. Rejects regressions with ErrInvalidState.
func (r *Records) MarkEnding(ctx context.Context, sessionID, exitEventID string) error {
	s, err := r.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanTransition(s.Status, StatusEnding) {
		return fmt.Errorf("%w: %s -> ending", ErrInvalidState, s.Status)
	}
	return r.store.Update(ctx, sessionPath(sessionID), map[string]interface{}{
		"status":        string(StatusEnding),
		"exit_event_id": exitEventID,
	})
}

// --- payment orchestrator writes ---

// CreatePayment stores a new unfunded payment under its gateway identifier.
func (r *Records) CreatePayment(ctx context.Context, id string, p Payment) error {
	return r.store.Set(ctx, paymentPath(id), p)
}

// AttachPayment moves a pending session to awaiting_funding with its payment id.
func (r *Records) AttachPayment(ctx context.Context, sessionID, paymentID string) error {
	s, err := r.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanTransition(s.Status, StatusAwaitingFunding) {
		return fmt.Errorf("%w: %s -> awaiting_funding", ErrInvalidState, s.Status)
	}
	return r.store.Update(ctx, sessionPath(sessionID), map[string]interface{}{
		"status":     string(StatusAwaitingFunding),
		"payment_id": paymentID,
	})
}

// MarkFunded flips the payment's funded flag; the flag never goes back.
func (r *Records) MarkFunded(ctx context.Context, paymentID, gatewayStatus string) error {
	fields := map[string]interface{}{"funded": true}
	if gatewayStatus != "" {
		fields["last_gateway_status"] = gatewayStatus
	}
	return r.store.Update(ctx, paymentPath(paymentID), fields)
}

// SetGatewayStatus records the last observed gateway state on the payment.
func (r *Records) SetGatewayStatus(ctx context.Context, paymentID, gatewayStatus string) error {
	return r.store.Update(ctx, paymentPath(paymentID), map[string]interface{}{
		"last_gateway_status": gatewayStatus,
	})
}

// ActivateSession moves awaiting_funding to active and stamps the first tick.
func (r *Records) ActivateSession(ctx context.Context, sessionID string, nowTS int64) error {
	s, err := r.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanTransition(s.Status, StatusActive) {
		return fmt.Errorf("%w: %s -> active", ErrInvalidState, s.Status)
	}
	return r.store.Update(ctx, sessionPath(sessionID), map[string]interface{}{
		"status":       string(StatusActive),
		"last_tick_ts": nowTS,
	})
}

// AppendRelease records one immutable release under the payment.
func (r *Records) AppendRelease(ctx context.Context, paymentID string, rel Release) (string, error) {
	return r.store.Push(ctx, releasesCollection(paymentID), rel)
}

// ApplyRelease advances the session's released counter after a successful (or
// reconciled) gateway release and refreshes the derived percentages.
func (r *Records) ApplyRelease(ctx context.Context, sessionID string, amountCents int64) error {
	s, err := r.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	released := s.ReleasedCents + amountCents
	return r.store.Update(ctx, sessionPath(sessionID), map[string]interface{}{
		"released_cents":          released,
		"percent_escrow_used":     PercentEscrowUsed(s.AccruedCents, s.EscrowDepositCents),
		"percent_paid_of_accrued": PercentPaidOfAccrued(released, s.AccruedCents),
	})
}

// --- metering engine writes ---

// UpdateMeter writes a tick's accrual result. Accrual is monotonic: a value
// below the stored one is clamped to it.
func (r *Records) UpdateMeter(ctx context.Context, sessionID string, accruedCents, nowTS int64) error {
	s, err := r.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if accruedCents < s.AccruedCents {
		accruedCents = s.AccruedCents
	}
	return r.store.Update(ctx, sessionPath(sessionID), map[string]interface{}{
		"accrued_cents":           accruedCents,
		"percent_escrow_used":     PercentEscrowUsed(accruedCents, s.EscrowDepositCents),
		"percent_paid_of_accrued": PercentPaidOfAccrued(s.ReleasedCents, accruedCents),
		"last_tick_ts":            nowTS,
	})
}

// FinalizeSession moves ending to ended and stamps the end timestamp.
func (r *Records) FinalizeSession(ctx context.Context, sessionID string, nowTS int64) error {
	s, err := r.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanTransition(s.Status, StatusEnded) {
		return fmt.Errorf("%w: %s -> ended", ErrInvalidState, s.Status)
	}
	return r.store.Update(ctx, sessionPath(sessionID), map[string]interface{}{
		"status": string(StatusEnded),
		"end_ts": nowTS,
	})
}

// SetEventSessionClosed stamps the session closed by an exit event.
func (r *Records) SetEventSessionClosed(ctx context.Context, eventID, sessionID string) error {
	return r.store.Update(ctx, eventPath(eventID), map[string]interface{}{
		"session_closed": sessionID,
	})
}
