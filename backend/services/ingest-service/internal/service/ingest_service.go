package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parkngo/backend/parking"
	"parkngo/backend/store"
)

// Event types accepted on the scan endpoint.
const (
	EventEntry = "entry"
	EventExit  = "exit"
)

// ErrUnknownEventType rejects anything that is not an entry or exit scan.
var ErrUnknownEventType = errors.New("ingest: unknown event type")

// ErrNoLiveSession indicates an exit scan for a vehicle with no session to close.
var ErrNoLiveSession = errors.New("ingest: no live session for vehicle")

// ScanInput is one authenticated scanner observation.
type ScanInput struct {
	ClientEventID      string
	Type               string
	VehicleID          string
	SlotID             string
	ScannerID          string
	TS                 int64
	RatePerMinCents    int64 // 0 means tariff default
	EscrowDepositCents int64 // 0 means tariff default
	Signature          string
}

// IngestService creates sessions from entry scans and flips them to ending on
// exit scans. All side effects stay in the document store; no payment-rail
// calls happen here.
type IngestService struct {
	records *parking.Records
	tariff  parking.Tariff
	logger  *zap.Logger
	now     func() time.Time
}

// NewIngestService builds the service.
func NewIngestService(records *parking.Records, tariff parking.Tariff, logger *zap.Logger) *IngestService {
	tariff.ApplyDefaults()
	return &IngestService{
		records: records,
		tariff:  tariff,
		logger:  logger,
		now:     time.Now,
	}
}

// HandleScan processes one verified scan and returns the session it created
// or closed.
func (s *IngestService) HandleScan(ctx context.Context, in ScanInput) (string, error) {
	if in.TS == 0 {
		in.TS = s.now().Unix()
	}

	switch in.Type {
	case EventEntry:
		return s.handleEntry(ctx, in)
	case EventExit:
		return s.handleExit(ctx, in)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, in.Type)
	}
}

func (s *IngestService) handleEntry(ctx context.Context, in ScanInput) (string, error) {
	if _, err := s.records.ActiveSessionForVehicle(ctx, in.VehicleID); err == nil {
		return "", parking.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	rate := in.RatePerMinCents
	if rate <= 0 {
		rate = s.tariff.DefaultRatePerMinCents
	}
	escrow := in.EscrowDepositCents
	if escrow <= 0 {
		escrow = s.tariff.DefaultEscrowCents
	}

	eventID, err := s.records.AppendEvent(ctx, parking.ScanEvent{
		ClientEventID:      in.ClientEventID,
		Type:               EventEntry,
		VehicleID:          in.VehicleID,
		SlotID:             in.SlotID,
		ScannerID:          in.ScannerID,
		TS:                 in.TS,
		RatePerMinCents:    rate,
		EscrowDepositCents: escrow,
		Signature:          in.Signature,
	})
	if err != nil {
		return "", err
	}

	sessionID, err := s.records.CreateSession(ctx, parking.Session{
		VehicleID:          in.VehicleID,
		SlotID:             in.SlotID,
		StartTS:            in.TS,
		Status:             parking.StatusPending,
		RatePerMinCents:    rate,
		AccruedCents:       0,
		ReleasedCents:      0,
		EscrowDepositCents: escrow,
		EntryEventID:       eventID,
	})
	if err != nil {
		return "", err
	}

	if err := s.records.SetEventSessionCreated(ctx, eventID, sessionID); err != nil {
		s.logger.Warn("failed to stamp entry event",
			zap.String("event_id", eventID), zap.Error(err))
	}
	if err := s.upsertVehicle(ctx, in.VehicleID, sessionID, in.TS); err != nil {
		s.logger.Warn("failed to update vehicle record",
			zap.String("vehicle_id", in.VehicleID), zap.Error(err))
	}

	s.logger.Info("session created",
		zap.String("session_id", sessionID),
		zap.String("vehicle_id", in.VehicleID),
		zap.String("slot_id", in.SlotID),
		zap.Int64("rate_per_min_cents", rate),
		zap.Int64("escrow_deposit_cents", escrow),
	)
	return sessionID, nil
}

func (s *IngestService) handleExit(ctx context.Context, in ScanInput) (string, error) {
	live, err := s.records.ActiveSessionForVehicle(ctx, in.VehicleID)
	if errors.Is(err, store.ErrNotFound) {
		// Replayed exit: a session already flipped to ending (or finished) is
		// reported as closed again without touching anything.
		if closed := s.lastClosingSession(ctx, in.VehicleID); closed != "" {
			return closed, nil
		}
		return "", ErrNoLiveSession
	}
	if err != nil {
		return "", err
	}

	eventID, err := s.records.AppendEvent(ctx, parking.ScanEvent{
		ClientEventID:      in.ClientEventID,
		Type:               EventExit,
		VehicleID:          in.VehicleID,
		SlotID:             in.SlotID,
		ScannerID:          in.ScannerID,
		TS:                 in.TS,
		RatePerMinCents:    live.RatePerMinCents,
		EscrowDepositCents: live.EscrowDepositCents,
		Signature:          in.Signature,
	})
	if err != nil {
		return "", err
	}

	if err := s.records.MarkEnding(ctx, live.ID, eventID); err != nil {
		if errors.Is(err, parking.ErrInvalidState) {
			// Lost the race to another exit scan; treat as a replay.
			return live.ID, nil
		}
		return "", err
	}

	if err := s.touchVehicle(ctx, in.VehicleID, in.TS); err != nil {
		s.logger.Warn("failed to update vehicle record",
			zap.String("vehicle_id", in.VehicleID), zap.Error(err))
	}

	s.logger.Info("session ending",
		zap.String("session_id", live.ID),
		zap.String("vehicle_id", in.VehicleID),
		zap.String("exit_event_id", eventID),
	)
	return live.ID, nil
}

// lastClosingSession returns the most recent ending/ended session for the
// vehicle, if any.
func (s *IngestService) lastClosingSession(ctx context.Context, vehicleID string) string {
	sessions, err := s.records.SessionsByStatus(ctx, parking.StatusEnding, parking.StatusEnded)
	if err != nil {
		return ""
	}
	var bestID string
	var bestStart int64
	for _, rec := range sessions {
		if rec.VehicleID != vehicleID {
			continue
		}
		if bestID == "" || rec.StartTS > bestStart {
			bestID = rec.ID
			bestStart = rec.StartTS
		}
	}
	return bestID
}

func (s *IngestService) upsertVehicle(ctx context.Context, plate, sessionID string, ts int64) error {
	v, err := s.records.Vehicle(ctx, plate)
	if errors.Is(err, store.ErrNotFound) {
		v = &parking.Vehicle{FirstSeenTS: ts}
	} else if err != nil {
		return err
	}
	v.SessionCount++
	v.LastSessionID = sessionID
	v.LastSeenTS = ts
	return s.records.PutVehicle(ctx, plate, *v)
}

func (s *IngestService) touchVehicle(ctx context.Context, plate string, ts int64) error {
	v, err := s.records.Vehicle(ctx, plate)
	if err != nil {
		return err
	}
	v.LastSeenTS = ts
	return s.records.PutVehicle(ctx, plate, *v)
}

// LiveSessions returns sessions currently metered, for the listing endpoint
// and the websocket feed.
func (s *IngestService) LiveSessions(ctx context.Context) ([]parking.SessionRecord, error) {
	return s.records.SessionsByStatus(ctx, parking.StatusActive, parking.StatusEnding)
}
