package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"parkngo/backend/libs/signing"
	"parkngo/backend/parking"
	"parkngo/backend/services/ingest-service/internal/service"
	"parkngo/backend/store"
)

const maxScanBody = 64 * 1024

type scanPayload struct {
	EventID            string `json:"event_id"`
	Type               string `json:"type"`
	VehicleID          string `json:"vehicle_id"`
	SlotID             string `json:"slot_id"`
	ScannerID          string `json:"scanner_id"`
	Timestamp          int64  `json:"timestamp"`
	RatePerMinCents    int64  `json:"rate_per_min_cents"`
	EscrowDepositCents int64  `json:"escrow_deposit_cents"`
}

// NewScanHandler returns the POST /ingest/scan handler. The signature is
// verified over the raw body before anything is decoded; a mismatch never
// mutates state.
func NewScanHandler(svc *service.IngestService, secret string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxScanBody))
		if err != nil {
			writeScanError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		sig := r.Header.Get(signing.Header)
		if sig == "" || !signing.Verify(secret, body, sig) {
			writeScanError(w, http.StatusUnauthorized, "invalid sig")
			return
		}

		var payload scanPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			writeScanError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if payload.VehicleID == "" {
			writeScanError(w, http.StatusBadRequest, "vehicle_id is required")
			return
		}

		sessionID, err := svc.HandleScan(r.Context(), service.ScanInput{
			ClientEventID:      payload.EventID,
			Type:               payload.Type,
			VehicleID:          payload.VehicleID,
			SlotID:             payload.SlotID,
			ScannerID:          payload.ScannerID,
			TS:                 payload.Timestamp,
			RatePerMinCents:    payload.RatePerMinCents,
			EscrowDepositCents: payload.EscrowDepositCents,
			Signature:          sig,
		})
		if err != nil {
			switch {
			case errors.Is(err, parking.ErrConflict):
				writeScanError(w, http.StatusConflict, "vehicle already has a live session")
			case errors.Is(err, service.ErrNoLiveSession):
				writeScanError(w, http.StatusNotFound, "no live session for vehicle")
			case errors.Is(err, service.ErrUnknownEventType):
				writeScanError(w, http.StatusBadRequest, "unknown event type")
			case errors.Is(err, store.ErrUnavailable):
				logger.Error("scan rejected, store unavailable", zap.Error(err))
				writeScanError(w, http.StatusServiceUnavailable, "store unavailable")
			default:
				logger.Error("scan failed", zap.Error(err))
				writeScanError(w, http.StatusInternalServerError, "scan failed")
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":         true,
			"session_id": sessionID,
		})
	}
}
