package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"parkngo/backend/parking"
	"parkngo/backend/services/payments-service/internal/masumi"
	"parkngo/backend/services/payments-service/internal/service"
	"parkngo/backend/store"
)

type releaseRequest struct {
	SessionID   string `json:"session_id"`
	AmountCents int64  `json:"amount_cents"`
}

// NewReleaseHandler returns the POST /release handler, called by the metering
// engine.
func NewReleaseHandler(svc *service.PaymentsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req releaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "session_id is required")
			return
		}
		if req.AmountCents <= 0 {
			writeError(w, http.StatusBadRequest, "amount_cents must be positive")
			return
		}

		txHash, err := svc.Release(r.Context(), req.SessionID, req.AmountCents)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, "session or payment not found")
			case errors.Is(err, service.ErrNotFunded):
				writeError(w, http.StatusConflict, "payment not funded yet")
			case errors.Is(err, parking.ErrInvalidState):
				writeError(w, http.StatusConflict, "session has no payment")
			case errors.Is(err, masumi.ErrRejected):
				logger.Error("release rejected by rail",
					zap.String("session_id", req.SessionID), zap.Error(err))
				writeError(w, http.StatusBadGateway, "release rejected")
			case errors.Is(err, masumi.ErrUnavailable), errors.Is(err, store.ErrUnavailable):
				logger.Error("release hit unavailable dependency",
					zap.String("session_id", req.SessionID), zap.Error(err))
				writeError(w, http.StatusBadGateway, "dependency unavailable")
			default:
				logger.Error("release failed",
					zap.String("session_id", req.SessionID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "release failed")
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"tx_hash": txHash,
		})
	}
}
