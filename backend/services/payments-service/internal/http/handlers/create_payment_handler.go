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

type createPaymentRequest struct {
	SessionID string `json:"session_id"`
}

// NewCreatePaymentHandler returns the POST /create_payment handler.
func NewCreatePaymentHandler(svc *service.PaymentsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "session_id is required")
			return
		}

		result, err := svc.CreatePayment(r.Context(), req.SessionID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, "session not found")
			case errors.Is(err, parking.ErrInvalidState):
				writeError(w, http.StatusConflict, "session not in pending state")
			case errors.Is(err, masumi.ErrRejected):
				logger.Error("escrow creation rejected by rail",
					zap.String("session_id", req.SessionID), zap.Error(err))
				writeError(w, http.StatusBadGateway, "escrow creation rejected")
			case errors.Is(err, masumi.ErrUnavailable), errors.Is(err, store.ErrUnavailable):
				logger.Error("create payment hit unavailable dependency",
					zap.String("session_id", req.SessionID), zap.Error(err))
				writeError(w, http.StatusBadGateway, "dependency unavailable")
			default:
				logger.Error("create payment failed",
					zap.String("session_id", req.SessionID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "create payment failed")
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":                    true,
			"payment_id":            result.PaymentID,
			"blockchain_identifier": result.BlockchainIdentifier,
		})
	}
}
