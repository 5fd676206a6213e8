package handlers

import (
	"net/http"

	"parkngo/backend/parking"
	"parkngo/backend/services/ingest-service/internal/service"
)

type sessionView struct {
	ID string `json:"id"`
	parking.Session
}

// NewActiveSessionsHandler returns GET /sessions/active handler.
func NewActiveSessionsHandler(svc *service.IngestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := svc.LiveSessions(r.Context())
		if err != nil {
			writeScanError(w, http.StatusInternalServerError, "failed to fetch sessions")
			return
		}

		views := make([]sessionView, 0, len(sessions))
		for _, rec := range sessions {
			views = append(views, sessionView{ID: rec.ID, Session: rec.Session})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": views,
		})
	}
}
