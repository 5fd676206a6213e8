package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	IngestScan     http.HandlerFunc
	ActiveSessions http.HandlerFunc
	SessionFeed    http.HandlerFunc
	Health         http.HandlerFunc
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.IngestScan != nil {
		mux.Handle("/ingest/scan", method(http.MethodPost, routes.IngestScan))
	}
	if routes.ActiveSessions != nil {
		mux.Handle("/sessions/active", method(http.MethodGet, routes.ActiveSessions))
	}
	if routes.SessionFeed != nil {
		mux.Handle("/ws/feed", method(http.MethodGet, routes.SessionFeed))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
