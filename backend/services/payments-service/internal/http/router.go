package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	CreatePayment http.HandlerFunc
	Release       http.HandlerFunc
	Health        http.HandlerFunc
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.CreatePayment != nil {
		mux.Handle("/create_payment", method(http.MethodPost, routes.CreatePayment))
	}
	if routes.Release != nil {
		mux.Handle("/release", method(http.MethodPost, routes.Release))
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
