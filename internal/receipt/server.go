package receipt

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/bizznex/bizznex/internal/auth"
	"github.com/bizznex/bizznex/internal/billing"
)

// Server handles HTTP requests for receipt scanning and persistence.
type Server struct {
	service  *Service
	verifier auth.TokenVerifier
	plans    billing.PlanStore
	checkout billing.CheckoutProvider
	webhooks billing.WebhookProcessor
	mux      *http.ServeMux
}

// Billing groups the optional payment wiring. A zero value disables the
// checkout and webhook endpoints.
type Billing struct {
	Plans    billing.PlanStore
	Checkout billing.CheckoutProvider
	Webhooks billing.WebhookProcessor
}

// NewServer creates a new Server with default mux.
func NewServer(service *Service, verifier auth.TokenVerifier, b Billing) *Server {
	return NewServerWithMux(service, verifier, b, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing.
func NewServerWithMux(service *Service, verifier auth.TokenVerifier, b Billing, mux *http.ServeMux) *Server {
	s := &Server{
		service:  service,
		verifier: verifier,
		plans:    b.Plans,
		checkout: b.Checkout,
		webhooks: b.Webhooks,
		mux:      mux,
	}
	s.registerRoutes()
	return s
}

// setCORSHeaders sets CORS headers on a response.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsMiddleware adds CORS headers and answers preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth validates the bearer token and attaches the caller identity
// to the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeMessage(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "invalid authorization format, use 'Bearer <token>'")
			return
		}

		identity, err := s.verifier.Verify(token)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	}
}

// registerRoutes registers all API routes on the server's mux.
// Routes must be registered from most specific to least specific.
func (s *Server) registerRoutes() {
	// Usage metering
	s.mux.HandleFunc("GET /api/receipt-scanner-usage", s.requireAuth(s.handleCheckUsage))
	s.mux.HandleFunc("POST /api/receipt-scanner-usage", s.requireAuth(s.handleIncrementUsage))

	// Receipts (most specific paths first)
	s.mux.HandleFunc("POST /api/receipts/scan", s.requireAuth(s.handleScanReceipt))
	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleSaveReceipt))

	// Billing; the webhook authenticates via the provider signature.
	s.mux.HandleFunc("POST /api/billing/checkout", s.requireAuth(s.handleCreateCheckout))
	s.mux.HandleFunc("POST /api/billing/webhook", s.handleBillingWebhook)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
