// Package server exposes the expense pipeline as a JSON API.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/caretrack/internal/archive"
	"github.com/zombor/caretrack/internal/classify"
	"github.com/zombor/caretrack/internal/expense"
	"github.com/zombor/caretrack/internal/ledger"
	"github.com/zombor/caretrack/internal/mileage"
	"github.com/zombor/caretrack/internal/triage"
)

// Extractor reads receipt captures
type Extractor interface {
	Extract(ctx context.Context, capture expense.RawCapture) (*expense.ExtractedReceipt, error)
}

// DistanceClient resolves trip distances
type DistanceClient interface {
	Distance(ctx context.Context, route mileage.Route) (*mileage.Distance, error)
}

// BankSyncer pulls transactions from the configured bank sources
type BankSyncer interface {
	SyncNow(ctx context.Context) (triage.SyncResult, error)
}

// Services are the components the API is built on. Mileage and BankSync
// are optional.
type Services struct {
	Extractor  Extractor
	Classifier *classify.Classifier
	Queue      *triage.Queue
	Ledger     *ledger.Materializer
	Archive    archive.Storage
	Mileage    DistanceClient
	BankSync   BankSyncer
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Server handles HTTP requests for the expense pipeline
type Server struct {
	services  Services
	basicAuth BasicAuth
	// Expenses are owned by this user unless basic auth names one
	defaultUser string
	mux         *http.ServeMux
	newID       func() string
}

// NewServer creates a new Server with default mux
func NewServer(services Services, basicAuth BasicAuth, defaultUser string) *Server {
	return NewServerWithMux(services, basicAuth, defaultUser, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(services Services, basicAuth BasicAuth, defaultUser string, mux *http.ServeMux) *Server {
	s := &Server{
		services:    services,
		basicAuth:   basicAuth,
		defaultUser: defaultUser,
		mux:         mux,
		newID:       uuid.NewString,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// userID returns the owner of the request's expenses
func (s *Server) userID(r *http.Request) string {
	if user, _, ok := r.BasicAuth(); ok && user != "" {
		return user
	}
	return s.defaultUser
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="caretrack"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/receipts/extract", s.requireAuth(s.handleExtractReceipt))
	s.mux.HandleFunc("GET /api/receipts/{key}/file", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("DELETE /api/receipts/{key}/file", s.requireAuth(s.handleDeleteReceiptFile))

	s.mux.HandleFunc("GET /api/expenses/{id}", s.requireAuth(s.handleGetExpense))
	s.mux.HandleFunc("GET /api/expenses", s.requireAuth(s.handleListExpenses))
	s.mux.HandleFunc("POST /api/expenses", s.requireAuth(s.handleCreateExpense))

	s.mux.HandleFunc("POST /api/transactions/sync", s.requireAuth(s.handleSyncTransactions))
	s.mux.HandleFunc("POST /api/transactions/import", s.requireAuth(s.handleImportTransactions))
	s.mux.HandleFunc("GET /api/transactions/review", s.requireAuth(s.handleReview))
	s.mux.HandleFunc("GET /api/transactions/{key}/decision", s.requireAuth(s.handleGetDecision))
	s.mux.HandleFunc("POST /api/transactions/{key}/keep", s.requireAuth(s.handleKeep))
	s.mux.HandleFunc("POST /api/transactions/{key}/skip", s.requireAuth(s.handleSkip))
	s.mux.HandleFunc("POST /api/transactions/{key}/reset", s.requireAuth(s.handleReset))
	s.mux.HandleFunc("POST /api/transactions/{key}/materialize", s.requireAuth(s.handleMaterialize))

	s.mux.HandleFunc("POST /api/mileage", s.requireAuth(s.handleMileage))
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
