// Package api provides the HTTP API over the territory core.
// GET endpoints are public (read-only queries).
// POST endpoints require a bearer token (trusted callers: the app backend
// and the steward).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/hexturf/internal/activity"
	"github.com/talgya/hexturf/internal/contest"
	"github.com/talgya/hexturf/internal/events"
	"github.com/talgya/hexturf/internal/hexgrid"
	"github.com/talgya/hexturf/internal/ledger"
	"github.com/talgya/hexturf/internal/persistence"
	"github.com/talgya/hexturf/internal/region"
)

// Server serves the territory core over HTTP.
type Server struct {
	DB       *persistence.DB
	Index    hexgrid.Index
	Ledger   *ledger.Ledger
	Regions  *region.Analyzer
	Contests *contest.Manager
	Activity *activity.Processor
	Events   events.Publisher

	Port          int
	AdminKey      string // Bearer token for POST endpoints. Empty = POST disabled.
	UploadLimiter *RateLimiter
	SweepPageSize int

	started time.Time
	srv     *http.Server
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	upload := s.handleActivity
	if s.UploadLimiter != nil {
		upload = RateLimitMiddleware(s.UploadLimiter, upload)
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/tile", s.handleTileAt)
	mux.HandleFunc("GET /api/v1/tiles/{id}", s.handleTile)
	mux.HandleFunc("GET /api/v1/tiles/{id}/region", s.handleRegion)
	mux.HandleFunc("GET /api/v1/tiles/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/owners/{id}/tiles", s.handleOwnerTiles)
	mux.HandleFunc("GET /api/v1/owners/{id}/bonus", s.handleOwnerBonus)
	mux.HandleFunc("GET /api/v1/territories", s.handleTerritories)
	mux.HandleFunc("GET /api/v1/territories/{id}/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/v1/wallets/{id}", s.handleBalance)

	// Trusted endpoints (POST, require bearer token).
	mux.HandleFunc("POST /api/v1/activities", s.adminOnly(upload))
	mux.HandleFunc("POST /api/v1/territories/{id}/entries", s.adminOnly(s.handleEnter))
	mux.HandleFunc("POST /api/v1/territories/{id}/activity", s.adminOnly(s.handleContribution))
	mux.HandleFunc("POST /api/v1/territories/{id}/resolve", s.adminOnly(s.handleResolve))
	mux.HandleFunc("POST /api/v1/tiles/{id}/decay", s.adminOnly(s.handleDecay))
	mux.HandleFunc("POST /api/v1/decay/sweep", s.adminOnly(s.handleSweep))
	mux.HandleFunc("POST /api/v1/wallets/{id}/credit", s.adminOnly(s.handleCredit))

	return corsMiddleware(requestID(mux))
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestID tags every response with an X-Request-ID, reusing the caller's.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no HEXTURF_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	schema, err := s.DB.GetMeta(r.Context(), "schema_version")
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	var overdue string
	wk, late, err := s.Contests.OverdueWeek(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if late {
		overdue = wk.String()
	}
	writeJSON(w, map[string]any{
		"name":           "hexturf",
		"schema_version": schema,
		"week":           s.Contests.CurrentWeek().String(),
		"overdue_week":   overdue,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"stats":          stats,
		"rules":          s.Ledger.Rules(),
	})
}

// internalError logs err with the request ID and hides it from the caller.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-ID"),
		"error", err,
	)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
