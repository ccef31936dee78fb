// Package handlers exposes rooms over HTTP and WebSocket.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jason-s-yu/memora/internal/auth"
	"github.com/jason-s-yu/memora/internal/bridge"
	"github.com/jason-s-yu/memora/internal/models"
	"github.com/jason-s-yu/memora/internal/registry"
	log "github.com/sirupsen/logrus"
)

const requestTimeout = 10 * time.Second

// HistoryStore answers match history and leaderboard queries.
type HistoryStore interface {
	List(ctx context.Context, f models.HistoryFilter) (models.HistoryPage, error)
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
}

// Unblocker lifts user blocks.
type Unblocker interface {
	Unblock(ctx context.Context, userID uuid.UUID, operator, reason string) error
}

// Deps are the collaborators of the HTTP surface. History and Abuse may be
// nil, in which case their routes answer 503.
type Deps struct {
	Registry       *registry.Registry
	Bridge         *bridge.Bridge
	Verifier       *auth.Verifier
	History        HistoryStore
	Abuse          Unblocker
	AllowedOrigins []string
}

// Server bundles the router and its dependencies.
type Server struct {
	r    *chi.Mux
	deps Deps
}

// New builds the router.
func New(deps Deps) *Server {
	s := &Server{r: chi.NewRouter(), deps: deps}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(chimw.Recoverer)
	s.r.Use(s.cors)

	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rooms": deps.Registry.Len()})
	})

	s.r.Group(func(r chi.Router) {
		r.Use(deps.Verifier.Middleware)

		// Websockets outlive any request timeout.
		r.Get("/ws/{roomID}", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(requestTimeout))
			r.Use(jsonContentType)

			r.Post("/rooms", s.handleCreateRoom)
			r.Get("/rooms", s.handleListRooms)
			r.Get("/rooms/{roomID}", s.handleRoomDetail)
			r.Get("/history", s.handleHistory)
			r.Get("/leaderboard", s.handleLeaderboard)
			r.With(auth.RequireAdmin).Post("/admin/users/{userID}/unblock", s.handleUnblock)
		})
	})

	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	return s
}

// Router exposes the router for the http.Server and tests.
func (s *Server) Router() http.Handler { return s.r }

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors echoes allowed origins. With no configured origins only same-origin
// requests are served.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(s.deps.AllowedOrigins, origin) {
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func currentUser(r *http.Request) models.User {
	u, _ := auth.UserFrom(r.Context())
	return u
}
