package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
	"github.com/jason-s-yu/memora/internal/database"
	"github.com/jason-s-yu/memora/internal/game"
	"github.com/jason-s-yu/memora/internal/models"
	"github.com/jason-s-yu/memora/internal/registry"
	log "github.com/sirupsen/logrus"
)

type createRoomReq struct {
	Settings game.Settings `json:"settings"`
	Password string        `json:"password"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	sum, err := s.deps.Registry.Create(r.Context(), currentUser(r), req.Settings, req.Password)
	if err != nil {
		status, code := statusFor(err)
		writeJSON(w, status, map[string]string{"error": code, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

func (s *Server) handleRoomDetail(w http.ResponseWriter, r *http.Request) {
	id, err := registry.ParseRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_room_id")
		return
	}
	sum, err := s.deps.Registry.Detail(id)
	if err != nil {
		status, code := statusFor(err)
		writeError(w, status, code)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history_unavailable")
		return
	}
	q := r.URL.Query()
	f := models.HistoryFilter{
		UserID:   currentUser(r).ID,
		GameMode: q.Get("mode"),
		Result:   q.Get("result"),
	}
	if v := q.Get("userId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id")
			return
		}
		f.UserID = id
	}
	if f.Result != "" && f.Result != "win" && f.Result != "loss" {
		writeError(w, http.StatusBadRequest, "invalid_result")
		return
	}
	var ok bool
	if f.Page, ok = intParam(q.Get("page")); !ok {
		writeError(w, http.StatusBadRequest, "invalid_page")
		return
	}
	if f.PageSize, ok = intParam(q.Get("pageSize")); !ok {
		writeError(w, http.StatusBadRequest, "invalid_page_size")
		return
	}
	f.Normalize()

	page, err := s.deps.History.List(r.Context(), f)
	if err != nil {
		log.WithField("user", f.UserID).Errorf("list history: %v", err)
		writeError(w, http.StatusInternalServerError, "history_failed")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history_unavailable")
		return
	}
	limit, ok := intParam(r.URL.Query().Get("limit"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit")
		return
	}
	entries, err := s.deps.History.Leaderboard(r.Context(), limit)
	if err != nil {
		log.Errorf("leaderboard: %v", err)
		writeError(w, http.StatusInternalServerError, "leaderboard_failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type unblockReq struct {
	Reason string `json:"reason"`
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	if s.deps.Abuse == nil {
		writeError(w, http.StatusServiceUnavailable, "abuse_unavailable")
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id")
		return
	}
	var req unblockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason_required")
		return
	}
	admin := currentUser(r)
	if err := s.deps.Abuse.Unblock(r.Context(), userID, admin.Username, req.Reason); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_blocked")
			return
		}
		log.WithFields(log.Fields{"user": userID, "admin": admin.ID}).Errorf("unblock: %v", err)
		writeError(w, http.StatusInternalServerError, "unblock_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intParam(v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil && n >= 0
}

// statusFor maps domain errors to an HTTP status and a short code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		return http.StatusNotFound, "room_not_found"
	case errors.Is(err, registry.ErrInvalidRoomID):
		return http.StatusBadRequest, "invalid_room_id"
	case errors.Is(err, registry.ErrBlocked):
		return http.StatusForbidden, "blocked"
	case errors.Is(err, registry.ErrWrongPassword):
		return http.StatusForbidden, "wrong_password"
	case errors.Is(err, registry.ErrBadPassword), errors.Is(err, game.ErrInvalidSettings):
		return http.StatusBadRequest, "invalid_settings"
	case errors.Is(err, engine.ErrRoomFull):
		return http.StatusConflict, "room_full"
	case errors.Is(err, engine.ErrNotWaiting):
		return http.StatusConflict, "game_in_progress"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
