package handlers

import (
	"net/http"

	"github.com/jason-s-yu/tabletop/internal/middleware"
	"github.com/jason-s-yu/tabletop/internal/models"
)

type queueRequest struct {
	GameID string          `json:"game_id"`
	Mode   models.GameMode `json:"mode"`
}

type joinRequest struct {
	Code string `json:"code"`
}

// FindMatchHandler joins or opens a public room for the requested queue.
func (a *API) FindMatchHandler(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	u := middleware.UserFromContext(r.Context())
	room, created, err := a.mm.FindMatch(r.Context(), u.ID, req.GameID, req.Mode)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"room": room, "created": created})
}

// CreatePrivateRoomHandler opens a code-only room.
func (a *API) CreatePrivateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	u := middleware.UserFromContext(r.Context())
	room, code, err := a.mm.CreatePrivateRoom(r.Context(), u.ID, req.GameID, req.Mode)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"room": room, "code": code})
}

// JoinByCodeHandler seats the caller in a private room.
func (a *API) JoinByCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, a.log, err)
		return
	}
	u := middleware.UserFromContext(r.Context())
	room, err := a.mm.JoinByCode(r.Context(), u.ID, req.Code)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}

// CancelSearchHandler withdraws the caller from a room that has not started.
func (a *API) CancelSearchHandler(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	if err := a.mm.CancelSearch(r.Context(), u.ID); err != nil {
		writeError(w, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
