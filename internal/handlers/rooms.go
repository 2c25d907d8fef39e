package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/middleware"
	"github.com/jason-s-yu/tabletop/internal/models"
)

func roomIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		return uuid.Nil, models.Validationf("room id", "invalid room id %q", chi.URLParam(r, "roomID"))
	}
	return id, nil
}

// seatOf returns the caller's seat, or nil when they are not in the room.
func (a *API) seatOf(ctx context.Context, roomID, userID uuid.UUID) ([]*models.RoomPlayer, *models.RoomPlayer, error) {
	players, err := a.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range players {
		if p.UserID == userID {
			return players, p, nil
		}
	}
	return players, nil, nil
}

// GetRoomHandler returns a room and its seats. The code of a private room is only
// shown to players seated in it.
func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	room, err := a.store.GetRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	u := middleware.UserFromContext(r.Context())
	players, me, err := a.seatOf(r.Context(), roomID, u.ID)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	if me == nil {
		room.RoomCode = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room, "players": players})
}

// ListActionsHandler returns the room's action log to seated players.
func (a *API) ListActionsHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	u := middleware.UserFromContext(r.Context())
	_, me, err := a.seatOf(r.Context(), roomID, u.ID)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	if me == nil {
		writeError(w, a.log, fmt.Errorf("room %s: %w", roomID, models.ErrPlayerNotFound))
		return
	}
	actions, err := a.store.ListActions(r.Context(), roomID)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}
