// Package handlers exposes matchmaking and room access over HTTP and websockets.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/tabletop/internal/auth"
	"github.com/jason-s-yu/tabletop/internal/matchmaking"
	"github.com/jason-s-yu/tabletop/internal/middleware"
	"github.com/jason-s-yu/tabletop/internal/rating"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/sirupsen/logrus"
)

// API holds the collaborators shared by every handler.
type API struct {
	store  store.RoomStore
	mm     *matchmaking.Service
	issuer *auth.Issuer
	log    logrus.FieldLogger

	// ratings may be nil, in which case finished matches are not recorded.
	ratings rating.Recorder

	secureCookies  bool
	originPatterns []string
}

// Option tweaks an API.
type Option func(*API)

// WithSecureCookies marks the auth cookie Secure.
func WithSecureCookies(secure bool) Option {
	return func(a *API) { a.secureCookies = secure }
}

// WithOriginPatterns restricts websocket origins. The default only allows same-origin requests.
func WithOriginPatterns(patterns []string) Option {
	return func(a *API) { a.originPatterns = patterns }
}

func NewAPI(rs store.RoomStore, mm *matchmaking.Service, issuer *auth.Issuer, log logrus.FieldLogger, opts ...Option) *API {
	a := &API{store: rs, mm: mm, issuer: issuer, log: log}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Routes mounts every endpoint on a fresh router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/auth/guest", a.GuestHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser(a.issuer, a.log))

		r.Get("/auth/me", a.MeHandler)

		r.Route("/matchmaking", func(r chi.Router) {
			r.Post("/find", a.FindMatchHandler)
			r.Post("/private", a.CreatePrivateRoomHandler)
			r.Post("/join", a.JoinByCodeHandler)
			r.Post("/cancel", a.CancelSearchHandler)
		})

		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Get("/", a.GetRoomHandler)
			r.Get("/actions", a.ListActionsHandler)
			r.Get("/ws", a.RoomWSHandler)
		})
	})
	return r
}

// GuestHandler issues an ephemeral identity and sets the auth cookie.
func (a *API) GuestHandler(w http.ResponseWriter, r *http.Request) {
	u, token, err := a.issuer.Guest()
	if err != nil {
		a.log.WithError(err).Error("failed to issue guest token")
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, a.issuer.Cookie(token, a.secureCookies))
	writeJSON(w, http.StatusCreated, map[string]any{"user": u, "token": token})
}

// MeHandler echoes the authenticated identity.
func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.UserFromContext(r.Context()))
}
