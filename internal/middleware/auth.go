package middleware

import (
	"context"
	"net/http"

	"github.com/jason-s-yu/tabletop/internal/auth"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/sirupsen/logrus"
)

type userKey struct{}

// Authenticator verifies a raw token.
type Authenticator interface {
	AuthenticateJWT(token string) (*models.User, error)
}

// RequireUser rejects requests without a valid token and stores the user in the
// request context otherwise.
func RequireUser(a Authenticator, logger logrus.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r)
			if token == "" {
				http.Error(w, "missing auth token", http.StatusUnauthorized)
				return
			}
			u, err := a.AuthenticateJWT(token)
			if err != nil {
				logger.WithError(err).WithField("path", r.URL.Path).Debug("rejected token")
				http.Error(w, "invalid auth token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// WithUser returns ctx carrying u.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the authenticated user, or nil outside RequireUser.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey{}).(*models.User)
	return u
}
