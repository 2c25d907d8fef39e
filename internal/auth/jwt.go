// Package auth issues and verifies the ed25519-signed JWTs that identify players.
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
)

// CookieName is the cookie carrying the token for browser clients.
const CookieName = "auth_token"

// ErrInvalidToken is returned for any token that does not verify.
var ErrInvalidToken = errors.New("invalid auth token")

type claims struct {
	Username string `json:"username,omitempty"`
	Guest    bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens with one key pair.
type Issuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	// expiry of 0 omits the exp claim
	expiry time.Duration
	now    func() time.Time
}

// NewIssuer generates a fresh key pair. Tokens do not survive a restart.
func NewIssuer(expiry time.Duration) (*Issuer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Issuer{privateKey: priv, publicKey: pub, expiry: expiry, now: time.Now}, nil
}

// NewIssuerFromPath reads raw ed25519 keys from disk.
func NewIssuerFromPath(privatePath, publicPath string, expiry time.Duration) (*Issuer, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key files are not raw ed25519 keys")
	}
	return &Issuer{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
		expiry:     expiry,
		now:        time.Now,
	}, nil
}

// CreateJWT signs a token whose subject is the user's id.
func (i *Issuer) CreateJWT(u models.User) (string, error) {
	c := claims{
		Username: u.Username,
		Guest:    u.IsEphemeral,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  u.ID.String(),
			IssuedAt: jwt.NewNumericDate(i.now()),
		},
	}
	if i.expiry > 0 {
		c.ExpiresAt = jwt.NewNumericDate(i.now().Add(i.expiry))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c)
	s, err := token.SignedString(i.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return s, nil
}

// AuthenticateJWT verifies tokenString and returns the user it names.
func (i *Issuer) AuthenticateJWT(tokenString string) (*models.User, error) {
	var c claims
	t, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.publicKey, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return nil, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}
	return &models.User{ID: id, Username: c.Username, IsEphemeral: c.Guest}, nil
}

// Guest mints an ephemeral identity and its token.
func (i *Issuer) Guest() (models.User, string, error) {
	id := uuid.New()
	u := models.User{ID: id, Username: "guest-" + id.String()[:8], IsEphemeral: true}
	token, err := i.CreateJWT(u)
	if err != nil {
		return models.User{}, "", err
	}
	return u, token, nil
}

// TokenFromRequest returns a bearer token from the Authorization header, falling
// back to the auth cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Cookie wraps token for browser clients.
func (i *Issuer) Cookie(token string, secure bool) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if i.expiry > 0 {
		c.MaxAge = int(i.expiry.Seconds())
	}
	return c
}
