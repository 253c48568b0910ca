// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/support-chat/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// IdentityKey is the context key for the verified caller identity.
	IdentityKey ContextKey = "identity"
)

// DefaultCookieName is the cookie carrying the session token.
const DefaultCookieName = "token"

// Authentication errors.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// Claims represents JWT claims issued by the external auth service.
type Claims struct {
	jwt.RegisteredClaims
	Role    string `json:"role,omitempty"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
}

// Authenticator verifies the credential attached to a request.
type Authenticator struct {
	secret     []byte
	cookieName string
}

// NewAuthenticator creates an authenticator for HMAC-signed tokens.
func NewAuthenticator(jwtSecret, cookieName string) *Authenticator {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Authenticator{secret: []byte(jwtSecret), cookieName: cookieName}
}

// Authenticate extracts the token from a bearer Authorization header, the
// session cookie or the "token" query parameter (used by websocket
// handshakes), in that order, and returns the verified identity. A header
// that is not a bearer token does not hide the other sources.
func (a *Authenticator) Authenticate(r *http.Request) (model.Identity, error) {
	token, err := a.tokenFromRequest(r)
	if err != nil {
		return model.Identity{}, err
	}
	return a.Verify(token)
}

func (a *Authenticator) tokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
	}
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	if authHeader != "" {
		return "", ErrInvalidCredential
	}
	return "", ErrMissingCredential
}

// Verify parses and validates a token string.
func (a *Authenticator) Verify(tokenString string) (model.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return model.Identity{}, ErrInvalidCredential
	}

	role := model.RoleBuyer
	if claims.IsAdmin || model.Role(claims.Role) == model.RoleAdmin {
		role = model.RoleAdmin
	}
	return model.Identity{UserID: claims.Subject, Role: role}, nil
}

// Issue signs a token for userID. The service never issues tokens in
// production; this backs tests and the devtoken command.
func (a *Authenticator) Issue(userID string, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// IdentityRecorder is notified of every authenticated identity.
type IdentityRecorder interface {
	RegisterIdentity(ctx context.Context, id model.Identity) error
}

// Auth creates authentication middleware. recorder may be nil.
func Auth(a *Authenticator, recorder IdentityRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			if errors.Is(err, ErrMissingCredential) {
				writeJSONError(w, http.StatusUnauthorized, "missing credential")
				return
			}
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			if recorder != nil {
				if err := recorder.RegisterIdentity(r.Context(), id); err != nil {
					writeJSONError(w, http.StatusInternalServerError, "internal server error")
					return
				}
			}

			ctx := context.WithValue(r.Context(), IdentityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity gets the caller identity from context.
func GetIdentity(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(model.Identity)
	return id, ok
}

// GetUserID gets the caller's user ID from context.
func GetUserID(ctx context.Context) string {
	id, _ := GetIdentity(ctx)
	return id.UserID
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// RequireRole creates middleware that requires the caller to hold role.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := GetIdentity(r.Context())
			if !ok || id.Role != role {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
