package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-chat/internal/model"
)

const testSecret = "test-secret"

func TestAuthenticate_Sources(t *testing.T) {
	a := NewAuthenticator(testSecret, "")
	token, err := a.Issue("buyer-1", model.RoleBuyer, time.Minute)
	require.NoError(t, err)

	header := httptest.NewRequest(http.MethodGet, "/", nil)
	header.Header.Set("Authorization", "Bearer "+token)

	cookie := httptest.NewRequest(http.MethodGet, "/", nil)
	cookie.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})

	query := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)

	for name, r := range map[string]*http.Request{"header": header, "cookie": cookie, "query": query} {
		id, err := a.Authenticate(r)
		require.NoError(t, err, name)
		assert.Equal(t, model.Identity{UserID: "buyer-1", Role: model.RoleBuyer}, id, name)
	}
}

func TestAuthenticate_NonBearerHeaderFallsBack(t *testing.T) {
	a := NewAuthenticator(testSecret, "")
	token, err := a.Issue("buyer-1", model.RoleBuyer, time.Minute)
	require.NoError(t, err)

	cookie := httptest.NewRequest(http.MethodGet, "/", nil)
	cookie.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	cookie.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})

	query := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	query.Header.Set("Authorization", "Bearer")

	for name, r := range map[string]*http.Request{"cookie": cookie, "query": query} {
		id, err := a.Authenticate(r)
		require.NoError(t, err, name)
		assert.Equal(t, "buyer-1", id.UserID, name)
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	a := NewAuthenticator(testSecret, "")
	other := NewAuthenticator("other-secret", "")
	forged, err := other.Issue("admin-1", model.RoleAdmin, time.Minute)
	require.NoError(t, err)
	expired, err := a.Issue("buyer-1", model.RoleBuyer, -time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = a.Authenticate(r)
	assert.ErrorIs(t, err, ErrMissingCredential)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic abc")
	_, err = a.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidCredential)

	for _, tok := range []string{forged, expired, "garbage"} {
		_, err = a.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	}
}

func TestVerify_IsAdminClaim(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-9"},
		IsAdmin:          true,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	id, err := NewAuthenticator(testSecret, "").Verify(token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, id.Role)
}

func TestAuthMiddleware(t *testing.T) {
	a := NewAuthenticator(testSecret, "")
	var seen model.Identity
	h := Auth(a, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetIdentity(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := a.Issue("admin-1", model.RoleAdmin, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "admin-1", seen.UserID)
	assert.True(t, seen.IsAdmin())
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), model.Identity{UserID: "b", Role: model.RoleBuyer}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = req.WithContext(WithIdentity(req.Context(), model.Identity{UserID: "a", Role: model.RoleAdmin}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("0190d6a2-7b1c-7c3e-9f00-5b9a1d2c3e4f"))
	assert.Error(t, ValidateID(""))
	assert.Error(t, ValidateID("has space"))
	assert.Error(t, ValidateID("../etc/passwd"))
	assert.Error(t, ValidateID("jane@example.com"))
}

func TestValidateUserID(t *testing.T) {
	for _, ok := range []string{"buyer-1", "jane@example.com", "auth0|5f7c8ec", "user+tag@shop.io"} {
		assert.NoError(t, ValidateUserID(ok), ok)
	}
	for _, bad := range []string{"", "has space", "../etc/passwd", `a\b`, "tab\tid"} {
		assert.Error(t, ValidateUserID(bad), bad)
	}
}
