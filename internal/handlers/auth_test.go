package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/clubchat/internal/middleware"
	"github.com/thereayou/clubchat/internal/models"
	"github.com/thereayou/clubchat/pkg/auth"
)

type memRevoker map[string]time.Duration

func (m memRevoker) Revoke(_ context.Context, token string, ttl time.Duration) error {
	m[token] = ttl
	return nil
}

func (m memRevoker) Revoked(_ context.Context, token string) (bool, error) {
	_, ok := m[token]
	return ok, nil
}

func TestLogoutRevokesToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwt := auth.NewJWTManager("secret", time.Hour)
	tok, err := jwt.Generate(4, "Dana", "")
	require.NoError(t, err)

	revoked := memRevoker{}
	h := NewSessionHandler(jwt, revoked)
	authn := middleware.AuthMiddleware(middleware.NewJWTResolver(jwt, revoked))

	r := gin.New()
	r.GET("/me", authn, h.Me)
	r.POST("/logout", authn, h.Logout)

	call := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := call(http.MethodGet, "/me")
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data models.Identity `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, models.Identity{UserID: 4, DisplayName: "Dana", Role: models.RoleStudent}, env.Data)

	w = call(http.MethodPost, "/logout")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, revoked, tok)
	assert.InDelta(t, time.Hour.Seconds(), revoked[tok].Seconds(), 5)
	assert.Contains(t, w.Header().Get("Set-Cookie"), auth.CookieName+"=")

	w = call(http.MethodGet, "/me")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
