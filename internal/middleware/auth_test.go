package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/clubchat/internal/chaterr"
	"github.com/thereayou/clubchat/internal/models"
	"github.com/thereayou/clubchat/pkg/auth"
	applog "github.com/thereayou/clubchat/pkg/log"
)

type staticBlacklist struct {
	revoked map[string]bool
	err     error
}

func (b staticBlacklist) Revoked(_ context.Context, token string) (bool, error) {
	return b.revoked[token], b.err
}

func TestJWTResolver(t *testing.T) {
	jwt := auth.NewJWTManager("secret", time.Hour)
	tok, err := jwt.Generate(5, "Bob", "")
	require.NoError(t, err)

	r := NewJWTResolver(jwt, nil)
	ident, err := r.Resolve(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: 5, DisplayName: "Bob", Role: models.RoleStudent}, ident)

	r = NewJWTResolver(jwt, staticBlacklist{revoked: map[string]bool{tok: true}})
	_, err = r.Resolve(context.Background(), tok)
	assert.ErrorIs(t, err, chaterr.ErrAuthentication)

	r = NewJWTResolver(jwt, staticBlacklist{err: errors.New("redis down")})
	_, err = r.Resolve(context.Background(), tok)
	assert.ErrorIs(t, err, chaterr.ErrAuthentication)

	_, err = NewJWTResolver(jwt, nil).Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, chaterr.ErrAuthentication)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwt := auth.NewJWTManager("secret", time.Hour)
	tok, err := jwt.Generate(9, "Admin", models.RoleAdmin)
	require.NoError(t, err)

	var seen models.Identity
	r := gin.New()
	r.GET("/me", AuthMiddleware(NewJWTResolver(jwt, nil)), func(c *gin.Context) {
		seen, _ = GetIdentity(c)
		assert.Equal(t, uint64(9), c.GetUint64(applog.FieldUserID))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tok})
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, seen.IsAdmin())
	assert.Equal(t, "Admin", seen.DisplayName)
}
