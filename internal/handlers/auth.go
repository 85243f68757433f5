package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/clubchat/internal/middleware"
	"github.com/thereayou/clubchat/pkg/auth"
	applog "github.com/thereayou/clubchat/pkg/log"
	"github.com/thereayou/clubchat/pkg/response"
)

// Revoker blacklists a token for the rest of its lifetime.
type Revoker interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

// SessionHandler exposes the caller's identity and token revocation. Tokens
// are issued by the portal, not here.
type SessionHandler struct {
	jwtManager *auth.JWTManager
	revoker    Revoker
	now        func() time.Time
}

// NewSessionHandler builds the handler. revoker may be nil when no redis is
// configured; logout then only clears the cookie.
func NewSessionHandler(jwtMgr *auth.JWTManager, revoker Revoker) *SessionHandler {
	return &SessionHandler{jwtManager: jwtMgr, revoker: revoker, now: time.Now}
}

func (h *SessionHandler) Me(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	response.Success(c, ident)
}

// Logout blacklists the presented token until it expires.
func (h *SessionHandler) Logout(c *gin.Context) {
	rawToken, err := auth.TokenFromRequest(c.Request)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	exp, err := h.jwtManager.Expiry(rawToken)
	if err != nil {
		response.Unauthorized(c, "invalid token")
		return
	}

	if h.revoker != nil {
		if err := h.revoker.Revoke(c.Request.Context(), rawToken, exp.Sub(h.now())); err != nil {
			applog.Ctx(c.Request.Context()).Error().Err(err).Msg("token revoke failed")
			response.InternalError(c, "could not revoke token")
			return
		}
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	response.Success(c, gin.H{"logged_out": true})
}
