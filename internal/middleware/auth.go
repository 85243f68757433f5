package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/thereayou/clubchat/internal/chaterr"
	"github.com/thereayou/clubchat/internal/models"
	"github.com/thereayou/clubchat/pkg/auth"
	applog "github.com/thereayou/clubchat/pkg/log"
	"github.com/thereayou/clubchat/pkg/response"
)

const IdentityKey = "identity"

// IdentityResolver turns a bearer token into the caller's identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (models.Identity, error)
}

// Blacklist reports revoked tokens.
type Blacklist interface {
	Revoked(ctx context.Context, token string) (bool, error)
}

// RedisBlacklist checks "blacklist:<token>" keys written on logout.
type RedisBlacklist struct {
	client *redis.Client
}

func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

func (b *RedisBlacklist) Revoked(ctx context.Context, token string) (bool, error) {
	exists, err := b.client.Exists(ctx, "blacklist:"+token).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// Revoke blacklists token until it would have expired anyway.
func (b *RedisBlacklist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, "blacklist:"+token, 1, ttl).Err()
}

// JWTResolver verifies HS256 tokens and optionally consults a blacklist.
type JWTResolver struct {
	jwt       *auth.JWTManager
	blacklist Blacklist
}

func NewJWTResolver(jwt *auth.JWTManager, blacklist Blacklist) *JWTResolver {
	return &JWTResolver{jwt: jwt, blacklist: blacklist}
}

func (r *JWTResolver) Resolve(ctx context.Context, token string) (models.Identity, error) {
	if r.blacklist != nil {
		revoked, err := r.blacklist.Revoked(ctx, token)
		if err != nil {
			return models.Identity{}, fmt.Errorf("%w: blacklist unavailable", chaterr.ErrAuthentication)
		}
		if revoked {
			return models.Identity{}, fmt.Errorf("%w: token is revoked", chaterr.ErrAuthentication)
		}
	}

	claims, err := r.jwt.Verify(token)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", chaterr.ErrAuthentication, err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", chaterr.ErrAuthentication, err)
	}

	role := claims.Role
	if role == "" {
		role = models.RoleStudent
	}
	return models.Identity{UserID: userID, DisplayName: claims.Name, Role: role}, nil
}

// AuthMiddleware rejects requests without a valid identity. The token may come
// from the access_token cookie, the token query parameter or a Bearer header.
func AuthMiddleware(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.TokenFromRequest(c.Request)
		if err != nil {
			response.Unauthorized(c, "missing or invalid token")
			return
		}

		ident, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			applog.Ctx(c.Request.Context()).Debug().Err(err).Msg("authentication failed")
			msg := "invalid token"
			if !errors.Is(err, chaterr.ErrAuthentication) {
				msg = "authentication failed"
			}
			response.Unauthorized(c, msg)
			return
		}

		SetIdentity(c, ident)
		c.Next()
	}
}

// SetIdentity stores the caller on the gin context and in the request logger.
func SetIdentity(c *gin.Context, ident models.Identity) {
	c.Set(IdentityKey, ident)
	c.Set(applog.FieldUserID, ident.UserID)
	c.Set(applog.FieldUserName, ident.DisplayName)

	logger := applog.Ctx(c.Request.Context()).With().Uint64(applog.FieldUserID, ident.UserID).Logger()
	c.Request = c.Request.WithContext(applog.WithLogger(c.Request.Context(), logger))
}

// GetIdentity returns the caller set by AuthMiddleware.
func GetIdentity(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return models.Identity{}, false
	}
	ident, ok := v.(models.Identity)
	return ident, ok
}
