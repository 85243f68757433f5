package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	applog "github.com/thereayou/clubchat/pkg/log"
	"github.com/thereayou/clubchat/pkg/response"
)

// GinKey reads the user id the auth middleware left on the context, falling
// back to the client address gin resolved.
func GinKey(c *gin.Context) string {
	return Key(c.GetUint64(applog.FieldUserID), c.ClientIP())
}

// Middleware guards a route with the named rule. Responses below 400 count as
// successful when the attempt is settled.
func Middleware(gov *Governor, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		d, err := gov.Allow(ctx, action, GinKey(c))
		if err != nil {
			applog.Ctx(ctx).Error().Err(err).Msg("rate limit rule missing")
			c.Next()
			return
		}

		setHeaders(c, d)
		if !d.Allowed {
			retry := retrySeconds(d)
			c.Header("Retry-After", strconv.Itoa(retry))
			applog.Ctx(ctx).Info().Str(applog.FieldRule, action).Int("retry_after", retry).Msg("rate limited")
			response.TooManyRequests(c, "Too many requests. Please try again later.", retry)
			return
		}

		c.Next()

		status := c.Writer.Status()
		gov.Settle(ctx, d, status < http.StatusBadRequest)
	}
}

func setHeaders(c *gin.Context, d Decision) {
	if d.Limit == 0 {
		return
	}
	c.Header("RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		reset := int(math.Ceil(d.ResetAt.Sub(d.at).Seconds()))
		if reset < 0 {
			reset = 0
		}
		c.Header("RateLimit-Reset", strconv.Itoa(reset))
	}
}

func retrySeconds(d Decision) int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
