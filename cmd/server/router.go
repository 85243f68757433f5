package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/clubchat/internal/handlers"
	"github.com/thereayou/clubchat/internal/ratelimit"
)

type Deps struct {
	Auth      gin.HandlerFunc
	Governor  *ratelimit.Governor
	Messages  *handlers.HTTPMessageHandler
	Sessions  *handlers.SessionHandler
	WebSocket *handlers.WebSocketHandler
}

func APIEndpoints(r *gin.Engine, d Deps) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// handshake limit keys by address: it runs before auth
	r.GET("/ws", ratelimit.Middleware(d.Governor, ruleHandshake), d.Auth, d.WebSocket.HandleWebSocket)

	api := r.Group("/api", d.Auth)
	{
		session := api.Group("/auth")
		session.GET("/me", d.Sessions.Me)
		session.POST("/logout", d.Sessions.Logout)

		// POST is governed inside the chat service (send rule)
		msgs := api.Group("/clubs/:clubId/chat/messages")
		msgs.GET("", ratelimit.Middleware(d.Governor, ruleRead), d.Messages.GetRoomMessages)
		msgs.POST("", d.Messages.SendMessage)
		msgs.PATCH("/:messageId", d.Messages.UpdateMessage)
		msgs.DELETE("/:messageId", d.Messages.DeleteMessage)
		msgs.POST("/:messageId/unsend", d.Messages.UnsendMessage)
	}
}
