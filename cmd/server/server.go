package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/thereayou/clubchat/internal/cipher"
	"github.com/thereayou/clubchat/internal/config"
	"github.com/thereayou/clubchat/internal/database"
	"github.com/thereayou/clubchat/internal/events"
	"github.com/thereayou/clubchat/internal/handlers"
	"github.com/thereayou/clubchat/internal/middleware"
	"github.com/thereayou/clubchat/internal/ratelimit"
	"github.com/thereayou/clubchat/internal/services"
	ws "github.com/thereayou/clubchat/internal/websocket"
	"github.com/thereayou/clubchat/pkg/auth"
	applog "github.com/thereayou/clubchat/pkg/log"
)

const (
	ruleRead      = "read"
	ruleHandshake = "handshake"
)

type Server struct {
	Router     *gin.Engine
	HTTP       *http.Server
	DB         *database.Database
	Redis      *redis.Client
	Hub        *ws.Hub
	JWTManager *auth.JWTManager

	kafka *events.KafkaPublisher
}

func NewServer(cfg *config.Config) (*Server, error) {
	logger := applog.L()

	gormDB, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database connect failed: %w", err)
	}
	if err := database.Migrate(gormDB); err != nil {
		return nil, fmt.Errorf("database migrate failed: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connect failed: %w", err)
		}
	}

	key, insecure, err := cipher.KeyFromConfig(cfg.Chat.EncryptionKey, cfg.Chat.EncryptionSalt)
	if err != nil {
		return nil, err
	}
	if insecure {
		logger.Warn().Msg("CHAT_ENCRYPTION_KEY is not set; using the built-in key. Do not run like this in production")
	}
	crypter, err := cipher.New(key)
	if err != nil {
		return nil, err
	}
	db := database.NewDatabase(gormDB, crypter, database.NewMemberships(gormDB))

	relay, err := newRelay(cfg, rdb)
	if err != nil {
		return nil, err
	}
	hub := ws.NewHub(ws.Config{
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
	}, relay)

	notifiers := services.MultiNotifier{handlers.NewHubNotifier(hub)}
	var kafka *events.KafkaPublisher
	if cfg.Kafka.Brokers != "" {
		kafka, err = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, kafka)
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("lifecycle stream enabled")
	}

	gov := ratelimit.NewGovernor(newLimitStore(cfg, rdb),
		rule(services.RuleSend, cfg.RateLimit.Send),
		rule(ruleRead, cfg.RateLimit.Read),
		rule(ruleHandshake, cfg.RateLimit.Handshake),
	)

	chat := services.NewChatService(db, gov, notifiers, services.Config{
		MaxBodyLength: cfg.Chat.MaxBodyLength,
		DefaultLimit:  cfg.Chat.DefaultLimit,
		MaxLimit:      cfg.Chat.MaxLimit,
	})

	jwtMgr := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	var blacklist middleware.Blacklist
	var revoker handlers.Revoker
	if rdb != nil {
		bl := middleware.NewRedisBlacklist(rdb)
		blacklist, revoker = bl, bl
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), applog.GinMiddleware(*logger))

	APIEndpoints(router, Deps{
		Auth:      middleware.AuthMiddleware(middleware.NewJWTResolver(jwtMgr, blacklist)),
		Governor:  gov,
		Messages:  handlers.NewHTTPMessageHandler(chat),
		Sessions:  handlers.NewSessionHandler(jwtMgr, revoker),
		WebSocket: handlers.NewWebSocketHandler(hub, handlers.NewMessageHandler(hub), cfg.WebSocket.AllowedOrigins),
	})

	return &Server{
		Router: router,
		HTTP: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		DB:         db,
		Redis:      rdb,
		Hub:        hub,
		JWTManager: jwtMgr,
		kafka:      kafka,
	}, nil
}

// Run starts the hub and serves HTTP until Shutdown.
func (s *Server) Run() error {
	go s.Hub.Run()

	applog.L().Info().Str("addr", s.HTTP.Addr).Msg("server starting")
	if err := s.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every socket and flushes the
// lifecycle stream.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTP.Shutdown(ctx)
	s.Hub.Stop()

	if s.kafka != nil {
		_ = s.kafka.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if sqlDB, dbErr := s.DB.DB().DB(); dbErr == nil {
		_ = sqlDB.Close()
	}
	return err
}

func newRelay(cfg *config.Config, rdb *redis.Client) (ws.Relay, error) {
	switch cfg.Relay.Driver {
	case "", "none":
		return nil, nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("relay driver redis needs REDIS_URL")
		}
		return ws.NewRedisRelay(rdb, cfg.Relay.Channel), nil
	case "nats":
		return ws.NewNATSRelay(cfg.NATS.URL, cfg.Relay.Channel)
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Relay.Driver)
	}
}

func newLimitStore(cfg *config.Config, rdb *redis.Client) ratelimit.Store {
	if cfg.RateLimit.Store == "redis" {
		if rdb != nil {
			return ratelimit.NewRedisStore(rdb, "ratelimit:")
		}
		applog.L().Warn().Msg("RATE_LIMIT_STORE=redis but REDIS_URL is empty; using in-memory limits")
	}
	return ratelimit.NewMemoryStore()
}

func rule(name string, rc config.RuleConfig) ratelimit.Rule {
	return ratelimit.Rule{
		Name:           name,
		Window:         rc.Window,
		Quota:          rc.Quota,
		SkipSuccessful: rc.SkipSuccessful,
		SkipFailed:     rc.SkipFailed,
	}
}
