package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	ws "github.com/thereayou/clubchat/internal/websocket"
	applog "github.com/thereayou/clubchat/pkg/log"
)

var ErrNotConnected = errors.New("socket not connected")

// EventHandler receives socket traffic. Connected is called after every
// successful dial, including reconnects.
type EventHandler interface {
	Connected()
	HandleEvent(ev ws.Event)
}

// Socket keeps one websocket to the server open, redialing with backoff.
type Socket struct {
	url    string
	dialer *websocket.Dialer

	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSocket targets wsURL (ws:// or wss://) and authenticates with the token
// query parameter.
func NewSocket(wsURL, token string) (*Socket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return &Socket{
		url:        u.String(),
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 15 * time.Second,
	}, nil
}

// Run dials and reads until ctx is cancelled.
func (s *Socket) Run(ctx context.Context, handler EventHandler) error {
	logger := applog.Ctx(ctx)
	backoff := s.MinBackoff

	for {
		conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return errors.New("websocket handshake rejected: unauthorized")
			}
			logger.Warn().Err(err).Dur("backoff", backoff).Msg("websocket dial failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, s.MaxBackoff)
			continue
		}

		backoff = s.MinBackoff
		s.setConn(conn)
		handler.Connected()

		err = s.readLoop(ctx, conn, handler)
		s.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Info().Err(err).Msg("websocket disconnected, reconnecting")
	}
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn, handler EventHandler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var ev ws.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		handler.HandleEvent(ev)
	}
}

// Emit writes one frame. It fails fast while disconnected; the engine rejoins
// on the next Connected anyway.
func (s *Socket) Emit(ev ws.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(ev)
}

func (s *Socket) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
