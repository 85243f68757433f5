package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	applog "github.com/thereayou/clubchat/pkg/log"
)

// Envelope carries one fan-out to the other instances. Exactly one of RoomID
// and UserID is set.
type Envelope struct {
	Origin  string          `json:"origin"`
	RoomID  uint64          `json:"room_id,omitempty"`
	UserID  uint64          `json:"user_id,omitempty"`
	Exclude uuid.UUID       `json:"exclude"`
	Payload json.RawMessage `json:"payload"`
}

// Relay shares hub fan-out between server instances.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe delivers envelopes to fn until ctx is done.
	Subscribe(ctx context.Context, fn func(Envelope)) error
	Close() error
}

// RedisRelay uses one pub/sub channel for all rooms.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{client: client, channel: channel}
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, fn func(Envelope)) error {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					applog.L().Warn().Err(err).Msg("relay: bad envelope")
					continue
				}
				fn(env)
			}
		}
	}()
	return nil
}

func (r *RedisRelay) Close() error { return nil }

// NATSRelay uses one core NATS subject. Delivery is at most once, same as the
// local hub.
type NATSRelay struct {
	nc      *nats.Conn
	subject string
}

func NewNATSRelay(url, subject string) (*NATSRelay, error) {
	nc, err := nats.Connect(url, nats.Name("clubchat-hub"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSRelay{nc: nc, subject: subject}, nil
}

func (r *NATSRelay) Publish(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.nc.Publish(r.subject, data)
}

func (r *NATSRelay) Subscribe(ctx context.Context, fn func(Envelope)) error {
	sub, err := r.nc.Subscribe(r.subject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			applog.L().Warn().Err(err).Msg("relay: bad envelope")
			return
		}
		fn(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (r *NATSRelay) Close() error {
	r.nc.Close()
	return nil
}
