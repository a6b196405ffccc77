package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

// redisChannelPrefix namespaces per-session insert channels.
const redisChannelPrefix = "chat:messages:"

// RedisChannel returns the pub/sub channel for a session's inserts.
func RedisChannel(sessionID string) string {
	return redisChannelPrefix + sessionID
}

// RedisSource pattern-subscribes to every session channel.
type RedisSource struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisSource creates a source on client.
func NewRedisSource(client *redis.Client, logger zerolog.Logger) *RedisSource {
	return &RedisSource{client: client, logger: logger.With().Str("source", "redis").Logger()}
}

// Listen implements Source. ReceiveMessage is used instead of Channel so
// connection drops surface as errors rather than silent reconnects.
func (s *RedisSource) Listen(ctx context.Context, ready func(), emit func(chat.Message)) error {
	pubsub := s.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	ready()

	for {
		m, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}

		msg, err := decodeRedisEvent(m.Channel, m.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Str("channel", m.Channel).Msg("ignoring malformed event")
			continue
		}
		emit(msg)
	}
}

// decodeRedisEvent parses a published row. A payload without a session id
// takes it from the channel name.
func decodeRedisEvent(channel, payload string) (chat.Message, error) {
	var msg chat.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return chat.Message{}, err
	}
	if msg.SessionID == "" {
		msg.SessionID = strings.TrimPrefix(channel, redisChannelPrefix)
	}
	return msg, nil
}

// RedisPublisher announces inserts to RedisSource listeners.
type RedisPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisPublisher creates a publisher on client.
func NewRedisPublisher(client *redis.Client, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

// Publish sends msg on its session channel.
func (p *RedisPublisher) Publish(ctx context.Context, msg chat.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, RedisChannel(msg.SessionID), data).Err()
}

// Hook adapts Publish to a store insert hook; failures are logged.
func (p *RedisPublisher) Hook(ctx context.Context) func(chat.Message) {
	return func(msg chat.Message) {
		if err := p.Publish(ctx, msg); err != nil {
			p.logger.Error().Err(err).Int64("id", msg.ID).Str("session_id", msg.SessionID).Msg("redis publish failed")
		}
	}
}
