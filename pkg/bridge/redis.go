package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/getmockd/gqlsubs/pkg/logging"
)

// DefaultRedisPrefix is the channel prefix used when none is configured.
const DefaultRedisPrefix = "gqlsubs:"

// NewRedisClient creates a client from a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// RedisSource pattern-subscribes to prefix+"*" and publishes every message
// under the channel suffix as the subscription name.
type RedisSource struct {
	client redis.UniversalClient
	prefix string
	target Publisher
	logger *slog.Logger
}

// NewRedisSource creates a source. An empty prefix means DefaultRedisPrefix.
func NewRedisSource(client redis.UniversalClient, prefix string, target Publisher, logger *slog.Logger) *RedisSource {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSource{
		client: client,
		prefix: prefix,
		target: target,
		logger: logging.Component(logger, "bridge.redis"),
	}
}

// Run implements Source.
func (s *RedisSource) Run(ctx context.Context) error {
	ps := s.client.PSubscribe(ctx, s.prefix+"*")
	defer func() { _ = ps.Close() }()

	// The first receive confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis psubscribe %q: %w", s.prefix+"*", err)
	}
	s.logger.Info("listening", "pattern", s.prefix+"*")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			s.handle(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (s *RedisSource) handle(ctx context.Context, channel, payload string) {
	name := strings.TrimPrefix(channel, s.prefix)
	if name == "" || name == channel {
		s.logger.Warn("ignoring message on unexpected channel", "channel", channel)
		return
	}
	if err := s.target.Publish(ctx, name, decodePayload([]byte(payload))); err != nil {
		s.logger.Warn("publish failed", "subscription", name, "error", err)
	}
}

// RedisSink is a Publisher that publishes to prefix+name, so that every
// instance running a RedisSource on the same prefix fans the event out.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSink creates a sink. An empty prefix means DefaultRedisPrefix.
func NewRedisSink(client redis.UniversalClient, prefix string) *RedisSink {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Publish implements Publisher.
func (s *RedisSink) Publish(ctx context.Context, name string, payload interface{}) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.prefix+name, data).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", s.prefix+name, err)
	}
	return nil
}
