package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"auction-engine/internal/models"
)

const (
	redisDialTimeout  = 2 * time.Second
	redisReadTimeout  = 1500 * time.Millisecond
	redisWriteTimeout = 1500 * time.Millisecond
)

// RedisSink publishes events on the Redis channel <prefix><auction_id>
type RedisSink struct {
	pool   *redis.Pool
	prefix string
	codec  Codec
}

// NewRedisSink creates a sink backed by a connection pool to addr.
// Connections are dialed lazily.
func NewRedisSink(addr, prefix string, codec Codec) *RedisSink {
	opts := []redis.DialOption{
		redis.DialConnectTimeout(redisDialTimeout),
		redis.DialReadTimeout(redisReadTimeout),
		redis.DialWriteTimeout(redisWriteTimeout),
	}
	return newRedisSink(func() (redis.Conn, error) {
		return redis.Dial("tcp", addr, opts...)
	}, prefix, codec)
}

func newRedisSink(dial func() (redis.Conn, error), prefix string, codec Codec) *RedisSink {
	return &RedisSink{
		pool: &redis.Pool{
			MaxIdle:     8,
			MaxActive:   64,
			Wait:        true,
			IdleTimeout: 240 * time.Second,
			Dial:        dial,
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Second {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
		prefix: prefix,
		codec:  codec,
	}
}

func (s *RedisSink) Name() string { return "redis" }

// Channel returns the pub/sub channel for an auction
func (s *RedisSink) Channel(auctionID string) string {
	return s.prefix + auctionID
}

func (s *RedisSink) Publish(ctx context.Context, event models.AuctionEvent) error {
	body, err := s.codec.Encode(event)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", event.Type, err)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis: get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("PUBLISH", s.Channel(event.AuctionID), body); err != nil {
		return fmt.Errorf("redis: publish %s: %w", s.Channel(event.AuctionID), err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.pool.Close()
}
