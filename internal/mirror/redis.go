package mirror

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of *redis.Client used by RedisSink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes each event payload to one pub/sub channel.
type RedisSink struct {
	pub     Publisher
	channel string
	close   func() error
}

// NewRedisSink publishes to channel through pub. Close on the result does
// not close pub.
func NewRedisSink(pub Publisher, channel string) *RedisSink {
	return &RedisSink{pub: pub, channel: channel, close: func() error { return nil }}
}

// DialRedis connects to addr and checks the connection with PING.
func DialRedis(ctx context.Context, addr, channel string) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}
	s := NewRedisSink(rdb, channel)
	s.close = rdb.Close
	return s, nil
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Write publishes the encoded wire message.
func (s *RedisSink) Write(ctx context.Context, ev Event) error {
	if err := s.pub.Publish(ctx, s.channel, ev.Payload).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", s.channel)
	}
	return nil
}

// Close closes the client opened by DialRedis.
func (s *RedisSink) Close() error { return s.close() }
