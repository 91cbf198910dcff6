package relay

import (
	"context"
	"fmt"

	"github.com/NotCoffee418/nextpm_monitor/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisListLength = 1000

type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(ctx context.Context, cfg config.RedisRelayConfig, log *logrus.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	log.Infof("Redis relay connected to %s", cfg.Addr)

	return &RedisSink{client: client, channel: cfg.Channel}, nil
}

func (s *RedisSink) Name() string {
	return "redis"
}

// Publish sends to the pub/sub channel and keeps a capped list as backlog.
func (s *RedisSink) Publish(ctx context.Context, payload []byte) error {
	pipe := s.client.Pipeline()
	pipe.Publish(ctx, s.channel, payload)
	pipe.LPush(ctx, s.listKey(), payload)
	pipe.LTrim(ctx, s.listKey(), 0, redisListLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (s *RedisSink) listKey() string {
	return s.channel + ":backlog"
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
