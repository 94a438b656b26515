package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis 通过 Redis Pub/Sub 发布与订阅通知，用于 API 与 worker 分进程部署。
type Redis struct {
	client *redis.Client
}

// NewRedis 返回基于 Redis 的发布/订阅器。
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Publish 把消息发布到消息对应的频道。
func (r *Redis) Publish(ctx context.Context, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	channel := msg.Channel()
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

// Subscribe 订阅频道并把 payload 转发到返回的 channel。
func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %q: %w", channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
