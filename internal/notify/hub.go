package notify

import (
	"context"
	"sync"
)

// Hub 是进程内的发布/订阅实现，未启用 Redis 的单机部署使用。
// 订阅者处理不过来时丢弃消息，发布方不会被阻塞。
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan string]struct{}
}

// NewHub 返回空的 Hub。
func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan string]struct{}{}}
}

// Publish 把消息投递给频道上的全部订阅者。
func (h *Hub) Publish(_ context.Context, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[msg.Channel()] {
		select {
		case ch <- string(data):
		default:
		}
	}
	return nil
}

// Subscribe 注册订阅者。
func (h *Hub) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	ch := make(chan string, 16)
	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = map[chan string]struct{}{}
	}
	h.subs[channel][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	closeFn := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			delete(h.subs[channel], ch)
			if len(h.subs[channel]) == 0 {
				delete(h.subs, channel)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			closeFn()
		case <-done:
		}
	}()
	return ch, closeFn, nil
}
