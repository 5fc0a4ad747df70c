package realtime

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2/log"
)

// MemoryHub delivers notifications within a single process.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string]map[*memorySubscription]struct{})}
}

// Publish never blocks; a subscriber whose buffer is full misses the message.
func (h *MemoryHub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[channel] {
		msg := Message{Channel: channel, Payload: append([]byte(nil), payload...)}
		select {
		case sub.out <- msg:
		default:
			log.Warnf("[Realtime] dropping message on %s: subscriber too slow", channel)
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		hub:     h,
		channel: channel,
		out:     make(chan Message, subscriptionBuffer),
	}

	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*memorySubscription]struct{})
	}
	h.subs[channel][sub] = struct{}{}
	h.mu.Unlock()

	sub.stop = context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub, nil
}

// Subscribers returns the number of open subscriptions on channel.
func (h *MemoryHub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

type memorySubscription struct {
	hub     *MemoryHub
	channel string
	out     chan Message
	once    sync.Once
	stop    func() bool
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.hub.mu.Lock()
		delete(s.hub.subs[s.channel], s)
		if len(s.hub.subs[s.channel]) == 0 {
			delete(s.hub.subs, s.channel)
		}
		close(s.out)
		s.hub.mu.Unlock()
	})
	return nil
}
