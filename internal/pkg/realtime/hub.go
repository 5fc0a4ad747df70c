// Package realtime fans out change notifications to live dashboard
// subscribers.
package realtime

import (
	"context"
	"fmt"
)

// Message is one notification received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Hub publishes notifications and hands out subscriptions.
type Hub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers messages until Close is called or the context passed
// to Subscribe is done. Close is idempotent and closes Messages.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// WebhookEventsChannel carries the inserted webhook events of one user's
// integrations.
func WebhookEventsChannel(userID uint) string {
	return fmt.Sprintf("webhook_events:user:%d", userID)
}
