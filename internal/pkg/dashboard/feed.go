package dashboard

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/realtime"
)

// Feed keeps the newest webhook events of one user, updated from the
// realtime channel until Close.
type Feed struct {
	sub     realtime.Subscription
	mu      sync.Mutex
	events  []models.WebhookEvent
	updates chan []models.WebhookEvent
	done    chan struct{}
	once    sync.Once
}

// Loader returns the newest events of a user, newest first.
type Loader func(ctx context.Context) ([]models.WebhookEvent, error)

// OpenFeed subscribes to the user's webhook channel and only then seeds the
// list from load, so nothing recorded in between is missed. Events that show
// up in both are kept once.
func OpenFeed(ctx context.Context, b *backend.Backend, userID uint, load Loader) (*Feed, error) {
	sub, err := b.Subscribe(ctx, realtime.WebhookEventsChannel(userID))
	if err != nil {
		return nil, err
	}
	var initial []models.WebhookEvent
	if load != nil {
		if initial, err = load(ctx); err != nil {
			_ = sub.Close()
			return nil, err
		}
	}
	f := &Feed{
		sub:     sub,
		events:  bound(append([]models.WebhookEvent(nil), initial...)),
		updates: make(chan []models.WebhookEvent, 8),
		done:    make(chan struct{}),
	}
	go f.run()
	return f, nil
}

func bound(events []models.WebhookEvent) []models.WebhookEvent {
	if len(events) > RecentEventsLimit {
		return events[:RecentEventsLimit]
	}
	return events
}

// contains must be called with mu held.
func (f *Feed) contains(id uint) bool {
	for _, ev := range f.events {
		if ev.ID == id {
			return true
		}
	}
	return false
}

// Events returns a copy of the current list.
func (f *Feed) Events() []models.WebhookEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.WebhookEvent(nil), f.events...)
}

// Updates yields the full list after every received event. It is closed
// once the feed stops.
func (f *Feed) Updates() <-chan []models.WebhookEvent {
	return f.updates
}

func (f *Feed) run() {
	defer close(f.updates)
	for msg := range f.sub.Messages() {
		var ev models.WebhookEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			log.Warnf("[Dashboard] skipping malformed event on %s: %v", msg.Channel, err)
			continue
		}

		f.mu.Lock()
		select {
		case <-f.done:
			f.mu.Unlock()
			return
		default:
		}
		if f.contains(ev.ID) {
			f.mu.Unlock()
			continue
		}
		f.events = bound(append([]models.WebhookEvent{ev}, f.events...))
		snapshot := append([]models.WebhookEvent(nil), f.events...)
		f.mu.Unlock()

		select {
		case f.updates <- snapshot:
		case <-f.done:
			return
		}
	}
}

// Close unsubscribes. The list no longer changes afterwards.
func (f *Feed) Close() error {
	var err error
	f.once.Do(func() {
		f.mu.Lock()
		close(f.done)
		f.mu.Unlock()
		err = f.sub.Close()
	})
	return err
}
