package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	DefaultQueueSize = 64
	sendTimeout      = 30 * time.Second
)

var ErrQueueFull = errors.New("mail queue is full")

// Sender delivers one message right away.
type Sender interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

type Message struct {
	To      string
	Subject string
	Body    string
}

// Queue hands mails to a single background worker. SendMail only enqueues
// and fails fast with ErrQueueFull instead of blocking the caller.
type Queue struct {
	sender  Sender
	jobs    chan Message
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewQueue(sender Sender, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{sender: sender, jobs: make(chan Message, size)}
}

func (q *Queue) SendMail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.jobs <- Message{To: to, Subject: subject, Body: body}:
		return nil
	default:
		log.Warnf("[Mail] queue full, dropping %q to %s", subject, to)
		return ErrQueueFull
	}
}

// Start launches the worker. It stops on Stop or when ctx is done.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.stopCh = make(chan struct{})
	q.running = true

	q.wg.Add(1)
	go q.worker(ctx, q.stopCh)
	log.Infof("[Mail] worker started (queue size: %d)", cap(q.jobs))
}

// Stop ends the worker after the pending mails are sent.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[Mail] worker stopped")
}

func (q *Queue) worker(ctx context.Context, stopCh chan struct{}) {
	defer q.wg.Done()
	for {
		select {
		case msg := <-q.jobs:
			q.deliver(msg)
		case <-stopCh:
			q.drain()
			return
		case <-ctx.Done():
			q.drain()
			return
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case msg := <-q.jobs:
			q.deliver(msg)
		default:
			return
		}
	}
}

func (q *Queue) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := q.sender.SendMail(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		log.Errorf("[Mail] failed to deliver %q to %s: %v", msg.Subject, msg.To, err)
	}
}
