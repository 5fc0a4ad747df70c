package usage

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const DefaultFlushInterval = 5 * time.Second

type flusher interface {
	Flush(ctx context.Context) error
}

// Manager flushes the counter on a ticker until stopped.
type Manager struct {
	counter  flusher
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewManager(counter *Counter, interval time.Duration) *Manager {
	return newManager(counter, interval)
}

func newManager(counter flusher, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Manager{counter: counter, interval: interval}
}

// Start launches the flush worker. It stops on Stop or when ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.stopCh = make(chan struct{})
	m.running = true

	m.wg.Add(1)
	go m.flushWorker(ctx, m.stopCh)
	log.Infof("[Usage] flush worker started (interval: %s)", m.interval)
}

// Stop ends the worker after one last flush.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	log.Info("[Usage] flush worker stopped")
}

func (m *Manager) flushWorker(ctx context.Context, stopCh chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			m.flush(context.Background())
			return
		case <-ctx.Done():
			m.flush(context.Background())
			return
		case <-ticker.C:
			m.flush(ctx)
		}
	}
}

func (m *Manager) flush(ctx context.Context) {
	if err := m.counter.Flush(ctx); err != nil {
		log.Errorf("[Usage] flush failed: %v", err)
	}
}
