// Package alert delivers best-effort status notifications to chat channels
package alert

import (
	"context"
	"sync"
	"time"

	"signal_bridge/internal/core"
	"signal_bridge/pkg/concurrency"
)

// Channel is a single notification sink
type Channel interface {
	Send(ctx context.Context, text string) error
	Name() string
}

// Manager fans a message out to all registered channels. Delivery happens
// on a bounded worker pool so the trading path never blocks on a slow chat
// API; failures are logged and dropped.
type Manager struct {
	channels []Channel
	pool     *concurrency.WorkerPool
	logger   core.ILogger
	timeout  time.Duration
	mu       sync.RWMutex
}

// NewManager creates a notification manager
func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		channels: make([]Channel, 0),
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "alerts",
			MaxWorkers:  2,
			MaxCapacity: 32,
			NonBlocking: true,
		}, logger),
		logger:  logger.WithField("component", "alert_manager"),
		timeout: 6 * time.Second,
	}
}

// AddChannel registers a notification sink
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// Notify sends a text message to every channel, fire and forget
func (m *Manager) Notify(ctx context.Context, text string) {
	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	if len(channels) == 0 {
		m.logger.Debug("No alert channels configured, skipping message")
		return
	}

	for _, ch := range channels {
		c := ch
		err := m.pool.Submit(func() {
			// Detached from the request context: the notification should
			// still go out after the webhook response is written.
			sendCtx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()

			if err := c.Send(sendCtx, text); err != nil {
				m.logger.Warn("Failed to send alert", "channel", c.Name(), "error", err)
			}
		})
		if err != nil {
			m.logger.Warn("Alert dropped, dispatch pool full", "channel", c.Name())
		}
	}
}

// Close drains the dispatch pool
func (m *Manager) Close() {
	m.pool.Stop()
}
