// Package broker is the MQTT broker core: sessions, fan-out, QoS 1/2
// delivery, retained messages and the internal publish dispatcher.
package broker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/retained"
	"github.com/life-stream-dev/pitstopper/internal/session"
)

var (
	ErrNotRunning      = errors.New("broker is not running")
	ErrQueueFull       = errors.New("dispatch queue is full")
	ErrDeliveryTimeout = errors.New("delivery timed out")
)

type Config struct {
	MaxSessions      int
	RetryInterval    time.Duration
	MaxRetries       int
	RetainedCapacity int
	MaxInflight      int
	// Workers is the number of dispatcher shards serving Submit.
	Workers   int
	QueueSize int
}

func (c *Config) setDefaults() {
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetainedCapacity <= 0 {
		c.RetainedCapacity = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Stats is a point-in-time snapshot of the broker counters.
type Stats struct {
	ConnectionsAccepted uint64
	ConnectionsRejected uint64
	MessagesReceived    uint64
	MessagesPublished   uint64
	Deliveries          uint64
	Retries             uint64
	Undeliverable       uint64
	Abandoned           uint64
	Dropped             uint64
	Sessions            int
	Retained            int
}

type counters struct {
	accepted      atomic.Uint64
	rejected      atomic.Uint64
	received      atomic.Uint64
	published     atomic.Uint64
	deliveries    atomic.Uint64
	retries       atomic.Uint64
	undeliverable atomic.Uint64
	abandoned     atomic.Uint64
	dropped       atomic.Uint64
}

type Broker struct {
	cfg      Config
	store    *session.Store
	retained *retained.Table
	stats    counters

	mu         sync.RWMutex
	running    bool
	dispatcher *dispatcher
}

func New(cfg Config) (*Broker, error) {
	cfg.setDefaults()
	table, err := retained.NewTable(cfg.RetainedCapacity)
	if err != nil {
		return nil, err
	}
	b := &Broker{cfg: cfg, retained: table}
	b.store = session.NewStore(session.StoreConfig{
		MaxSessions: cfg.MaxSessions,
		MaxInflight: cfg.MaxInflight,
		OnAbandon: func(sess *session.Session, count int) {
			b.stats.abandoned.Add(uint64(count))
			logger.DebugF("[%s] %d inflight messages abandoned", sess.ClientID, count)
		},
	})
	return b, nil
}

// Start launches the dispatcher. Starting a running broker is a no-op.
func (b *Broker) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.dispatcher = newDispatcher(b.cfg.Workers, b.cfg.QueueSize, b.publishQueued)
	b.dispatcher.start()
	b.running = true
	logger.InfoF("Broker started with %d dispatch workers", b.cfg.Workers)
}

// Stop discards queued internal publishes, closes every session and waits
// for the dispatcher workers to exit.
func (b *Broker) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	d := b.dispatcher
	b.dispatcher = nil
	b.mu.Unlock()

	if discarded := d.stop(); discarded > 0 {
		b.stats.dropped.Add(uint64(discarded))
		logger.WarnF("Discarded %d queued publishes on shutdown", discarded)
	}

	sessions := b.store.All()
	for _, sess := range sessions {
		b.Disconnect(sess, "broker shutting down", true)
	}
	logger.InfoF("Broker stopped, %d sessions closed", len(sessions))
}

func (b *Broker) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func (b *Broker) Stats() Stats {
	return Stats{
		ConnectionsAccepted: b.stats.accepted.Load(),
		ConnectionsRejected: b.stats.rejected.Load(),
		MessagesReceived:    b.stats.received.Load(),
		MessagesPublished:   b.stats.published.Load(),
		Deliveries:          b.stats.deliveries.Load(),
		Retries:             b.stats.retries.Load(),
		Undeliverable:       b.stats.undeliverable.Load(),
		Abandoned:           b.stats.abandoned.Load(),
		Dropped:             b.stats.dropped.Load(),
		Sessions:            b.store.Count(),
		Retained:            b.retained.Len(),
	}
}

// Session returns the installed session of clientID.
func (b *Broker) Session(clientID string) (*session.Session, bool) {
	return b.store.Get(clientID)
}
