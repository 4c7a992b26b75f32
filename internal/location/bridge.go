package location

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"golang.org/x/time/rate"
)

var (
	// ErrBridgeDropped marks a fix that could not be handed to the broker.
	ErrBridgeDropped  = errors.New("location bridge dropped fix")
	ErrBridgeRunning  = errors.New("location bridge already running")
	ErrBridgeThrottle = fmt.Errorf("%w: rate limited", ErrBridgeDropped)
)

// Source delivers fixes to a registered callback until unregistered.
type Source interface {
	Register(onFix func(Fix)) error
	Unregister() error
}

// Publisher is the privileged publish entry point of the broker.
type Publisher interface {
	Submit(msg mqtt.Message) error
}

// Recorder receives every fix handed to the broker. Record must not block.
type Recorder interface {
	Record(deviceID string, fix Fix) bool
}

// Recorders hands every fix to each recorder in turn. Record reports whether
// any of them accepted it.
type Recorders []Recorder

func (r Recorders) Record(deviceID string, fix Fix) bool {
	accepted := false
	for _, rec := range r {
		if rec.Record(deviceID, fix) {
			accepted = true
		}
	}
	return accepted
}

type BridgeConfig struct {
	DeviceID string
	QoS      byte
	Encoding Encoding
	// RateLimit is fixes per second; zero disables throttling.
	RateLimit float64
	Burst     int
}

type BridgeStats struct {
	Received  uint64
	Published uint64
	Dropped   uint64
	Discarded uint64
}

// Bridge forwards fixes from a Source to the broker without ever blocking
// the source.
type Bridge struct {
	cfg       BridgeConfig
	topic     string
	publisher Publisher
	recorder  Recorder
	limiter   *rate.Limiter

	// mu is held for reading by OnFix and for writing by Start and Stop.
	mu      sync.RWMutex
	running bool
	source  Source

	received  atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	discarded atomic.Uint64
}

func NewBridge(cfg BridgeConfig, publisher Publisher, recorder Recorder) *Bridge {
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}
	if cfg.QoS > mqtt.QoS2 {
		cfg.QoS = mqtt.QoS2
	}
	b := &Bridge{
		cfg:       cfg,
		topic:     Topic(cfg.DeviceID),
		publisher: publisher,
		recorder:  recorder,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return b
}

func (b *Bridge) Topic() string {
	return b.topic
}

// Start registers the bridge with src.
func (b *Bridge) Start(src Source) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrBridgeRunning
	}
	b.running = true
	b.source = src
	if err := src.Register(b.OnFix); err != nil {
		b.running = false
		b.source = nil
		return fmt.Errorf("register location source: %w", err)
	}
	logger.InfoF("Location bridge started, publishing on %s", b.topic)
	return nil
}

// Stop unregisters the source. Once Stop returns no further fix reaches the
// broker. Stop is idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	src := b.source
	b.source = nil
	b.mu.Unlock()

	// Unregister outside the lock: a source may be waiting on a callback
	// that is blocked on mu.
	if err := src.Unregister(); err != nil {
		return fmt.Errorf("unregister location source: %w", err)
	}
	logger.InfoF("Location bridge stopped")
	return nil
}

func (b *Bridge) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// OnFix encodes fix and hands it to the broker. It never blocks.
func (b *Bridge) OnFix(fix Fix) {
	b.received.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		b.discarded.Add(1)
		return
	}

	if err := b.forward(fix); err != nil {
		b.dropped.Add(1)
		logger.DebugF("Location fix dropped, details: %v", err)
		return
	}
	b.published.Add(1)
	if b.recorder != nil {
		b.recorder.Record(b.cfg.DeviceID, fix)
	}
}

func (b *Bridge) forward(fix Fix) error {
	if b.limiter != nil && !b.limiter.Allow() {
		return ErrBridgeThrottle
	}
	payload, err := Encode(fix, b.cfg.Encoding)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBridgeDropped, err)
	}
	msg := mqtt.Message{Topic: b.topic, Payload: payload, QoS: b.cfg.QoS}
	if err := b.publisher.Submit(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrBridgeDropped, err)
	}
	return nil
}

func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Received:  b.received.Load(),
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Discarded: b.discarded.Load(),
	}
}
