package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/config"
	"github.com/life-stream-dev/pitstopper/internal/location"
	"github.com/life-stream-dev/pitstopper/internal/logger"
)

// FixDocument is the stored form of a location fix.
type FixDocument struct {
	DeviceID   string    `bson:"device_id"`
	Timestamp  time.Time `bson:"ts"`
	Latitude   float64   `bson:"lat"`
	Longitude  float64   `bson:"lon"`
	Accuracy   float32   `bson:"acc"`
	ReceivedAt time.Time `bson:"received_at"`
}

type fixCollection interface {
	InsertMany(ctx context.Context, docs []interface{}) error
}

type ArchiveStats struct {
	Stored  uint64
	Dropped uint64
	Failed  uint64
}

// Archive buffers fixes and writes them in batches. Record never blocks.
type Archive struct {
	collection       fixCollection
	disconnect       func(context.Context) error
	batchSize        int
	flushInterval    time.Duration
	operationTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan FixDocument
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error

	stored  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func newArchive(collection fixCollection, cfg config.ArchiveConfig, disconnect func(context.Context) error) *Archive {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	a := &Archive{
		collection:       collection,
		disconnect:       disconnect,
		batchSize:        cfg.BatchSize,
		flushInterval:    cfg.FlushInterval,
		operationTimeout: cfg.OperationTimeout,
		queue:            make(chan FixDocument, cfg.Buffer),
		done:             make(chan struct{}),
	}
	go a.run()
	return a
}

// Record queues fix for storage and reports whether it was accepted.
func (a *Archive) Record(deviceID string, fix location.Fix) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return false
	}
	doc := FixDocument{
		DeviceID:   deviceID,
		Timestamp:  fix.Timestamp,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Accuracy:   fix.Accuracy,
		ReceivedAt: time.Now(),
	}
	select {
	case a.queue <- doc:
		return true
	default:
		a.dropped.Add(1)
		return false
	}
}

func (a *Archive) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]interface{}, 0, a.batchSize)
	for {
		select {
		case doc, ok := <-a.queue:
			if !ok {
				a.flush(batch)
				return
			}
			batch = append(batch, doc)
			if len(batch) >= a.batchSize {
				a.flush(batch)
				batch = make([]interface{}, 0, a.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = make([]interface{}, 0, a.batchSize)
			}
		}
	}
}

func (a *Archive) flush(batch []interface{}) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.operationTimeout)
	defer cancel()
	if err := a.collection.InsertMany(ctx, batch); err != nil {
		a.failed.Add(uint64(len(batch)))
		logger.ErrorF("Fail to archive %d fixes, details: %v", len(batch), err)
		return
	}
	a.stored.Add(uint64(len(batch)))
	logger.DebugF("Archived %d fixes", len(batch))
}

// Close flushes buffered fixes and disconnects. It waits for the final
// flush until ctx is done.
func (a *Archive) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()

		select {
		case <-a.done:
		case <-ctx.Done():
			logger.WarnF("Fix archive flush interrupted, details: %v", ctx.Err())
		}

		logger.InfoF("Closing database connection")
		if a.disconnect != nil {
			a.closeErr = a.disconnect(ctx)
		}
	})
	return a.closeErr
}

// Invoke lets the shutdown cleaner close the archive.
func (a *Archive) Invoke(ctx context.Context) error {
	return a.Close(ctx)
}

func (a *Archive) Stats() ArchiveStats {
	return ArchiveStats{
		Stored:  a.stored.Load(),
		Dropped: a.dropped.Load(),
		Failed:  a.failed.Load(),
	}
}
