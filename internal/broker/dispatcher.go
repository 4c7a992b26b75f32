package broker

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/life-stream-dev/pitstopper/internal/topic"
)

// dispatcher runs internal publishes on a fixed set of workers. Messages are
// sharded by topic so one topic is always handled by the same worker, in order.
type dispatcher struct {
	queues  []chan mqtt.Message
	handle  func(mqtt.Message)
	quit    chan struct{}
	wg      sync.WaitGroup
	stopped sync.Once
	// lost counts messages a worker dequeued after quit was closed.
	lost atomic.Int64
}

func newDispatcher(workers, queueSize int, handle func(mqtt.Message)) *dispatcher {
	d := &dispatcher{
		queues: make([]chan mqtt.Message, workers),
		handle: handle,
		quit:   make(chan struct{}),
	}
	for i := range d.queues {
		d.queues[i] = make(chan mqtt.Message, queueSize)
	}
	return d
}

func (d *dispatcher) start() {
	for _, queue := range d.queues {
		d.wg.Add(1)
		go d.worker(queue)
	}
}

func (d *dispatcher) worker(queue chan mqtt.Message) {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case msg := <-queue:
			select {
			case <-d.quit:
				d.lost.Add(1)
				return
			default:
			}
			d.handle(msg)
		}
	}
}

func (d *dispatcher) shard(topicName string) chan mqtt.Message {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topicName))
	return d.queues[h.Sum32()%uint32(len(d.queues))]
}

func (d *dispatcher) enqueue(msg mqtt.Message) bool {
	select {
	case d.shard(msg.Topic) <- msg:
		return true
	default:
		return false
	}
}

// stop halts the workers and returns how many accepted messages were never
// handled.
func (d *dispatcher) stop() int {
	discarded := 0
	d.stopped.Do(func() {
		close(d.quit)
		d.wg.Wait()
		for _, queue := range d.queues {
			discarded += len(queue)
		}
		discarded += int(d.lost.Load())
	})
	return discarded
}

// Submit hands an internal publish to the dispatcher without blocking.
func (b *Broker) Submit(msg mqtt.Message) error {
	if err := topic.ValidateTopicName(msg.Topic); err != nil {
		return err
	}
	if msg.QoS > mqtt.QoS2 {
		return fmt.Errorf("%w: QoS %d", mqtt.ErrProtocolViolation, msg.QoS)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return ErrNotRunning
	}
	if !b.dispatcher.enqueue(msg) {
		b.stats.dropped.Add(1)
		return ErrQueueFull
	}
	return nil
}

func (b *Broker) publishQueued(msg mqtt.Message) {
	if _, err := b.Publish(msg, nil); err != nil {
		logger.WarnF("Internal publish on %s failed, details: %v", msg.Topic, err)
	}
}
