package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/mqtt"
)

var ErrInflightFull = errors.New("inflight window is full")

// DeliveryState is the acknowledgement an outbound message is waiting for.
type DeliveryState int

const (
	// AwaitingPubAck is a QoS 1 PUBLISH waiting for PUBACK.
	AwaitingPubAck DeliveryState = iota
	// AwaitingPubRec is a QoS 2 PUBLISH waiting for PUBREC.
	AwaitingPubRec
	// AwaitingPubComp is a QoS 2 flow whose PUBREL was sent, waiting for PUBCOMP.
	AwaitingPubComp
)

func (s DeliveryState) String() string {
	switch s {
	case AwaitingPubAck:
		return "awaiting PUBACK"
	case AwaitingPubRec:
		return "awaiting PUBREC"
	case AwaitingPubComp:
		return "awaiting PUBCOMP"
	}
	return "unknown"
}

// RetryAction tells the retry timer what to do with an expired entry.
type RetryAction int

const (
	RetryNone RetryAction = iota
	RetryResend
	RetryExpired
)

// InflightMessage is an outbound QoS 1/2 delivery waiting for acknowledgement.
type InflightMessage struct {
	PacketID uint16
	Message  mqtt.Message
	State    DeliveryState
	SentAt   time.Time
	Retries  int
	timer    *time.Timer
}

// InflightTracker tracks the outbound QoS 1/2 window of one session and the
// inbound QoS 2 packet ids still waiting for PUBREL. Every outbound entry owns
// a retry timer; removing the entry stops it.
type InflightTracker struct {
	mu       sync.Mutex
	messages map[uint16]*InflightMessage
	ids      *PacketIDManager
	maxSize  int
	received map[uint16]time.Time
	closed   bool
}

func NewInflightTracker(maxSize int) *InflightTracker {
	if maxSize <= 0 || maxSize > maxPacketID {
		maxSize = maxPacketID
	}
	return &InflightTracker{
		messages: make(map[uint16]*InflightMessage),
		ids:      NewPacketIDManager(),
		maxSize:  maxSize,
		received: make(map[uint16]time.Time),
	}
}

// Add allocates a packet id for msg, records it and arms its retry timer.
// onTimeout runs on the timer goroutine with the allocated packet id. After
// Clear it returns ErrSessionClosed.
func (t *InflightTracker) Add(msg mqtt.Message, state DeliveryState, retryAfter time.Duration, onTimeout func(packetID uint16)) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrSessionClosed
	}
	if len(t.messages) >= t.maxSize {
		return 0, ErrInflightFull
	}
	id, err := t.ids.NextID()
	if err != nil {
		return 0, err
	}

	msg.PacketID = id
	entry := &InflightMessage{
		PacketID: id,
		Message:  msg,
		State:    state,
		SentAt:   time.Now(),
	}
	if retryAfter > 0 && onTimeout != nil {
		entry.timer = time.AfterFunc(retryAfter, func() { onTimeout(id) })
	}
	t.messages[id] = entry
	return id, nil
}

// Ack completes the flow for packetID if it is in the expected state.
func (t *InflightTracker) Ack(packetID uint16, expected DeliveryState) (InflightMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.messages[packetID]
	if !ok {
		return InflightMessage{}, fmt.Errorf("ack packet ID %d: %w", packetID, ErrPacketIDNotFound)
	}
	if entry.State != expected {
		return InflightMessage{}, fmt.Errorf("ack packet ID %d: %s, got ack for %s", packetID, entry.State, expected)
	}
	t.removeLocked(entry)
	return *entry, nil
}

// Advance moves a QoS 2 flow from PUBREC to PUBCOMP and restarts its retry budget.
func (t *InflightTracker) Advance(packetID uint16, from, to DeliveryState, retryAfter time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.messages[packetID]
	if !ok {
		return fmt.Errorf("advance packet ID %d: %w", packetID, ErrPacketIDNotFound)
	}
	if entry.State != from {
		return fmt.Errorf("advance packet ID %d: %s, expected %s", packetID, entry.State, from)
	}
	entry.State = to
	entry.Retries = 0
	entry.SentAt = time.Now()
	if entry.timer != nil {
		entry.timer.Reset(retryAfter)
	}
	return nil
}

// Retry is called when the timer of packetID fires. While retries remain the
// entry is re-armed and RetryResend returned with a copy to resend; once
// maxRetries resends have been made the entry is dropped and RetryExpired returned.
func (t *InflightTracker) Retry(packetID uint16, maxRetries int, retryAfter time.Duration) (InflightMessage, RetryAction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.messages[packetID]
	if !ok {
		return InflightMessage{}, RetryNone
	}
	if entry.Retries >= maxRetries {
		t.removeLocked(entry)
		return *entry, RetryExpired
	}

	entry.Retries++
	entry.SentAt = time.Now()
	if entry.timer != nil {
		entry.timer.Reset(retryAfter)
	}
	return *entry, RetryResend
}

// Clear stops every retry timer, drops the window and closes the tracker to
// new entries. It returns the number of outbound messages abandoned.
func (t *InflightTracker) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	n := len(t.messages)
	for _, entry := range t.messages {
		t.removeLocked(entry)
	}
	clear(t.received)
	return n
}

func (t *InflightTracker) removeLocked(entry *InflightMessage) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(t.messages, entry.PacketID)
	_ = t.ids.ReleaseID(entry.PacketID)
}

func (t *InflightTracker) Get(packetID uint16) (InflightMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.messages[packetID]
	if !ok {
		return InflightMessage{}, false
	}
	return *entry, true
}

func (t *InflightTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// MarkReceived records an inbound QoS 2 packet id. It returns false when the
// id is already waiting for PUBREL, i.e. the PUBLISH is a redelivery.
func (t *InflightTracker) MarkReceived(packetID uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.received[packetID]; ok {
		return false
	}
	t.received[packetID] = time.Now()
	return true
}

// Release forgets an inbound QoS 2 packet id after PUBREL.
func (t *InflightTracker) Release(packetID uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.received[packetID]; !ok {
		return false
	}
	delete(t.received, packetID)
	return true
}
