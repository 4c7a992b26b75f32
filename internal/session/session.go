// Package session owns the client sessions of the broker: their
// subscriptions, their inflight QoS state and the subscription index.
package session

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/mqtt"
)

var ErrSessionClosed = errors.New("session closed")

// State is the connection state of a session.
type State int32

const (
	Connecting State = iota
	Connected
	Disconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Transport is the write side of a client connection.
type Transport interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() string
}

// Options carries the CONNECT parameters a session is created with.
type Options struct {
	CleanSession bool
	KeepAlive    time.Duration
	Will         *mqtt.Message
}

type Subscription struct {
	Filter string
	QoS    byte
}

// Session is the broker-side state of one connected client. Other packages
// hold it as a handle; subscriptions change only through Store.
type Session struct {
	ClientID     string
	CleanSession bool
	KeepAlive    time.Duration
	ConnectedAt  time.Time

	Inflight *InflightTracker

	transport Transport
	state     atomic.Int32

	mu            sync.Mutex
	subscriptions map[string]byte
	order         []string
	will          *mqtt.Message

	closeOnce sync.Once
}

func newSession(clientID string, transport Transport, opts Options, maxInflight int) *Session {
	s := &Session{
		ClientID:      clientID,
		CleanSession:  opts.CleanSession,
		KeepAlive:     opts.KeepAlive,
		ConnectedAt:   time.Now(),
		Inflight:      NewInflightTracker(maxInflight),
		transport:     transport,
		subscriptions: make(map[string]byte),
		will:          opts.Will,
	}
	s.state.Store(int32(Connecting))
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Transition moves the session from one state to the next. It fails when
// another goroutine already moved it.
func (s *Session) Transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *Session) setState(to State) {
	s.state.Store(int32(to))
}

// Send writes raw packet bytes to the client. Closed sessions reject writes.
func (s *Session) Send(data []byte) error {
	if s.State() == Closed {
		return ErrSessionClosed
	}
	return s.transport.Send(data)
}

func (s *Session) RemoteAddr() string {
	return s.transport.RemoteAddr()
}

// CloseTransport closes the underlying connection exactly once.
func (s *Session) CloseTransport() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.transport.Close()
	})
	return err
}

// Subscriptions returns the active subscriptions in the order they were first made.
func (s *Session) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Subscription, 0, len(s.order))
	for _, filter := range s.order {
		result = append(result, Subscription{Filter: filter, QoS: s.subscriptions[filter]})
	}
	return result
}

// TakeWill returns the will message and clears it so it is published at most once.
func (s *Session) TakeWill() *mqtt.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	will := s.will
	s.will = nil
	return will
}

func (s *Session) ClearWill() {
	s.mu.Lock()
	s.will = nil
	s.mu.Unlock()
}

func (s *Session) setSubscription(filter string, qos byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.subscriptions[filter]
	s.subscriptions[filter] = qos
	if !existed {
		s.order = append(s.order, filter)
	}
	return existed
}

func (s *Session) removeSubscription(filter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[filter]; !ok {
		return false
	}
	delete(s.subscriptions, filter)
	s.order = slices.DeleteFunc(s.order, func(f string) bool { return f == filter })
	return true
}

func (s *Session) removeAllSubscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	filters := s.order
	s.order = nil
	clear(s.subscriptions)
	return filters
}
