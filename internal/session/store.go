package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/subscription"
)

var ErrServerUnavailable = errors.New("server unavailable: session limit reached")

// Subscriber is one resolved recipient of a published topic.
type Subscriber struct {
	Session *Session
	QoS     byte
}

type StoreConfig struct {
	// MaxSessions caps concurrently installed sessions; zero means unlimited.
	MaxSessions int
	// MaxInflight caps the outbound QoS 1/2 window of each session.
	MaxInflight int
	// OnAbandon is told how many inflight messages a destroyed session dropped.
	OnAbandon func(sess *Session, count int)
}

// Store owns every session and the subscription index. All mutations are
// serialised by one lock; reads return snapshots.
type Store struct {
	mu       sync.RWMutex
	cfg      StoreConfig
	sessions map[string]*Session
	tree     *subscription.Tree[*Session]
}

func NewStore(cfg StoreConfig) *Store {
	return &Store{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		tree:     subscription.NewTree[*Session](),
	}
}

// Create installs a new session for clientID. A session already holding the
// id is destroyed and its transport closed first, and returned as replaced.
func (s *Store) Create(clientID string, transport Transport, opts Options) (sess *Session, replaced *Session, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.sessions[clientID]
	if old == nil && s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		return nil, nil, ErrServerUnavailable
	}

	if old != nil {
		logger.WarnF("[%s] Client id taken over by %s, closing previous session from %s", clientID, transport.RemoteAddr(), old.RemoteAddr())
		s.destroyLocked(old)
		_ = old.CloseTransport()
	}

	sess = newSession(clientID, transport, opts, s.cfg.MaxInflight)
	s.sessions[clientID] = sess
	return sess, old, nil
}

// AddSubscription registers filter for sess, replacing the QoS of an existing
// subscription on the same filter. It reports whether one was replaced.
func (s *Store) AddSubscription(sess *Session, filter string, qos byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[sess.ClientID] != sess || sess.State() == Closed {
		return false, ErrSessionClosed
	}
	replaced := sess.setSubscription(filter, qos)
	s.tree.Insert(filter, sess, qos)
	return replaced, nil
}

func (s *Store) RemoveSubscription(sess *Session, filter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !sess.removeSubscription(filter) {
		return false
	}
	s.tree.Delete(filter, sess)
	return true
}

// Destroy removes the session, its subscriptions and its inflight state.
// It is idempotent and never removes a newer session holding the same id.
func (s *Store) Destroy(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyLocked(sess)
}

func (s *Store) destroyLocked(sess *Session) bool {
	for _, filter := range sess.removeAllSubscriptions() {
		s.tree.Delete(filter, sess)
	}
	if abandoned := sess.Inflight.Clear(); abandoned > 0 && s.cfg.OnAbandon != nil {
		s.cfg.OnAbandon(sess, abandoned)
	}
	sess.setState(Closed)

	if s.sessions[sess.ClientID] != sess {
		return false
	}
	delete(s.sessions, sess.ClientID)
	return true
}

// SubscribersFor resolves topic to a snapshot of (session, QoS) pairs ordered by client id.
func (s *Store) SubscribersFor(topic string) []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.tree.MatchTopic(topic)
	result := make([]Subscriber, 0, len(matched))
	for sess, qos := range matched {
		result = append(result, Subscriber{Session: sess, QoS: qos})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Session.ClientID < result[j].Session.ClientID
	})
	return result
}

func (s *Store) Get(clientID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[clientID]
	return sess, ok
}

// All returns a snapshot of the installed sessions.
func (s *Store) All() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess)
	}
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
