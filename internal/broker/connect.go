package broker

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/life-stream-dev/pitstopper/internal/packet"
	"github.com/life-stream-dev/pitstopper/internal/session"
)

var ErrIdentifierRejected = errors.New("client identifier rejected")

type ConnectRequest struct {
	ClientID     string
	CleanSession bool
	KeepAlive    time.Duration
	Will         *mqtt.Message
	Transport    session.Transport
}

// Connect installs a session for req and answers with a CONNACK. A refused
// CONNECT still gets its CONNACK; the returned error tells the caller to
// close the transport. Sessions are never persisted, so session present is 0.
func (b *Broker) Connect(req ConnectRequest) (*session.Session, error) {
	connID := req.Transport.RemoteAddr()

	if !b.Running() {
		b.refuse(req.Transport, packet.ServerUnavailable)
		return nil, ErrNotRunning
	}

	clientID := req.ClientID
	if clientID == "" {
		if !req.CleanSession {
			b.refuse(req.Transport, packet.IdentifierRejected)
			logger.WarnF("[%s] Empty client id requires clean session", connID)
			return nil, ErrIdentifierRejected
		}
		clientID = uuid.NewString()
		logger.DebugF("[%s] Assigned client id %s", connID, clientID)
	}

	sess, replaced, err := b.store.Create(clientID, req.Transport, session.Options{
		CleanSession: req.CleanSession,
		KeepAlive:    req.KeepAlive,
		Will:         req.Will,
	})
	if err != nil {
		b.refuse(req.Transport, packet.ServerUnavailable)
		logger.WarnF("[%s] Refused client %s: %v", connID, clientID, err)
		return nil, err
	}
	if replaced != nil {
		if will := replaced.TakeWill(); will != nil {
			b.publishWill(replaced.ClientID, *will)
		}
	}

	if err := sess.Send(packet.NewConnectAckPacket(false, packet.Accepted)); err != nil {
		b.store.Destroy(sess)
		return nil, fmt.Errorf("send CONNACK: %w", err)
	}
	sess.Transition(session.Connecting, session.Connected)
	b.stats.accepted.Add(1)
	logger.InfoF("[%s] Client %s connected, keep alive %s", connID, clientID, req.KeepAlive)
	return sess, nil
}

func (b *Broker) refuse(transport session.Transport, code packet.ConnectRespType) {
	b.stats.rejected.Add(1)
	if err := transport.Send(packet.NewConnectAckPacket(false, code)); err != nil {
		logger.DebugF("[%s] Fail to send CONNACK refusal, details: %v", transport.RemoteAddr(), err)
	}
}

// Disconnect tears the session down exactly once. Its retry timers are
// cancelled and unacknowledged deliveries abandoned. A non-graceful
// disconnect publishes the will message.
func (b *Broker) Disconnect(sess *session.Session, reason string, graceful bool) {
	if !sess.Transition(session.Connected, session.Disconnecting) &&
		!sess.Transition(session.Connecting, session.Disconnecting) {
		return
	}
	if graceful {
		sess.ClearWill()
	}

	b.store.Destroy(sess)
	if will := sess.TakeWill(); will != nil {
		b.publishWill(sess.ClientID, *will)
	}
	if err := sess.CloseTransport(); err != nil {
		logger.DebugF("[%s] Error occured while closing transport, details: %v", sess.ClientID, err)
	}
	logger.InfoF("[%s] Client disconnected: %s", sess.ClientID, reason)
}

func (b *Broker) publishWill(clientID string, will mqtt.Message) {
	if _, err := b.Publish(will, nil); err != nil {
		logger.WarnF("[%s] Fail to publish will message, details: %v", clientID, err)
		return
	}
	logger.DebugF("[%s] Will message published on %s", clientID, will.Topic)
}
