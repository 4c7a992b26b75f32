package broker

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/life-stream-dev/pitstopper/internal/packet"
	"github.com/life-stream-dev/pitstopper/internal/session"
	"github.com/life-stream-dev/pitstopper/internal/topic"
)

type PublishResult struct {
	// Matched is the number of subscribed sessions.
	Matched int
	// Delivered is the number of PUBLISH packets written.
	Delivered int
	Retained  bool
}

// Publish fans msg out to every matching subscriber with the lower of the
// subscription and message QoS. A retained message updates the retained
// table before fan-out. origin is only used for logging.
func (b *Broker) Publish(msg mqtt.Message, origin *session.Session) (PublishResult, error) {
	if err := topic.ValidateTopicName(msg.Topic); err != nil {
		return PublishResult{}, err
	}
	if msg.QoS > mqtt.QoS2 {
		return PublishResult{}, fmt.Errorf("%w: QoS %d", mqtt.ErrProtocolViolation, msg.QoS)
	}
	b.stats.published.Add(1)

	var result PublishResult
	if msg.Retain {
		b.retained.Set(msg)
		result.Retained = true
	}

	subscribers := b.store.SubscribersFor(msg.Topic)
	result.Matched = len(subscribers)
	for _, sub := range subscribers {
		if b.deliver(sub.Session, msg, sub.QoS, false) {
			result.Delivered++
		}
	}

	if origin != nil {
		logger.DebugF("[%s] Published %s to %d/%d subscribers", origin.ClientID, msg.Topic, result.Delivered, result.Matched)
	} else {
		logger.DebugF("Internal publish %s to %d/%d subscribers", msg.Topic, result.Delivered, result.Matched)
	}
	return result, nil
}

// deliver writes one copy of msg to sess. QoS 1/2 copies are tracked inflight
// with a retry timer before they are written.
func (b *Broker) deliver(sess *session.Session, msg mqtt.Message, subQoS byte, retain bool) bool {
	if sess.State() != session.Connected {
		return false
	}
	qos := mqtt.MinQoS(subQoS, msg.QoS)
	out := msg.WithDelivery(qos, 0, retain)

	if qos > mqtt.QoS0 {
		state := session.AwaitingPubAck
		if qos == mqtt.QoS2 {
			state = session.AwaitingPubRec
		}
		id, err := sess.Inflight.Add(out, state, b.cfg.RetryInterval, func(packetID uint16) {
			b.onRetryTimeout(sess, packetID)
		})
		if errors.Is(err, session.ErrSessionClosed) {
			// destroyed between the state check and Add
			b.stats.abandoned.Add(1)
			return false
		}
		if err != nil {
			b.stats.dropped.Add(1)
			logger.WarnF("[%s] Dropped message on %s, details: %v", sess.ClientID, msg.Topic, err)
			return false
		}
		out.PacketID = id
	}

	if err := sess.Send(packet.NewPublishPacket(out)); err != nil {
		logger.DebugF("[%s] Fail to deliver message on %s, details: %v", sess.ClientID, msg.Topic, err)
		return false
	}
	b.stats.deliveries.Add(1)
	return true
}

func (b *Broker) onRetryTimeout(sess *session.Session, packetID uint16) {
	entry, action := sess.Inflight.Retry(packetID, b.cfg.MaxRetries, b.cfg.RetryInterval)
	switch action {
	case session.RetryResend:
		b.stats.retries.Add(1)
		var data []byte
		if entry.State == session.AwaitingPubComp {
			data = packet.NewAckPacket(mqtt.PUBREL, packetID)
		} else {
			msg := entry.Message
			msg.Dup = true
			data = packet.NewPublishPacket(msg)
		}
		logger.DebugF("[%s] Retry %d of packet %d (%s)", sess.ClientID, entry.Retries, packetID, entry.State)
		if err := sess.Send(data); err != nil {
			logger.DebugF("[%s] Fail to resend packet %d, details: %v", sess.ClientID, packetID, err)
		}
	case session.RetryExpired:
		b.stats.undeliverable.Add(1)
		logger.WarnF("[%s] Message on %s undeliverable: %v after %d retries (packet %d, %s)",
			sess.ClientID, entry.Message.Topic, ErrDeliveryTimeout, entry.Retries, packetID, entry.State)
	}
}

// HandlePublish processes a PUBLISH received from a client and answers
// with PUBACK or PUBREC. A QoS 2 redelivery of a pending packet id is
// acknowledged again but not fanned out twice.
func (b *Broker) HandlePublish(sess *session.Session, msg mqtt.Message) error {
	b.stats.received.Add(1)

	switch msg.QoS {
	case mqtt.QoS0:
		_, err := b.Publish(msg, sess)
		return err
	case mqtt.QoS1:
		if _, err := b.Publish(msg, sess); err != nil {
			return err
		}
		return sess.Send(packet.NewAckPacket(mqtt.PUBACK, msg.PacketID))
	default:
		if sess.Inflight.MarkReceived(msg.PacketID) {
			if _, err := b.Publish(msg, sess); err != nil {
				sess.Inflight.Release(msg.PacketID)
				return err
			}
		} else {
			logger.DebugF("[%s] Duplicate QoS 2 packet %d ignored", sess.ClientID, msg.PacketID)
		}
		return sess.Send(packet.NewAckPacket(mqtt.PUBREC, msg.PacketID))
	}
}

// HandlePubRel completes an inbound QoS 2 flow.
func (b *Broker) HandlePubRel(sess *session.Session, packetID uint16) error {
	if !sess.Inflight.Release(packetID) {
		logger.DebugF("[%s] PUBREL for unknown packet %d", sess.ClientID, packetID)
	}
	return sess.Send(packet.NewAckPacket(mqtt.PUBCOMP, packetID))
}

func (b *Broker) HandlePubAck(sess *session.Session, packetID uint16) {
	if _, err := sess.Inflight.Ack(packetID, session.AwaitingPubAck); err != nil {
		logger.DebugF("[%s] Unexpected PUBACK, details: %v", sess.ClientID, err)
	}
}

// HandlePubRec answers PUBREC with PUBREL and moves the flow on to PUBCOMP.
// A repeated PUBREC gets the PUBREL again.
func (b *Broker) HandlePubRec(sess *session.Session, packetID uint16) error {
	err := sess.Inflight.Advance(packetID, session.AwaitingPubRec, session.AwaitingPubComp, b.cfg.RetryInterval)
	if err != nil {
		entry, ok := sess.Inflight.Get(packetID)
		if !ok || entry.State != session.AwaitingPubComp {
			logger.DebugF("[%s] Unexpected PUBREC, details: %v", sess.ClientID, err)
			return nil
		}
	}
	return sess.Send(packet.NewAckPacket(mqtt.PUBREL, packetID))
}

func (b *Broker) HandlePubComp(sess *session.Session, packetID uint16) {
	if _, err := sess.Inflight.Ack(packetID, session.AwaitingPubComp); err != nil {
		logger.DebugF("[%s] Unexpected PUBCOMP, details: %v", sess.ClientID, err)
	}
}

func (b *Broker) HandlePingReq(sess *session.Session) error {
	return sess.Send(packet.NewPingRespPacket())
}
