package broker

import (
	"fmt"

	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/life-stream-dev/pitstopper/internal/packet"
	"github.com/life-stream-dev/pitstopper/internal/session"
	"github.com/life-stream-dev/pitstopper/internal/topic"
)

// Subscribe registers filter for sess and then delivers the matching
// retained messages. An invalid filter returns packet.Failure and an error
// wrapping topic.ErrInvalidFilter; the session stays usable.
func (b *Broker) Subscribe(sess *session.Session, filter string, qos byte) (byte, error) {
	granted, err := b.subscribe(sess, filter, qos)
	if err != nil {
		return granted, err
	}
	b.deliverRetained(sess, filter, granted)
	return granted, nil
}

func (b *Broker) subscribe(sess *session.Session, filter string, qos byte) (byte, error) {
	if err := topic.ValidateFilter(filter); err != nil {
		return byte(packet.Failure), err
	}
	if qos > mqtt.QoS2 {
		return byte(packet.Failure), fmt.Errorf("%w: QoS %d", mqtt.ErrProtocolViolation, qos)
	}
	replaced, err := b.store.AddSubscription(sess, filter, qos)
	if err != nil {
		return byte(packet.Failure), err
	}
	if replaced {
		logger.DebugF("[%s] Subscription %s updated to QoS %d", sess.ClientID, filter, qos)
	} else {
		logger.DebugF("[%s] Subscribed %s with QoS %d", sess.ClientID, filter, qos)
	}
	return qos, nil
}

func (b *Broker) deliverRetained(sess *session.Session, filter string, granted byte) {
	for _, msg := range b.retained.Match(filter) {
		b.deliver(sess, msg, granted, true)
	}
}

// HandleSubscribe processes a SUBSCRIBE packet. The SUBACK is written before
// any retained message so the client sees the grant first.
func (b *Broker) HandleSubscribe(sess *session.Session, sub *packet.SubscribePacket) error {
	states := make([]packet.SubscribeState, len(sub.Subscriptions))
	for i, request := range sub.Subscriptions {
		granted, err := b.subscribe(sess, request.TopicFilter, request.QoS)
		if err != nil {
			logger.WarnF("[%s] Subscription to %q refused, details: %v", sess.ClientID, request.TopicFilter, err)
		}
		states[i] = packet.SubscribeState(granted)
	}

	if err := sess.Send(packet.NewSubAckPacket(sub.PacketID, states)); err != nil {
		return err
	}

	for i, request := range sub.Subscriptions {
		if states[i] != packet.Failure {
			b.deliverRetained(sess, request.TopicFilter, byte(states[i]))
		}
	}
	return nil
}

func (b *Broker) Unsubscribe(sess *session.Session, filter string) bool {
	removed := b.store.RemoveSubscription(sess, filter)
	if removed {
		logger.DebugF("[%s] Unsubscribed %s", sess.ClientID, filter)
	}
	return removed
}

func (b *Broker) HandleUnsubscribe(sess *session.Session, unsub *packet.UnsubscribePacket) error {
	for _, filter := range unsub.TopicFilters {
		b.Unsubscribe(sess, filter)
	}
	return sess.Send(packet.NewUnSubAckPacket(unsub.PacketID))
}
