package packet

import (
	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/life-stream-dev/pitstopper/internal/topic"
)

type PublishPacketFlag struct {
	Dup    bool
	QoS    byte
	Retain bool
}

func parsePublishFlags(flags byte) PublishPacketFlag {
	return PublishPacketFlag{
		Dup:    flags&0x08 != 0,
		QoS:    (flags & 0x06) >> 1,
		Retain: flags&0x01 != 0,
	}
}

// NewPublishPacket encodes msg. The packet id is written only for QoS 1 and 2.
func NewPublishPacket(msg mqtt.Message) []byte {
	first := byte(mqtt.PUBLISH)<<4 | msg.QoS<<1
	if msg.Dup && msg.QoS > 0 {
		first |= 0x08
	}
	if msg.Retain {
		first |= 0x01
	}

	body := make([]byte, 0, 2+len(msg.Topic)+2+len(msg.Payload))
	body = appendField(body, []byte(msg.Topic))
	if msg.QoS > 0 {
		body = append(body, mqtt.UInt16ToByte(msg.PacketID)...)
	}
	body = append(body, msg.Payload...)
	return mqtt.Encode(first, body)
}

func ParsePublishPacket(packet *mqtt.Packet) (mqtt.Message, error) {
	flags := parsePublishFlags(packet.Header.Flags)

	if flags.QoS > mqtt.QoS2 {
		return mqtt.Message{}, violation("the QoS level must not be 3")
	}
	if flags.QoS == mqtt.QoS0 && flags.Dup {
		return mqtt.Message{}, violation("DUP must be 0 for QoS 0 messages")
	}

	topicName, err := readPacketString(packet.Payload)
	if err != nil {
		return mqtt.Message{}, err
	}
	if err := topic.ValidateTopicName(topicName); err != nil {
		return mqtt.Message{}, violation("topic name: %v", err)
	}

	msg := mqtt.Message{
		Topic:  topicName,
		QoS:    flags.QoS,
		Retain: flags.Retain,
		Dup:    flags.Dup,
	}
	if flags.QoS > mqtt.QoS0 {
		if msg.PacketID, err = readPacketID(packet.Payload); err != nil {
			return mqtt.Message{}, err
		}
		if msg.PacketID == 0 {
			return mqtt.Message{}, violation("packet id 0 is not allowed")
		}
	}

	data, err := readPacketBytes(packet.Payload, packet.Payload.Remaining())
	if err != nil {
		return mqtt.Message{}, err
	}
	msg.Payload = append([]byte(nil), data...)
	return msg, nil
}
