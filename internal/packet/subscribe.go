package packet

import "github.com/life-stream-dev/pitstopper/internal/mqtt"

type SubscribeState byte

const (
	SuccessQos0 SubscribeState = iota
	SuccessQos1
	SuccessQos2
	Failure SubscribeState = 0x80
)

type Subscription struct {
	TopicFilter string
	QoS         byte
}

type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
}

func NewSubAckPacket(packetID uint16, states []SubscribeState) []byte {
	body := make([]byte, 0, 2+len(states))
	body = append(body, mqtt.UInt16ToByte(packetID)...)
	for _, state := range states {
		body = append(body, byte(state))
	}
	return mqtt.Encode(byte(mqtt.SUBACK)<<4, body)
}

// ParseSubscribePacket decodes a SUBSCRIBE. Filters are not validated here;
// an invalid filter is refused per entry in the SUBACK.
func ParseSubscribePacket(packet *mqtt.Packet) (*SubscribePacket, error) {
	result := &SubscribePacket{}

	packetID, err := readPacketID(packet.Payload)
	if err != nil {
		return nil, err
	}
	if packetID == 0 {
		return nil, violation("packet id 0 is not allowed")
	}
	result.PacketID = packetID

	for packet.Payload.CheckRemainingLength() {
		topicFilter, err := readPacketString(packet.Payload)
		if err != nil {
			return nil, err
		}
		options, err := readPacketByte(packet.Payload)
		if err != nil {
			return nil, err
		}
		if options&0xFC != 0 {
			return nil, violation("reserved bits of requested QoS are set")
		}
		if options > mqtt.QoS2 {
			return nil, violation("requested QoS 3 is not allowed")
		}
		result.Subscriptions = append(result.Subscriptions, Subscription{TopicFilter: topicFilter, QoS: options})
	}

	if len(result.Subscriptions) == 0 {
		return nil, violation("SUBSCRIBE without topic filters")
	}
	return result, nil
}

// NewSubscribePacket encodes a SUBSCRIBE the way a client sends it.
func NewSubscribePacket(subscribe *SubscribePacket) []byte {
	body := mqtt.UInt16ToByte(subscribe.PacketID)
	for _, sub := range subscribe.Subscriptions {
		body = appendField(body, []byte(sub.TopicFilter))
		body = append(body, sub.QoS)
	}
	return mqtt.Encode(byte(mqtt.SUBSCRIBE)<<4|0x02, body)
}
