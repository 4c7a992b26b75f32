package packet

import "github.com/life-stream-dev/pitstopper/internal/mqtt"

type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
}

func NewUnSubAckPacket(packetID uint16) []byte {
	return NewAckPacket(mqtt.UNSUBACK, packetID)
}

func ParseUnsubscribePacket(packet *mqtt.Packet) (*UnsubscribePacket, error) {
	result := &UnsubscribePacket{}

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
		result.TopicFilters = append(result.TopicFilters, topicFilter)
	}

	if len(result.TopicFilters) == 0 {
		return nil, violation("UNSUBSCRIBE without topic filters")
	}
	return result, nil
}
