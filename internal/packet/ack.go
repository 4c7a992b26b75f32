package packet

import "github.com/life-stream-dev/pitstopper/internal/mqtt"

// NewAckPacket encodes PUBACK, PUBREC, PUBREL, PUBCOMP or UNSUBACK.
func NewAckPacket(packetType mqtt.PacketType, packetID uint16) []byte {
	first := byte(packetType) << 4
	if packetType == mqtt.PUBREL {
		first |= 0x02
	}
	return mqtt.Encode(first, mqtt.UInt16ToByte(packetID))
}

// ParseAckPacket reads the packet id of a two byte acknowledgement.
func ParseAckPacket(packet *mqtt.Packet) (uint16, error) {
	if packet.Header.RemainingLength != 2 {
		return 0, violation("%s must have a remaining length of 2, got %d", packet.Header.Type, packet.Header.RemainingLength)
	}
	return readPacketID(packet.Payload)
}
