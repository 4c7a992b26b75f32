package packet

import "github.com/life-stream-dev/pitstopper/internal/mqtt"

func NewDisconnectPacket() []byte {
	return []byte{0xE0, 0x00}
}

func ParseDisconnectPacket(packet *mqtt.Packet) error {
	return expectEmpty(packet)
}
