package packet

import "github.com/life-stream-dev/pitstopper/internal/mqtt"

func NewPingRespPacket() []byte {
	return []byte{0xD0, 0x00}
}

func ParsePingReqPacket(packet *mqtt.Packet) error {
	return expectEmpty(packet)
}
