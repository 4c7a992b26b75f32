package mqtt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxRemainingLength is the largest value a four byte remaining length can hold.
const MaxRemainingLength = 268435455

func UInt16ToByte(number uint16) []byte {
	result := make([]byte, 2)
	binary.BigEndian.PutUint16(result, number)
	return result
}

func ByteToUInt16(bytes []byte) uint16 {
	if len(bytes) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(bytes)
}

func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadPacket reads one control packet. A maxSize of zero disables the size check.
func ReadPacket(r io.Reader, maxSize int) (*Packet, error) {
	typeAndFlags, err := ReadByte(r)
	if err != nil {
		return nil, err
	}

	remaining, err := DecodeRemainingLength(r)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && remaining > maxSize {
		return nil, fmt.Errorf("%w: packet of %d bytes exceeds limit %d", ErrProtocolViolation, remaining, maxSize)
	}

	header := &FixedHeader{
		Type:            PacketType(typeAndFlags >> 4),
		Flags:           typeAndFlags & 0x0F,
		RemainingLength: remaining,
	}

	if !ValidateFlags(header.Type, header.Flags) {
		return nil, fmt.Errorf("%w: flags %04b of %s packet are not valid", ErrProtocolViolation, header.Flags, header.Type)
	}

	payload := make([]byte, remaining)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &Packet{
		Header: header,
		Payload: &Payload{
			Context:    payload,
			ContextLen: len(payload),
		},
	}, nil
}

func DecodeRemainingLength(r io.Reader) (int, error) {
	multiplier := 1
	value := 0
	for i := 0; i < 4; i++ {
		encodedByte, err := ReadByte(r)
		if err != nil {
			return 0, err
		}
		value += int(encodedByte&127) * multiplier
		multiplier *= 128
		if (encodedByte & 128) == 0 {
			return value, nil
		}
	}
	return 0, fmt.Errorf("%w: the remaining length exceeds the 4 byte limit", ErrProtocolViolation)
}

func EncodeRemainingLength(x int) []byte {
	if x == 0 {
		return []byte{0}
	}
	var buf [4]byte
	i := 0
	for x > 0 && i < 4 {
		buf[i] = byte(x % 128)
		if x /= 128; x > 0 {
			buf[i] |= 128
		}
		i++
	}
	return buf[:i]
}

// ValidateFlags reports whether flags are legal for the packet type.
// Unknown packet types are never valid.
func ValidateFlags(pt PacketType, flags byte) bool {
	if pt == PUBLISH {
		return true
	}
	required, ok := requiredFlags[pt]
	if !ok {
		return false
	}
	return flags == required
}

// Encode assembles a packet from the first header byte and its body.
func Encode(first byte, body []byte) []byte {
	length := EncodeRemainingLength(len(body))
	packet := make([]byte, 0, 1+len(length)+len(body))
	packet = append(packet, first)
	packet = append(packet, length...)
	packet = append(packet, body...)
	return packet
}

func (p *Payload) CheckRemainingLength() bool {
	return p.CurrentPtr < p.ContextLen
}

func (p *Payload) Remaining() int {
	return p.ContextLen - p.CurrentPtr
}
