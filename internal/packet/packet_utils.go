// Package packet decodes and encodes the MQTT 3.1.1 control packets.
// Every decoding failure wraps mqtt.ErrProtocolViolation.
package packet

import (
	"fmt"
	"unicode/utf8"

	"github.com/life-stream-dev/pitstopper/internal/mqtt"
)

type FieldPayload struct {
	PayloadLength int
	Payload       []byte
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", mqtt.ErrProtocolViolation, fmt.Sprintf(format, args...))
}

func readPacketByte(payload *mqtt.Payload) (byte, error) {
	startByte := payload.CurrentPtr
	if startByte >= payload.ContextLen {
		return 0, violation("invalid packet context length")
	}
	payload.CurrentPtr++
	return payload.Context[startByte], nil
}

func readPacketBytes(payload *mqtt.Payload, length int) ([]byte, error) {
	if length < 0 {
		return nil, violation("invalid reading length %d", length)
	}
	end := payload.CurrentPtr + length
	if end > payload.ContextLen {
		return nil, violation("invalid packet context length")
	}
	data := payload.Context[payload.CurrentPtr:end]
	payload.CurrentPtr = end
	return data, nil
}

func readPacketID(payload *mqtt.Payload) (uint16, error) {
	data, err := readPacketBytes(payload, 2)
	if err != nil {
		return 0, err
	}
	return mqtt.ByteToUInt16(data), nil
}

// readPacketPayload reads a two byte length prefixed field.
func readPacketPayload(payload *mqtt.Payload) (FieldPayload, error) {
	startByte := payload.CurrentPtr
	contextLen := payload.ContextLen
	if startByte+1 >= contextLen {
		return FieldPayload{}, violation("insufficient bytes for length")
	}
	length := int(mqtt.ByteToUInt16(payload.Context[startByte : startByte+2]))
	end := startByte + 2 + length
	if end > contextLen {
		return FieldPayload{}, violation("payload length %d exceeds buffer (len=%d)", length, contextLen)
	}
	payload.CurrentPtr = end
	return FieldPayload{
		PayloadLength: length,
		Payload:       payload.Context[startByte+2 : end],
	}, nil
}

func readPacketString(payload *mqtt.Payload) (string, error) {
	field, err := readPacketPayload(payload)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(field.Payload) {
		return "", violation("string is not valid UTF-8")
	}
	return string(field.Payload), nil
}

func appendField(buf []byte, field []byte) []byte {
	buf = append(buf, mqtt.UInt16ToByte(uint16(len(field)))...)
	return append(buf, field...)
}

func expectEmpty(packet *mqtt.Packet) error {
	if packet.Header.RemainingLength != 0 {
		return violation("%s must not carry a payload", packet.Header.Type)
	}
	return nil
}
