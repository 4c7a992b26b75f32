// Package mqtt holds the MQTT 3.1.1 wire-level types shared by the broker.
package mqtt

import "errors"

// PacketType is the control packet type carried in the upper nibble of the fixed header.
type PacketType byte

const (
	CONNECT PacketType = iota + 1
	CONNACK
	PUBLISH
	PUBACK
	PUBREC
	PUBREL
	PUBCOMP
	SUBSCRIBE
	SUBACK
	UNSUBSCRIBE
	UNSUBACK
	PINGREQ
	PINGRESP
	DISCONNECT
)

// ErrProtocolViolation marks a malformed or out-of-order control packet.
// MQTT has no recoverable framing error, so the connection is closed.
var ErrProtocolViolation = errors.New("protocol violation")

var PacketTypeMap = map[PacketType]string{
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
}

func (packetType PacketType) String() string {
	if name, ok := PacketTypeMap[packetType]; ok {
		return name
	}
	return "UNKNOWN"
}

// requiredFlags lists the fixed flag nibble of every packet type except
// PUBLISH, whose flags carry DUP, QoS and RETAIN.
var requiredFlags = map[PacketType]byte{
	CONNECT:     0x00,
	CONNACK:     0x00,
	PUBACK:      0x00,
	PUBREC:      0x00,
	PUBREL:      0x02,
	PUBCOMP:     0x00,
	SUBSCRIBE:   0x02,
	SUBACK:      0x00,
	UNSUBSCRIBE: 0x02,
	UNSUBACK:    0x00,
	PINGREQ:     0x00,
	PINGRESP:    0x00,
	DISCONNECT:  0x00,
}

const (
	QoS0 byte = iota
	QoS1
	QoS2
)

type FixedHeader struct {
	Type            PacketType
	Flags           byte
	RemainingLength int
}

// Payload is the variable header and payload of a packet plus a read cursor.
type Payload struct {
	Context    []byte
	ContextLen int
	CurrentPtr int
}

type Packet struct {
	Header  *FixedHeader
	Payload *Payload
}

// Message is an application message moving through the broker. It is
// passed by value and never mutated once created.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	Dup      bool
	PacketID uint16
}

// WithDelivery returns a copy prepared for one subscriber.
func (m Message) WithDelivery(qos byte, packetID uint16, retain bool) Message {
	m.QoS = qos
	m.PacketID = packetID
	m.Retain = retain
	m.Dup = false
	return m
}

func MinQoS(a, b byte) byte {
	if a < b {
		return a
	}
	return b
}
