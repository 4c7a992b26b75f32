package packet

import (
	"time"

	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/life-stream-dev/pitstopper/internal/topic"
)

type ConnectRespType byte

const (
	Accepted ConnectRespType = iota
	UnacceptableProtocol
	IdentifierRejected
	ServerUnavailable
	AuthenticationFailed
	NotAuthorized
)

const protocolLevel = 0x04

// ConnectPacketFlag is the decoded connect flags byte.
type ConnectPacketFlag struct {
	UsernameFlag    bool
	PasswordFlag    bool
	WillRetain      bool
	WillQoS         byte
	WillMessageFlag bool
	CleanSession    bool
}

type ConnectPacket struct {
	ConnectFlag ConnectPacketFlag
	ClientID    string
	KeepAlive   time.Duration
	Will        *mqtt.Message
	Username    string
	Password    []byte
}

func NewConnectAckPacket(sessionPresent bool, returnCode ConnectRespType) []byte {
	if sessionPresent && returnCode == Accepted {
		return []byte{0x20, 0x02, 0x01, byte(returnCode)}
	}
	return []byte{0x20, 0x02, 0x00, byte(returnCode)}
}

// ParseConnectPacket decodes a CONNECT. When the packet is well formed but
// must be refused, the CONNACK return code is non-zero and err is set; when
// it is malformed the code is Accepted and err wraps ErrProtocolViolation,
// meaning the connection is closed without a CONNACK.
func ParseConnectPacket(packet *mqtt.Packet) (*ConnectPacket, ConnectRespType, error) {
	payload := packet.Payload
	result := &ConnectPacket{}

	protocolName, err := readPacketPayload(payload)
	if err != nil {
		return nil, Accepted, violation("unable to read protocol name")
	}
	if string(protocolName.Payload) != "MQTT" {
		return nil, Accepted, violation("incorrect protocol name %q", protocolName.Payload)
	}

	protocolVersion, err := readPacketByte(payload)
	if err != nil {
		return nil, Accepted, err
	}
	if protocolVersion != protocolLevel {
		return nil, UnacceptableProtocol, violation("unsupported protocol level %d", protocolVersion)
	}

	connectFlag, err := readPacketByte(payload)
	if err != nil {
		return nil, Accepted, err
	}
	if connectFlag&0x01 != 0 {
		return nil, Accepted, violation("reserved connect flag is set")
	}
	result.ConnectFlag = ConnectPacketFlag{
		UsernameFlag:    connectFlag&0x80 != 0,
		PasswordFlag:    connectFlag&0x40 != 0,
		WillRetain:      connectFlag&0x20 != 0,
		WillQoS:         (connectFlag & 0x18) >> 3,
		WillMessageFlag: connectFlag&0x04 != 0,
		CleanSession:    connectFlag&0x02 != 0,
	}
	flags := result.ConnectFlag
	if !flags.WillMessageFlag && (flags.WillRetain || flags.WillQoS != 0) {
		return nil, Accepted, violation("will retain and will QoS require the will flag")
	}
	if flags.WillQoS > mqtt.QoS2 {
		return nil, Accepted, violation("will QoS 3 is not allowed")
	}
	if flags.PasswordFlag && !flags.UsernameFlag {
		return nil, Accepted, violation("password flag set without username flag")
	}

	keepAlive, err := readPacketID(payload)
	if err != nil {
		return nil, Accepted, err
	}
	result.KeepAlive = time.Duration(keepAlive) * time.Second

	if result.ClientID, err = readPacketString(payload); err != nil {
		return nil, Accepted, err
	}

	if flags.WillMessageFlag {
		willTopic, err := readPacketString(payload)
		if err != nil {
			return nil, Accepted, err
		}
		if err := topic.ValidateTopicName(willTopic); err != nil {
			return nil, Accepted, violation("will topic: %v", err)
		}
		willContent, err := readPacketPayload(payload)
		if err != nil {
			return nil, Accepted, err
		}
		result.Will = &mqtt.Message{
			Topic:   willTopic,
			Payload: append([]byte(nil), willContent.Payload...),
			QoS:     flags.WillQoS,
			Retain:  flags.WillRetain,
		}
	}

	if flags.UsernameFlag {
		if result.Username, err = readPacketString(payload); err != nil {
			return nil, Accepted, err
		}
	}
	if flags.PasswordFlag {
		password, err := readPacketPayload(payload)
		if err != nil {
			return nil, Accepted, err
		}
		result.Password = append([]byte(nil), password.Payload...)
	}

	if payload.CheckRemainingLength() {
		return nil, Accepted, violation("%d trailing bytes after CONNECT payload", payload.Remaining())
	}

	return result, Accepted, nil
}

// NewConnectPacket encodes a CONNECT the way a client sends it.
func NewConnectPacket(connect *ConnectPacket) []byte {
	var flags byte
	if connect.ConnectFlag.CleanSession {
		flags |= 0x02
	}
	if connect.Will != nil {
		flags |= 0x04 | connect.Will.QoS<<3
		if connect.Will.Retain {
			flags |= 0x20
		}
	}
	if connect.Username != "" {
		flags |= 0x80
	}
	if connect.Password != nil {
		flags |= 0x40
	}

	body := appendField(nil, []byte("MQTT"))
	body = append(body, protocolLevel, flags)
	body = append(body, mqtt.UInt16ToByte(uint16(connect.KeepAlive/time.Second))...)
	body = appendField(body, []byte(connect.ClientID))
	if connect.Will != nil {
		body = appendField(body, []byte(connect.Will.Topic))
		body = appendField(body, connect.Will.Payload)
	}
	if connect.Username != "" {
		body = appendField(body, []byte(connect.Username))
	}
	if connect.Password != nil {
		body = appendField(body, connect.Password)
	}
	return mqtt.Encode(byte(mqtt.CONNECT)<<4, body)
}
