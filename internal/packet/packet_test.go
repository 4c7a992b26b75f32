package packet

import (
	"bytes"
	"testing"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw []byte) *mqtt.Packet {
	t.Helper()
	pkt, err := mqtt.ReadPacket(bytes.NewReader(raw), 0)
	require.NoError(t, err)
	return pkt
}

func TestConnectRoundTrip(t *testing.T) {
	raw := NewConnectPacket(&ConnectPacket{
		ConnectFlag: ConnectPacketFlag{CleanSession: true},
		ClientID:    "dash",
		KeepAlive:   30 * time.Second,
		Will:        &mqtt.Message{Topic: "status/dash", Payload: []byte("offline"), QoS: 1, Retain: true},
		Username:    "pit",
		Password:    []byte("crew"),
	})

	connect, code, err := ParseConnectPacket(decode(t, raw))
	require.NoError(t, err)
	assert.Equal(t, Accepted, code)
	assert.Equal(t, "dash", connect.ClientID)
	assert.True(t, connect.ConnectFlag.CleanSession)
	assert.Equal(t, 30*time.Second, connect.KeepAlive)
	require.NotNil(t, connect.Will)
	assert.Equal(t, "status/dash", connect.Will.Topic)
	assert.Equal(t, []byte("offline"), connect.Will.Payload)
	assert.Equal(t, byte(1), connect.Will.QoS)
	assert.True(t, connect.Will.Retain)
	assert.Equal(t, "pit", connect.Username)
	assert.Equal(t, []byte("crew"), connect.Password)
}

func TestConnectRejections(t *testing.T) {
	valid := NewConnectPacket(&ConnectPacket{ClientID: "c", ConnectFlag: ConnectPacketFlag{CleanSession: true}})

	t.Run("protocol level", func(t *testing.T) {
		raw := append([]byte(nil), valid...)
		raw[8] = 0x03
		_, code, err := ParseConnectPacket(decode(t, raw))
		assert.ErrorIs(t, err, mqtt.ErrProtocolViolation)
		assert.Equal(t, UnacceptableProtocol, code)
	})

	t.Run("protocol name", func(t *testing.T) {
		raw := append([]byte(nil), valid...)
		raw[4] = 'X'
		_, code, err := ParseConnectPacket(decode(t, raw))
		assert.ErrorIs(t, err, mqtt.ErrProtocolViolation)
		assert.Equal(t, Accepted, code)
	})

	t.Run("reserved flag", func(t *testing.T) {
		raw := append([]byte(nil), valid...)
		raw[9] |= 0x01
		_, _, err := ParseConnectPacket(decode(t, raw))
		assert.ErrorIs(t, err, mqtt.ErrProtocolViolation)
	})

	t.Run("will qos without will flag", func(t *testing.T) {
		raw := append([]byte(nil), valid...)
		raw[9] |= 0x08
		_, _, err := ParseConnectPacket(decode(t, raw))
		assert.ErrorIs(t, err, mqtt.ErrProtocolViolation)
	})

	t.Run("truncated", func(t *testing.T) {
		raw := append([]byte(nil), valid[:len(valid)-1]...)
		raw[1]--
		_, _, err := ParseConnectPacket(decode(t, raw))
		assert.ErrorIs(t, err, mqtt.ErrProtocolViolation)
	})
}

func TestConnAck(t *testing.T) {
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x00}, NewConnectAckPacket(false, Accepted))
	assert.Equal(t, []byte{0x20, 0x02, 0x01, 0x00}, NewConnectAckPacket(true, Accepted))
	assert.Equal(t, []byte{0x20, 0x02, 0x00, 0x03}, NewConnectAckPacket(true, ServerUnavailable))
}

func TestPublishRoundTrip(t *testing.T) {
	msg := mqtt.Message{Topic: "device/abc/location", Payload: []byte("fix"), QoS: 1, PacketID: 42, Dup: true, Retain: true}
	raw := NewPublishPacket(msg)
	assert.Equal(t, byte(0x3B), raw[0])

	got, err := ParsePublishPacket(decode(t, raw))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestPublishQoS0HasNoPacketID(t *testing.T) {
	raw := NewPublishPacket(mqtt.Message{Topic: "a", Payload: []byte("x"), PacketID: 9, Dup: true})
	assert.Equal(t, []byte{0x30, 0x04, 0x00, 0x01, 'a', 'x'}, raw)

	got, err := ParsePublishPacket(decode(t, raw))
	require.NoError(t, err)
	assert.Zero(t, got.PacketID)
	assert.Equal(t, []byte("x"), got.Payload)
}

func TestPublishViolations(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"qos 3", []byte{0x36, 0x05, 0x00, 0x01, 'a', 0x00, 0x01}},
		{"dup on qos 0", []byte{0x38, 0x03, 0x00, 0x01, 'a'}},
		{"wildcard topic", []byte{0x30, 0x03, 0x00, 0x01, '#'}},
		{"zero packet id", []byte{0x32, 0x05, 0x00, 0x01, 'a', 0x00, 0x00}},
		{"missing packet id", []byte{0x32, 0x03, 0x00, 0x01, 'a'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePublishPacket(decode(t, tt.raw))
			assert.ErrorIs(t, err, mqtt.ErrProtocolViolation)
		})
	}
}

func TestAckPackets(t *testing.T) {
	assert.Equal(t, []byte{0x40, 0x02, 0x01, 0x02}, NewAckPacket(mqtt.PUBACK, 0x0102))
	assert.Equal(t, []byte{0x62, 0x02, 0x00, 0x05}, NewAckPacket(mqtt.PUBREL, 5))
	assert.Equal(t, []byte{0xB0, 0x02, 0x00, 0x07}, NewUnSubAckPacket(7))

	id, err := ParseAckPacket(decode(t, []byte{0x70, 0x02, 0x00, 0x09}))
	require.NoError(t, err)
	assert.Equal(t, uint16(9), id)

	_, err = ParseAckPacket(decode(t, []byte{0x40, 0x03, 0x00, 0x09, 0x00}))
	assert.ErrorIs(t, err, mqtt.ErrProtocolViolation)
}

func TestSubscribeRoundTrip(t *testing.T) {
	raw := NewSubscribePacket(&SubscribePacket{
		PacketID: 3,
		Subscriptions: []Subscription{
			{TopicFilter: "device/+/location", QoS: 1},
			{TopicFilter: "status/#", QoS: 2},
		},
	})
	sub, err := ParseSubscribePacket(decode(t, raw))
	require.NoError(t, err)
	assert.Equal(t, uint16(3), sub.PacketID)
	assert.Equal(t, []Subscription{
		{TopicFilter: "device/+/location", QoS: 1},
		{TopicFilter: "status/#", QoS: 2},
	}, sub.Subscriptions)

	assert.Equal(t, []byte{0x90, 0x04, 0x00, 0x03, 0x01, 0x80}, NewSubAckPacket(3, []SubscribeState{SuccessQos1, Failure}))
}

func TestSubscribeViolations(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"qos 3", []byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x03}},
		{"reserved bits", []byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x05}},
		{"no filters", []byte{0x82, 0x02, 0x00, 0x01}},
		{"zero packet id", []byte{0x82, 0x06, 0x00, 0x00, 0x00, 0x01, 'a', 0x00}},
		{"missing qos", []byte{0x82, 0x05, 0x00, 0x01, 0x00, 0x01, 'a'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSubscribePacket(decode(t, tt.raw))
			assert.ErrorIs(t, err, mqtt.ErrProtocolViolation)
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	unsub, err := ParseUnsubscribePacket(decode(t, []byte{0xA2, 0x07, 0x00, 0x04, 0x00, 0x03, 'a', '/', 'b'}))
	require.NoError(t, err)
	assert.Equal(t, uint16(4), unsub.PacketID)
	assert.Equal(t, []string{"a/b"}, unsub.TopicFilters)

	_, err = ParseUnsubscribePacket(decode(t, []byte{0xA2, 0x02, 0x00, 0x04}))
	assert.ErrorIs(t, err, mqtt.ErrProtocolViolation)
}

func TestPingAndDisconnect(t *testing.T) {
	assert.NoError(t, ParsePingReqPacket(decode(t, []byte{0xC0, 0x00})))
	assert.ErrorIs(t, ParsePingReqPacket(decode(t, []byte{0xC0, 0x01, 0x00})), mqtt.ErrProtocolViolation)
	assert.NoError(t, ParseDisconnectPacket(decode(t, NewDisconnectPacket())))
	assert.Equal(t, []byte{0xD0, 0x00}, NewPingRespPacket())
}
