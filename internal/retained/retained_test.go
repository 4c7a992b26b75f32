package retained

import (
	"testing"

	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T, capacity int) *Table {
	t.Helper()
	table, err := NewTable(capacity)
	require.NoError(t, err)
	return table
}

func TestTableSetAndClear(t *testing.T) {
	table := newTable(t, 10)

	table.Set(mqtt.Message{Topic: "status/online", Payload: []byte("1"), QoS: 1, PacketID: 7, Dup: true})
	msg, ok := table.Get("status/online")
	require.True(t, ok)
	assert.True(t, msg.Retain)
	assert.False(t, msg.Dup)
	assert.Zero(t, msg.PacketID)

	table.Set(mqtt.Message{Topic: "status/online", Payload: []byte("2")})
	msg, _ = table.Get("status/online")
	assert.Equal(t, []byte("2"), msg.Payload)
	assert.Equal(t, 1, table.Len())

	table.Set(mqtt.Message{Topic: "status/online"})
	_, ok = table.Get("status/online")
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
}

func TestTableMatch(t *testing.T) {
	table := newTable(t, 10)
	table.Set(mqtt.Message{Topic: "status/online", Payload: []byte("1")})
	table.Set(mqtt.Message{Topic: "status/battery", Payload: []byte("80")})
	table.Set(mqtt.Message{Topic: "device/abc/location", Payload: []byte("x")})
	table.Set(mqtt.Message{Topic: "$SYS/uptime", Payload: []byte("5")})

	assert.Len(t, table.Match("status/#"), 2)
	assert.Len(t, table.Match("status/online"), 1)
	assert.Len(t, table.Match("#"), 3)
	assert.Len(t, table.Match("$SYS/#"), 1)
	assert.Empty(t, table.Match("device/+/sub/location"))
}

func TestTableEvictsLeastRecentlyUpdated(t *testing.T) {
	table := newTable(t, 2)
	table.Set(mqtt.Message{Topic: "a", Payload: []byte("1")})
	table.Set(mqtt.Message{Topic: "b", Payload: []byte("1")})

	// reads do not refresh, updates do
	_, _ = table.Get("a")
	table.Set(mqtt.Message{Topic: "b", Payload: []byte("2")})
	table.Set(mqtt.Message{Topic: "c", Payload: []byte("1")})

	_, ok := table.Get("a")
	assert.False(t, ok)
	_, ok = table.Get("b")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), table.Evicted())
}

func TestTableCopiesPayload(t *testing.T) {
	table := newTable(t, 2)
	payload := []byte("abc")
	table.Set(mqtt.Message{Topic: "a", Payload: payload})
	payload[0] = 'x'

	msg, _ := table.Get("a")
	assert.Equal(t, []byte("abc"), msg.Payload)
}

func TestNewTableRejectsZeroCapacity(t *testing.T) {
	_, err := NewTable(0)
	assert.Error(t, err)
}
