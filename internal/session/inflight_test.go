package session

import (
	"testing"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInflightAckQoS1(t *testing.T) {
	tracker := NewInflightTracker(10)
	id, err := tracker.Add(mqtt.Message{Topic: "a", QoS: 1}, AwaitingPubAck, time.Hour, func(uint16) {})
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.Count())

	entry, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, entry.Message.PacketID)

	_, err = tracker.Ack(id, AwaitingPubRec)
	assert.Error(t, err)

	_, err = tracker.Ack(id, AwaitingPubAck)
	require.NoError(t, err)
	assert.Equal(t, 0, tracker.Count())

	_, err = tracker.Ack(id, AwaitingPubAck)
	assert.ErrorIs(t, err, ErrPacketIDNotFound)
}

func TestInflightQoS2Flow(t *testing.T) {
	tracker := NewInflightTracker(10)
	id, err := tracker.Add(mqtt.Message{Topic: "a", QoS: 2}, AwaitingPubRec, time.Hour, func(uint16) {})
	require.NoError(t, err)

	require.NoError(t, tracker.Advance(id, AwaitingPubRec, AwaitingPubComp, time.Hour))
	assert.Error(t, tracker.Advance(id, AwaitingPubRec, AwaitingPubComp, time.Hour))

	_, err = tracker.Ack(id, AwaitingPubComp)
	require.NoError(t, err)
}

func TestInflightFull(t *testing.T) {
	tracker := NewInflightTracker(1)
	_, err := tracker.Add(mqtt.Message{Topic: "a"}, AwaitingPubAck, 0, nil)
	require.NoError(t, err)
	_, err = tracker.Add(mqtt.Message{Topic: "a"}, AwaitingPubAck, 0, nil)
	assert.ErrorIs(t, err, ErrInflightFull)
}

func TestInflightRetryBudget(t *testing.T) {
	tracker := NewInflightTracker(10)
	id, err := tracker.Add(mqtt.Message{Topic: "a", QoS: 1}, AwaitingPubAck, 0, nil)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		entry, action := tracker.Retry(id, 3, time.Hour)
		require.Equal(t, RetryResend, action)
		assert.Equal(t, i, entry.Retries)
	}

	_, action := tracker.Retry(id, 3, time.Hour)
	assert.Equal(t, RetryExpired, action)
	_, action = tracker.Retry(id, 3, time.Hour)
	assert.Equal(t, RetryNone, action)
	assert.Equal(t, 0, tracker.Count())
}

func TestInflightTimerFires(t *testing.T) {
	tracker := NewInflightTracker(10)
	fired := make(chan uint16, 1)
	id, err := tracker.Add(mqtt.Message{Topic: "a", QoS: 1}, AwaitingPubAck, 10*time.Millisecond, func(packetID uint16) {
		fired <- packetID
	})
	require.NoError(t, err)

	select {
	case got := <-fired:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("retry timer did not fire")
	}
}

func TestInflightClearStopsTimers(t *testing.T) {
	tracker := NewInflightTracker(10)
	fired := make(chan struct{}, 1)
	_, err := tracker.Add(mqtt.Message{Topic: "a", QoS: 1}, AwaitingPubAck, 50*time.Millisecond, func(uint16) {
		fired <- struct{}{}
	})
	require.NoError(t, err)
	assert.True(t, tracker.MarkReceived(9))

	assert.Equal(t, 1, tracker.Clear())
	assert.False(t, tracker.Release(9))

	select {
	case <-fired:
		t.Fatal("timer fired after clear")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestInflightAddAfterClear(t *testing.T) {
	tracker := NewInflightTracker(10)
	require.Equal(t, 0, tracker.Clear())

	fired := make(chan struct{}, 1)
	_, err := tracker.Add(mqtt.Message{Topic: "a", QoS: 1}, AwaitingPubAck, 10*time.Millisecond, func(uint16) {
		fired <- struct{}{}
	})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, 0, tracker.Count())

	select {
	case <-fired:
		t.Fatal("timer armed on a cleared tracker")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInflightInboundQoS2(t *testing.T) {
	tracker := NewInflightTracker(10)
	assert.True(t, tracker.MarkReceived(5))
	assert.False(t, tracker.MarkReceived(5))
	assert.True(t, tracker.Release(5))
	assert.False(t, tracker.Release(5))
}
