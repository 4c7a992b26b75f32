package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	addr   string
	sent   [][]byte
	closed int
}

func newFakeTransport(addr string) *fakeTransport {
	return &fakeTransport{addr: addr}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return f.addr }

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestSessionStateTransitions(t *testing.T) {
	sess := newSession("c1", newFakeTransport("a"), Options{}, 0)
	assert.Equal(t, Connecting, sess.State())

	assert.True(t, sess.Transition(Connecting, Connected))
	assert.False(t, sess.Transition(Connecting, Connected))
	assert.Equal(t, "connected", sess.State().String())
}

func TestSessionCloseTransportOnce(t *testing.T) {
	transport := newFakeTransport("a")
	sess := newSession("c1", transport, Options{}, 0)

	require.NoError(t, sess.CloseTransport())
	require.NoError(t, sess.CloseTransport())
	assert.Equal(t, 1, transport.closeCount())
}

func TestSessionSendAfterClose(t *testing.T) {
	sess := newSession("c1", newFakeTransport("a"), Options{}, 0)
	require.NoError(t, sess.Send([]byte{0xD0, 0x00}))

	sess.setState(Closed)
	assert.ErrorIs(t, sess.Send([]byte{0xD0, 0x00}), ErrSessionClosed)
}

func TestSessionSubscriptionsKeepOrder(t *testing.T) {
	sess := newSession("c1", newFakeTransport("a"), Options{}, 0)
	sess.setSubscription("b", 0)
	sess.setSubscription("a", 1)
	sess.setSubscription("b", 2)

	assert.Equal(t, []Subscription{{Filter: "b", QoS: 2}, {Filter: "a", QoS: 1}}, sess.Subscriptions())

	assert.True(t, sess.removeSubscription("b"))
	assert.False(t, sess.removeSubscription("b"))
	assert.Equal(t, []Subscription{{Filter: "a", QoS: 1}}, sess.Subscriptions())
}
