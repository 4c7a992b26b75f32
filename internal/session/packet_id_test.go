package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketID(t *testing.T) {
	mgr := NewPacketIDManager()

	id1, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id1)

	id2, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id2)

	require.NoError(t, mgr.ReleaseID(id1))
	assert.ErrorIs(t, mgr.ReleaseID(id1), ErrPacketIDNotFound)
	assert.Equal(t, 1, mgr.InUse())

	mgr.currentID = 65535
	id3, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), id3)

	// wraps to 1, which was released, skipping 0
	id4, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id4)

	// 2 is still in use and must be skipped
	id5, err := mgr.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), id5)
}

func TestPacketIDExhausted(t *testing.T) {
	mgr := NewPacketIDManager()
	for i := 0; i < maxPacketID; i++ {
		_, err := mgr.NextID()
		require.NoError(t, err)
	}
	_, err := mgr.NextID()
	assert.ErrorIs(t, err, ErrPacketIDExhausted)
}
