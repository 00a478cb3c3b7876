package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceStoreRejectsRepeat(t *testing.T) {
	ns, err := NewNonceStore("", time.Hour, nil)
	require.NoError(t, err)
	defer ns.Close()

	value := [32]byte{1, 2, 3}
	assert.True(t, ns.CheckAndStore(value))
	assert.False(t, ns.CheckAndStore(value))
	assert.True(t, ns.CheckAndStore([32]byte{4}))
	assert.Equal(t, 2, ns.Size())
}

func TestNonceStoreExpiry(t *testing.T) {
	tp := NewManualTimeProvider(time.Unix(1_700_000_000, 0))
	ns, err := NewNonceStore("", time.Minute, tp)
	require.NoError(t, err)
	defer ns.Close()

	value := [32]byte{9}
	require.True(t, ns.CheckAndStore(value))

	tp.Advance(2 * time.Minute)
	ns.cleanup()
	assert.Equal(t, 0, ns.Size())
	assert.True(t, ns.CheckAndStore(value), "expired value should be accepted again")
}

func TestNonceStorePersistence(t *testing.T) {
	dir := t.TempDir()
	tp := NewManualTimeProvider(time.Unix(1_700_000_000, 0))

	ns, err := NewNonceStore(dir, time.Hour, tp)
	require.NoError(t, err)
	value := [32]byte{0xaa}
	require.True(t, ns.CheckAndStore(value))
	require.NoError(t, ns.Close())

	reloaded, err := NewNonceStore(dir, time.Hour, tp)
	require.NoError(t, err)
	defer reloaded.Close()

	assert.Equal(t, 1, reloaded.Size())
	assert.False(t, reloaded.CheckAndStore(value))
}

func TestNonceStoreCloseIdempotent(t *testing.T) {
	ns, err := NewNonceStore("", 0, nil)
	require.NoError(t, err)
	assert.NoError(t, ns.Close())
	assert.NoError(t, ns.Close())
}
