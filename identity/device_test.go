package identity

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/fault"
)

func TestDeviceKeyVerifiesAgainstRoot(t *testing.T) {
	root := mustGenerate(t)
	device := mustGenerate(t)

	dk, err := IssueDeviceKey(root, device.Public(), "laptop")
	require.NoError(t, err)

	rootSigning := root.Public().SigningKey
	assert.False(t, dk.Revoked)
	assert.NotEmpty(t, dk.DeviceID)
	assert.True(t, VerifyDeviceKey(rootSigning, dk))
	assert.True(t, dk.Trusted(rootSigning))
	assert.NoError(t, CheckDeviceKey(rootSigning, dk))
}

func TestRevokedDeviceKeyStillVerifiesButIsRejected(t *testing.T) {
	root := mustGenerate(t)
	device := mustGenerate(t)

	dk, err := IssueDeviceKey(root, device.Public(), "phone")
	require.NoError(t, err)

	revoked := RevokeDeviceKey(dk)
	rootSigning := root.Public().SigningKey

	assert.True(t, revoked.Revoked)
	assert.False(t, revoked.RevokedAt.IsZero())
	assert.False(t, dk.Revoked, "revocation returns a copy")

	assert.True(t, VerifyDeviceKey(rootSigning, revoked), "signature check ignores revocation")
	assert.False(t, revoked.Trusted(rootSigning))
	assert.ErrorIs(t, CheckDeviceKey(rootSigning, revoked), ErrDeviceRevoked)

	again := RevokeDeviceKey(revoked)
	assert.Equal(t, revoked.RevokedAt, again.RevokedAt)
}

func TestForgedDeviceKey(t *testing.T) {
	root := mustGenerate(t)
	impostor := mustGenerate(t)
	device := mustGenerate(t)

	dk, err := IssueDeviceKey(impostor, device.Public(), "evil")
	require.NoError(t, err)

	err = CheckDeviceKey(root.Public().SigningKey, dk)
	assert.True(t, errors.Is(err, fault.SignatureInvalid))

	genuine, err := IssueDeviceKey(root, device.Public(), "tablet")
	require.NoError(t, err)

	tampered := genuine
	tampered.Public.AgreementKey[0] ^= 0x01
	assert.False(t, VerifyDeviceKey(root.Public().SigningKey, tampered))

	backdated := genuine
	backdated.CreatedAt = backdated.CreatedAt.Add(-time.Hour)
	assert.False(t, VerifyDeviceKey(root.Public().SigningKey, backdated))
}

func TestDeviceKeyJSONPreservesSignature(t *testing.T) {
	root := mustGenerate(t)
	device := mustGenerate(t)

	dk, err := IssueDeviceKey(root, device.Public(), "desktop")
	require.NoError(t, err)
	dk = RevokeDeviceKey(dk)

	data, err := json.Marshal(dk)
	require.NoError(t, err)

	var decoded DeviceKey
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, VerifyDeviceKey(root.Public().SigningKey, decoded))
	assert.True(t, decoded.Revoked)
	assert.True(t, dk.RevokedAt.Equal(decoded.RevokedAt))
}

func TestRootIdentityDevices(t *testing.T) {
	tp := crypto.NewManualTimeProvider(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	root := NewRootIdentityWithTimeProvider(mustGenerate(t), tp)

	laptop, err := root.AddDevice(mustGenerate(t).Public(), "laptop")
	require.NoError(t, err)
	tp.Advance(time.Minute)
	phone, err := root.AddDevice(mustGenerate(t).Public(), "phone")
	require.NoError(t, err)

	assert.Len(t, root.Devices(), 2)
	assert.Equal(t, laptop.DeviceID, root.Devices()[0].DeviceID)
	assert.True(t, root.IsDeviceValid(laptop.DeviceID))
	assert.True(t, root.IsDeviceValid(phone.DeviceID))

	revoked, err := root.RevokeDevice(phone.DeviceID)
	require.NoError(t, err)
	assert.True(t, tp.Now().Equal(revoked.RevokedAt))

	assert.False(t, root.IsDeviceValid(phone.DeviceID))
	active := root.ActiveDevices()
	require.Len(t, active, 1)
	assert.Equal(t, laptop.DeviceID, active[0].DeviceID)

	_, err = root.RevokeDevice("missing")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.False(t, root.IsDeviceValid("missing"))
}

func TestSealedRootKeepsDevices(t *testing.T) {
	root := NewRootIdentity(mustGenerate(t))
	dk, err := root.AddDevice(mustGenerate(t).Public(), "laptop")
	require.NoError(t, err)
	_, err = root.RevokeDevice(dk.DeviceID)
	require.NoError(t, err)

	sealed, err := root.Seal([]byte("pw"))
	require.NoError(t, err)

	restored, err := OpenSealedRoot([]byte("pw"), sealed, nil)
	require.NoError(t, err)
	defer restored.Root().Wipe()

	require.Len(t, restored.Devices(), 1)
	assert.Empty(t, restored.ActiveDevices())
	assert.Equal(t, root.Root().PeerID(), restored.Root().PeerID())
}

func TestRestoreRejectsForeignDevice(t *testing.T) {
	root := NewRootIdentity(mustGenerate(t))
	foreign, err := IssueDeviceKey(mustGenerate(t), mustGenerate(t).Public(), "x")
	require.NoError(t, err)

	err = root.Restore([]DeviceKey{foreign})
	assert.True(t, errors.Is(err, fault.SignatureInvalid))
	assert.Empty(t, root.Devices())
}
