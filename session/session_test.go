package session

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/otter/channel"
	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/fault"
	"github.com/opd-ai/otter/identity"
	"github.com/opd-ai/otter/limits"
)

// newPair establishes a channel between two fresh identities and returns the
// initiator's session first.
func newPair(t *testing.T, opts ...Option) (initiator, responder *Session) {
	t.Helper()

	a, err := identity.Generate()
	require.NoError(t, err)
	b, err := identity.Generate()
	require.NoError(t, err)
	t.Cleanup(a.Wipe)
	t.Cleanup(b.Wipe)

	ephA, err := channel.NewEphemeral()
	require.NoError(t, err)
	ephB, err := channel.NewEphemeral()
	require.NoError(t, err)
	pubA, pubB := ephA.Public, ephB.Public

	ksA, err := channel.Establish(a, b.Public(), ephA, pubB, channel.Initiator)
	require.NoError(t, err)
	ksB, err := channel.Establish(b, a.Public(), ephB, pubA, channel.Responder)
	require.NoError(t, err)

	return New(ksA, opts...), New(ksB, opts...)
}

func recvState(s *Session) ([32]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ks.RecvChain, s.ks.RecvCounter
}

func TestHelloHiScenario(t *testing.T) {
	alice, bob := newPair(t)

	hello, err := alice.Encrypt([]byte("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hello.Counter)

	pt, err := bob.Decrypt(hello, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))
	_, recv := bob.Counters()
	assert.Equal(t, uint64(1), recv)

	hi, err := bob.Encrypt([]byte("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hi.Counter)

	pt, err = alice.Decrypt(hi, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(pt))

	_, err = bob.Decrypt(hello, nil)
	assert.True(t, errors.Is(err, fault.ReplayOrReorder))
}

func TestInOrderRoundTrip(t *testing.T) {
	alice, bob := newPair(t)

	const n = 50
	envs := make([]*Envelope, n)
	for i := range envs {
		var err error
		envs[i], err = alice.Encrypt([]byte(fmt.Sprintf("message %d", i)), []byte("ad"))
		require.NoError(t, err)
	}

	for i, env := range envs {
		pt, err := bob.Decrypt(env, []byte("ad"))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("message %d", i), string(pt))
	}

	send, _ := alice.Counters()
	_, recv := bob.Counters()
	assert.Equal(t, send, recv)
	assert.Equal(t, uint64(n), recv)
}

func TestEveryMessageUsesFreshKey(t *testing.T) {
	alice, _ := newPair(t)

	first, err := alice.Encrypt([]byte("same"), nil)
	require.NoError(t, err)
	second, err := alice.Encrypt([]byte("same"), nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Ciphertext, second.Ciphertext)
	assert.NotEqual(t, first.Counter, second.Counter)
}

func TestReplayLawLeavesStateUntouched(t *testing.T) {
	alice, bob := newPair(t)

	var envs []*Envelope
	for i := 0; i < 5; i++ {
		env, err := alice.Encrypt([]byte{byte(i + 1)}, nil)
		require.NoError(t, err)
		envs = append(envs, env)
		_, err = bob.Decrypt(env, nil)
		require.NoError(t, err)
	}

	chainBefore, counterBefore := recvState(bob)
	for _, env := range envs {
		_, err := bob.Decrypt(env, nil)
		assert.True(t, errors.Is(err, fault.ReplayOrReorder))

		chainAfter, counterAfter := recvState(bob)
		assert.Equal(t, chainBefore, chainAfter)
		assert.Equal(t, counterBefore, counterAfter)
	}
}

func TestTamperLaw(t *testing.T) {
	alice, bob := newPair(t)

	env, err := alice.Encrypt([]byte("attack at dawn"), []byte("hdr"))
	require.NoError(t, err)

	check := func(t *testing.T, tampered *Envelope) {
		t.Helper()
		chainBefore, counterBefore := recvState(bob)

		pt, err := bob.Decrypt(tampered, []byte("hdr"))
		assert.Nil(t, pt)
		assert.True(t, errors.Is(err, fault.DecryptionFailed), "got %v", err)

		chainAfter, counterAfter := recvState(bob)
		assert.Equal(t, chainBefore, chainAfter)
		assert.Equal(t, counterBefore, counterAfter)
	}

	for i := 0; i < len(env.Ciphertext)*8; i++ {
		tampered := *env
		tampered.Ciphertext = bytes.Clone(env.Ciphertext)
		tampered.Ciphertext[i/8] ^= 1 << (i % 8)
		check(t, &tampered)
	}

	for i := 0; i < crypto.NonceSize*8; i++ {
		tampered := *env
		tampered.Nonce[i/8] ^= 1 << (i % 8)
		check(t, &tampered)
	}

	// The envelope carries counter 0, so every flip moves it forward.
	for i := 0; i < 64; i++ {
		tampered := *env
		tampered.Counter ^= 1 << i
		check(t, &tampered)
	}

	t.Run("associated data", func(t *testing.T) {
		_, err := bob.Decrypt(env, []byte("hdx"))
		assert.True(t, errors.Is(err, fault.DecryptionFailed))
	})

	pt, err := bob.Decrypt(env, []byte("hdr"))
	require.NoError(t, err, "untampered envelope must still decrypt")
	assert.Equal(t, "attack at dawn", string(pt))
}

func TestGapSkipsForward(t *testing.T) {
	alice, bob := newPair(t)

	var envs []*Envelope
	for i := 0; i < 5; i++ {
		env, err := alice.Encrypt([]byte{byte('a' + i)}, nil)
		require.NoError(t, err)
		envs = append(envs, env)
	}

	pt, err := bob.Decrypt(envs[3], nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{'d'}, pt)
	_, recv := bob.Counters()
	assert.Equal(t, uint64(4), recv)

	// Skipped envelopes are gone for good.
	for _, skipped := range envs[:3] {
		_, err := bob.Decrypt(skipped, nil)
		assert.True(t, errors.Is(err, fault.ReplayOrReorder))
	}

	pt, err = bob.Decrypt(envs[4], nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{'e'}, pt)
}

func TestGapBeyondMaxSkipRejected(t *testing.T) {
	alice, bob := newPair(t, WithMaxSkip(3))

	var last *Envelope
	for i := 0; i < 5; i++ {
		var err error
		last, err = alice.Encrypt([]byte("x"), nil)
		require.NoError(t, err)
	}

	_, err := bob.Decrypt(last, nil)
	assert.True(t, errors.Is(err, fault.DecryptionFailed))
	_, recv := bob.Counters()
	assert.Zero(t, recv)
}

func TestCounterExhaustionClosesSession(t *testing.T) {
	alice, _ := newPair(t)

	alice.mu.Lock()
	alice.ks.SendCounter = math.MaxUint64 - 1
	alice.mu.Unlock()

	env, err := alice.Encrypt([]byte("last"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), env.Counter)

	_, err = alice.Encrypt([]byte("one too many"), nil)
	require.Error(t, err)
	kind, ok := fault.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, fault.CounterExhausted, kind)
	assert.True(t, kind.Fatal())

	assert.True(t, alice.Closed())
	alice.mu.Lock()
	assert.Equal(t, [32]byte{}, alice.ks.SendChain)
	assert.Equal(t, [32]byte{}, alice.ks.RootKey)
	alice.mu.Unlock()

	_, err = alice.Encrypt([]byte("after"), nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestDecryptFailureThenSuccess(t *testing.T) {
	alice, bob := newPair(t)

	env, err := alice.Encrypt([]byte("payload"), nil)
	require.NoError(t, err)

	corrupted := *env
	corrupted.Ciphertext = bytes.Clone(env.Ciphertext)
	corrupted.Ciphertext[0] ^= 0xff
	_, err = bob.Decrypt(&corrupted, nil)
	require.Error(t, err)

	pt, err := bob.Decrypt(env, nil)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(pt))
}

func TestTimestampsAreAuthenticated(t *testing.T) {
	tp := crypto.NewManualTimeProvider(time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC))
	alice, bob := newPair(t, WithTimestamps(tp))

	env, err := alice.Encrypt([]byte("stamped"), nil)
	require.NoError(t, err)
	require.True(t, env.HasTimestamp())
	assert.True(t, tp.Now().Equal(env.Timestamp))

	tampered := *env
	tampered.Timestamp = env.Timestamp.Add(time.Second)
	_, err = bob.Decrypt(&tampered, nil)
	assert.True(t, errors.Is(err, fault.DecryptionFailed))

	stripped := *env
	stripped.Timestamp = time.Time{}
	_, err = bob.Decrypt(&stripped, nil)
	assert.True(t, errors.Is(err, fault.DecryptionFailed))

	pt, err := bob.Decrypt(env, nil)
	require.NoError(t, err)
	assert.Equal(t, "stamped", string(pt))
}

func TestPreEpochClockDoesNotConsumeCounter(t *testing.T) {
	tp := crypto.NewManualTimeProvider(time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC))
	alice, bob := newPair(t, WithTimestamps(tp))

	_, err := alice.Encrypt([]byte("too early"), nil)
	assert.ErrorIs(t, err, ErrTimestampOutOfRange)
	_, err = alice.Seal([]byte("too early"), nil)
	assert.ErrorIs(t, err, ErrTimestampOutOfRange)
	send, _ := alice.Counters()
	assert.Zero(t, send)

	tp.Advance(2 * time.Hour)
	wire, err := alice.Seal([]byte("on time"), nil)
	require.NoError(t, err)
	pt, err := bob.Open(wire, nil)
	require.NoError(t, err)
	assert.Equal(t, "on time", string(pt))
}

func TestSealOpenWire(t *testing.T) {
	alice, bob := newPair(t, WithTimestamps(nil))

	wire, err := alice.Seal([]byte("over the wire"), []byte("ad"))
	require.NoError(t, err)

	pt, err := bob.Open(wire, []byte("ad"))
	require.NoError(t, err)
	assert.Equal(t, "over the wire", string(pt))

	_, err = bob.Open(wire, []byte("ad"))
	assert.True(t, errors.Is(err, fault.ReplayOrReorder))
}

func TestInputLimits(t *testing.T) {
	alice, _ := newPair(t)

	_, err := alice.Encrypt(nil, nil)
	assert.ErrorIs(t, err, limits.ErrMessageEmpty)

	_, err = alice.Encrypt(make([]byte, limits.MaxPlaintextMessage+1), nil)
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)

	_, err = alice.Encrypt([]byte("x"), make([]byte, limits.MaxAssociatedData+1))
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)

	send, _ := alice.Counters()
	assert.Zero(t, send, "rejected input must not consume a counter")

	_, err = alice.Decrypt(nil, nil)
	assert.ErrorIs(t, err, ErrNilEnvelope)
}

func TestCloseWipes(t *testing.T) {
	alice, bob := newPair(t)
	env, err := alice.Encrypt([]byte("x"), nil)
	require.NoError(t, err)

	bob.Close()
	bob.Close()
	assert.True(t, bob.Closed())

	_, err = bob.Decrypt(env, nil)
	assert.ErrorIs(t, err, ErrSessionClosed)

	chain, _ := recvState(bob)
	assert.Equal(t, [32]byte{}, chain)
}

func TestStaticSessionStillWorks(t *testing.T) {
	a, err := identity.Generate()
	require.NoError(t, err)
	b, err := identity.Generate()
	require.NoError(t, err)

	ksA, err := channel.EstablishStatic(a, b.Public(), channel.Initiator)
	require.NoError(t, err)
	ksB, err := channel.EstablishStatic(b, a.Public(), channel.Responder)
	require.NoError(t, err)

	alice, bob := New(ksA), New(ksB)
	assert.False(t, alice.ForwardSecure())

	pt, err := bob.Open(mustSeal(t, alice, "degraded"), nil)
	require.NoError(t, err)
	assert.Equal(t, "degraded", string(pt))
	assert.Equal(t, alice.Fingerprint(), bob.Fingerprint())
}

func mustSeal(t *testing.T, s *Session, msg string) []byte {
	t.Helper()
	wire, err := s.Seal([]byte(msg), nil)
	require.NoError(t, err)
	return wire
}

func TestConcurrentUseIsSerialized(t *testing.T) {
	alice, bob := newPair(t)

	const workers, perWorker = 8, 25
	envs := make(chan *Envelope, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				env, err := alice.Encrypt([]byte("concurrent"), nil)
				if err != nil {
					t.Error(err)
					return
				}
				envs <- env
			}
		}()
	}
	wg.Wait()
	close(envs)

	seen := make(map[uint64]bool)
	ordered := make([]*Envelope, workers*perWorker)
	for env := range envs {
		require.False(t, seen[env.Counter], "counter %d reused", env.Counter)
		seen[env.Counter] = true
		ordered[env.Counter] = env
	}

	for _, env := range ordered {
		_, err := bob.Decrypt(env, nil)
		require.NoError(t, err)
	}
}
