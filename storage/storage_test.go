package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/otter/identity"
	"github.com/opd-ai/otter/trust"
)

func sampleRecord(t *testing.T) *trust.Record {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	return &trust.Record{
		PeerID:      id.PeerID(),
		Public:      id.Public(),
		Level:       trust.Unknown,
		Fingerprint: id.Public().Fingerprint(),
		FirstSeen:   now,
		LastSeen:    now,
	}
}

// exerciseBackend runs the behaviour every backend must share.
func exerciseBackend(t *testing.T, b Backend) {
	ctx := context.Background()

	_, err := b.LoadIdentity(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	records, err := b.LoadRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	first := sampleRecord(t)
	second := sampleRecord(t)
	require.NoError(t, b.SaveRecord(ctx, first))
	require.NoError(t, b.SaveRecord(ctx, second))

	first.Level = trust.Verified
	first.DisplayName = "alice"
	first.PreviousFingerprints = []string{"aaaaaaaa bbbbbbbb cccccccc dddddddd"}
	require.NoError(t, b.SaveRecord(ctx, first))

	records, err = b.LoadRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[identity.PeerID]*trust.Record{}
	for _, r := range records {
		byID[r.PeerID] = r
	}
	got := byID[first.PeerID]
	require.NotNil(t, got)
	assert.Equal(t, trust.Verified, got.Level)
	assert.Equal(t, "alice", got.DisplayName)
	assert.Equal(t, first.Public, got.Public)
	assert.Equal(t, first.PreviousFingerprints, got.PreviousFingerprints)
	assert.True(t, first.FirstSeen.Equal(got.FirstSeen))

	sealed := []byte{0x00, 0x01, 0xfe, 0xff}
	require.NoError(t, b.SaveIdentity(ctx, sealed))
	loaded, err := b.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, sealed, loaded)
}

func TestMemoryBackend(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	exerciseBackend(t, b)
}

func TestFileBackend(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	defer b.Close()
	exerciseBackend(t, b)
}

func TestFileBackendSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	r := sampleRecord(t)
	require.NoError(t, b.SaveRecord(ctx, r))
	require.NoError(t, b.SaveIdentity(ctx, []byte("sealed")))

	reopened, err := NewFileBackend(dir)
	require.NoError(t, err)
	records, err := reopened.LoadRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, r.PeerID, records[0].PeerID)

	_, err = os.Stat(filepath.Join(dir, trustFileName+".tmp"))
	assert.True(t, os.IsNotExist(err), "temporary file left behind")

	info, err := os.Stat(filepath.Join(dir, identityFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileBackendCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, trustFileName), []byte("{not json"), 0o600))

	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	_, err = b.LoadRecords(context.Background())
	assert.Error(t, err)
}

func TestFileBackendBacksTrustStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	peer, err := identity.Generate()
	require.NoError(t, err)

	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	store := trust.NewStore(b)
	_, err = store.Observe(ctx, peer.PeerID(), peer.Public())
	require.NoError(t, err)
	require.NoError(t, store.Block(ctx, peer.PeerID()))

	reopened, err := NewFileBackend(dir)
	require.NoError(t, err)
	restored := trust.NewStore(reopened)
	require.NoError(t, restored.Load(ctx))

	level, err := restored.Level(peer.PeerID())
	require.NoError(t, err)
	assert.Equal(t, trust.Blocked, level)
}

func TestDecodeRecord(t *testing.T) {
	r := sampleRecord(t)
	data, err := json.Marshal(r)
	require.NoError(t, err)

	got, err := decodeRecord(r.PeerID.String(), data)
	require.NoError(t, err)
	assert.Equal(t, r.PeerID, got.PeerID)

	_, err = decodeRecord(r.PeerID.String(), []byte("{not json"))
	assert.ErrorIs(t, err, ErrCorruptRecord)

	other := sampleRecord(t)
	_, err = decodeRecord(other.PeerID.String(), data)
	assert.ErrorIs(t, err, ErrCorruptRecord, "record filed under another peer")
}

func redisTestBackend(t *testing.T) *RedisBackend {
	t.Helper()
	url := os.Getenv("OTTER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("OTTER_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	prefix := "otter-test-" + uuid.NewString()
	b, err := NewRedisBackend(ctx, url, prefix)
	require.NoError(t, err)
	t.Cleanup(func() {
		b.client.Del(ctx, b.trustKey(), b.identityKey())
		b.Close()
	})
	return b
}

func TestRedisBackend(t *testing.T) {
	exerciseBackend(t, redisTestBackend(t))
}

func TestRedisBackendCorruptRecordFailsLoad(t *testing.T) {
	ctx := context.Background()

	b := redisTestBackend(t)
	r := sampleRecord(t)
	require.NoError(t, b.SaveRecord(ctx, r))
	require.NoError(t, b.client.HSet(ctx, b.trustKey(), sampleRecord(t).PeerID.String(), "{not json").Err())

	err := trust.NewStore(b).Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptRecord)

	moved := redisTestBackend(t)
	data, err := json.Marshal(r)
	require.NoError(t, err)
	require.NoError(t, moved.client.HSet(ctx, moved.trustKey(), sampleRecord(t).PeerID.String(), data).Err())
	assert.ErrorIs(t, trust.NewStore(moved).Load(ctx), ErrCorruptRecord)
}

func TestRedisBackendBadURL(t *testing.T) {
	_, err := NewRedisBackend(context.Background(), "not-a-url", "")
	assert.Error(t, err)
}

func TestMongoBackend(t *testing.T) {
	uri := os.Getenv("OTTER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("OTTER_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database := "otter_test_" + time.Now().Format("150405")
	b, err := NewMongoBackend(ctx, uri, database)
	require.NoError(t, err)
	defer func() {
		b.client.Database(database).Drop(context.Background())
		b.Close()
	}()

	exerciseBackend(t, b)

	count, err := b.VerifiedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMongoBackendCorruptRecordFailsLoad(t *testing.T) {
	uri := os.Getenv("OTTER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("OTTER_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database := "otter_test_corrupt_" + time.Now().Format("150405")
	b, err := NewMongoBackend(ctx, uri, database)
	require.NoError(t, err)
	defer func() {
		b.client.Database(database).Drop(context.Background())
		b.Close()
	}()

	require.NoError(t, b.SaveRecord(ctx, sampleRecord(t)))
	_, err = b.records.InsertOne(ctx, recordDocument{
		ID:        sampleRecord(t).PeerID.String(),
		Level:     trust.Verified.String(),
		Data:      []byte("{not json"),
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	err = trust.NewStore(b).Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}
