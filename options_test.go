package otter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/otter/session"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	assert.Equal(t, StorageMemory, opts.Storage)
	assert.Equal(t, uint64(session.DefaultMaxSkip), opts.MaxSkip)
	assert.Positive(t, opts.RetryAttempts)
	assert.NoError(t, opts.Validate())
}

func TestLoadOptionsFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otter.yaml")
	config := []byte(`
storage: file
data_dir: ` + dir + `
max_skip: 100
timestamps: true
retry_interval: 5s
log_level: debug
`)
	require.NoError(t, os.WriteFile(path, config, 0o600))

	t.Setenv("OTTER_PASSPHRASE", "from-env")
	t.Setenv("OTTER_MAX_SKIP", "250")

	opts, err := LoadOptions(path)
	require.NoError(t, err)

	assert.Equal(t, StorageFile, opts.Storage)
	assert.Equal(t, dir, opts.DataDir)
	assert.Equal(t, "from-env", opts.Passphrase)
	assert.Equal(t, uint64(250), opts.MaxSkip)
	assert.True(t, opts.Timestamps)
	assert.Equal(t, 5*time.Second, opts.RetryInterval)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.Equal(t, "otter", opts.RedisPrefix, "unset keys keep defaults")
}

func TestLoadOptionsEnvOnly(t *testing.T) {
	t.Setenv("OTTER_STORAGE", "redis")
	t.Setenv("OTTER_REDIS_URL", "redis://localhost:6379/0")

	opts, err := LoadOptions("")
	require.NoError(t, err)
	assert.Equal(t, StorageRedis, opts.Storage)
	assert.Equal(t, "redis://localhost:6379/0", opts.RedisURL)
	assert.Equal(t, 50*time.Millisecond, opts.IterationInterval)
}

func TestLoadOptionsMissingFile(t *testing.T) {
	_, err := LoadOptions(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"memory", func(o *Options) {}, false},
		{"file without dir", func(o *Options) { o.Storage = StorageFile }, true},
		{"redis without url", func(o *Options) { o.Storage = StorageRedis }, true},
		{"mongo without uri", func(o *Options) { o.Storage = StorageMongo }, true},
		{"unknown storage", func(o *Options) { o.Storage = "etcd" }, true},
		{"bad log level", func(o *Options) { o.LogLevel = "loud" }, true},
		{"negative retries", func(o *Options) { o.RetryAttempts = -1 }, true},
		{"too many retries", func(o *Options) { o.RetryAttempts = MaxRetryAttempts + 1 }, true},
		{"mongo with uri", func(o *Options) {
			o.Storage = StorageMongo
			o.MongoURI = "mongodb://localhost:27017"
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := NewOptions()
			tc.mutate(opts)
			err := opts.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
