package otter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/opd-ai/otter/crypto"
	"github.com/opd-ai/otter/interfaces"
	"github.com/opd-ai/otter/session"
	"github.com/opd-ai/otter/storage"
)

// StorageType selects the persistence backend.
type StorageType string

const (
	StorageMemory StorageType = "memory"
	StorageFile   StorageType = "file"
	StorageRedis  StorageType = "redis"
	StorageMongo  StorageType = "mongo"
)

// Bounds for RetryAttempts.
const (
	MinRetryAttempts = 0
	MaxRetryAttempts = 100
)

// Options contains configuration options for creating a Node.
type Options struct {
	// Storage selects where trust records and the sealed identity live.
	Storage StorageType `mapstructure:"storage"`
	// DataDir is used by file storage and for the ephemeral-key replay store.
	DataDir string `mapstructure:"data_dir"`
	// Passphrase seals the identity at rest. Without one the identity is
	// regenerated on every start.
	Passphrase string `mapstructure:"passphrase"`

	RedisURL      string `mapstructure:"redis_url"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`

	// MaxSkip bounds how far ahead of the expected counter an envelope may be.
	MaxSkip uint64 `mapstructure:"max_skip"`
	// Timestamps adds an authenticated send time to every envelope.
	Timestamps bool `mapstructure:"timestamps"`
	// EphemeralReplayTTL is how long peer ephemeral keys are remembered.
	EphemeralReplayTTL time.Duration `mapstructure:"ephemeral_replay_ttl"`

	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	IterationInterval time.Duration `mapstructure:"iteration_interval"`

	LogLevel string `mapstructure:"log_level"`

	// Backend overrides Storage with an already opened backend. The node
	// does not close it.
	Backend storage.Backend `mapstructure:"-"`
	// TimeProvider overrides the system clock.
	TimeProvider crypto.TimeProvider `mapstructure:"-"`
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	delivery := interfaces.DefaultDeliveryConfig()
	return &Options{
		Storage:            StorageMemory,
		RedisPrefix:        "otter",
		MongoDatabase:      "otter",
		MaxSkip:            session.DefaultMaxSkip,
		EphemeralReplayTTL: crypto.DefaultNonceTTL,
		RetryAttempts:      delivery.RetryAttempts,
		RetryInterval:      delivery.RetryInterval,
		IterationInterval:  50 * time.Millisecond,
		LogLevel:           "info",
	}
}

func setOptionDefaults(v *viper.Viper) {
	d := NewOptions()
	v.SetDefault("storage", string(d.Storage))
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("passphrase", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("redis_prefix", d.RedisPrefix)
	v.SetDefault("mongo_uri", "")
	v.SetDefault("mongo_database", d.MongoDatabase)
	v.SetDefault("max_skip", d.MaxSkip)
	v.SetDefault("timestamps", d.Timestamps)
	v.SetDefault("ephemeral_replay_ttl", d.EphemeralReplayTTL.String())
	v.SetDefault("retry_attempts", d.RetryAttempts)
	v.SetDefault("retry_interval", d.RetryInterval.String())
	v.SetDefault("iteration_interval", d.IterationInterval.String())
	v.SetDefault("log_level", d.LogLevel)
}

// LoadOptions reads options from the config file at path (any format viper
// understands) and from OTTER_* environment variables, which take
// precedence. An empty path reads the environment only.
func LoadOptions(path string) (*Options, error) {
	v := viper.New()

	v.SetEnvPrefix("OTTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setOptionDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var options Options
	if err := v.Unmarshal(&options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return &options, nil
}

// Validate checks that the selected storage has what it needs.
func (o *Options) Validate() error {
	if _, err := logrus.ParseLevel(o.logLevel()); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if o.RetryAttempts < MinRetryAttempts || o.RetryAttempts > MaxRetryAttempts {
		return fmt.Errorf("retry_attempts %d out of range [%d, %d]", o.RetryAttempts, MinRetryAttempts, MaxRetryAttempts)
	}
	if o.Backend != nil {
		return nil
	}
	switch o.Storage {
	case StorageMemory, "":
	case StorageFile:
		if o.DataDir == "" {
			return errors.New("file storage requires data_dir")
		}
	case StorageRedis:
		if o.RedisURL == "" {
			return errors.New("redis storage requires redis_url")
		}
	case StorageMongo:
		if o.MongoURI == "" {
			return errors.New("mongo storage requires mongo_uri")
		}
	default:
		return fmt.Errorf("unknown storage %q", o.Storage)
	}
	return nil
}

func (o *Options) logLevel() string {
	if o.LogLevel == "" {
		return "info"
	}
	return o.LogLevel
}

func (o *Options) deliveryConfig() interfaces.DeliveryConfig {
	return interfaces.DeliveryConfig{
		RetryAttempts: o.RetryAttempts,
		RetryInterval: o.RetryInterval,
	}
}
