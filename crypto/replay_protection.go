package crypto

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultNonceTTL is how long a peer ephemeral key stays in the replay window.
const DefaultNonceTTL = 24 * time.Hour

const nonceRecordSize = KeySize + 8

// NonceStore remembers 32-byte values that may only be accepted once within
// a time window. The channel layer feeds it peer ephemeral public keys so a
// recorded handshake cannot be replayed to re-derive an old session.
//
// With an empty dataDir the store lives in memory only; otherwise it is
// loaded on creation and written back atomically on Close.
//
// The store is safe for concurrent use. A background goroutine evicts
// expired entries until Close is called.
type NonceStore struct {
	mu           sync.RWMutex
	nonces       map[[KeySize]byte]int64 // value -> expiry (unix seconds)
	ttl          time.Duration
	saveFile     string
	stopChan     chan struct{}
	stopOnce     sync.Once
	logger       *logrus.Entry
	timeProvider TimeProvider
}

// NewNonceStore creates a store. dataDir may be empty for memory-only use.
// A zero ttl selects DefaultNonceTTL; a nil timeProvider selects the system clock.
func NewNonceStore(dataDir string, ttl time.Duration, timeProvider TimeProvider) (*NonceStore, error) {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}

	ns := &NonceStore{
		nonces:       make(map[[KeySize]byte]int64),
		ttl:          ttl,
		stopChan:     make(chan struct{}),
		logger:       logrus.WithField("component", "nonce_store"),
		timeProvider: OrDefault(timeProvider),
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		ns.saveFile = filepath.Join(dataDir, "ephemeral_keys.dat")
		if err := ns.load(); err != nil {
			ns.logger.WithError(err).Warn("Could not load nonce store, starting fresh")
		}
	}

	go ns.cleanupLoop()

	return ns, nil
}

// CheckAndStore records value and reports whether it was fresh.
// It returns false when value was already seen inside the window.
func (ns *NonceStore) CheckAndStore(value [KeySize]byte) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	now := ns.timeProvider.Now()
	if expiry, exists := ns.nonces[value]; exists && expiry >= now.Unix() {
		ns.logger.WithFields(logrus.Fields{
			"value_prefix": fmt.Sprintf("%x", value[:8]),
		}).Warn("Replay detected: value already used")
		return false
	}

	ns.nonces[value] = now.Add(ns.ttl).Unix()
	return true
}

// Size returns the number of values currently remembered.
func (ns *NonceStore) Size() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.nonces)
}

// Close stops the cleanup loop and persists the store when backed by a file.
func (ns *NonceStore) Close() error {
	ns.stopOnce.Do(func() { close(ns.stopChan) })

	if ns.saveFile == "" {
		return nil
	}
	return ns.save()
}

func (ns *NonceStore) cleanupLoop() {
	interval := ns.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ns.cleanup()
		case <-ns.stopChan:
			return
		}
	}
}

// cleanup removes expired values.
func (ns *NonceStore) cleanup() {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	now := ns.timeProvider.Now().Unix()
	removed := 0
	for value, expiry := range ns.nonces {
		if expiry < now {
			delete(ns.nonces, value)
			removed++
		}
	}

	if removed > 0 {
		ns.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": len(ns.nonces),
		}).Debug("Cleaned up expired values")
	}
}

// load reads the store file: [count:8] then count records of [value:32][expiry:8].
func (ns *NonceStore) load() error {
	data, err := os.ReadFile(ns.saveFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read nonce store: %w", err)
	}
	if len(data) < 8 {
		return fmt.Errorf("corrupted nonce store: file too small")
	}

	count := binary.BigEndian.Uint64(data[0:8])
	now := ns.timeProvider.Now().Unix()
	loaded := 0

	for i, offset := uint64(0), 8; i < count && offset+nonceRecordSize <= len(data); i, offset = i+1, offset+nonceRecordSize {
		var value [KeySize]byte
		copy(value[:], data[offset:offset+KeySize])
		expiry, err := SafeUint64ToInt64(binary.BigEndian.Uint64(data[offset+KeySize : offset+nonceRecordSize]))
		if err != nil || expiry <= now {
			continue
		}
		ns.nonces[value] = expiry
		loaded++
	}

	ns.logger.WithFields(logrus.Fields{
		"total_in_file": count,
		"loaded":        loaded,
	}).Info("Nonce store loaded")
	return nil
}

// save writes the store to disk via a temporary file and rename.
func (ns *NonceStore) save() error {
	ns.mu.RLock()
	buf := make([]byte, 8, 8+len(ns.nonces)*nonceRecordSize)
	written := uint64(0)
	for value, expiry := range ns.nonces {
		expiryUint, err := SafeInt64ToUint64(expiry)
		if err != nil {
			continue
		}
		buf = append(buf, value[:]...)
		buf = binary.BigEndian.AppendUint64(buf, expiryUint)
		written++
	}
	ns.mu.RUnlock()
	binary.BigEndian.PutUint64(buf[0:8], written)

	tmpFile := ns.saveFile + ".tmp"
	if err := os.WriteFile(tmpFile, buf, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary nonce store: %w", err)
	}
	if err := os.Rename(tmpFile, ns.saveFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename nonce store: %w", err)
	}
	return nil
}
