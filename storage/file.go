package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/otter/identity"
	"github.com/opd-ai/otter/trust"
)

const (
	trustFileName    = "trust.json"
	identityFileName = "identity.sealed"
)

type trustFile struct {
	Version int             `json:"version"`
	Records []*trust.Record `json:"records"`
}

// FileBackend stores trust records as one JSON document and the sealed
// identity as a separate file inside a directory. Every write goes to a
// temporary file that is then renamed over the target, so a crash leaves
// either the old or the new contents.
type FileBackend struct {
	mu      sync.Mutex
	dir     string
	records map[identity.PeerID]*trust.Record
	loaded  bool
	logger  *logrus.Entry
}

// NewFileBackend uses dir, creating it with 0700 permissions if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileBackend{
		dir:     dir,
		records: make(map[identity.PeerID]*trust.Record),
		logger:  logrus.WithFields(logrus.Fields{"component": "file_backend", "dir": dir}),
	}, nil
}

func (f *FileBackend) ensureLoaded() error {
	if f.loaded {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(f.dir, trustFileName))
	if err != nil {
		if os.IsNotExist(err) {
			f.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read trust file: %w", err)
	}

	var doc trustFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("corrupted trust file: %w", err)
	}
	for _, r := range doc.Records {
		f.records[r.PeerID] = r
	}
	f.loaded = true
	return nil
}

// SaveRecord rewrites the trust file with r added or replaced. The
// in-memory copy is only updated after the write succeeded.
func (f *FileBackend) SaveRecord(_ context.Context, r *trust.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLoaded(); err != nil {
		return err
	}

	records := make([]*trust.Record, 0, len(f.records)+1)
	for id, existing := range f.records {
		if id != r.PeerID {
			records = append(records, existing)
		}
	}
	records = append(records, r)
	sort.Slice(records, func(i, j int) bool { return records[i].PeerID.Less(records[j].PeerID) })

	data, err := json.MarshalIndent(trustFile{Version: 1, Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode trust file: %w", err)
	}
	if err := writeAtomic(filepath.Join(f.dir, trustFileName), data); err != nil {
		return err
	}

	f.records[r.PeerID] = r.Clone()
	return nil
}

// LoadRecords reads the trust file.
func (f *FileBackend) LoadRecords(context.Context) ([]*trust.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLoaded(); err != nil {
		return nil, err
	}

	out := make([]*trust.Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID.Less(out[j].PeerID) })

	f.logger.WithField("records", len(out)).Debug("Trust file loaded")
	return out, nil
}

func (f *FileBackend) SaveIdentity(_ context.Context, sealed []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(filepath.Join(f.dir, identityFileName), sealed)
}

func (f *FileBackend) LoadIdentity(context.Context) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, identityFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	return data, nil
}

func (f *FileBackend) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
