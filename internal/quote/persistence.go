package quote

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const snapshotVersion = 1

// SnapshotConfig tunes the durable quote snapshot.
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
	// SaveInterval enables periodic saves between startup load and shutdown
	// flush; 0 disables the loop.
	SaveInterval time.Duration `mapstructure:"save_interval"`
}

type snapshotFile struct {
	Version int                     `json:"version"`
	SavedAt string                  `json:"saved_at"`
	Records map[string]*QuoteRecord `json:"records"`
}

// SnapshotStore is the durable on-disk quote cache: loaded once at service
// start, written at shutdown or on explicit flush. Disk writes are a
// low-frequency path, so one mutex serializes them.
type SnapshotStore struct {
	mu      sync.Mutex
	path    string
	records map[string]*QuoteRecord
	logger  zerolog.Logger
}

// NewSnapshotStore creates a snapshot store rooted at path.
func NewSnapshotStore(path string, logger zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		path:    path,
		records: make(map[string]*QuoteRecord),
		logger:  logger.With().Str("component", "snapshot").Logger(),
	}
}

// Load reads the snapshot file into memory. A missing file is a clean cold
// start, not an error.
func (s *SnapshotStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	if file.Records != nil {
		s.records = file.Records
	}
	s.logger.Info().Int("records", len(s.records)).Str("path", s.path).Msg("snapshot loaded")
	return nil
}

// Save writes the snapshot atomically (temp file + rename).
func (s *SnapshotStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	file := snapshotFile{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
		Records: s.records,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	s.logger.Debug().Int("records", len(s.records)).Msg("snapshot saved")
	return nil
}

// Get returns a copy of the stored record for symbol, if any.
func (s *SnapshotStore) Get(symbol string) (*QuoteRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[NormalizeSymbol(symbol)]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Put replaces the stored record for its symbol.
func (s *SnapshotStore) Put(rec *QuoteRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Symbol] = rec.Clone()
}

// Len reports how many records the store holds.
func (s *SnapshotStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
