// file: internal/persistence/store.go
// version: 1.3.0
// guid: 3f6c8e21-9b47-4d0a-8e53-a1d2c7f4b906

// Package persistence writes the queue snapshot and the status file
// atomically, so a crash mid-write never leaves a truncated file behind.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"github.com/google/renameio"

	"github.com/jdfalk/paced-downloader/internal/logging"
	"github.com/jdfalk/paced-downloader/internal/models"
)

const (
	// SnapshotFile is the canonical queue snapshot name.
	SnapshotFile = "queue.json"
	// StatusFile is the telemetry file read by the status viewer.
	StatusFile = "status.json"

	backupSuffix = ".bak"
	lockSuffix   = ".lock"
)

// ErrVerify is returned when a freshly written temp file does not read back
// as the data that was written.
var ErrVerify = errors.New("snapshot verification failed")

// Store saves and restores the queue snapshot in a single directory.
type Store struct {
	mu        sync.Mutex
	dir       string
	backedUp  bool
	log       *log.Logger
	afterSave func()
}

// NewStore returns a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir, log: logging.WithPrefix("persistence")}
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the canonical snapshot path.
func (s *Store) Path() string { return filepath.Join(s.dir, SnapshotFile) }

// BackupPath returns the previous-generation snapshot path.
func (s *Store) BackupPath() string { return s.Path() + backupSuffix }

// OnSave registers a hook run after every successful save.
func (s *Store) OnSave(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSave = fn
}

// Save atomically replaces the snapshot with records. The first save in a
// process copies any existing snapshot to the .bak file.
func (s *Store) Save(records []models.QueueSnapshotRecord) error {
	if records == nil {
		records = []models.QueueSnapshotRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	unlock, err := lockDir(s.Path())
	if err != nil {
		return err
	}
	defer unlock()

	if !s.backedUp {
		if err := backupSnapshot(s.Path(), s.BackupPath()); err != nil {
			s.log.Warn("failed to back up previous snapshot", "err", err)
		}
		s.backedUp = true
	}

	if err := writeVerified(s.Path(), data, func(b []byte) error {
		var check []models.QueueSnapshotRecord
		if err := json.Unmarshal(b, &check); err != nil {
			return err
		}
		if len(check) != len(records) {
			return fmt.Errorf("record count %d, want %d", len(check), len(records))
		}
		return nil
	}); err != nil {
		return err
	}

	s.log.Debug("snapshot saved", "records", len(records), "path", s.Path())
	if s.afterSave != nil {
		s.afterSave()
	}
	return nil
}

// Load reads the snapshot, falling back to the .bak file and then to an
// empty queue. It never fails hard; the returned error describes what was
// skipped and is informational only.
func (s *Store) Load() ([]models.QueueSnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Warn("failed to create snapshot directory", "dir", s.dir, "err", err)
	}

	records, primaryErr := readSnapshot(s.Path())
	if primaryErr == nil {
		return records, nil
	}
	if !errors.Is(primaryErr, os.ErrNotExist) {
		s.log.Warn("snapshot unreadable, trying backup", "path", s.Path(), "err", primaryErr)
	}

	records, backupErr := readSnapshot(s.BackupPath())
	if backupErr == nil {
		s.log.Warn("restored queue from backup snapshot", "path", s.BackupPath(), "records", len(records))
		return records, nil
	}

	if errors.Is(primaryErr, os.ErrNotExist) && errors.Is(backupErr, os.ErrNotExist) {
		return []models.QueueSnapshotRecord{}, nil
	}
	s.log.Warn("no usable snapshot, starting with an empty queue")
	return []models.QueueSnapshotRecord{}, errors.Join(primaryErr, backupErr)
}

func readSnapshot(path string) ([]models.QueueSnapshotRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []models.QueueSnapshotRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if records == nil {
		records = []models.QueueSnapshotRecord{}
	}
	return records, nil
}

// writeVerified writes data to a temp file next to path, fsyncs, reads it
// back through validate and only then renames it over path.
func writeVerified(path string, data []byte, validate func([]byte) error) error {
	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer t.Cleanup()
	if err := t.Chmod(0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	n, err := t.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := t.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if _, err := t.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind temp file: %w", err)
	}
	readBack, err := io.ReadAll(t)
	if err != nil {
		return fmt.Errorf("failed to read back temp file: %w", err)
	}
	if len(readBack) != n || n != len(data) {
		return fmt.Errorf("%w: wrote %d bytes, read %d", ErrVerify, n, len(readBack))
	}
	if validate != nil {
		if err := validate(readBack); err != nil {
			return fmt.Errorf("%w: %v", ErrVerify, err)
		}
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// lockDir takes the cross-process writer lock guarding path.
func lockDir(path string) (func(), error) {
	fl := flock.New(path + lockSuffix)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", filepath.Base(path), err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// backupSnapshot copies a parseable snapshot at src to dst. A corrupt
// snapshot is not copied so it cannot replace a good backup.
func backupSnapshot(src, dst string) error {
	data, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var check []models.QueueSnapshotRecord
	if err := json.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("not backing up unreadable snapshot: %w", err)
	}
	return writeVerified(dst, data, nil)
}
