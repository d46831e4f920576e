package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Partition directories of the file store.
const (
	activeDir     = "active"
	archiveDir    = "archive"
	quarantineDir = "quarantine"
)

// FileStore keeps one JSON document per election under active/ and archive/
// directories, with unreadable documents moved into quarantine/. Writes go to
// a temporary file that is atomically renamed into place.
type FileStore struct {
	sync.Mutex
	root string
}

// OpenFileStore creates the partition directories under root if required.
func OpenFileStore(root string) (*FileStore, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for _, dir := range []string{activeDir, archiveDir, quarantineDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &FileStore{root: root}, nil
}

// Root returns the directory the store is rooted at.
func (s *FileStore) Root() string {
	return s.root
}

// Save the record to the active partition.
func (s *FileStore) Save(rec *Record) error {
	if err := validID(rec.ID); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if exists(s.path(archiveDir, rec.ID)) {
		return ErrAlreadyArchived
	}

	rec.Version = RecordVersion
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	path := s.path(activeDir, rec.ID)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	// Atomic rename to ensure consistency
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Archive moves the record from the active to the archived partition.
func (s *FileStore) Archive(id string) error {
	if err := validID(id); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	src, dst := s.path(activeDir, id), s.path(archiveDir, id)
	if !exists(src) {
		if exists(dst) {
			return ErrAlreadyArchived
		}
		return ErrNotFound
	}

	if exists(dst) {
		return ErrAlreadyArchived
	}
	return os.Rename(src, dst)
}

// LoadActive reads every active record. Documents that cannot be decoded are
// quarantined and skipped; leftover temporary files are removed.
func (s *FileStore) LoadActive() ([]*Record, error) {
	s.Lock()
	defer s.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, activeDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list active records: %w", err)
	}

	records := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}

		if strings.HasSuffix(name, ".tmp") {
			os.Remove(filepath.Join(s.root, activeDir, name))
			continue
		}

		if filepath.Ext(name) != ".json" {
			continue
		}

		id := strings.TrimSuffix(name, ".json")
		data, err := os.ReadFile(s.path(activeDir, id))
		if err != nil {
			return nil, fmt.Errorf("failed to read record %s: %w", id, err)
		}

		rec, err := Unmarshal(data)
		if err == nil && rec.ID != id {
			err = fmt.Errorf("%w: record id %q does not match file %q", ErrCorrupt, rec.ID, name)
		}

		if err != nil {
			if qerr := s.quarantine(id, err); qerr != nil {
				return nil, qerr
			}
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// LoadArchived reads a record from the archived partition.
func (s *FileStore) LoadArchived(id string) (*Record, error) {
	if err := validID(id); err != nil {
		return nil, err
	}

	s.Lock()
	defer s.Unlock()

	data, err := os.ReadFile(s.path(archiveDir, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return Unmarshal(data)
}

// Quarantine moves an active record aside along with the reason it was rejected.
func (s *FileStore) Quarantine(id string, reason error) error {
	if err := validID(id); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()
	return s.quarantine(id, reason)
}

func (s *FileStore) quarantine(id string, reason error) error {
	src := s.path(activeDir, id)
	if !exists(src) {
		return ErrNotFound
	}

	stamp := time.Now().UTC().Format("20060102150405")
	dst := filepath.Join(s.root, quarantineDir, fmt.Sprintf("%s-%s.json", id, stamp))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to quarantine record %s: %w", id, err)
	}

	msg := "unknown"
	if reason != nil {
		msg = reason.Error()
	}
	if err := os.WriteFile(strings.TrimSuffix(dst, ".json")+".reason", []byte(msg+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write quarantine reason: %w", err)
	}

	log.Warn().Str("record", id).Str("reason", msg).Str("path", dst).Msg("record quarantined")
	return nil
}

// Quarantined lists the file names in the quarantine partition.
func (s *FileStore) Quarantined() ([]string, error) {
	s.Lock()
	defer s.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, quarantineDir))
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".json" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) path(partition, id string) string {
	return filepath.Join(s.root, partition, id+".json")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
