// Package localstore is the local durable shadow of the active draft: a
// small key-value store that survives process restarts and offline
// periods, synchronous enough to be written on every mutation.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fieldchart/sync/internal/record"
)

var ErrNotFound = errors.New("shadow not found")

// SlotCurrentDraft is the fixed key under which the currently open
// record's shadow lives. One slot per open record.
const SlotCurrentDraft = "current-draft"

// Store is the local durable contract the draft controller persists
// through on every mutation.
type Store interface {
	Put(slot string, rec record.Record) error
	Get(slot string) (record.Record, error)
	Delete(slot string) error
}

// FileStore keeps each slot as a JSON file under a data directory,
// written via temp-file-and-rename so a crash mid-write never corrupts
// the previous shadow.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create shadow dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(slot string) string {
	name := strings.ReplaceAll(slot, string(os.PathSeparator), "_")
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Put(slot string, rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode shadow: %w", err)
	}
	target := s.path(slot)
	tmp, err := os.CreateTemp(s.dir, "shadow-*.tmp")
	if err != nil {
		return fmt.Errorf("stage shadow: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write shadow: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close shadow: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit shadow: %w", err)
	}
	return nil
}

func (s *FileStore) Get(slot string) (record.Record, error) {
	data, err := os.ReadFile(s.path(slot))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read shadow: %w", err)
	}
	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode shadow: %w", err)
	}
	return rec, nil
}

func (s *FileStore) Delete(slot string) error {
	err := os.Remove(s.path(slot))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete shadow: %w", err)
	}
	return nil
}
