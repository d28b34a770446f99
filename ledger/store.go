package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the durable backing for a chain. Load returns the full ordered
// block sequence as persisted; Save rewrites it completely.
type Store interface {
	Load() ([]Block, error)
	Save(blocks []Block) error
}

// quarantiner is implemented by stores that can move a corrupt backing file
// aside instead of silently overwriting it.
type quarantiner interface {
	Quarantine() error
}

// FileStore persists the whole chain as a single indented UTF-8 JSON
// document. Writes go to a temporary file in the same directory, are flushed
// to disk and then atomically renamed over the target, so a crash mid-write
// never corrupts the previously good file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() ([]Block, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("parse chain file %s: %w", s.path, err)
	}
	return blocks, nil
}

func (s *FileStore) Save(blocks []Block) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// Payloads may carry non-ASCII content; keep it human-readable on disk.
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(blocks); err != nil {
		return fmt.Errorf("encode chain: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chain directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary chain file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write chain file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush chain file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chain file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace chain file: %w", err)
	}
	return nil
}

// Quarantine moves an unreadable chain file aside so reinitialization does
// not destroy the evidence.
func (s *FileStore) Quarantine() error {
	return os.Rename(s.path, s.path+".corrupt")
}
