package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// snapshotLine is one row of projections.jsonl: a named projection state.
type snapshotLine struct {
	Name  string          `json:"name"`
	State json.RawMessage `json:"state"`
}

// SnapshotStore persists projection state by name to a side log. The whole
// file is replaced atomically (write-temp + rename) on every save, so a
// crash leaves either the old file or the new one, never a torn mix.
type SnapshotStore struct {
	mu        sync.Mutex
	path      string
	snapshots map[string]json.RawMessage
}

// OpenSnapshotStore opens or creates projections.jsonl at path.
func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	lines, err := loadLines[snapshotLine](path)
	if err != nil {
		return nil, err
	}
	s := &SnapshotStore{path: path, snapshots: make(map[string]json.RawMessage)}
	for _, line := range lines {
		s.snapshots[line.Name] = line.State
	}
	return s, nil
}

// Save stores the state under name and rewrites the file. A vanished
// workspace directory (ENOENT) is swallowed: the in-memory copy stays
// consistent and the next save after the directory reappears persists it.
func (s *SnapshotStore) Save(name string, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling snapshot %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[name] = raw

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	enc := json.NewEncoder(f)
	for n, st := range s.snapshots {
		if err := enc.Encode(snapshotLine{Name: n, State: st}); err != nil {
			_ = f.Close()
			return fmt.Errorf("writing snapshot line: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("replacing snapshot file: %w", err)
	}
	return nil
}

// Load unmarshals the named snapshot into v. Returns false if absent.
func (s *SnapshotStore) Load(name string, v any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.snapshots[name]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("unmarshaling snapshot %s: %w", name, err)
	}
	return true, nil
}
