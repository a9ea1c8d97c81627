// Package file stores session records in a JSON document under the user
// config directory, optionally sealed with AES-GCM.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/repository"
	"github.com/splax/faasdeck/pkg/crypto"
)

const fileName = "session.json"

// Store keeps one record per slot in a single 0600 file.
type Store struct {
	path string
	key  string
	mu   sync.Mutex
}

// New returns a Store rooted at dir. An empty dir resolves to
// $XDG_CONFIG_HOME/faasdeck. A non-empty key seals the file contents.
func New(dir, key string) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		dir = filepath.Join(base, "faasdeck")
	}
	return &Store{path: filepath.Join(dir, fileName), key: key}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load implements repository.SessionRepository.
func (s *Store) Load(ctx context.Context, slot string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return domain.Session{}, err
	}
	session, ok := records[slot]
	if !ok {
		return domain.Session{}, repository.ErrNotFound
	}
	return session, nil
}

// Save implements repository.SessionRepository.
func (s *Store) Save(ctx context.Context, slot string, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if errors.Is(err, repository.ErrCorrupt) {
		records = make(map[string]domain.Session)
	} else if err != nil {
		return err
	}
	records[slot] = session
	return s.write(records)
}

// Delete implements repository.SessionRepository. A corrupt file is removed
// entirely since none of its slots can be recovered.
func (s *Store) Delete(ctx context.Context, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if errors.Is(err, repository.ErrCorrupt) {
		return s.remove()
	}
	if err != nil {
		return err
	}
	if _, ok := records[slot]; !ok {
		return nil
	}
	delete(records, slot)
	if len(records) == 0 {
		return s.remove()
	}
	return s.write(records)
}

func (s *Store) read() (map[string]domain.Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]domain.Session), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if s.key != "" {
		data, err = crypto.Open(s.key, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", repository.ErrCorrupt, err)
		}
	}
	records := make(map[string]domain.Session)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrCorrupt, err)
	}
	return records, nil
}

func (s *Store) write(records map[string]domain.Session) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	if s.key != "" {
		data, err = crypto.Seal(s.key, data)
		if err != nil {
			return fmt.Errorf("seal session file: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (s *Store) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

var _ repository.SessionRepository = (*Store)(nil)
