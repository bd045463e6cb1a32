package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

// FileStore keeps one JSON file per session in a directory. A lock file
// serialises access between processes sharing the directory; mu does the same
// between goroutines, which one flock handle does not.
type FileStore struct {
	dir  string
	ttl  time.Duration
	mu   sync.Mutex
	lock *flock.Flock
	now  func() time.Time
}

// NewFileStore creates dir if needed. Sessions older than ttl are treated as
// missing; ttl <= 0 keeps them forever.
func NewFileStore(dir string, ttl time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: create %s: %w", dir, err)
	}
	return &FileStore{
		dir:  dir,
		ttl:  ttl,
		lock: flock.New(filepath.Join(dir, ".lock")),
		now:  time.Now,
	}, nil
}

func (s *FileStore) path(id string) string { return filepath.Join(s.dir, id+".json") }

// Save writes m to a new session file.
func (s *FileStore) Save(ctx context.Context, m sanitize.Mapping) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("vault: encode: %w", err)
	}
	id := NewID()

	unlock, err := s.acquire(false)
	if err != nil {
		return "", err
	}
	defer unlock()

	tmp := s.path(id) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return "", fmt.Errorf("vault: write: %w", err)
	}
	if err := os.Rename(tmp, s.path(id)); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("vault: write: %w", err)
	}
	return id, nil
}

// Load reads the session file for id. Expired sessions are removed.
func (s *FileStore) Load(ctx context.Context, id string) (sanitize.Mapping, error) {
	if err := validID(id); err != nil {
		return nil, err
	}

	unlock, err := s.acquire(true)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(s.path(id))
	if err != nil {
		unlock()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vault: stat: %w", err)
	}
	if s.expired(info.ModTime()) {
		unlock()
		_ = s.Delete(ctx, id)
		return nil, ErrNotFound
	}
	b, err := os.ReadFile(s.path(id))
	unlock()
	if err != nil {
		return nil, fmt.Errorf("vault: read: %w", err)
	}

	var m sanitize.Mapping
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("vault: decode %s: %w", id, err)
	}
	return m, nil
}

// Delete removes the session file for id.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if validID(id) != nil {
		return nil
	}
	unlock, err := s.acquire(false)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("vault: delete: %w", err)
	}
	return nil
}

// acquire takes the in-process mutex and the directory lock, shared for
// reads.
func (s *FileStore) acquire(shared bool) (func(), error) {
	s.mu.Lock()
	lockFn := s.lock.Lock
	if shared {
		lockFn = s.lock.RLock
	}
	if err := lockFn(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("vault: lock: %w", err)
	}
	return func() {
		_ = s.lock.Unlock()
		s.mu.Unlock()
	}, nil
}

func (s *FileStore) expired(mod time.Time) bool {
	return s.ttl > 0 && s.now().Sub(mod) > s.ttl
}
