package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"anonpost/pkg/logx"
)

// fileStore keeps each named mapping in <dir>/<name>.json and rewrites
// the whole file on every save (temp file + rename). A single mutex
// serializes all access, which is what makes Update safe against the
// interleaved read-modify-write hazard.
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Load(ctx context.Context, name string) (Mapping, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.loadLocked(name), nil
}

func (s *fileStore) Save(ctx context.Context, name string, m Mapping) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.saveLocked(name, m)
}

func (s *fileStore) Update(ctx context.Context, name string, fn func(m Mapping) error) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m := s.loadLocked(name)
	if err := fn(m); err != nil {
		return err
	}
	return s.saveLocked(name, m)
}

// loadLocked never fails: a missing file is an empty mapping, and
// malformed content is logged and discarded rather than propagated, so
// a corrupted store degrades to losing prior state instead of taking
// every handler down with it.
func (s *fileStore) loadLocked(name string) Mapping {
	path, err := s.pathFor(name)
	if err != nil {
		s.log.Error("invalid mapping name", logx.String("name", name), logx.Err(err))
		return Mapping{}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("mapping read failed", logx.String("name", name), logx.Err(err))
		}
		return Mapping{}
	}
	var m Mapping
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Error("mapping parse failed, starting empty", logx.String("name", name), logx.Err(err))
		return Mapping{}
	}
	if m == nil {
		m = Mapping{}
	}
	return m
}

func (s *fileStore) saveLocked(name string, m Mapping) error {
	path, err := s.pathFor(name)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) pathFor(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("bad mapping name %q", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}
