package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

const defaultRelPath = ".config/pcloudfs/settings.json"

// File is a Store backed by a single JSON document. Every Put and Delete
// rewrites the whole document under a mutex.
type File struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewFile returns a file-backed store at path on fs. An empty path resolves
// to a default location under the user home directory.
func NewFile(fs afero.Fs, path string) (*File, error) {
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, defaultRelPath)
	}
	return &File{fs: fs, path: path}, nil
}

func (s *File) load() (map[string]string, error) {
	raw, err := afero.ReadFile(s.fs, s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *File) save(m map[string]string) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.path, raw, 0o600)
}

func (s *File) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (s *File) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = value
	return s.save(m)
}

func (s *File) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	delete(m, key)
	return s.save(m)
}
