package cache

import (
	"encoding/base32"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File persists each key as one file under dir. Keys are base32-encoded
// so arbitrary key strings stay filesystem-safe. An optional quota caps
// the total bytes on disk across all keys.
type File struct {
	mu    sync.Mutex
	dir   string
	quota int64
}

func NewFile(dir string, quota int64) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &File{dir: dir, quota: quota}, nil
}

func (f *File) path(key string) string {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(key))
	return filepath.Join(f.dir, enc+".cache")
}

func (f *File) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (f *File) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quota > 0 {
		used, err := f.usedExcept(f.path(key))
		if err != nil {
			return err
		}
		if used+int64(len(value)) > f.quota {
			return ErrQuotaExceeded
		}
	}
	tmp := f.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp, f.path(key)); err != nil {
		return fmt.Errorf("commit cache file: %w", err)
	}
	return nil
}

func (f *File) Delete(key string) {
	f.mu.Lock()
	_ = os.Remove(f.path(key))
	f.mu.Unlock()
}

func (f *File) usedExcept(skip string) (int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	var used int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cache") {
			continue
		}
		p := filepath.Join(f.dir, e.Name())
		if p == skip {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		used += info.Size()
	}
	return used, nil
}
