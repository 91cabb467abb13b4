package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore é um MemoryStore persistido como lista JSON. Cada escrita regrava
// o arquivo via arquivo temporário + rename.
type FileStore struct {
	*MemoryStore
	path string
}

// OpenFileStore carrega path se existir.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{MemoryStore: NewMemoryStore(), path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("falha ao ler %s: %w", path, err)
	}
	if len(data) == 0 {
		return fs, nil
	}

	var list []*Task
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("arquivo de tasks inválido %s: %w", path, err)
	}
	for _, t := range list {
		// registros duplicados no arquivo: o primeiro vence
		if err := fs.MemoryStore.appendLocked(t); err != nil && !errors.Is(err, ErrDuplicate) {
			return nil, err
		}
	}
	return fs, nil
}

func (f *FileStore) Append(_ context.Context, t *Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.appendLocked(t); err != nil {
		return err
	}
	return f.flushLocked()
}

func (f *FileStore) Update(_ context.Context, key Key, fn func(*Task) bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed, err := f.updateLocked(key, fn)
	if err != nil || !changed {
		return changed, err
	}
	return true, f.flushLocked()
}

func (f *FileStore) flushLocked() error {
	return writeJSONAtomic(f.path, f.tasks)
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
