// Package runs registra execuções de workflows e de lotes disparadas pelo
// dashboard. Os registros só são acrescentados, nunca alterados.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Collection é uma lista append-only de registros.
type Collection[T any] interface {
	All(ctx context.Context) ([]T, error)
	Append(ctx context.Context, item T) error
}

// MemoryCollection guarda os registros em memória.
type MemoryCollection[T any] struct {
	mu    sync.RWMutex
	items []T
}

func NewMemoryCollection[T any]() *MemoryCollection[T] {
	return &MemoryCollection[T]{}
}

func (m *MemoryCollection[T]) All(context.Context) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]T(nil), m.items...), nil
}

func (m *MemoryCollection[T]) Append(_ context.Context, item T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item)
	return nil
}

// FileCollection persiste a lista inteira em JSON a cada Append.
type FileCollection[T any] struct {
	MemoryCollection[T]
	path string
}

// OpenFileCollection carrega path se existir. Arquivo vazio vale lista vazia.
func OpenFileCollection[T any](path string) (*FileCollection[T], error) {
	fc := &FileCollection[T]{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return fc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("falha ao ler %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &fc.items); err != nil {
		return nil, fmt.Errorf("arquivo de runs inválido %s: %w", path, err)
	}
	return fc, nil
}

func (f *FileCollection[T]) Append(_ context.Context, item T) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := append(append([]T(nil), f.items...), item)
	if err := writeJSON(f.path, next); err != nil {
		return fmt.Errorf("falha ao gravar %s: %w", f.path, err)
	}
	f.items = next
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
