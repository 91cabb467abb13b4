// Package cache define o armazenamento de respostas usado pelo middleware de cache.
package cache

import (
	"context"
	"time"
)

// Entry é um valor armazenado com o instante da gravação.
type Entry struct {
	Value    []byte
	StoredAt time.Time
}

// Store abstrai o backend do cache (memória ou Redis).
// O TTL é avaliado por quem lê, a partir de StoredAt; ttl em Set é apenas uma dica de expiração.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Sweep remove entradas gravadas antes de cutoff e devolve quantas saíram.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}
