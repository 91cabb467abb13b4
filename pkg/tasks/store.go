package tasks

import (
	"context"
	"sort"
	"sync"
)

// Store persiste tasks. Registros nunca são apagados.
// Update recebe uma cópia do registro; fn devolve true quando houve mudança
// e só então a cópia é gravada.
type Store interface {
	List(ctx context.Context, f Filter) ([]*Task, error)
	Append(ctx context.Context, t *Task) error
	Get(ctx context.Context, key Key) (*Task, error)
	Update(ctx context.Context, key Key, fn func(*Task) bool) (bool, error)
	// NonTerminal devolve um snapshot das tasks que ainda podem mudar.
	NonTerminal(ctx context.Context) ([]*Task, error)
}

// Lister é a parte de leitura de Store.
type Lister interface {
	List(ctx context.Context, f Filter) ([]*Task, error)
}

// FindByID devolve a submissão mais recente com o id, em qualquer instância.
func FindByID(ctx context.Context, l Lister, id string) (*Task, error) {
	list, err := l.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].ID == id {
			return list[i], nil
		}
	}
	return nil, ErrNotFound
}

// MemoryStore mantém a lista em memória sob um único mutex.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks []*Task
	index map[Key]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[Key]int)}
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if f.Match(t) {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

func (m *MemoryStore) Append(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(t)
}

func (m *MemoryStore) appendLocked(t *Task) error {
	if _, ok := m.index[t.Key()]; ok {
		return ErrDuplicate
	}
	m.index[t.Key()] = len(m.tasks)
	m.tasks = append(m.tasks, clone(t))
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key Key) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.tasks[i]), nil
}

func (m *MemoryStore) Update(_ context.Context, key Key, fn func(*Task) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(key, fn)
}

func (m *MemoryStore) updateLocked(key Key, fn func(*Task) bool) (bool, error) {
	i, ok := m.index[key]
	if !ok {
		return false, ErrNotFound
	}
	c := clone(m.tasks[i])
	if !fn(c) {
		return false, nil
	}
	// a chave não muda
	c.ID, c.TESURL = key.TaskID, key.TESURL
	m.tasks[i] = c
	return true, nil
}

func (m *MemoryStore) NonTerminal(_ context.Context) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Task
	for _, t := range m.tasks {
		if !t.IsTerminal() {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// sortBySubmission ordena pela data de submissão, mais antigas primeiro.
func sortBySubmission(ts []*Task) {
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].SubmittedAt.Before(ts[j].SubmittedAt) })
}
