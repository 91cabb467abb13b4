package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tes_tasks (
	task_id      TEXT     NOT NULL,
	tes_url      TEXT     NOT NULL,
	state        TEXT     NOT NULL,
	submitted_at DATETIME NOT NULL,
	doc          TEXT     NOT NULL,
	PRIMARY KEY (task_id, tes_url)
);`

// SQLiteStore é o store para instalações de um único nó.
type SQLiteStore struct {
	// sqlite não tem SELECT ... FOR UPDATE; o merge é serializado aqui
	mu sync.Mutex
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// uma conexão: ":memory:" é por conexão
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("erro ao criar tabela de tasks: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*Task, error) {
	return s.query(ctx,
		`SELECT doc FROM tes_tasks WHERE (? = '' OR state = ?) AND (? = '' OR tes_url = ?) ORDER BY submitted_at`,
		f.State, f.State, f.TESURL, f.TESURL)
}

func (s *SQLiteStore) Append(ctx context.Context, t *Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tes_tasks (task_id, tes_url, state, submitted_at, doc) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.TESURL, t.State, t.SubmittedAt.UTC(), string(doc))
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
		return ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Task, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM tes_tasks WHERE task_id = ? AND tes_url = ?`, key.TaskID, key.TESURL).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTask([]byte(doc))
}

func (s *SQLiteStore) Update(ctx context.Context, key Key, fn func(*Task) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !fn(t) {
		return false, nil
	}
	t.ID, t.TESURL = key.TaskID, key.TESURL

	doc, err := json.Marshal(t)
	if err != nil {
		return false, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tes_tasks SET state = ?, doc = ? WHERE task_id = ? AND tes_url = ?`,
		t.State, string(doc), key.TaskID, key.TESURL); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) NonTerminal(ctx context.Context) ([]*Task, error) {
	terminal := TerminalStates()
	args := make([]interface{}, len(terminal))
	for i, st := range terminal {
		args[i] = st
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(terminal)), ",")
	return s.query(ctx,
		`SELECT doc FROM tes_tasks WHERE state NOT IN (`+placeholders+`) ORDER BY submitted_at`, args...)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...interface{}) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("erro na query SQL: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		t, err := decodeTask([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
