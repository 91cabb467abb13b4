package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS tes_tasks (
	task_id      TEXT        NOT NULL,
	tes_url      TEXT        NOT NULL,
	state        TEXT        NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	doc          JSONB       NOT NULL,
	PRIMARY KEY (task_id, tes_url)
)`

// PostgresStore guarda cada task como documento JSONB.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore conecta via lib/pq e garante o schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("erro ao abrir conexão SQL: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("erro ao criar tabela de tasks: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]*Task, error) {
	return p.query(ctx,
		`SELECT doc FROM tes_tasks
		 WHERE ($1 = '' OR state = $1) AND ($2 = '' OR tes_url = $2)
		 ORDER BY submitted_at`, f.State, f.TESURL)
}

func (p *PostgresStore) Append(ctx context.Context, t *Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO tes_tasks (task_id, tes_url, state, submitted_at, doc) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.TESURL, t.State, t.SubmittedAt, doc)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, key Key) (*Task, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM tes_tasks WHERE task_id = $1 AND tes_url = $2`, key.TaskID, key.TESURL).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTask(doc)
}

// Update trava a linha com SELECT ... FOR UPDATE durante o merge.
func (p *PostgresStore) Update(ctx context.Context, key Key, fn func(*Task) bool) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM tes_tasks WHERE task_id = $1 AND tes_url = $2 FOR UPDATE`, key.TaskID, key.TESURL).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	t, err := decodeTask(doc)
	if err != nil {
		return false, err
	}
	if !fn(t) {
		return false, nil
	}
	t.ID, t.TESURL = key.TaskID, key.TESURL

	updated, err := json.Marshal(t)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tes_tasks SET state = $3, doc = $4 WHERE task_id = $1 AND tes_url = $2`,
		key.TaskID, key.TESURL, t.State, updated); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (p *PostgresStore) NonTerminal(ctx context.Context) ([]*Task, error) {
	return p.query(ctx,
		`SELECT doc FROM tes_tasks WHERE state <> ALL($1) ORDER BY submitted_at`, pq.Array(TerminalStates()))
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...interface{}) ([]*Task, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("erro na query SQL: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		t, err := decodeTask(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func decodeTask(doc []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("documento de task inválido: %w", err)
	}
	return &t, nil
}
