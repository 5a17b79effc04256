package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout keeps a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		pipeline TEXT NOT NULL,
		status TEXT NOT NULL,
		auxiliary TEXT NOT NULL,
		created TEXT NOT NULL,
		modified TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS runs_pipeline ON runs(pipeline);

	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT REFERENCES runs(id) ON DELETE CASCADE,
		parent_id INTEGER,
		status TEXT NOT NULL,
		position TEXT NOT NULL,
		payload TEXT NOT NULL,
		auxiliary TEXT NOT NULL,
		data_type TEXT NOT NULL DEFAULT '',
		deleted INTEGER NOT NULL DEFAULT 0,
		created TEXT NOT NULL,
		modified TEXT NOT NULL,
		FOREIGN KEY (parent_id) REFERENCES items(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS items_run ON items(run_id);
	CREATE INDEX IF NOT EXISTS items_parent ON items(parent_id);`

const itemColumns = `id, run_id, parent_id, status, position, payload, auxiliary, data_type, deleted, created, modified`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ports.Store on a SQLite database.
//
// The pool is limited to a single connection, so writers are serialized and
// in-memory databases stay shared. Atomic opens a transaction; nested units
// become savepoints that roll back on their own.
type Store struct {
	db    *sql.DB
	q     querier
	tx    *sql.Tx
	depth int
}

// Open opens or creates a SQLite database at the given path and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, q: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Atomic implements ports.Store.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	if s.tx != nil {
		return s.savepoint(ctx, fn)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	unit := &Store{db: s.db, q: tx, tx: tx}
	if err := fn(ctx, unit); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) savepoint(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	name := fmt.Sprintf("unit_%d", s.depth+1)
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	unit := &Store{db: s.db, q: s.tx, tx: s.tx, depth: s.depth + 1}
	if err := fn(ctx, unit); err != nil {
		_, _ = s.tx.ExecContext(ctx, "ROLLBACK TO "+name)
		_, _ = s.tx.ExecContext(ctx, "RELEASE "+name)
		return err
	}
	if _, err := s.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// SaveRun upserts a run row.
func (s *Store) SaveRun(ctx context.Context, run *domain.Run) error {
	aux, err := encode(run.Auxiliary)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, status, auxiliary, created, modified)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			pipeline = excluded.pipeline,
			status = excluded.status,
			auxiliary = excluded.auxiliary,
			modified = excluded.modified`,
		run.ID,
		run.PipelineName,
		string(run.Status),
		aux,
		run.Created.UTC().Format(timeLayout),
		run.Modified.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// LoadRun returns a single run by id.
func (s *Store) LoadRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT id, pipeline, status, auxiliary, created, modified FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns matching runs ordered by creation time.
func (s *Store) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.Pipeline != "" {
		where = append(where, "pipeline = ?")
		args = append(args, filter.Pipeline)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		where, args = in(where, args, "status", statuses)
	}

	query := "SELECT id, pipeline, status, auxiliary, created, modified FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created ASC, id ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []*domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes the run. Its items follow through the run foreign key,
// and their descendants through the parent foreign key.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// SaveItem upserts an item row, assigning an id on first insert.
func (s *Store) SaveItem(ctx context.Context, item *domain.Item) error {
	position, err := encode(item.Position)
	if err != nil {
		return err
	}
	payload, err := encode(item.Payload)
	if err != nil {
		return err
	}
	aux, err := encode(item.Auxiliary)
	if err != nil {
		return err
	}

	var run, parent any
	if item.RunID != "" {
		run = item.RunID
	}
	if item.ParentID != nil {
		parent = *item.ParentID
	}
	args := []any{
		run,
		parent,
		string(item.Status),
		position,
		payload,
		aux,
		item.DataType,
		item.Deleted,
		item.Created.UTC().Format(timeLayout),
		item.Modified.UTC().Format(timeLayout),
	}

	if item.ID == 0 {
		res, err := s.q.ExecContext(ctx,
			`INSERT INTO items (run_id, parent_id, status, position, payload, auxiliary, data_type, deleted, created, modified)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("item id: %w", err)
		}
		item.ID = id
		return nil
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO items (id, run_id, parent_id, status, position, payload, auxiliary, data_type, deleted, created, modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			parent_id = excluded.parent_id,
			status = excluded.status,
			position = excluded.position,
			payload = excluded.payload,
			auxiliary = excluded.auxiliary,
			data_type = excluded.data_type,
			deleted = excluded.deleted,
			modified = excluded.modified`,
		append([]any{item.ID}, args...)...)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// LoadItem returns a single item by id, soft deleted or not.
func (s *Store) LoadItem(ctx context.Context, id int64) (*domain.Item, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	return item, err
}

// ListItems returns matching items ordered by id.
func (s *Store) ListItems(ctx context.Context, filter ports.ItemFilter) ([]*domain.Item, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.TopLevel {
		where = append(where, "parent_id IS NULL")
	}
	if filter.ParentID != nil {
		where = append(where, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}
	if filter.DataType != "" {
		where = append(where, "data_type = ?")
		args = append(args, filter.DataType)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		where, args = in(where, args, "status", statuses)
	}

	query := "SELECT " + itemColumns + " FROM items"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := []*domain.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteItem flags the item as deleted, or removes it with its descendants.
func (s *Store) DeleteItem(ctx context.Context, id int64, hard bool) error {
	var (
		res sql.Result
		err error
	)
	if hard {
		res, err = s.q.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
	} else {
		res, err = s.q.ExecContext(ctx, "UPDATE items SET deleted = 1 WHERE id = ?", id)
	}
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if n == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var (
		run               domain.Run
		status, aux       string
		created, modified string
	)
	if err := row.Scan(&run.ID, &run.PipelineName, &status, &aux, &created, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	run.Status = domain.RunStatus(status)
	if err := decode(aux, &run.Auxiliary); err != nil {
		return nil, err
	}
	if run.Auxiliary == nil {
		run.Auxiliary = make(map[string]any)
	}
	var err error
	if run.Created, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created: %w", err)
	}
	if run.Modified, err = time.Parse(timeLayout, modified); err != nil {
		return nil, fmt.Errorf("parse modified: %w", err)
	}
	return &run, nil
}

func scanItem(row scanner) (*domain.Item, error) {
	var (
		item              domain.Item
		run               sql.NullString
		parent            sql.NullInt64
		status, position  string
		payload, aux      string
		created, modified string
	)
	if err := row.Scan(&item.ID, &run, &parent, &status, &position, &payload, &aux,
		&item.DataType, &item.Deleted, &created, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan item row: %w", err)
	}
	item.RunID = run.String
	if parent.Valid {
		id := parent.Int64
		item.ParentID = &id
	}
	item.Status = domain.ItemStatus(status)
	if err := decode(position, &item.Position); err != nil {
		return nil, err
	}
	if err := decode(payload, &item.Payload); err != nil {
		return nil, err
	}
	if err := decode(aux, &item.Auxiliary); err != nil {
		return nil, err
	}
	if item.Payload == nil {
		item.Payload = make(map[string]any)
	}
	if item.Auxiliary == nil {
		item.Auxiliary = make(map[string]any)
	}
	var err error
	if item.Created, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created: %w", err)
	}
	if item.Modified, err = time.Parse(timeLayout, modified); err != nil {
		return nil, fmt.Errorf("parse modified: %w", err)
	}
	return &item, nil
}

func in(where []string, args []any, column string, values []string) ([]string, []any) {
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		args = append(args, v)
	}
	return append(where, column+" IN ("+strings.Join(marks, ", ")+")"), args
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode column: %w", err)
	}
	return string(data), nil
}

func decode(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode column: %w", err)
	}
	return nil
}
