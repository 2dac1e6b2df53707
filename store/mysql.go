package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the production multi-writer backend, backed by a single
// key-value table.
type MySQLStore struct {
	db *sql.DB
}

// OpenMySQLStore opens dsn (go-sql-driver DSN format, e.g.
// "user:pass@tcp(127.0.0.1:3306)/studio?parseTime=true") and ensures the kv
// table exists.
func OpenMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		kkey  VARCHAR(767) NOT NULL PRIMARY KEY,
		value LONGBLOB NOT NULL
	) ENGINE=InnoDB`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create kv table: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE kkey = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", key, err)
	}
	return v, nil
}

func (s *MySQLStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (kkey, value) VALUES (?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value)`,
		key, value)
	if err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	return nil
}

func (s *MySQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE kkey = ?`, key)
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

func (s *MySQLStore) List(ctx context.Context, prefix, cursor string, limit int) ([]KV, string, error) {
	q := `SELECT kkey, value FROM kv WHERE kkey >= ? AND kkey < ? AND kkey > ? ORDER BY kkey ASC`
	args := []any{prefix, prefixUpperBound(prefix), cursor}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit+1)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("store: list %q: %w", prefix, err)
	}
	defer rows.Close()

	var items []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, "", fmt.Errorf("store: scan: %w", err)
		}
		items = append(items, kv)
	}
	next := ""
	if limit > 0 && len(items) > limit {
		next = items[limit-1].Key
		items = items[:limit]
	}
	return items, next, nil
}

// CompareAndSet uses a row lock (SELECT ... FOR UPDATE) inside a
// transaction rather than MySQL's own optimistic-concurrency primitives.
func (s *MySQLStore) CompareAndSet(ctx context.Context, key string, oldValue, newValue []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE kkey = ? FOR UPDATE`, key).Scan(&current)
	exists := !errors.Is(err, sql.ErrNoRows)
	if err != nil && exists {
		return fmt.Errorf("store: cas read %q: %w", key, err)
	}

	if oldValue == nil {
		if exists {
			return ErrConflict
		}
	} else if !exists || string(current) != string(oldValue) {
		return ErrConflict
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (kkey, value) VALUES (?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value)`,
		key, newValue); err != nil {
		return fmt.Errorf("store: cas write %q: %w", key, err)
	}
	return tx.Commit()
}
