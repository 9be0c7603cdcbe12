package kv

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite backs the Store with an embedded database for single-binary
// deployments. The hash-field increment uses an upsert so it stays atomic
// at the statement level, matching what the ledger expects from HINCRBY.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_hash (
	key    TEXT NOT NULL,
	field  TEXT NOT NULL,
	value  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (key, field)
);
CREATE TABLE IF NOT EXISTS kv_set (
	key    TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (key, member)
);
CREATE TABLE IF NOT EXISTS kv_list (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	key   TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_list_key ON kv_list(key, id);
CREATE TABLE IF NOT EXISTS kv_string (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER
);
`

func OpenSQLite(path string, maxOpen, maxIdle int, maxLifetime time.Duration) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM kv_hash WHERE key=?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, err
		}
		out[f] = v
	}
	return out, rows.Err()
}

func (s *SQLite) HSet(ctx context.Context, key string, fields map[string]string) error {
	for f, v := range fields {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO kv_hash(key,field,value) VALUES(?,?,?)
			 ON CONFLICT(key,field) DO UPDATE SET value=excluded.value`,
			key, f, v,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) HGet(ctx context.Context, key, field string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_hash WHERE key=? AND field=?`, key, field).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

func (s *SQLite) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var out int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO kv_hash(key,field,value) VALUES(?,?,?)
		 ON CONFLICT(key,field) DO UPDATE
		 SET value = CAST(CAST(kv_hash.value AS INTEGER) + ? AS TEXT)
		 RETURNING CAST(value AS INTEGER)`,
		key, field, strconv.FormatInt(delta, 10), delta,
	).Scan(&out)
	return out, err
}

func (s *SQLite) SAdd(ctx context.Context, key string, members ...string) error {
	for _, m := range members {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO kv_set(key,member) VALUES(?,?) ON CONFLICT(key,member) DO NOTHING`,
			key, m,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) SRem(ctx context.Context, key string, members ...string) error {
	for _, m := range members {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_set WHERE key=? AND member=?`, key, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) SMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM kv_set WHERE key=?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) SIsMember(ctx context.Context, key, member string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM kv_set WHERE key=? AND member=?`, key, member).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLite) LPush(ctx context.Context, key string, values ...string) error {
	for _, v := range values {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO kv_list(key,value) VALUES(?,?)`, key, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	n, err := s.LLen(ctx, key)
	if err != nil {
		return nil, err
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = n + start
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM kv_list WHERE key=? ORDER BY id DESC LIMIT ? OFFSET ?`,
		key, stop-start+1, start,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) LLen(ctx context.Context, key string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM kv_list WHERE key=?`, key).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var v string
	var exp sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_string WHERE key=?`, key).Scan(&v, &exp)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if exp.Valid && time.Now().UnixMilli() > exp.Int64 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_string WHERE key=?`, key)
		return "", nil
	}
	return v, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var exp any
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_string(key,value,expires_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
		key, value, exp,
	)
	return err
}

func (s *SQLite) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		for _, q := range []string{
			`DELETE FROM kv_hash WHERE key=?`,
			`DELETE FROM kv_set WHERE key=?`,
			`DELETE FROM kv_list WHERE key=?`,
			`DELETE FROM kv_string WHERE key=?`,
		} {
			if _, err := s.db.ExecContext(ctx, q, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 WHERE EXISTS (SELECT 1 FROM kv_hash WHERE key=?)
		 OR EXISTS (SELECT 1 FROM kv_set WHERE key=?)
		 OR EXISTS (SELECT 1 FROM kv_list WHERE key=?)
		 OR EXISTS (SELECT 1 FROM kv_string WHERE key=?)`,
		key, key, key, key,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLite) Close() error                   { return s.db.Close() }
