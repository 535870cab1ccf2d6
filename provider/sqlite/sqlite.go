// Package sqlite is a persistent provider backed by a single SQLite file.
// It survives process restarts, which makes it the closest analogue to
// browser persistent storage.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	pr "github.com/unkn0wn-root/shopsync/provider"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

type Provider struct {
	db       *sql.DB
	capacity int64
	now      func() time.Time
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Scanner  = (*Provider)(nil)
)

type Config struct {
	Path          string
	CapacityBytes int64            // 0 = unlimited
	Now           func() time.Time // nil => time.Now
}

// Open opens (creating if needed) the store at cfg.Path.
func Open(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite provider: path is required")
	}
	dsn := filepath.Clean(cfg.Path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps capacity accounting consistent
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{db: db, capacity: cfg.CapacityBytes, now: now}, nil
}

func (p *Provider) nowMillis() int64 { return p.now().UTC().UnixMilli() }

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		v   []byte
		exp int64
	)
	err := p.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&v, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get: %w", err)
	}
	if exp != 0 && exp <= p.nowMillis() {
		_, _ = p.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ? AND expires_at = ?`, key, exp)
		return nil, false, nil
	}
	return v, true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp int64
	if ttl > 0 {
		exp = p.now().Add(ttl).UTC().UnixMilli()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if p.capacity > 0 {
		var used int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(length(key) + length(value)), 0) FROM kv WHERE key <> ?`, key).Scan(&used)
		if err != nil {
			return false, fmt.Errorf("sqlite usage: %w", err)
		}
		if used+int64(len(key)+len(value)) > p.capacity {
			return false, nil
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, exp)
	if err != nil {
		return false, fmt.Errorf("sqlite set: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite commit: %w", err)
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite del: %w", err)
	}
	return nil
}

// Keys lists unexpired keys with the given prefix.
func (p *Provider) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, ?) = ? AND (expires_at = 0 OR expires_at > ?) ORDER BY key`,
		utf8.RuneCountInString(prefix), prefix, p.nowMillis())
	if err != nil {
		return nil, fmt.Errorf("sqlite keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite keys scan: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (p *Provider) Close(_ context.Context) error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
