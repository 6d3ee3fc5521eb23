package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS issued_licenses (
	key            TEXT PRIMARY KEY,
	customer_name  TEXT NOT NULL,
	customer_email TEXT NOT NULL,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issued_email ON issued_licenses(customer_email);

CREATE TABLE IF NOT EXISTS activations (
	key          TEXT PRIMARY KEY,
	email        TEXT NOT NULL,
	device       TEXT NOT NULL,
	activated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS download_tokens (
	token      TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	os         TEXT NOT NULL DEFAULT '',
	version    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	used       INTEGER NOT NULL DEFAULT 0,
	used_at    TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore persists service state in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. WAL mode keeps concurrent handler reads from blocking writes.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) PutIssued(ctx context.Context, lic IssuedLicense) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issued_licenses (key, customer_name, customer_email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			customer_name = excluded.customer_name,
			customer_email = excluded.customer_email`,
		lic.Key, lic.CustomerName, lic.CustomerEmail, lic.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store issued license: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIssued(ctx context.Context, key string) (IssuedLicense, error) {
	var lic IssuedLicense
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT key, customer_name, customer_email, created_at
		FROM issued_licenses WHERE key = ?`, key).
		Scan(&lic.Key, &lic.CustomerName, &lic.CustomerEmail, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return IssuedLicense{}, ErrNotFound
	}
	if err != nil {
		return IssuedLicense{}, fmt.Errorf("load issued license: %w", err)
	}
	lic.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return lic, nil
}

func (s *SQLiteStore) PutActivation(ctx context.Context, act Activation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activations (key, email, device, activated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			email = excluded.email,
			device = excluded.device,
			activated_at = excluded.activated_at`,
		act.Key, act.Email, act.Device, act.ActivatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store activation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetActivation(ctx context.Context, key string) (Activation, error) {
	var act Activation
	var activatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT key, email, device, activated_at
		FROM activations WHERE key = ?`, key).
		Scan(&act.Key, &act.Email, &act.Device, &activatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Activation{}, ErrNotFound
	}
	if err != nil {
		return Activation{}, fmt.Errorf("load activation: %w", err)
	}
	act.ActivatedAt, _ = time.Parse(time.RFC3339, activatedAt)
	return act, nil
}

func (s *SQLiteStore) CreateToken(ctx context.Context, tok DownloadToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_tokens (token, name, email, os, version, created_at, used, used_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, '')`,
		tok.Token, tok.Name, tok.Email, tok.OS, tok.Version, tok.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store download token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetToken(ctx context.Context, token string) (DownloadToken, error) {
	var tok DownloadToken
	var createdAt, usedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT token, name, email, os, version, created_at, used, used_at
		FROM download_tokens WHERE token = ?`, token).
		Scan(&tok.Token, &tok.Name, &tok.Email, &tok.OS, &tok.Version, &createdAt, &tok.Used, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DownloadToken{}, ErrNotFound
	}
	if err != nil {
		return DownloadToken{}, fmt.Errorf("load download token: %w", err)
	}
	tok.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if usedAt != "" {
		tok.UsedAt, _ = time.Parse(time.RFC3339, usedAt)
	}
	return tok, nil
}

// ConsumeToken flips the used flag in a single conditional UPDATE so two
// concurrent redemptions of the same token cannot both succeed.
func (s *SQLiteStore) ConsumeToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE download_tokens SET used = 1, used_at = ?
		WHERE token = ? AND used = 0`,
		time.Now().UTC().Format(time.RFC3339), token)
	if err != nil {
		return fmt.Errorf("consume download token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume download token: %w", err)
	}
	if n == 1 {
		return nil
	}

	var used bool
	err = s.db.QueryRowContext(ctx,
		`SELECT used FROM download_tokens WHERE token = ?`, token).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("consume download token: %w", err)
	}
	if used {
		return ErrTokenUsed
	}
	return ErrNotFound
}

func (s *SQLiteStore) PurgeTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	// Used tokens age out like unused ones so replays keep answering
	// token_used for the full token lifetime.
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM download_tokens WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purge download tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
