package credstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/authgate/client/internal/model"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLite is the durable Store, a single key-value table in an SQLite file
// under the user's config directory.
type SQLite struct {
	db *sql.DB
}

// Open creates (or opens) the credential database at path and brings its
// schema up to date.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create credentials directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open credentials database: %w", err)
	}
	// SQLite supports a single writer; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping credentials database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// runMigrations runs the embedded schema migrations using goose
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run credential store migrations: %w", err)
	}
	return nil
}

// Persist writes both tokens in one transaction so a crash can never leave
// the store holding half a pair.
func (s *SQLite) Persist(ctx context.Context, pair model.TokenPair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO credentials (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	for key, value := range map[string]string{
		keyAccessToken:  pair.AccessToken,
		keyRefreshToken: pair.RefreshToken,
	} {
		if _, err := tx.ExecContext(ctx, upsert, key, value); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

// Load returns the stored pair, or ok=false when either entry is absent.
func (s *SQLite) Load(ctx context.Context) (model.TokenPair, bool, error) {
	var pair model.TokenPair
	for key, dst := range map[string]*string{
		keyAccessToken:  &pair.AccessToken,
		keyRefreshToken: &pair.RefreshToken,
	} {
		err := s.db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key = ?`, key).Scan(dst)
		if errors.Is(err, sql.ErrNoRows) {
			return model.TokenPair{}, false, nil
		}
		if err != nil {
			return model.TokenPair{}, false, fmt.Errorf("load %s: %w", key, err)
		}
	}
	if pair.Empty() {
		return model.TokenPair{}, false, nil
	}
	return pair, true, nil
}

// Clear erases both entries.
func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key IN (?, ?)`, keyAccessToken, keyRefreshToken)
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
