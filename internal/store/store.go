package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store is the SQLite database shared by the event log and the sqlite
// geocode cache
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at path, enables WAL and applies
// pending migrations. ":memory:" gives a private in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Opened SQLite store", zap.String("path", path))
	return s, nil
}

// DB exposes the underlying handle to adapters that share the database
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	current, err := s.version()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("failed to apply migration v%d: %w", m.version, err)
		}
		s.logger.Debug("Applied migration", zap.Int("version", m.version))
	}
	return nil
}

func (s *Store) version() (int, error) {
	var tables int
	err := s.db.Get(&tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}

	var version int
	if err := s.db.Get(&version, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
