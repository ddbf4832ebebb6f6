package storage

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"

	"github.com/XSAM/otelsql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3" // migration driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite stores index files as BLOBs in a SQLite database, the driver wrapped
// with otel instrumentation.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ Storage = (*SQLite)(nil)

// NewSQLite opens (creating and migrating if needed) a SQLite-backed store at
// path.
func NewSQLite(path string, attributes ...attribute.KeyValue) (*SQLite, error) {
	log := logger.With().
		Str("component", "sqlitestorage").
		Logger()

	db, err := otelsql.Open("sqlite3", path, otelsql.WithAttributes(attributes...))
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %s", err)
	}
	if err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(attributes...)); err != nil {
		return nil, fmt.Errorf("registering dbstats: %s", err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.executeMigration(path); err != nil {
		return nil, fmt.Errorf("initializing db connection: %s", err)
	}
	return s, nil
}

func (s *SQLite) executeMigration(dbURI string) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating source driver: %s", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, "sqlite3://"+dbURI)
	if err != nil {
		return fmt.Errorf("creating migration: %s", err)
	}
	defer func() {
		if _, err := m.Close(); err != nil {
			s.log.Error().Err(err).Msg("closing db migration")
		}
	}()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migration up: %s", err)
	}

	version, dirty, err := m.Version()
	s.log.Info().
		Uint("dbVersion", version).
		Bool("dirty", dirty).
		Err(err).
		Msg("database migration executed")

	return nil
}

// WriteBytes replaces the row stored under path.
func (s *SQLite) WriteBytes(ctx context.Context, path string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_files (path, data) VALUES (?1, ?2)
		 ON CONFLICT (path) DO UPDATE SET data = ?2, updated_at = strftime('%s','now')`,
		path, data)
	if err != nil {
		return fmt.Errorf("storing %s: %s", path, err)
	}
	return nil
}

// ReadStream opens the blob stored under path.
func (s *SQLite) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM index_files WHERE path = ?1", path).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %s", path, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether path is present.
func (s *SQLite) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM index_files WHERE path = ?1", path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %s", path, err)
	}
	return true, nil
}

// Length returns the size of the blob stored under path.
func (s *SQLite) Length(ctx context.Context, path string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT length(data) FROM index_files WHERE path = ?1", path).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %s", path, err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
