package database

import (
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3" // migration for sqlite3
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tradesubmit/pkg/database/db"
	"github.com/textileio/go-tradesubmit/pkg/database/migrations"
	"github.com/textileio/go-tradesubmit/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// SQLiteDB represents a SQLite database.
type SQLiteDB struct {
	URI     string
	DB      *sql.DB
	Queries *db.Queries
	Log     zerolog.Logger
}

// Open opens a new SQLite database and brings its schema up to date.
func Open(path string, attributes ...attribute.KeyValue) (*SQLiteDB, error) {
	log := logger.With().
		Str("component", "db").
		Logger()

	attributes = append(attributes, metrics.BaseAttrs...)
	sqlDB, err := otelsql.Open("sqlite3", path, otelsql.WithAttributes(attributes...))
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %s", err)
	}

	if err := otelsql.RegisterDBStatsMetrics(sqlDB, otelsql.WithAttributes(
		attributes...,
	)); err != nil {
		return nil, fmt.Errorf("registering dbstats: %s", err)
	}

	database := &SQLiteDB{
		URI:     path,
		DB:      sqlDB,
		Queries: db.New(sqlDB),
		Log:     log,
	}

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("creating migrations source: %s", err)
	}
	if err := database.executeMigration(path, d); err != nil {
		return nil, fmt.Errorf("initializing db connection: %s", err)
	}

	return database, nil
}

// Close closes the database.
func (db *SQLiteDB) Close() error {
	return db.DB.Close()
}

// executeMigration runs the db migrations.
func (db *SQLiteDB) executeMigration(dbURI string, d source.Driver) error {
	m, err := migrate.NewWithSourceInstance("iofs", d, "sqlite3://"+dbURI)
	if err != nil {
		return fmt.Errorf("creating migration: %s", err)
	}
	defer func() {
		if _, err := m.Close(); err != nil {
			db.Log.Error().Err(err).Msg("closing db migration")
		}
	}()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migration up: %s", err)
	}

	version, dirty, err := m.Version()
	db.Log.Info().
		Uint("dbVersion", version).
		Bool("dirty", dirty).
		Err(err).
		Msg("database migration executed")

	return nil
}
