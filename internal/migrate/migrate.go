// Package migrate manages the ClickHouse schema backing the clickhouse
// backend.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse" // ClickHouse driver.
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var migrations embed.FS

// Table is the only table the embedded migrations create.
const Table = "data_points"

// CheckTable rejects tables the embedded migrations do not manage.
func CheckTable(table string) error {
	if table != Table {
		return fmt.Errorf(
			"migrations only manage table %q, got %q; create it manually",
			Table, table,
		)
	}

	return nil
}

// Migrator manages ClickHouse schema migrations.
type Migrator interface {
	// Up applies all pending migrations.
	Up(ctx context.Context) error
	// Down rolls back the last migration.
	Down(ctx context.Context) error
	// Status returns the current migration version.
	Status(ctx context.Context) (version uint, dirty bool, err error)
}

type migrator struct {
	log logrus.FieldLogger
	dsn string
}

// New creates a new Migrator for the given ClickHouse connection string
// (e.g. "clickhouse://host:9000/database").
func New(log logrus.FieldLogger, dsn string) Migrator {
	return &migrator{
		log: log.WithField("component", "migrate"),
		dsn: dsn,
	}
}

func (m *migrator) Up(_ context.Context) error {
	return m.with(func(mig *migrate.Migrate) error {
		m.log.Info("Applying data point schema migrations")

		if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}

		version, _, _ := mig.Version()
		m.log.WithField("version", version).Info("Schema is up to date")

		return nil
	})
}

func (m *migrator) Down(_ context.Context) error {
	return m.with(func(mig *migrate.Migrate) error {
		m.log.Info("Rolling back last data point schema migration")

		if err := mig.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("rolling back migration: %w", err)
		}

		return nil
	})
}

func (m *migrator) Status(_ context.Context) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)

	err := m.with(func(mig *migrate.Migrate) error {
		var err error

		version, dirty, err = mig.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("getting migration version: %w", err)
		}

		return nil
	})

	return version, dirty, err
}

// with opens a migrate instance for the duration of fn.
func (m *migrator) with(fn func(*migrate.Migrate) error) error {
	source, err := iofs.New(migrations, "sql")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	mig, err := migrate.NewWithSourceInstance("iofs", source, withMultiStatement(m.dsn))
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	defer func() {
		if srcErr, dbErr := mig.Close(); srcErr != nil || dbErr != nil {
			m.log.WithFields(logrus.Fields{
				"source_error":   srcErr,
				"database_error": dbErr,
			}).Warn("Closing migrate instance failed")
		}
	}()

	return fn(mig)
}

// withMultiStatement enables ClickHouse multi-statement migrations.
func withMultiStatement(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	return dsn + sep + "x-multi-statement=true"
}
