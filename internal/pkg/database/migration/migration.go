// Package migration brings the relay schema up to date. The schema ships
// embedded in the binary; a folder on disk can replace it.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const pgDriverName = "postgres"

//go:embed sql/*.sql
var embedded embed.FS

// Source opens the migration files: the embedded set when folderPath is
// empty, otherwise the files under folderPath.
func Source(folderPath string) (source.Driver, string, error) {
	if folderPath == "" {
		d, err := iofs.New(embedded, "sql")
		if err != nil {
			return nil, "", fmt.Errorf("open embedded migrations: %w", err)
		}
		return d, "iofs", nil
	}
	d, err := (&file.File{}).Open("file://" + folderPath)
	if err != nil {
		return nil, "", fmt.Errorf("open migrations in %s: %w", folderPath, err)
	}
	return d, "file", nil
}

// Migrate applies every pending migration. An up-to-date schema is not an
// error.
func Migrate(dsn, folderPath string) error {
	src, srcName, err := Source(folderPath)
	if err != nil {
		return err
	}

	db, err := sql.Open(pgDriverName, dsn)
	if err != nil {
		_ = src.Close()
		return err
	}
	defer db.Close()
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = src.Close()
		return err
	}
	m, err := migrate.NewWithInstance(srcName, src, pgDriverName, driver)
	if err != nil {
		_ = src.Close()
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	zap.L().Info("database schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty), zap.String("source", srcName))
	return nil
}
