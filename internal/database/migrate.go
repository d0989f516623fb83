// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Driver はマイグレーション対象のデータベース種別を表す。
type Driver string

const (
	// DriverPostgres はPostgreSQLを表す。
	DriverPostgres Driver = "postgres"
	// DriverSQLite はSQLiteを表す。
	DriverSQLite Driver = "sqlite"
)

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// targetにはPostgreSQLの場合は接続URL、SQLiteの場合はデータベースファイルのパスを指定する。
func NewMigrator(driver Driver, target string) (*migrate.Migrate, error) {
	var (
		dir         string
		databaseURL string
	)
	switch driver {
	case DriverPostgres:
		dir = "migrations/postgres"
		databaseURL = target
	case DriverSQLite:
		dir = "migrations/sqlite"
		databaseURL = "sqlite3://" + target
	default:
		return nil, fmt.Errorf("unsupported migration driver: %q", driver)
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration directory: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(driver Driver, target string) error {
	m, err := NewMigrator(driver, target)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
