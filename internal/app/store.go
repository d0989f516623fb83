package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hitoshi/confessional/internal/config"
	"github.com/hitoshi/confessional/internal/database"
	"github.com/hitoshi/confessional/internal/repository"
)

// openStore はSTORE_DRIVERに応じた投稿リポジトリを開く。
// 戻り値のcloseはサーバー停止時に呼び出す。
func openStore(cfg *config.Config) (repo repository.ConfessionRepository, closeFn func() error, err error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if cfg.AutoMigrate {
			if err := database.RunMigrations(database.DriverPostgres, cfg.DatabaseURL); err != nil {
				return nil, nil, fmt.Errorf("failed to migrate postgres: %w", err)
			}
		}

		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		slog.Info("database connection established",
			slog.String("driver", cfg.StoreDriver),
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return repository.NewPostgresConfessionRepo(db), db.Close, nil

	case config.StoreDriverSQLite:
		// OpenSQLiteが親ディレクトリを作成するため、マイグレーションより先に開く
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := database.RunMigrations(database.DriverSQLite, cfg.SQLitePath); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("failed to migrate sqlite: %w", err)
			}
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}

		slog.Info("database connection established",
			slog.String("driver", cfg.StoreDriver),
			slog.String("path", cfg.SQLitePath),
		)
		return repository.NewSQLiteConfessionRepo(db), db.Close, nil

	case config.StoreDriverFile:
		repo, err := repository.OpenFileConfessionRepo(cfg.DataFile)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("file store opened", slog.String("path", cfg.DataFile))
		return repo, func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.StoreDriver)
	}
}

// migrateStore はストアのスキーマを最新にする。
// fileドライバーはスキーマを持たないため何もしない。
func migrateStore(cfg *config.Config) error {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		slog.Info("running database migrations",
			slog.String("driver", cfg.StoreDriver),
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return database.RunMigrations(database.DriverPostgres, cfg.DatabaseURL)

	case config.StoreDriverSQLite:
		slog.Info("running database migrations",
			slog.String("driver", cfg.StoreDriver),
			slog.String("path", cfg.SQLitePath),
		)
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		return database.RunMigrations(database.DriverSQLite, cfg.SQLitePath)

	case config.StoreDriverFile:
		slog.Info("file store has no schema, skipping migrations")
		return nil

	default:
		return fmt.Errorf("unsupported store driver: %q", cfg.StoreDriver)
	}
}
