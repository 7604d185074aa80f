package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"roomchat/internal/config"
)

// Open connects to the driver selected in cfg and applies the schema when
// AutoMigrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Database, error) {
	var (
		db  Database
		err error
	)

	switch cfg.Driver {
	case "postgres":
		db, err = NewPostgresDB(ctx, cfg.URL, cfg.ConnectRetries, cfg.ConnectInterval)
	case "sqlite":
		db, err = NewSQLiteDB(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return db, nil
}

// retry calls fn until it succeeds, the attempts are used up or ctx ends.
func retry(ctx context.Context, attempts int, interval time.Duration, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return err
}

type schemaFile struct {
	name string
	sql  string
}

// schemaFiles reads every .sql file in dir sorted by name.
func schemaFiles(fsys fs.FS, dir string) ([]schemaFile, error) {
	matches, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	files := make([]schemaFile, 0, len(matches))
	for _, m := range matches {
		data, err := fs.ReadFile(fsys, m)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", m, err)
		}
		files = append(files, schemaFile{name: m, sql: string(data)})
	}
	return files, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
