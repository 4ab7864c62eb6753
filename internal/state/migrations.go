package state

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate brings the schema up to date and returns the resulting schema
// version. Migrations live embedded in the binary, one numbered SQL file
// per step.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) (int64, error) {
	sqlFiles, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("state: locating migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sqlFiles)
	if err != nil {
		return 0, fmt.Errorf("state: loading migrations: %w", err)
	}

	applied, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("state: migrating schema: %w", err)
	}

	for _, r := range applied {
		logger.Info("state: schema migrated",
			slog.Int64("version", r.Source.Version),
			slog.String("file", r.Source.Path),
			slog.Duration("took", r.Duration),
		)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("state: reading schema version: %w", err)
	}

	return version, nil
}
