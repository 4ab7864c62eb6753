// Package state persists what treesync installed: the last applied snapshot
// of every root and a history of install runs. It is a single SQLite file.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/treesync/internal/files"
)

// Sentinel errors.
var (
	ErrNoSnapshot = errors.New("state: no snapshot recorded for root")
	ErrNoInstall  = errors.New("state: no install recorded for root")
)

// Install statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Entry kinds as stored in snapshot_entries.kind.
const (
	kindFolder  = "folder"
	kindFile    = "file"
	kindSymlink = "symlink"
)

const (
	sqlDeleteSnapshot = `DELETE FROM snapshots WHERE root = ?`

	sqlInsertSnapshot = `INSERT INTO snapshots (root, saved_at) VALUES (?, ?)`

	sqlInsertEntry = `INSERT INTO snapshot_entries
		(root, path, kind, hash, size, executable, target)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlSnapshotTime = `SELECT saved_at FROM snapshots WHERE root = ?`

	sqlLoadEntries = `SELECT path, kind, hash, size, executable, target
		FROM snapshot_entries WHERE root = ?`

	sqlInsertInstall = `INSERT INTO installs
		(id, root, manifest, applied_at, status, error,
		 deleted, removed_dirs, created_dirs, downloaded, linked, mode_fixed,
		 bytes_downloaded, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListInstalls = `SELECT id, root, manifest, applied_at, status, error,
		deleted, removed_dirs, created_dirs, downloaded, linked, mode_fixed,
		bytes_downloaded, duration_ms
		FROM installs WHERE root = ?
		ORDER BY applied_at DESC, id
		LIMIT ?`
)

// InstallRecord is one apply run against a root.
type InstallRecord struct {
	ID        string
	Root      string
	Manifest  string
	AppliedAt time.Time
	Status    string
	Error     string

	Deleted         int
	RemovedDirs     int
	CreatedDirs     int
	Downloaded      int
	Linked          int
	ModeFixed       int
	BytesDownloaded int64
	Duration        time.Duration
}

// Store is the install-state database. It is the sole writer to its file.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	schema  int64
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the database at dbPath and applies
// pending migrations. A nil logger discards output.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	schema, err := migrate(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("state: database ready",
		slog.String("db_path", dbPath),
		slog.Int64("schema", schema),
	)

	return &Store{db: db, logger: logger, schema: schema, nowFunc: time.Now}, nil
}

// SchemaVersion is the migration version the database is at.
func (s *Store) SchemaVersion() int64 {
	return s.schema
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot replaces the stored snapshot of root with pkg. Sources are
// not stored: a snapshot describes what is on disk, not where it came from.
func (s *Store) SaveSnapshot(ctx context.Context, root string, pkg *files.Package) error {
	if err := pkg.Validate(); err != nil {
		return fmt.Errorf("state: saving snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, sqlDeleteSnapshot, root); err != nil {
		return fmt.Errorf("state: clearing snapshot of %s: %w", root, err)
	}

	if _, err := tx.ExecContext(ctx, sqlInsertSnapshot, root, s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("state: inserting snapshot of %s: %w", root, err)
	}

	stmt, err := tx.PrepareContext(ctx, sqlInsertEntry)
	if err != nil {
		return fmt.Errorf("state: preparing entry insert: %w", err)
	}
	defer stmt.Close()

	insert := func(p files.Path, kind string, hash sql.NullString, size int64, exec bool, target sql.NullString) error {
		if _, err := stmt.ExecContext(ctx, root, p.String(), kind, hash, size, exec, target); err != nil {
			return fmt.Errorf("state: inserting %s: %w", p, err)
		}

		return nil
	}

	for _, p := range pkg.SortedFolders() {
		if err := insert(p, kindFolder, sql.NullString{}, 0, false, sql.NullString{}); err != nil {
			return err
		}
	}

	for _, p := range pkg.SortedFiles() {
		f := pkg.Files[p]
		if err := insert(p, kindFile, nullString(string(f.Hash)), f.Size, f.Executable, sql.NullString{}); err != nil {
			return err
		}
	}

	for _, p := range pkg.SortedSymlinks() {
		if err := insert(p, kindSymlink, sql.NullString{}, 0, false, nullString(pkg.Symlinks[p])); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: committing snapshot of %s: %w", root, err)
	}

	s.logger.Debug("state: snapshot saved",
		slog.String("root", root),
		slog.Int("entries", pkg.Len()),
	)

	return nil
}

// LoadSnapshot returns the stored snapshot of root, or ErrNoSnapshot.
func (s *Store) LoadSnapshot(ctx context.Context, root string) (*files.Package, error) {
	var savedAt int64

	err := s.db.QueryRowContext(ctx, sqlSnapshotTime, root).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, root)
	}

	if err != nil {
		return nil, fmt.Errorf("state: reading snapshot of %s: %w", root, err)
	}

	rows, err := s.db.QueryContext(ctx, sqlLoadEntries, root)
	if err != nil {
		return nil, fmt.Errorf("state: loading snapshot of %s: %w", root, err)
	}
	defer rows.Close()

	pkg := files.NewPackage()

	for rows.Next() {
		if err := scanEntryRow(rows, pkg); err != nil {
			return nil, err
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating snapshot rows: %w", err)
	}

	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("state: stored snapshot of %s: %w", root, err)
	}

	s.logger.Debug("state: snapshot loaded",
		slog.String("root", root),
		slog.Int("entries", pkg.Len()),
		slog.Time("saved_at", time.Unix(0, savedAt)),
	)

	return pkg, nil
}

func scanEntryRow(rows *sql.Rows, pkg *files.Package) error {
	var (
		path, kind   string
		hash, target sql.NullString
		size         int64
		executable   bool
	)

	if err := rows.Scan(&path, &kind, &hash, &size, &executable, &target); err != nil {
		return fmt.Errorf("state: scanning snapshot row: %w", err)
	}

	p := files.Path(path)

	switch kind {
	case kindFolder:
		pkg.AddFolder(p)
	case kindFile:
		pkg.AddFile(p, files.File{Hash: files.Hash(hash.String), Size: size, Executable: executable})
	case kindSymlink:
		pkg.AddLink(p, target.String)
	default:
		return fmt.Errorf("state: unknown entry kind %q for %s", kind, path)
	}

	return nil
}

// RecordInstall appends rec to the install history. An empty ID gets a new
// UUID and a zero AppliedAt gets the current time; both are written back to
// rec.
func (s *Store) RecordInstall(ctx context.Context, rec *InstallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = s.nowFunc()
	}

	if rec.Status == "" {
		rec.Status = StatusSuccess
	}

	_, err := s.db.ExecContext(ctx, sqlInsertInstall,
		rec.ID, rec.Root, rec.Manifest, rec.AppliedAt.UnixNano(), rec.Status, nullString(rec.Error),
		rec.Deleted, rec.RemovedDirs, rec.CreatedDirs, rec.Downloaded, rec.Linked, rec.ModeFixed,
		rec.BytesDownloaded, rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("state: recording install %s: %w", rec.ID, err)
	}

	s.logger.Debug("state: install recorded",
		slog.String("id", rec.ID),
		slog.String("root", rec.Root),
		slog.String("status", rec.Status),
	)

	return nil
}

// LastInstall returns the most recent install of root, or ErrNoInstall.
func (s *Store) LastInstall(ctx context.Context, root string) (*InstallRecord, error) {
	recs, err := s.ListInstalls(ctx, root, 1)
	if err != nil {
		return nil, err
	}

	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInstall, root)
	}

	return &recs[0], nil
}

// ListInstalls returns up to limit installs of root, newest first.
func (s *Store) ListInstalls(ctx context.Context, root string, limit int) ([]InstallRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlListInstalls, root, limit)
	if err != nil {
		return nil, fmt.Errorf("state: listing installs of %s: %w", root, err)
	}
	defer rows.Close()

	var out []InstallRecord

	for rows.Next() {
		var (
			rec        InstallRecord
			appliedAt  int64
			durationMS int64
			errText    sql.NullString
		)

		if err := rows.Scan(
			&rec.ID, &rec.Root, &rec.Manifest, &appliedAt, &rec.Status, &errText,
			&rec.Deleted, &rec.RemovedDirs, &rec.CreatedDirs, &rec.Downloaded, &rec.Linked, &rec.ModeFixed,
			&rec.BytesDownloaded, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("state: scanning install row: %w", err)
		}

		rec.AppliedAt = time.Unix(0, appliedAt)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Error = errText.String

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating install rows: %w", err)
	}

	return out, nil
}

// nullString maps the empty string to NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
