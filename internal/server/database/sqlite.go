package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// sqlitePragmas are applied to every connection the driver opens.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// SQLiteRepository stores metadata in a single SQLite database file.
// It is the default single-node backend.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and runs migrations.
func NewSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if err := migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	// SQLite allows one writer at a time; a single connection serializes
	// transactions instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	slog.Info("connected to database", "driver", DriverSQLite, "path", path)
	return &SQLiteRepository{db: db}, nil
}

func sqliteDSN(path string) string {
	var b strings.Builder
	if !strings.HasPrefix(path, "file:") {
		b.WriteString("file:")
	}
	b.WriteString(path)

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// CreateFile inserts a new file record.
func (r *SQLiteRepository) CreateFile(ctx context.Context, nf NewFile) (*File, error) {
	f := &File{
		StorageKey:   nf.StorageKey,
		OriginalName: nf.OriginalName,
		Path:         nf.Path,
		Size:         nf.Size,
		UploadedAt:   timestamp(),
		UploadedBy:   uploaderOrDefault(nf.UploadedBy),
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO files (storage_key, original_name, path, size, uploaded_at, uploaded_by)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, f.StorageKey, f.OriginalName, f.Path, f.Size, f.UploadedAt.UnixNano(), f.UploadedBy).Scan(&f.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", mapSQLiteError(err))
	}
	return f, nil
}

// ListFiles returns every file, newest first.
func (r *SQLiteRepository) ListFiles(ctx context.Context) ([]*File, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+fileColumns+`
		FROM files ORDER BY uploaded_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanSQLiteFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetFile retrieves a file by its ID.
func (r *SQLiteRepository) GetFile(ctx context.Context, id int64) (*File, error) {
	f, err := scanSQLiteFile(r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// RecordDownload inserts a download row; the foreign key rejects deleted files.
func (r *SQLiteRepository) RecordDownload(ctx context.Context, fileID int64, clientAddress string) (*Download, error) {
	d := &Download{FileID: fileID, ClientAddress: clientAddress, DownloadedAt: timestamp()}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO downloads (file_id, client_address, downloaded_at)
		VALUES (?, ?, ?)
		RETURNING id
	`, d.FileID, d.ClientAddress, d.DownloadedAt.UnixNano()).Scan(&d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record download: %w", mapSQLiteError(err))
	}
	return d, nil
}

// ListDownloads returns the download history of a file.
func (r *SQLiteRepository) ListDownloads(ctx context.Context, fileID int64) ([]*Download, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file_id, client_address, downloaded_at
		FROM downloads WHERE file_id = ?
		ORDER BY downloaded_at DESC, id DESC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []*Download
	for rows.Next() {
		var (
			d  = &Download{}
			ns int64
		)
		if err := rows.Scan(&d.ID, &d.FileID, &d.ClientAddress, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		d.DownloadedAt = time.Unix(0, ns).UTC()
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// CountDownloads returns how many download rows reference the file.
func (r *SQLiteRepository) CountDownloads(ctx context.Context, fileID int64) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloads WHERE file_id = ?", fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count downloads: %w", err)
	}
	return n, nil
}

// DeleteFile removes the file and its downloads in a single transaction.
func (r *SQLiteRepository) DeleteFile(ctx context.Context, id int64) (*File, int64, error) {
	var (
		deleted   *File
		downloads int64
	)

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		f, err := scanSQLiteFile(tx.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrFileNotFound
			}
			return fmt.Errorf("failed to read file: %w", err)
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM downloads WHERE file_id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete downloads: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count deleted downloads: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete file: %w", err)
		}

		deleted, downloads = f, n
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return deleted, downloads, nil
}

// HasStorageKey reports whether a file record uses the key.
func (r *SQLiteRepository) HasStorageKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE storage_key = ?)", key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check storage key: %w", err)
	}
	return exists, nil
}

// GetStats returns aggregate server statistics.
func (r *SQLiteRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM downloads),
			(SELECT COALESCE(SUM(size), 0) FROM files)
	`).Scan(&stats.TotalFiles, &stats.TotalDownloads, &stats.StorageUsed)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// HealthCheck verifies the database is reachable.
func (r *SQLiteRepository) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFile(row rowScanner) (*File, error) {
	var (
		f  = &File{}
		ns int64
	)
	if err := row.Scan(
		&f.ID,
		&f.StorageKey,
		&f.OriginalName,
		&f.Path,
		&f.Size,
		&ns,
		&f.UploadedBy,
	); err != nil {
		return nil, err
	}
	f.UploadedAt = time.Unix(0, ns).UTC()
	return f, nil
}

func mapSQLiteError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return ErrForeignKeyViolation
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return ErrDuplicateStorageKey
	default:
		return err
	}
}
