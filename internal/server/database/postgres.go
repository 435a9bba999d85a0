package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

const fileColumns = `id, storage_key, original_name, path, size, uploaded_at, uploaded_by`

// PostgresRepository stores metadata in PostgreSQL through a pgxpool
// connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a connection pool, verifies connectivity and runs migrations.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrate(ctx, db, goose.DialectPostgres, "migrations/postgres")
	db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("connected to database", "driver", DriverPostgres)
	return &PostgresRepository{pool: pool}, nil
}

// CreateFile inserts a new file record.
func (r *PostgresRepository) CreateFile(ctx context.Context, nf NewFile) (*File, error) {
	f := &File{
		StorageKey:   nf.StorageKey,
		OriginalName: nf.OriginalName,
		Path:         nf.Path,
		Size:         nf.Size,
		UploadedAt:   timestamp(),
		UploadedBy:   uploaderOrDefault(nf.UploadedBy),
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO files (storage_key, original_name, path, size, uploaded_at, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, f.StorageKey, f.OriginalName, f.Path, f.Size, f.UploadedAt, f.UploadedBy).Scan(&f.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", mapPgError(err))
	}
	return f, nil
}

// ListFiles returns every file, newest first.
func (r *PostgresRepository) ListFiles(ctx context.Context) ([]*File, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM files ORDER BY uploaded_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanPgFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetFile retrieves a file by its ID.
func (r *PostgresRepository) GetFile(ctx context.Context, id int64) (*File, error) {
	f, err := scanPgFile(r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// RecordDownload inserts a download row; the foreign key rejects deleted files.
func (r *PostgresRepository) RecordDownload(ctx context.Context, fileID int64, clientAddress string) (*Download, error) {
	d := &Download{FileID: fileID, ClientAddress: clientAddress, DownloadedAt: timestamp()}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO downloads (file_id, client_address, downloaded_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, d.FileID, d.ClientAddress, d.DownloadedAt).Scan(&d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record download: %w", mapPgError(err))
	}
	return d, nil
}

// ListDownloads returns the download history of a file.
func (r *PostgresRepository) ListDownloads(ctx context.Context, fileID int64) ([]*Download, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, file_id, client_address, downloaded_at
		FROM downloads WHERE file_id = $1
		ORDER BY downloaded_at DESC, id DESC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []*Download
	for rows.Next() {
		d := &Download{}
		if err := rows.Scan(&d.ID, &d.FileID, &d.ClientAddress, &d.DownloadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		d.DownloadedAt = d.DownloadedAt.UTC()
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// CountDownloads returns how many download rows reference the file.
func (r *PostgresRepository) CountDownloads(ctx context.Context, fileID int64) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM downloads WHERE file_id = $1", fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count downloads: %w", err)
	}
	return n, nil
}

// DeleteFile locks the file row, removes its downloads and then the file itself.
// Concurrent download inserts wait on the row lock and then fail the foreign key.
func (r *PostgresRepository) DeleteFile(ctx context.Context, id int64) (*File, int64, error) {
	var (
		deleted   *File
		downloads int64
	)

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		f, err := scanPgFile(tx.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrFileNotFound
			}
			return fmt.Errorf("failed to lock file: %w", err)
		}

		tag, err := tx.Exec(ctx, "DELETE FROM downloads WHERE file_id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete downloads: %w", err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM files WHERE id = $1", id); err != nil {
			return fmt.Errorf("failed to delete file: %w", err)
		}

		deleted, downloads = f, tag.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return deleted, downloads, nil
}

// HasStorageKey reports whether a file record uses the key.
func (r *PostgresRepository) HasStorageKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE storage_key = $1)", key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check storage key: %w", err)
	}
	return exists, nil
}

// GetStats returns aggregate server statistics.
func (r *PostgresRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.pool.QueryRow(ctx, `
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

// HealthCheck verifies the database connection is alive.
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanPgFile(row pgx.Row) (*File, error) {
	f := &File{}
	if err := row.Scan(
		&f.ID,
		&f.StorageKey,
		&f.OriginalName,
		&f.Path,
		&f.Size,
		&f.UploadedAt,
		&f.UploadedBy,
	); err != nil {
		return nil, err
	}
	f.UploadedAt = f.UploadedAt.UTC()
	return f, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return ErrForeignKeyViolation
		case pgUniqueViolation:
			return ErrDuplicateStorageKey
		}
	}
	return err
}
