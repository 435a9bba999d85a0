package database

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrFileNotFound        = errors.New("file not found")
	ErrForeignKeyViolation = errors.New("referenced file does not exist")
	ErrDuplicateStorageKey = errors.New("storage key already in use")
)

// Supported metadata backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Repository persists file and download records. Every method runs in its own
// short transaction; no handle is shared across calls.
type Repository interface {
	// CreateFile inserts a file record and returns it with its assigned ID.
	CreateFile(ctx context.Context, f NewFile) (*File, error)

	// ListFiles returns all files, newest first (ties broken by ID, descending).
	ListFiles(ctx context.Context) ([]*File, error)

	// GetFile returns ErrFileNotFound when no record has the ID.
	GetFile(ctx context.Context, id int64) (*File, error)

	// RecordDownload appends a download record. It returns ErrForeignKeyViolation
	// when the file no longer exists.
	RecordDownload(ctx context.Context, fileID int64, clientAddress string) (*Download, error)

	// ListDownloads returns the download history of a file, newest first.
	ListDownloads(ctx context.Context, fileID int64) ([]*Download, error)

	CountDownloads(ctx context.Context, fileID int64) (int64, error)

	// DeleteFile removes the file and all its downloads in one transaction and
	// returns the deleted record plus the number of download rows removed.
	DeleteFile(ctx context.Context, id int64) (*File, int64, error)

	// HasStorageKey reports whether a file record uses the storage key.
	HasStorageKey(ctx context.Context, key string) (bool, error)

	GetStats(ctx context.Context) (*Stats, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (Repository, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLite(ctx, dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func uploaderOrDefault(name string) string {
	if name == "" {
		return DefaultUploader
	}
	return name
}
