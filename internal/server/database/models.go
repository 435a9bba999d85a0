package database

import "time"

// DefaultUploader is recorded when an upload carries no attribution.
const DefaultUploader = "admin"

// File represents one published object. Records are never updated.
type File struct {
	ID           int64
	StorageKey   string
	OriginalName string
	Path         string
	Size         int64
	UploadedAt   time.Time
	UploadedBy   string
}

// NewFile holds the fields supplied when a file record is created.
type NewFile struct {
	StorageKey   string
	OriginalName string
	Path         string
	Size         int64
	UploadedBy   string // DefaultUploader when empty
}

// Download represents one completed retrieval of a file.
type Download struct {
	ID            int64
	FileID        int64
	ClientAddress string
	DownloadedAt  time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalFiles     int64
	TotalDownloads int64
	StorageUsed    int64
}

// timestamp returns the current time at the precision both backends store.
func timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
